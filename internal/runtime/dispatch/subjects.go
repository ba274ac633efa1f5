package dispatch

import (
	"errors"
	"strings"
)

// ErrInvalidSubjectPattern is returned for patterns with a misplaced
// wildcard or empty segments.
var ErrInvalidSubjectPattern = errors.New("meshwire: subject pattern may use '>' only as its final segment")

// subjectTable routes subjects to tool entries. Patterns support a single
// trailing '>' wildcard segment; lookup is longest-prefix, and among
// patterns of equal length the first registered wins.
type subjectTable struct {
	bindings []subjectBinding
}

type subjectBinding struct {
	pattern  string
	prefix   string // pattern without the trailing wildcard segment
	wildcard bool
	entry    *toolEntry
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return ErrInvalidSubjectPattern
	}
	segments := strings.Split(pattern, ".")
	for i, seg := range segments {
		if seg == "" {
			return ErrInvalidSubjectPattern
		}
		if seg == ">" && i != len(segments)-1 {
			return ErrInvalidSubjectPattern
		}
		if strings.Contains(seg, ">") && seg != ">" {
			return ErrInvalidSubjectPattern
		}
	}
	return nil
}

func (t *subjectTable) add(pattern string, entry *toolEntry) error {
	if err := validatePattern(pattern); err != nil {
		return err
	}

	binding := subjectBinding{pattern: pattern, prefix: pattern, entry: entry}
	if strings.HasSuffix(pattern, ".>") {
		binding.wildcard = true
		binding.prefix = strings.TrimSuffix(pattern, ".>")
	}
	t.bindings = append(t.bindings, binding)
	return nil
}

// match returns the entry whose pattern matches the subject with the
// longest prefix. Exact bindings beat wildcard bindings of the same
// prefix; earlier registrations win ties.
func (t *subjectTable) match(subject string) (*toolEntry, bool) {
	best := -1
	bestLen := -1
	bestExact := false

	for i, b := range t.bindings {
		var matches, exact bool
		if b.wildcard {
			matches = subject == b.prefix || strings.HasPrefix(subject, b.prefix+".")
		} else {
			matches = subject == b.pattern
			exact = matches
		}
		if !matches {
			continue
		}

		switch {
		case len(b.prefix) > bestLen:
		case len(b.prefix) == bestLen && exact && !bestExact:
		default:
			continue
		}
		best = i
		bestLen = len(b.prefix)
		bestExact = exact
	}

	if best < 0 {
		return nil, false
	}
	return t.bindings[best].entry, true
}

// patterns returns the distinct subscription topics in registration order.
func (t *subjectTable) patterns() []string {
	seen := make(map[string]bool, len(t.bindings))
	out := make([]string, 0, len(t.bindings))
	for _, b := range t.bindings {
		if !seen[b.pattern] {
			seen[b.pattern] = true
			out = append(out, b.pattern)
		}
	}
	return out
}
