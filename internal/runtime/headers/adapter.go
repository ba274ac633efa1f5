// Package headers provides the polymorphic key/value surface the envelope
// pipeline uses to read and write transport metadata. Every transport's
// header-like structure (HTTP headers, NATS headers, broker message
// metadata) is wrapped in an Adapter so the rest of the core never touches
// the concrete representation.
package headers

import (
	"strings"

	"github.com/meshwire/meshwire/internal/runtime/faults"
)

// Adapter is a minimal bidirectional view over a transport's headers.
// Reads are case-insensitive; writes use the lower-case canonical form.
// Read-only adapters reject every Set with faults.ErrTransportRejected and
// never panic.
type Adapter interface {
	// Get returns the value for name and whether it is present.
	Get(name string) (string, bool)

	// Set writes a header. It returns faults.ErrTransportRejected when the
	// adapter is read-only or the transport refuses the name or value.
	Set(name, value string) error

	// Keys returns every header name present, in canonical form.
	Keys() []string
}

// validName reports whether the header name is acceptable to every
// supported transport: non-empty, no whitespace, no colon.
func validName(name string) bool {
	if name == "" {
		return false
	}
	return !strings.ContainsAny(name, " \t\r\n:")
}

// validValue rejects values that would corrupt line-oriented header blocks.
func validValue(value string) bool {
	return !strings.ContainsAny(value, "\r\n")
}

func checkHeader(name, value string) error {
	if !validName(name) || !validValue(value) {
		return faults.ErrTransportRejected
	}
	return nil
}

// readonly wraps any adapter and rejects all writes.
type readonly struct {
	inner Adapter
}

// Readonly returns a view of inner that rejects every Set.
func Readonly(inner Adapter) Adapter {
	return readonly{inner: inner}
}

func (r readonly) Get(name string) (string, bool) { return r.inner.Get(name) }
func (r readonly) Set(string, string) error       { return faults.ErrTransportRejected }
func (r readonly) Keys() []string                 { return r.inner.Keys() }
