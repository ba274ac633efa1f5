package headers

import (
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSAdapter wraps a mutable NATS message header.
type NATSAdapter struct {
	header nats.Header
}

// NATS wraps h in a writable adapter. A nil header is allocated lazily on
// the first Set.
func NATS(h nats.Header) *NATSAdapter {
	return &NATSAdapter{header: h}
}

// ReadonlyNATS wraps h in an adapter that rejects all writes.
func ReadonlyNATS(h nats.Header) Adapter {
	return Readonly(NATS(h))
}

func (a *NATSAdapter) Get(name string) (string, bool) {
	if a.header == nil {
		return "", false
	}
	// nats.Header.Get uses MIME canonicalisation, which matches the
	// case-insensitive read contract.
	if v := a.header.Get(name); v != "" {
		return v, true
	}
	// Distinguish "absent" from "present but empty".
	for k, vs := range a.header {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

func (a *NATSAdapter) Set(name, value string) error {
	if err := checkHeader(name, value); err != nil {
		return err
	}
	if a.header == nil {
		a.header = nats.Header{}
	}
	a.header[strings.ToLower(name)] = []string{value}
	return nil
}

func (a *NATSAdapter) Keys() []string {
	if a.header == nil {
		return nil
	}
	keys := make([]string, 0, len(a.header))
	for k := range a.header {
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)
	return keys
}

// Header exposes the underlying NATS header for transports that attach it
// to an outgoing message.
func (a *NATSAdapter) Header() nats.Header {
	return a.header
}
