// Package envelope defines the metadata-and-payload record that is the sole
// unit of transfer across the meshwire core. The Meta header travels through
// every transport as key/value headers; the payload is opaque to the core
// and is (de)serialized by the outermost codec.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// AuthMethod enumerates the accepted authentication mechanisms recorded in
// the security block.
type AuthMethod string

const (
	AuthMethodJWT    AuthMethod = "jwt"
	AuthMethodOAuth  AuthMethod = "oauth"
	AuthMethodAPIKey AuthMethod = "api_key"
	AuthMethodBasic  AuthMethod = "basic"
)

// Security carries the authenticated principal attached to a request.
type Security struct {
	UserID      string     `json:"user_id,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	AuthMethod  AuthMethod `json:"auth_method,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	IPAddress   string     `json:"ip_address,omitempty"`
}

// Tracing carries distributed tracing identifiers and baggage.
type Tracing struct {
	TraceID      string            `json:"trace_id,omitempty"`
	SpanID       string            `json:"span_id,omitempty"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Sampled      bool              `json:"sampled,omitempty"`
	Baggage      map[string]string `json:"baggage,omitempty"`
}

// OnBehalfOf records a delegation: an authenticated principal acting for
// another. All three fields are required whenever the record is present;
// builders that cannot fill all three must omit the record entirely.
type OnBehalfOf struct {
	OriginalUser     string `json:"original_user"`
	DelegatingUser   string `json:"delegating_user"`
	DelegatingTenant string `json:"delegating_tenant"`
}

// Meta is the envelope header. Every field is optional and independently
// propagated across transports. Duration is fixed at integer milliseconds on
// the wire; it is set by the responder, never by the caller.
type Meta struct {
	Timestamp      time.Time         `json:"timestamp,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	Version        string            `json:"version,omitempty"`
	DurationMillis *int64            `json:"duration_ms,omitempty"`
	Tenant         string            `json:"tenant,omitempty"`
	OnBehalfOf     *OnBehalfOf       `json:"on_behalf_of,omitempty"`
	Security       *Security         `json:"security,omitempty"`
	Tracing        *Tracing          `json:"tracing,omitempty"`
	Debug          map[string]string `json:"debug,omitempty"`
	Performance    map[string]string `json:"performance,omitempty"`
	Monitoring     map[string]string `json:"monitoring,omitempty"`
	Extensions     map[string]any    `json:"extensions,omitempty"`
}

// Envelope pairs a Meta header with a typed payload.
type Envelope[T any] struct {
	Meta    Meta `json:"meta"`
	Payload T    `json:"payload"`
}

// New builds an envelope around payload with a fresh Meta.
func New[T any](payload T) *Envelope[T] {
	return &Envelope[T]{
		Meta:    NewMeta(),
		Payload: payload,
	}
}

// Wrap builds an envelope around payload reusing an existing Meta.
func Wrap[T any](meta Meta, payload T) *Envelope[T] {
	return &Envelope[T]{Meta: meta, Payload: payload}
}

// NewMeta returns a Meta stamped with a fresh request ID and the current
// UTC instant.
func NewMeta() Meta {
	return Meta{
		Timestamp: time.Now().UTC(),
		RequestID: uuid.NewString(),
	}
}

// Clone returns a deep copy of the Meta. Mutating the copy never affects the
// original, including its maps and nested records.
func (m Meta) Clone() Meta {
	cloned := m

	if m.DurationMillis != nil {
		d := *m.DurationMillis
		cloned.DurationMillis = &d
	}
	if m.OnBehalfOf != nil {
		obo := *m.OnBehalfOf
		cloned.OnBehalfOf = &obo
	}
	if m.Security != nil {
		sec := *m.Security
		sec.Permissions = append([]string(nil), m.Security.Permissions...)
		cloned.Security = &sec
	}
	if m.Tracing != nil {
		tr := *m.Tracing
		tr.Baggage = cloneStringMap(m.Tracing.Baggage)
		cloned.Tracing = &tr
	}
	cloned.Debug = cloneStringMap(m.Debug)
	cloned.Performance = cloneStringMap(m.Performance)
	cloned.Monitoring = cloneStringMap(m.Monitoring)

	if m.Extensions != nil {
		ext := make(map[string]any, len(m.Extensions))
		for k, v := range m.Extensions {
			ext[k] = v
		}
		cloned.Extensions = ext
	}

	return cloned
}

// SetDuration records the server-measured wall time. Negative durations are
// clamped to zero.
func (m *Meta) SetDuration(d time.Duration) {
	millis := d.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	m.DurationMillis = &millis
}

// Duration returns the recorded duration and whether one is present.
func (m Meta) Duration() (time.Duration, bool) {
	if m.DurationMillis == nil {
		return 0, false
	}
	return time.Duration(*m.DurationMillis) * time.Millisecond, true
}

// PreserveForResponse derives the Meta for a response envelope: the request
// ID, tenant, tracing, delegation, and extensions are carried over, while
// caller-side timing is dropped so the responder can set its own. The
// operation is idempotent: applying it twice yields the same Meta.
func (m Meta) PreserveForResponse() Meta {
	preserved := m.Clone()
	preserved.DurationMillis = nil
	return preserved
}

// IsZero reports whether no Meta field is populated.
func (m Meta) IsZero() bool {
	return m.Timestamp.IsZero() &&
		m.RequestID == "" &&
		m.Version == "" &&
		m.DurationMillis == nil &&
		m.Tenant == "" &&
		m.OnBehalfOf == nil &&
		m.Security == nil &&
		m.Tracing == nil &&
		len(m.Debug) == 0 &&
		len(m.Performance) == 0 &&
		len(m.Monitoring) == 0 &&
		len(m.Extensions) == 0
}

// Merge fills every zero field of m from other and returns the result.
// Populated fields always win; maps are merged key-wise with m taking
// precedence on conflicts.
func (m Meta) Merge(other Meta) Meta {
	merged := m.Clone()

	if merged.Timestamp.IsZero() {
		merged.Timestamp = other.Timestamp
	}
	if merged.RequestID == "" {
		merged.RequestID = other.RequestID
	}
	if merged.Version == "" {
		merged.Version = other.Version
	}
	if merged.DurationMillis == nil && other.DurationMillis != nil {
		d := *other.DurationMillis
		merged.DurationMillis = &d
	}
	if merged.Tenant == "" {
		merged.Tenant = other.Tenant
	}
	if merged.OnBehalfOf == nil && other.OnBehalfOf != nil {
		obo := *other.OnBehalfOf
		merged.OnBehalfOf = &obo
	}
	if merged.Security == nil && other.Security != nil {
		sec := other.Clone().Security
		merged.Security = sec
	}
	if merged.Tracing == nil && other.Tracing != nil {
		tr := other.Clone().Tracing
		merged.Tracing = tr
	}
	merged.Debug = mergeStringMaps(merged.Debug, other.Debug)
	merged.Performance = mergeStringMaps(merged.Performance, other.Performance)
	merged.Monitoring = mergeStringMaps(merged.Monitoring, other.Monitoring)

	if len(other.Extensions) > 0 {
		if merged.Extensions == nil {
			merged.Extensions = make(map[string]any, len(other.Extensions))
		}
		for k, v := range other.Extensions {
			if _, ok := merged.Extensions[k]; !ok {
				merged.Extensions[k] = v
			}
		}
	}

	return merged
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cloned := make(map[string]string, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

func mergeStringMaps(primary, fallback map[string]string) map[string]string {
	if len(fallback) == 0 {
		return primary
	}
	merged := make(map[string]string, len(primary)+len(fallback))
	for k, v := range fallback {
		merged[k] = v
	}
	for k, v := range primary {
		merged[k] = v
	}
	return merged
}
