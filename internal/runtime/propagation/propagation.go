// Package propagation serializes envelope metadata into and out of header
// adapters. Inject and Extract are the only paths metadata takes across a
// transport hop, so the encoding here is the wire contract: one header per
// leaf scalar, delimited permission lists with documented escaping, and
// JSON-encoded nested extension values.
package propagation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meshwire/meshwire/internal/runtime/envelope"
	"github.com/meshwire/meshwire/internal/runtime/faults"
	"github.com/meshwire/meshwire/internal/runtime/headers"
	"github.com/meshwire/meshwire/internal/runtime/jsoncodec"
)

const (
	defaultMaxHeaderBytes     = 8192
	defaultMaxExtensionsCount = 64
)

// Config tunes the propagation policy.
type Config struct {
	// ExtensionPrefix namespaces extension headers. Defaults to "x-ext-".
	ExtensionPrefix string

	// TenantExtractionEnabled gates whether incoming tenant headers are
	// honoured during Extract. When false they are dropped, not errored.
	TenantExtractionEnabled bool

	// MaxHeaderBytes caps the cumulative name+value size Inject may write.
	MaxHeaderBytes int

	// MaxExtensionsCount caps how many extension headers Inject may write.
	MaxExtensionsCount int

	// AuthHeaderPatterns is the ordered list of accepted bearer scheme
	// prefixes, consumed by the tenant extractor.
	AuthHeaderPatterns []string
}

func (c Config) withDefaults() Config {
	if c.ExtensionPrefix == "" {
		c.ExtensionPrefix = DefaultExtensionPrefix
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = defaultMaxHeaderBytes
	}
	if c.MaxExtensionsCount <= 0 {
		c.MaxExtensionsCount = defaultMaxExtensionsCount
	}
	if c.AuthHeaderPatterns == nil {
		c.AuthHeaderPatterns = []string{"Bearer", "JWT"}
	}
	return c
}

// Propagator writes Meta to and reads Meta from header adapters.
type Propagator struct {
	conf Config
}

// New returns a Propagator with defaults applied to zero config values.
func New(conf Config) *Propagator {
	return &Propagator{conf: conf.withDefaults()}
}

// Default returns a Propagator with tenant extraction enabled and all other
// knobs at their defaults.
func Default() *Propagator {
	return New(Config{TenantExtractionEnabled: true})
}

// Config returns the effective configuration.
func (p *Propagator) Config() Config {
	return p.conf
}

// Inject writes every populated Meta field to the adapter. Writes are staged
// and committed only after the size and count caps pass, so an oversize
// error leaves no partial state on the adapter. Headers already present on
// the adapter count against the caps, so callers cannot smuggle extra bytes
// past the budget by pre-populating the carrier.
func (p *Propagator) Inject(meta envelope.Meta, adapter headers.Adapter) error {
	if adapter == nil {
		return faults.ErrTransportRejected
	}

	staged, err := p.stage(meta)
	if err != nil {
		return err
	}

	size := 0
	extensions := 0
	for _, key := range adapter.Keys() {
		value, ok := adapter.Get(key)
		if !ok {
			continue
		}
		size += len(key) + len(value)
		if strings.HasPrefix(strings.ToLower(key), p.conf.ExtensionPrefix) {
			extensions++
		}
	}
	for _, kv := range staged {
		size += len(kv.name) + len(kv.value)
		if strings.HasPrefix(kv.name, p.conf.ExtensionPrefix) {
			extensions++
		}
	}
	if size > p.conf.MaxHeaderBytes {
		return &faults.MetadataTooLargeError{Bytes: size, MaxBytes: p.conf.MaxHeaderBytes}
	}
	if extensions > p.conf.MaxExtensionsCount {
		return &faults.MetadataTooLargeError{Bytes: size, MaxBytes: p.conf.MaxHeaderBytes}
	}

	for _, kv := range staged {
		if err := adapter.Set(kv.name, kv.value); err != nil {
			return fmt.Errorf("meshwire: inject %q: %w", kv.name, err)
		}
	}
	return nil
}

type headerPair struct {
	name  string
	value string
}

func (p *Propagator) stage(meta envelope.Meta) ([]headerPair, error) {
	var staged []headerPair
	add := func(name, value string) {
		if value != "" {
			staged = append(staged, headerPair{name: name, value: value})
		}
	}

	if !meta.Timestamp.IsZero() {
		add(HeaderTimestamp, meta.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	add(HeaderRequestID, meta.RequestID)
	add(HeaderVersion, meta.Version)
	add(HeaderTenant, meta.Tenant)
	if meta.DurationMillis != nil {
		add(HeaderDurationMillis, strconv.FormatInt(*meta.DurationMillis, 10))
	}

	if sec := meta.Security; sec != nil {
		add(HeaderUserID, sec.UserID)
		add(HeaderSessionID, sec.SessionID)
		add(HeaderAuthMethod, string(sec.AuthMethod))
		add(HeaderIPAddress, sec.IPAddress)
		if len(sec.Permissions) > 0 {
			add(HeaderPermissions, encodeList(sec.Permissions))
		}
	}

	if tr := meta.Tracing; tr != nil {
		add(HeaderTraceID, tr.TraceID)
		add(HeaderSpanID, tr.SpanID)
		add(HeaderParentSpanID, tr.ParentSpanID)
		if tr.Sampled {
			add(HeaderSampled, "true")
		}
		for _, k := range sortedKeys(tr.Baggage) {
			add(PrefixBaggage+k, tr.Baggage[k])
		}
	}

	if obo := meta.OnBehalfOf; obo != nil {
		add(HeaderOnBehalfOfOriginal, obo.OriginalUser)
		add(HeaderOnBehalfOfDelegatingUser, obo.DelegatingUser)
		add(HeaderOnBehalfOfDelegatingTenant, obo.DelegatingTenant)
	}

	for _, k := range sortedKeys(meta.Debug) {
		add(PrefixDebug+k, meta.Debug[k])
	}
	for _, k := range sortedKeys(meta.Performance) {
		add(PrefixPerformance+k, meta.Performance[k])
	}
	for _, k := range sortedKeys(meta.Monitoring) {
		add(PrefixMonitoring+k, meta.Monitoring[k])
	}

	extKeys := make([]string, 0, len(meta.Extensions))
	for k := range meta.Extensions {
		extKeys = append(extKeys, k)
	}
	sort.Strings(extKeys)
	for _, k := range extKeys {
		encoded, err := encodeExtension(meta.Extensions[k])
		if err != nil {
			return nil, err
		}
		add(p.conf.ExtensionPrefix+k, encoded)
	}

	return staged, nil
}

// Extract reads a Meta from the adapter. Missing headers are never an error;
// only malformed structured values fail, with MalformedMetadataError naming
// the offending header. Headers outside the known set are ignored except
// those carrying the extension prefix.
func (p *Propagator) Extract(adapter headers.Adapter) (envelope.Meta, error) {
	var meta envelope.Meta
	if adapter == nil {
		return meta, nil
	}

	get := func(name string) string {
		v, _ := adapter.Get(name)
		return v
	}

	if raw := get(HeaderTimestamp); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return envelope.Meta{}, &faults.MalformedMetadataError{Header: HeaderTimestamp, Reason: "not RFC3339: " + raw}
		}
		meta.Timestamp = ts.UTC()
	}

	meta.RequestID = get(HeaderRequestID)
	meta.Version = get(HeaderVersion)
	if p.conf.TenantExtractionEnabled {
		meta.Tenant = get(HeaderTenant)
	}

	if raw := get(HeaderDurationMillis); raw != "" {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || millis < 0 {
			return envelope.Meta{}, &faults.MalformedMetadataError{Header: HeaderDurationMillis, Reason: "not a non-negative integer millisecond count: " + raw}
		}
		meta.DurationMillis = &millis
	}

	security := envelope.Security{
		UserID:     get(HeaderUserID),
		SessionID:  get(HeaderSessionID),
		AuthMethod: envelope.AuthMethod(get(HeaderAuthMethod)),
		IPAddress:  get(HeaderIPAddress),
	}
	if raw := get(HeaderPermissions); raw != "" {
		perms, err := decodeList(raw)
		if err != nil {
			return envelope.Meta{}, &faults.MalformedMetadataError{Header: HeaderPermissions, Reason: err.Error()}
		}
		security.Permissions = perms
	}
	if security.UserID != "" || security.SessionID != "" || security.AuthMethod != "" ||
		security.IPAddress != "" || len(security.Permissions) > 0 {
		meta.Security = &security
	}

	tracing := envelope.Tracing{
		TraceID:      get(HeaderTraceID),
		SpanID:       get(HeaderSpanID),
		ParentSpanID: get(HeaderParentSpanID),
	}
	if raw := get(HeaderSampled); raw != "" {
		sampled, err := strconv.ParseBool(raw)
		if err != nil {
			return envelope.Meta{}, &faults.MalformedMetadataError{Header: HeaderSampled, Reason: "not a boolean: " + raw}
		}
		tracing.Sampled = sampled
	}

	original := get(HeaderOnBehalfOfOriginal)
	delegatingUser := get(HeaderOnBehalfOfDelegatingUser)
	delegatingTenant := get(HeaderOnBehalfOfDelegatingTenant)
	if original != "" && delegatingUser != "" && delegatingTenant != "" {
		meta.OnBehalfOf = &envelope.OnBehalfOf{
			OriginalUser:     original,
			DelegatingUser:   delegatingUser,
			DelegatingTenant: delegatingTenant,
		}
	}

	for _, key := range adapter.Keys() {
		lower := strings.ToLower(key)
		value, ok := adapter.Get(key)
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(lower, p.conf.ExtensionPrefix):
			name := lower[len(p.conf.ExtensionPrefix):]
			if name == "" {
				continue
			}
			if meta.Extensions == nil {
				meta.Extensions = map[string]any{}
			}
			meta.Extensions[name] = decodeExtension(value)
		case strings.HasPrefix(lower, PrefixBaggage):
			if name := lower[len(PrefixBaggage):]; name != "" {
				if tracing.Baggage == nil {
					tracing.Baggage = map[string]string{}
				}
				tracing.Baggage[name] = value
			}
		case strings.HasPrefix(lower, PrefixDebug):
			if name := lower[len(PrefixDebug):]; name != "" {
				if meta.Debug == nil {
					meta.Debug = map[string]string{}
				}
				meta.Debug[name] = value
			}
		case strings.HasPrefix(lower, PrefixPerformance):
			if name := lower[len(PrefixPerformance):]; name != "" {
				if meta.Performance == nil {
					meta.Performance = map[string]string{}
				}
				meta.Performance[name] = value
			}
		case strings.HasPrefix(lower, PrefixMonitoring):
			if name := lower[len(PrefixMonitoring):]; name != "" {
				if meta.Monitoring == nil {
					meta.Monitoring = map[string]string{}
				}
				meta.Monitoring[name] = value
			}
		}
	}

	if tracing.TraceID != "" || tracing.SpanID != "" || tracing.ParentSpanID != "" || tracing.Sampled || len(tracing.Baggage) > 0 {
		meta.Tracing = &tracing
	}

	return meta, nil
}

// encodeList joins values with commas. Literal percent signs and commas in
// a value are escaped as %25 and %2C so the join is reversible.
func encodeList(values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		v = strings.ReplaceAll(v, "%", "%25")
		v = strings.ReplaceAll(v, ",", "%2C")
		escaped[i] = v
	}
	return strings.Join(escaped, ",")
}

func decodeList(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	values := make([]string, len(parts))
	for i, part := range parts {
		part = strings.ReplaceAll(part, "%2C", ",")
		if strings.Contains(strings.ReplaceAll(part, "%25", ""), "%") {
			return nil, fmt.Errorf("invalid escape in list element %q", parts[i])
		}
		values[i] = strings.ReplaceAll(part, "%25", "%")
	}
	return values, nil
}

// encodeExtension renders an extension value as a header string. Scalars are
// written directly; nested maps and lists are JSON-encoded.
func encodeExtension(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		encoded, err := jsoncodec.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("meshwire: extension value not encodable: %w", err)
		}
		return string(encoded), nil
	}
}

// decodeExtension re-parses JSON-shaped extension values; everything else
// stays a plain string. Scalar round-trips therefore normalise to strings.
func decodeExtension(value string) any {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var nested any
		if err := jsoncodec.Unmarshal([]byte(trimmed), &nested); err == nil {
			return nested
		}
	}
	return value
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
