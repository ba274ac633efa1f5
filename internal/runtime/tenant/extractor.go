// Package tenant resolves tenant identity and delegation from the four
// places a request can declare them: a bearer token, tenant headers, payload
// fields, and query parameters. Sources are resolved independently and
// combined under a strict priority: token > header > payload > query. Lower
// priority results are discarded, never merged.
package tenant

import (
	"strings"

	"github.com/meshwire/meshwire/internal/runtime/envelope"
	"github.com/meshwire/meshwire/internal/runtime/faults"
	"github.com/meshwire/meshwire/internal/runtime/jsoncodec"
)

// Source identifies which input produced the tenant result.
type Source string

const (
	SourceToken   Source = "token"
	SourceHeader  Source = "header"
	SourcePayload Source = "payload"
	SourceQuery   Source = "query"
)

// Info is the resolved tenant identity.
type Info struct {
	TenantID   string
	OnBehalfOf *envelope.OnBehalfOf
	Source     Source

	// Context carries auxiliary claims observed during resolution, such as
	// the token issuer and subject.
	Context map[string]string
}

// Request bundles the tenant-bearing surfaces of an incoming request.
type Request struct {
	// AuthHeader is the raw Authorization-style header value, if any.
	AuthHeader string

	// Headers holds the request headers; matching is case-insensitive.
	Headers map[string]string

	// Payload is the raw JSON request body, walked along PayloadPaths.
	Payload []byte

	// Query holds the URL query parameters.
	Query map[string]string
}

// Config tunes the extractor.
type Config struct {
	// Enabled gates the whole extractor. When false every Extract call
	// returns faults.ErrExtractionDisabled.
	Enabled bool

	// TenantHeaders is the ordered list of header names checked for a
	// tenant id. Matching is case-insensitive; the first non-empty wins.
	TenantHeaders []string

	// PayloadPaths is the ordered list of dotted paths walked through the
	// JSON payload. The first path yielding a non-empty string wins.
	PayloadPaths []string

	// QueryKeys is the ordered list of query parameters checked.
	QueryKeys []string

	// TenantClaims is the ordered list of token claims that may carry the
	// tenant id.
	TenantClaims []string

	// OnBehalfOfClaim names the delegation claim.
	OnBehalfOfClaim string

	// SchemePrefixes is the ordered list of accepted bearer scheme
	// prefixes. The prefix match is case-sensitive with a single space
	// separator.
	SchemePrefixes []string
}

func (c Config) withDefaults() Config {
	if c.TenantHeaders == nil {
		c.TenantHeaders = []string{"x-tenant-id", "x-tenant"}
	}
	if c.PayloadPaths == nil {
		c.PayloadPaths = []string{"tenant", "tenant_id", "meta.tenant"}
	}
	if c.QueryKeys == nil {
		c.QueryKeys = []string{"tenant", "tenant_id"}
	}
	if c.TenantClaims == nil {
		c.TenantClaims = []string{"tid", "tenant", "org"}
	}
	if c.OnBehalfOfClaim == "" {
		c.OnBehalfOfClaim = "on_behalf_of"
	}
	if c.SchemePrefixes == nil {
		c.SchemePrefixes = []string{"Bearer", "JWT"}
	}
	return c
}

// Extractor resolves tenant identity from a Request.
type Extractor struct {
	conf Config
}

// New returns an Extractor with defaults applied to zero config values.
func New(conf Config) *Extractor {
	return &Extractor{conf: conf.withDefaults()}
}

// Extract resolves the tenant following the source priority. It returns
// faults.ErrExtractionDisabled when the extractor is disabled and
// faults.ErrNoTenantFound when every source is empty.
func (e *Extractor) Extract(req Request) (Info, error) {
	if !e.conf.Enabled {
		return Info{}, faults.ErrExtractionDisabled
	}

	if info, ok := e.fromToken(req.AuthHeader); ok {
		return info, nil
	}
	if info, ok := e.fromHeaders(req.Headers); ok {
		return info, nil
	}
	if info, ok := e.fromPayload(req.Payload); ok {
		return info, nil
	}
	if info, ok := e.fromQuery(req.Query); ok {
		return info, nil
	}

	return Info{}, faults.ErrNoTenantFound
}

func (e *Extractor) fromHeaders(headers map[string]string) (Info, bool) {
	if len(headers) == 0 {
		return Info{}, false
	}
	for _, wanted := range e.conf.TenantHeaders {
		for name, value := range headers {
			if strings.EqualFold(name, wanted) && value != "" {
				return Info{TenantID: value, Source: SourceHeader}, true
			}
		}
	}
	return Info{}, false
}

func (e *Extractor) fromPayload(payload []byte) (Info, bool) {
	if len(payload) == 0 {
		return Info{}, false
	}

	var doc map[string]any
	if err := jsoncodec.Unmarshal(payload, &doc); err != nil {
		return Info{}, false
	}

	for _, path := range e.conf.PayloadPaths {
		if value := walkPath(doc, path); value != "" {
			return Info{TenantID: value, Source: SourcePayload}, true
		}
	}
	return Info{}, false
}

func (e *Extractor) fromQuery(query map[string]string) (Info, bool) {
	if len(query) == 0 {
		return Info{}, false
	}
	for _, key := range e.conf.QueryKeys {
		if value := query[key]; value != "" {
			return Info{TenantID: value, Source: SourceQuery}, true
		}
	}
	return Info{}, false
}

// walkPath follows a dotted path through nested JSON objects and returns the
// string leaf, or "" when the path does not resolve to a non-empty string.
func walkPath(doc map[string]any, path string) string {
	segments := strings.Split(path, ".")
	current := any(doc)
	for _, segment := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = node[segment]
		if !ok {
			return ""
		}
	}
	leaf, _ := current.(string)
	return leaf
}
