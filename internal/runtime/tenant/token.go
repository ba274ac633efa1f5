package tenant

import (
	"encoding/base64"
	"strings"

	"github.com/meshwire/meshwire/internal/runtime/envelope"
	"github.com/meshwire/meshwire/internal/runtime/jsoncodec"
)

// fromToken resolves tenant identity from a bearer token. Claims are decoded
// without cryptographic verification; signature checks are assumed to have
// happened upstream.
func (e *Extractor) fromToken(authHeader string) (Info, bool) {
	token, ok := e.bearerToken(authHeader)
	if !ok {
		return Info{}, false
	}

	claims, ok := decodeClaims(token)
	if !ok {
		return Info{}, false
	}

	tenantID := ""
	for _, claim := range e.conf.TenantClaims {
		if v, _ := claims[claim].(string); v != "" {
			tenantID = v
			break
		}
	}

	sub, _ := claims["sub"].(string)
	iss, _ := claims["iss"].(string)
	onBehalfOf, _ := claims[e.conf.OnBehalfOfClaim].(string)

	var delegation *envelope.OnBehalfOf
	if onBehalfOf != "" && sub != "" {
		delegatingTenant := tenantID
		if delegatingTenant == "" {
			delegatingTenant = "unknown"
		}
		delegation = &envelope.OnBehalfOf{
			OriginalUser:     onBehalfOf,
			DelegatingUser:   sub,
			DelegatingTenant: delegatingTenant,
		}
	}

	if tenantID == "" && delegation == nil {
		return Info{}, false
	}

	info := Info{
		TenantID:   tenantID,
		OnBehalfOf: delegation,
		Source:     SourceToken,
	}
	if sub != "" || iss != "" {
		info.Context = map[string]string{}
		if sub != "" {
			info.Context["sub"] = sub
		}
		if iss != "" {
			info.Context["iss"] = iss
		}
	}
	return info, true
}

// bearerToken pulls the token out of an Authorization-style header. A
// configured scheme prefix must match case-sensitively with a single space
// separator; failing that, the whole header is treated as the token iff it
// has the three-part A.B.C shape.
func (e *Extractor) bearerToken(authHeader string) (string, bool) {
	if authHeader == "" {
		return "", false
	}

	for _, prefix := range e.conf.SchemePrefixes {
		if rest, ok := strings.CutPrefix(authHeader, prefix+" "); ok && rest != "" {
			return rest, true
		}
	}

	if strings.Count(authHeader, ".") == 2 && !strings.Contains(authHeader, " ") {
		return authHeader, true
	}
	return "", false
}

// decodeClaims decodes the middle segment of an A.B.C token as base64url
// JSON. Both raw and padded encodings are accepted.
func decodeClaims(token string) (map[string]any, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, false
	}

	var claims map[string]any
	if err := jsoncodec.Unmarshal(decoded, &claims); err != nil {
		return nil, false
	}
	return claims, true
}
