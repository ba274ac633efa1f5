package headers

import (
	"net/http"
	"sort"
	"strings"
)

// HTTPAdapter wraps a mutable net/http header map.
type HTTPAdapter struct {
	header http.Header
}

// HTTP wraps h in a writable adapter. A nil map is allocated lazily on the
// first Set.
func HTTP(h http.Header) *HTTPAdapter {
	return &HTTPAdapter{header: h}
}

// ReadonlyHTTP wraps h in an adapter that rejects all writes.
func ReadonlyHTTP(h http.Header) Adapter {
	return Readonly(HTTP(h))
}

func (a *HTTPAdapter) Get(name string) (string, bool) {
	if a.header == nil {
		return "", false
	}
	values := a.header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (a *HTTPAdapter) Set(name, value string) error {
	if err := checkHeader(name, value); err != nil {
		return err
	}
	if a.header == nil {
		a.header = http.Header{}
	}
	a.header.Set(strings.ToLower(name), value)
	return nil
}

func (a *HTTPAdapter) Keys() []string {
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

// Header exposes the underlying map, mainly for tests and transports that
// hand the headers to net/http directly.
func (a *HTTPAdapter) Header() http.Header {
	return a.header
}
