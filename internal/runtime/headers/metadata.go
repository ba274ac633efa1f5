package headers

import (
	"sort"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/meshwire/meshwire/internal/runtime/faults"
	metadatapkg "github.com/meshwire/meshwire/internal/runtime/metadata"
)

// MetadataAdapter wraps broker message metadata so envelope headers can ride
// on any pub/sub substrate.
type MetadataAdapter struct {
	metadata message.Metadata
}

// Metadata wraps md in a writable adapter. The map is mutated in place so
// the enclosing message observes every write.
func Metadata(md message.Metadata) *MetadataAdapter {
	return &MetadataAdapter{metadata: md}
}

// ReadonlyMetadata wraps md in an adapter that rejects all writes.
func ReadonlyMetadata(md message.Metadata) Adapter {
	return Readonly(Metadata(md))
}

// FromMap wraps plain string metadata in a writable adapter.
func FromMap(md metadatapkg.Metadata) *MetadataAdapter {
	return &MetadataAdapter{metadata: message.Metadata(md)}
}

func (a *MetadataAdapter) Get(name string) (string, bool) {
	if a.metadata == nil {
		return "", false
	}
	if v, ok := a.metadata[name]; ok {
		return v, true
	}
	lower := strings.ToLower(name)
	if v, ok := a.metadata[lower]; ok {
		return v, true
	}
	for k, v := range a.metadata {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func (a *MetadataAdapter) Set(name, value string) error {
	if err := checkHeader(name, value); err != nil {
		return err
	}
	if a.metadata == nil {
		return faults.ErrTransportRejected
	}
	a.metadata[strings.ToLower(name)] = value
	return nil
}

func (a *MetadataAdapter) Keys() []string {
	if a.metadata == nil {
		return nil
	}
	keys := make([]string, 0, len(a.metadata))
	for k := range a.metadata {
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)
	return keys
}
