package hybrid

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshwire/meshwire/transport"
)

// capability is one cache entry: the protocol tags detected for an endpoint
// plus an expiry instant.
type capability struct {
	Tags   []transport.Protocol
	Score  int
	Expiry time.Time
}

func (c capability) has(tag transport.Protocol) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// capabilityCache maps endpoint to detected capabilities. Reads are
// lock-free via an atomic snapshot; writers serialize on a mutex and swap
// in a fresh map so readers never see a partial update.
type capabilityCache struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	snap atomic.Pointer[map[string]capability]
}

func newCapabilityCache(ttl time.Duration) *capabilityCache {
	c := &capabilityCache{ttl: ttl, now: time.Now}
	empty := map[string]capability{}
	c.snap.Store(&empty)
	return c
}

func (c *capabilityCache) get(endpoint string) (capability, bool) {
	entry, ok := (*c.snap.Load())[endpoint]
	if !ok || c.now().After(entry.Expiry) {
		return capability{}, false
	}
	return entry, true
}

func (c *capabilityCache) put(endpoint string, entry capability) {
	entry.Expiry = c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	old := *c.snap.Load()
	next := make(map[string]capability, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[endpoint] = entry
	c.snap.Store(&next)
}

func (c *capabilityCache) invalidate(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := *c.snap.Load()
	if _, ok := old[endpoint]; !ok {
		return
	}
	next := make(map[string]capability, len(old))
	for k, v := range old {
		if k != endpoint {
			next[k] = v
		}
	}
	c.snap.Store(&next)
}

// snapshot returns the live entries, for the introspection endpoint.
func (c *capabilityCache) snapshot() map[string]capability {
	now := c.now()
	out := map[string]capability{}
	for k, v := range *c.snap.Load() {
		if now.Before(v.Expiry) {
			out[k] = v
		}
	}
	return out
}
