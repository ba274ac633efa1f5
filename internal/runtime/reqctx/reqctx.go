// Package reqctx carries the per-request metadata context through the call
// chain. A Context is an immutable snapshot of an envelope.Meta; it travels
// on a context.Context between middlewares, handlers and outgoing calls.
// Child contexts open a fresh span for sub-requests while keeping the trace,
// request id and tenant intact.
package reqctx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/meshwire/meshwire/internal/runtime/envelope"
)

type contextKey struct{}

// Context is an immutable snapshot of request metadata. Accessors return
// copies; the snapshot itself is never mutated after construction.
type Context struct {
	meta envelope.Meta
}

// FromMeta snapshots the given metadata into a Context. The input is deep
// copied so later mutations of the caller's Meta do not leak in.
func FromMeta(meta envelope.Meta) *Context {
	return &Context{meta: meta.Clone()}
}

// Meta returns a deep copy of the snapshot.
func (c *Context) Meta() envelope.Meta {
	if c == nil {
		return envelope.Meta{}
	}
	return c.meta.Clone()
}

// Tenant returns the tenant id, or "" when none was propagated.
func (c *Context) Tenant() string {
	if c == nil {
		return ""
	}
	return c.meta.Tenant
}

// RequestID returns the request id, or "" when none was propagated.
func (c *Context) RequestID() string {
	if c == nil {
		return ""
	}
	return c.meta.RequestID
}

// TraceID returns the trace id, or "" when no tracing block is present.
func (c *Context) TraceID() string {
	if c == nil || c.meta.Tracing == nil {
		return ""
	}
	return c.meta.Tracing.TraceID
}

// Child derives the context for an outgoing sub-request: a fresh span whose
// parent is the current span, under the same trace, request id, tenant and
// extensions. When the parent has no tracing block a new trace is opened.
func (c *Context) Child() *Context {
	meta := c.Meta()
	meta.DurationMillis = nil

	tracing := meta.Tracing
	if tracing == nil {
		tracing = &envelope.Tracing{TraceID: newID(16)}
		meta.Tracing = tracing
	}
	tracing.ParentSpanID = tracing.SpanID
	tracing.SpanID = newID(8)

	return &Context{meta: meta}
}

// Merge returns a context whose zero fields are filled from other. Fields
// already set on the receiver win; map entries merge with the receiver
// taking precedence on key conflicts.
func (c *Context) Merge(other *Context) *Context {
	if other == nil {
		return c
	}
	if c == nil {
		return FromMeta(other.meta)
	}
	return &Context{meta: c.meta.Merge(other.meta)}
}

// Install returns a context.Context carrying rc as the current request
// context. Passing nil rc returns ctx unchanged.
func Install(ctx context.Context, rc *Context) context.Context {
	if rc == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, rc)
}

// Current returns the request context carried by ctx. When ctx carries
// none, the fallback slot set via Enter is consulted, so transports without
// a context plumbing point still observe the current request.
func Current(ctx context.Context) (*Context, bool) {
	if ctx != nil {
		if rc, ok := ctx.Value(contextKey{}).(*Context); ok {
			return rc, true
		}
	}
	return slot.current()
}

// MetaFor builds outgoing metadata from the current request context, or a
// fresh Meta when no context is installed.
func MetaFor(ctx context.Context) envelope.Meta {
	if rc, ok := Current(ctx); ok {
		return rc.Child().Meta()
	}
	return envelope.NewMeta()
}

// slot is the process-wide fallback for call paths that cannot thread a
// context.Context. Enter/Release have stack semantics and must pair up on
// the same call path.
var slot fallbackSlot

type fallbackSlot struct {
	mu    sync.Mutex
	stack []*Context
}

func (s *fallbackSlot) current() (*Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return nil, false
	}
	return s.stack[len(s.stack)-1], true
}

func (s *fallbackSlot) push(rc *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = append(s.stack, rc)
}

func (s *fallbackSlot) pop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) > 0 {
		s.stack = s.stack[:len(s.stack)-1]
	}
}

// Guard restores the previously current context when released. Release is
// idempotent and must run on all paths, typically via defer.
type Guard struct {
	once sync.Once
}

// Release pops the context installed by the matching Enter.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(slot.pop)
}

// Enter installs rc in the fallback slot and returns the Guard that undoes
// it. Intended for synchronous sections only; concurrent Enter calls from
// unrelated goroutines interleave on the shared stack.
func Enter(rc *Context) *Guard {
	slot.push(rc)
	return &Guard{}
}

// newID returns n random bytes hex encoded, in the shape OTel uses for
// trace (16 bytes) and span (8 bytes) identifiers.
func newID(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("reqctx: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
