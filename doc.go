// Package meshwire is a context fabric for multi-protocol services built on
// Watermill. It carries a structured envelope (request ID, tenant, security
// context, tracing, delegation) across pub/sub topics, tool calls, and
// request/reply backends, so every hop of a distributed request sees the same
// metadata regardless of the wire protocol underneath.
//
// The envelope metadata is defined by Meta and travels as flat x-* headers.
// A Propagator injects Meta into any HeaderAdapter (Watermill metadata, HTTP
// headers, NATS headers) and extracts it back, enforcing size caps and
// dropping malformed values instead of failing the message. Tenant identity
// is resolved by a TenantExtractor from headers, bearer tokens, payload
// fields, or query parameters, in that priority order.
//
// Service hosts the Watermill router and the default middleware chain:
// context extraction and injection, request ID stamping, structured logging,
// protobuf validation, outbox persistence, OpenTelemetry tracing, Prometheus
// metrics, retries, poison queue forwarding, and panic recovery. Typed
// handlers are registered with RegisterProtoHandler and RegisterJSONHandler.
//
// # Tool dispatch
//
// The Dispatcher routes tool calls on hierarchical subjects of the form
// <root>.<service>.<tool>, with single trailing wildcard patterns and
// queue-group load balancing. The Caller performs request/reply tool calls
// over the same substrate with per-call inboxes, correlation IDs, and
// timeout tracking, and can discover registered tools across services.
// Register typed tools with RegisterJSONTool or RegisterProtoTool.
//
// # Hybrid client
//
// HybridClient picks the best protocol for an endpoint from its registered
// backends. Capabilities are probed once, cached with a TTL, and invalidated
// on transport failures; per-call overrides can force a protocol or adjust
// timeouts and retry policy.
//
// # Substrates
//
// Broker substrates register themselves in the transport registry: channel
// (in-memory), kafka, rabbitmq, nats, jetstream, aws, and httpcall. Each
// reports a Capabilities set exposed by the introspection server.
package meshwire
