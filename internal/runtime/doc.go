/*
Package runtime provides the core service infrastructure for meshwire.

# Architecture Overview

The runtime package implements a message-driven architecture built on top of
Watermill. It provides typed handlers for Protocol Buffers and JSON messages,
envelope metadata propagation, tool-call dispatch, and a middleware chain for
cross-cutting concerns.

# Package Structure

The runtime package is organized into the following components:

## Core Service (service.go)

The Service struct is the central orchestrator that wires together:
  - Message router (Watermill)
  - Publisher and subscriber connections from the substrate registry
  - Envelope propagator and tenant extractor
  - Middleware chain
  - Tool dispatcher and caller
  - HTTP servers for metrics and introspection

## Handler Registration (registration*.go)

Handler registration files provide typed wrappers for message handlers:
  - registration.go: Raw Watermill handlers, base registration, and tools
  - registration_json.go: Typed JSON message handlers and JSON tools
  - registration_proto.go: Typed Protocol Buffer handlers and proto tools

## Middleware (middleware.go)

The middleware system provides composable message processing stages:
  - ContextExtract: Decodes envelope headers into the request context
  - RequestID: Stamps a request ID on messages lacking one
  - ContextInject: Re-injects envelope headers on outgoing messages
  - LogMessages: Debug logging of message payloads
  - ProtoValidate: Schema validation for protobuf messages
  - Outbox: Transactional outbox pattern support
  - Tracer: OpenTelemetry distributed tracing
  - Metrics: Prometheus metrics collection
  - Retry: Exponential backoff retry logic
  - PoisonQueue: Dead letter queue for failed messages
  - Recoverer: Panic recovery

## Stats & Monitoring (models.go)

Per-handler counters with error categorization. Tool-level latency
percentiles and throughput live in the dispatch package.

## Publishing (publisher.go)

Utilities for emitting proto events and metadata-carrying envelopes.

## Introspection (webui.go)

HTTP API exposing handler stats, the tool catalog, and substrate
capabilities.

# Sub-packages

  - backoff/: Retry policy with exponential delays and jitter
  - config/: Service configuration with validation
  - dispatch/: Tool-call dispatcher, caller, and subject routing
  - envelope/: Envelope metadata model
  - errors/: Sentinel errors and error types
  - faults/: Stable fault taxonomy shared across layers
  - handlers/: Message context types and handler building
  - headers/: Header adapters for Watermill, HTTP, and NATS carriers
  - hybrid/: Multi-protocol client with capability detection
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Message metadata utilities
  - propagation/: Envelope header injection and extraction
  - reqctx/: Request context carrying envelope metadata
  - tenant/: Tenant identity extraction
  - transport/: Substrate factory bridging config to the registry

# Usage Example

	cfg := &meshwire.Config{
		PubSubSystem:   "nats",
		NATSURL:        "nats://localhost:4222",
		ServiceName:    "orders",
		MetricsEnabled: true,
		MetricsPort:    9090,
	}

	svc := meshwire.NewService(cfg, logger, ctx, meshwire.ServiceDependencies{})

	meshwire.RegisterProtoHandler(svc, meshwire.ProtoHandlerRegistration[*pb.OrderCreated]{
		Name:         "order-processor",
		ConsumeQueue: "orders.created",
		PublishQueue: "orders.processed",
		Handler:      processOrder,
	})

	svc.Start(ctx)
*/
package runtime
