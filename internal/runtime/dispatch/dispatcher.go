package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/meshwire/meshwire/internal/runtime/envelope"
	errs "github.com/meshwire/meshwire/internal/runtime/errors"
	"github.com/meshwire/meshwire/internal/runtime/faults"
	"github.com/meshwire/meshwire/internal/runtime/headers"
	"github.com/meshwire/meshwire/internal/runtime/ids"
	"github.com/meshwire/meshwire/internal/runtime/logging"
	"github.com/meshwire/meshwire/internal/runtime/propagation"
	"github.com/meshwire/meshwire/internal/runtime/reqctx"
	"github.com/meshwire/meshwire/transport"
)

const (
	// DefaultRootSubject prefixes every tool subject.
	DefaultRootSubject = "tools"

	// DiscoveryListSubject is the broadcast catalog query subject.
	DiscoveryListSubject = "discovery.list_tools"

	discoveryServicePrefix = "discovery.service."

	// Reply routing travels as plain metadata keys next to the injected
	// envelope headers. Extract ignores them.
	metaReplyTo       = "reply-to"
	metaCorrelationID = "correlation-id"
)

// ErrDispatcherRunning is returned when tools are registered after Run.
var ErrDispatcherRunning = errors.New("meshwire: dispatcher is already running")

// ToolHandler runs one tool call. Returned errors become error responses on
// the wire, never transport failures.
type ToolHandler func(ctx context.Context, meta envelope.Meta, call ToolCall) (ToolResponse, error)

// Config controls the server side of tool dispatch.
type Config struct {
	// RootSubject prefixes tool subjects; defaults to "tools".
	RootSubject string

	// Service names this dispatcher. Required. It is the second subject
	// segment and the default queue group.
	Service string

	// Version is reported in registrations that do not set their own.
	Version string

	// QueueGroup shares subscriptions between replicas so each call is
	// delivered once per group. Defaults to Service. The group takes
	// effect in the substrate: NATS core applies it as a queue
	// subscription, JetStream as a shared durable consumer, Kafka through
	// its consumer group. Channel and HTTP substrates have no groups and
	// deliver to every replica.
	QueueGroup string
}

func (c Config) withDefaults() Config {
	if c.RootSubject == "" {
		c.RootSubject = DefaultRootSubject
	}
	if c.QueueGroup == "" {
		c.QueueGroup = c.Service
	}
	return c
}

// toolEntry is one registered tool with its handler and counters.
type toolEntry struct {
	reg     Registration
	subject string
	handler ToolHandler
	stats   *toolStats
}

// Dispatcher subscribes to tool subjects, routes calls to handlers, and
// answers discovery queries from its registration catalog.
type Dispatcher struct {
	conf Config
	pub  message.Publisher
	sub  message.Subscriber
	prop *propagation.Propagator
	log  logging.ServiceLogger

	mu      sync.Mutex
	table   subjectTable
	entries []*toolEntry
	running bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher builds a dispatcher on top of an existing transport. The
// transport's lifetime stays with the caller; Close only stops consumers.
func NewDispatcher(conf Config, t transport.Transport, prop *propagation.Propagator, log logging.ServiceLogger) (*Dispatcher, error) {
	if conf.Service == "" {
		return nil, errs.ErrServiceNameRequired
	}
	if t.Publisher == nil {
		return nil, errs.ErrPublisherRequired
	}
	if t.Subscriber == nil {
		return nil, errs.ErrSubscriberRequired
	}
	if log == nil {
		return nil, errs.ErrLoggerRequired
	}
	if prop == nil {
		prop = propagation.Default()
	}

	conf = conf.withDefaults()
	return &Dispatcher{
		conf: conf,
		pub:  t.Publisher,
		sub:  t.Subscriber,
		prop: prop,
		log: log.With(logging.LogFields{
			"component": "dispatch",
			"service":   conf.Service,
		}),
	}, nil
}

// RegisterTool binds a handler to subject <root>.<service>.<tool>. The tool
// name may end in ".>" to claim a whole subtree; lookup prefers the longest
// matching prefix and, on ties, the first registration. Registration is only
// allowed before Run.
func (d *Dispatcher) RegisterTool(reg Registration, handler ToolHandler) error {
	if handler == nil {
		return errs.ErrHandlerRequired
	}
	if reg.Name == "" {
		return errs.ErrToolNameRequired
	}
	if reg.Service == "" {
		reg.Service = d.conf.Service
	}
	if reg.Version == "" {
		reg.Version = d.conf.Version
	}

	subject := d.conf.RootSubject + "." + reg.Service + "." + reg.Name

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrDispatcherRunning
	}

	entry := &toolEntry{
		reg:     reg,
		subject: subject,
		handler: handler,
		stats:   newToolStats(reg.Name),
	}
	if err := d.table.add(subject, entry); err != nil {
		return err
	}
	d.entries = append(d.entries, entry)

	d.log.Debug("Registered tool", logging.LogFields{
		"tool":    reg.Name,
		"subject": subject,
	})
	return nil
}

// Run subscribes to every registered subject plus the discovery subjects and
// starts consuming. It returns once the subscriptions are established; Close
// stops and drains them.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrDispatcherRunning
	}
	d.running = true
	patterns := d.table.patterns()
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	topics := append(patterns,
		DiscoveryListSubject,
		discoveryServicePrefix+d.conf.Service,
	)
	for _, topic := range topics {
		msgs, err := d.sub.Subscribe(runCtx, topic)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe %q: %w", topic, err)
		}
		d.wg.Add(1)
		go func(topic string, msgs <-chan *message.Message) {
			defer d.wg.Done()
			for msg := range msgs {
				d.handle(runCtx, msg)
			}
		}(topic, msgs)
	}

	d.log.Info("Dispatcher running", logging.LogFields{
		"topics":      topics,
		"queue_group": d.conf.QueueGroup,
	})
	return nil
}

// Close stops consuming and waits for in-flight handlers to finish.
func (d *Dispatcher) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	return nil
}

// Stats returns a snapshot per registered tool for introspection.
func (d *Dispatcher) Stats() []ToolStatsSnapshot {
	d.mu.Lock()
	entries := make([]*toolEntry, len(d.entries))
	copy(entries, d.entries)
	d.mu.Unlock()

	out := make([]ToolStatsSnapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.stats.snapshot())
	}
	return out
}

// Catalog returns the registrations in registration order.
func (d *Dispatcher) Catalog() []Registration {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Registration, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.reg)
	}
	return out
}

func (d *Dispatcher) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	meta, err := d.prop.Extract(headers.ReadonlyMetadata(msg.Metadata))
	if err != nil {
		// Malformed metadata does not kill the call; the handler just
		// runs without the broken fields.
		d.log.Error("Dropping malformed metadata", err, logging.LogFields{
			"message_uuid": msg.UUID,
		})
		meta = envelope.NewMeta()
	}

	payload, err := decodePayload(msg.Payload)
	if err != nil {
		d.log.Error("Undecodable payload", err, logging.LogFields{
			"message_uuid": msg.UUID,
		})
		d.reply(msg, meta, 0, errorResponse("", err.Error()))
		return
	}

	switch {
	case payload.ToolCall != nil:
		d.handleCall(ctx, msg, meta, payload.ToolCall)
	case payload.Discovery != nil:
		d.handleDiscovery(msg, meta, payload.Discovery)
	default:
		// Responses and registrations are not addressed to servers.
		d.log.Debug("Ignoring non-call payload", logging.LogFields{
			"message_uuid": msg.UUID,
		})
	}
}

func (d *Dispatcher) handleCall(ctx context.Context, msg *message.Message, meta envelope.Meta, call *ToolCall) {
	subject := d.conf.RootSubject + "." + d.conf.Service + "." + call.Name

	d.mu.Lock()
	entry, ok := d.table.match(subject)
	d.mu.Unlock()

	if !ok {
		d.log.Debug("No handler for subject", logging.LogFields{
			"subject": subject,
			"tool":    call.Name,
		})
		d.reply(msg, meta, 0, errorResponse(call.ID, "no handler registered for tool "+call.Name))
		return
	}

	rc := reqctx.FromMeta(meta)
	callCtx := reqctx.Install(ctx, rc)

	start := time.Now()
	resp, err := d.invoke(callCtx, entry, meta, call)
	elapsed := time.Since(start)
	entry.stats.record(elapsed, err)

	if err != nil {
		d.log.Error("Tool handler failed", err, logging.LogFields{
			"tool":    call.Name,
			"call_id": call.ID,
		})
		d.reply(msg, meta, elapsed, errorResponse(call.ID, err.Error()))
		return
	}

	if resp.ID == "" {
		resp.ID = call.ID
	}
	d.reply(msg, meta, elapsed, &Payload{ToolResponse: &resp})
}

// invoke runs the handler with panic recovery. A panic is reported as a
// handler error so the caller gets an error response instead of a timeout.
func (d *Dispatcher) invoke(ctx context.Context, entry *toolEntry, meta envelope.Meta, call *ToolCall) (resp ToolResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Tool handler panicked", fmt.Errorf("%v", r), logging.LogFields{
				"tool":  call.Name,
				"stack": string(debug.Stack()),
			})
			err = &faults.HandlerError{Tool: call.Name, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return entry.handler(ctx, meta, *call)
}

func (d *Dispatcher) handleDiscovery(msg *message.Message, meta envelope.Meta, query *Discovery) {
	if query.QueryType != QueryListTools {
		d.log.Debug("Unknown discovery query", logging.LogFields{
			"query_type": query.QueryType,
		})
		return
	}
	if query.Service != "" && query.Service != d.conf.Service {
		return
	}

	answer := &Payload{Discovery: &Discovery{
		QueryType: QueryListTools,
		Service:   d.conf.Service,
		Catalog:   d.Catalog(),
	}}
	d.reply(msg, meta, 0, answer)
}

// reply publishes a response to the request's reply inbox. Requests without
// an inbox are fire-and-forget. Response metadata is the preserved request
// metadata plus the server-measured duration.
func (d *Dispatcher) reply(msg *message.Message, meta envelope.Meta, elapsed time.Duration, payload *Payload) {
	inbox := msg.Metadata.Get(metaReplyTo)
	if inbox == "" {
		return
	}

	body, err := encodePayload(payload)
	if err != nil {
		d.log.Error("Failed to encode reply", err, logging.LogFields{
			"inbox": inbox,
		})
		return
	}

	respMeta := meta.PreserveForResponse()
	if elapsed > 0 {
		respMeta.SetDuration(elapsed)
	}

	reply := message.NewMessage(ids.CreateULID(), body)
	if err := d.prop.Inject(respMeta, headers.Metadata(reply.Metadata)); err != nil {
		d.log.Error("Failed to inject reply metadata", err, logging.LogFields{
			"inbox": inbox,
		})
		return
	}
	if corr := msg.Metadata.Get(metaCorrelationID); corr != "" {
		reply.Metadata.Set(metaCorrelationID, corr)
	}

	if err := d.pub.Publish(inbox, reply); err != nil {
		d.log.Error("Failed to publish reply", err, logging.LogFields{
			"inbox": inbox,
		})
	}
}
