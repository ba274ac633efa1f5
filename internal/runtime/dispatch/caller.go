package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
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
	// DefaultCallTimeout bounds a single tool call round trip.
	DefaultCallTimeout = 30 * time.Second

	// DefaultDiscoveryWindow is how long Discover collects catalog replies.
	DefaultDiscoveryWindow = 100 * time.Millisecond
)

// CallState tracks one call through its lifecycle. States only move forward.
type CallState string

const (
	CallStateCreated   CallState = "CREATED"
	CallStateWaiting   CallState = "WAITING"
	CallStateCompleted CallState = "COMPLETED"
	CallStateTimedOut  CallState = "TIMED_OUT"
	CallStateFailed    CallState = "FAILED"
)

// CallObserver receives state transitions for calls in flight. Observers run
// on the calling goroutine and must not block.
type CallObserver func(callID string, state CallState)

// CallerConfig controls the client side of tool dispatch.
type CallerConfig struct {
	// RootSubject must match the dispatcher's; defaults to "tools".
	RootSubject string

	// CallTimeout bounds each call unless the context expires first.
	CallTimeout time.Duration

	// DiscoveryWindow is how long Discover waits for catalog replies.
	DiscoveryWindow time.Duration

	// Observer, when set, sees every call state transition.
	Observer CallObserver
}

func (c CallerConfig) withDefaults() CallerConfig {
	if c.RootSubject == "" {
		c.RootSubject = DefaultRootSubject
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.DiscoveryWindow <= 0 {
		c.DiscoveryWindow = DefaultDiscoveryWindow
	}
	return c
}

// Reply is a completed tool call: the response payload and the metadata the
// server sent back, including its measured duration.
type Reply struct {
	Response ToolResponse
	Meta     envelope.Meta
}

// Caller issues tool calls over a subscribe-capable transport using
// per-call reply inboxes.
type Caller struct {
	conf CallerConfig
	pub  message.Publisher
	sub  message.Subscriber
	prop *propagation.Propagator
	log  logging.ServiceLogger
}

// NewCaller builds a caller on top of an existing transport.
func NewCaller(conf CallerConfig, t transport.Transport, prop *propagation.Propagator, log logging.ServiceLogger) (*Caller, error) {
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
	return &Caller{
		conf: conf.withDefaults(),
		pub:  t.Publisher,
		sub:  t.Subscriber,
		prop: prop,
		log:  log.With(logging.LogFields{"component": "dispatch_caller"}),
	}, nil
}

func (c *Caller) observe(callID string, state CallState) {
	if c.conf.Observer != nil {
		c.conf.Observer(callID, state)
	}
}

// Call publishes a tool call and waits for the single matching reply.
// Metadata comes from the request context via reqctx. The call fails with
// ErrCallTimeout when the timeout elapses and with the context's error when
// ctx is cancelled first; there is no automatic retry, and either exit frees
// the reply inbox so late replies are dropped.
func (c *Caller) Call(ctx context.Context, service, tool string, args json.RawMessage) (*Reply, error) {
	if service == "" {
		return nil, errs.ErrServiceNameRequired
	}
	if tool == "" {
		return nil, errs.ErrToolNameRequired
	}

	callID := ids.CreateULID()
	subject := c.conf.RootSubject + "." + service + "." + tool
	inbox := c.conf.RootSubject + ".inbox." + ids.CreateULID()
	c.observe(callID, CallStateCreated)

	body, err := encodePayload(&Payload{ToolCall: &ToolCall{
		ID:        callID,
		Name:      tool,
		Arguments: args,
	}})
	if err != nil {
		c.observe(callID, CallStateFailed)
		return nil, err
	}

	meta := reqctx.MetaFor(ctx)
	msg := message.NewMessage(ids.CreateULID(), body)
	if err := c.prop.Inject(meta, headers.Metadata(msg.Metadata)); err != nil {
		c.observe(callID, CallStateFailed)
		return nil, err
	}
	msg.Metadata.Set(metaReplyTo, inbox)
	msg.Metadata.Set(metaCorrelationID, callID)

	// Subscribe before publishing so the reply cannot race the inbox.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	replies, err := c.sub.Subscribe(subCtx, inbox)
	if err != nil {
		c.observe(callID, CallStateFailed)
		return nil, fmt.Errorf("subscribe reply inbox: %w", err)
	}

	if err := c.pub.Publish(subject, msg); err != nil {
		c.observe(callID, CallStateFailed)
		return nil, faults.NewTransportFailure("", err)
	}
	c.observe(callID, CallStateWaiting)

	timer := time.NewTimer(c.conf.CallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.observe(callID, CallStateFailed)
			return nil, fmt.Errorf("meshwire: tool call cancelled: %w", ctx.Err())
		case <-timer.C:
			c.observe(callID, CallStateTimedOut)
			return nil, faults.ErrCallTimeout
		case reply, ok := <-replies:
			if !ok {
				c.observe(callID, CallStateFailed)
				return nil, faults.NewTransportFailure(faults.FailureClosed, nil)
			}
			resp, replyMeta, matched := c.decodeReply(reply, callID)
			reply.Ack()
			if !matched {
				continue
			}
			c.observe(callID, CallStateCompleted)
			return &Reply{Response: *resp, Meta: replyMeta}, nil
		}
	}
}

// decodeReply returns the tool response when the message answers callID.
// Unmatched or undecodable messages are dropped.
func (c *Caller) decodeReply(msg *message.Message, callID string) (*ToolResponse, envelope.Meta, bool) {
	payload, err := decodePayload(msg.Payload)
	if err != nil || payload.ToolResponse == nil {
		c.log.Debug("Dropping non-response on inbox", logging.LogFields{
			"message_uuid": msg.UUID,
		})
		return nil, envelope.Meta{}, false
	}
	if payload.ToolResponse.ID != callID && msg.Metadata.Get(metaCorrelationID) != callID {
		return nil, envelope.Meta{}, false
	}

	replyMeta, err := c.prop.Extract(headers.ReadonlyMetadata(msg.Metadata))
	if err != nil {
		replyMeta = envelope.NewMeta()
	}
	return payload.ToolResponse, replyMeta, true
}

// Discover broadcasts a catalog query and aggregates replies that arrive
// within the discovery window. An empty service queries every dispatcher.
func (c *Caller) Discover(ctx context.Context, service string) ([]Registration, error) {
	subject := DiscoveryListSubject
	if service != "" {
		subject = discoveryServicePrefix + service
	}
	inbox := c.conf.RootSubject + ".inbox." + ids.CreateULID()

	body, err := encodePayload(&Payload{Discovery: &Discovery{
		QueryType: QueryListTools,
		Service:   service,
	}})
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(ids.CreateULID(), body)
	if err := c.prop.Inject(reqctx.MetaFor(ctx), headers.Metadata(msg.Metadata)); err != nil {
		return nil, err
	}
	msg.Metadata.Set(metaReplyTo, inbox)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	replies, err := c.sub.Subscribe(subCtx, inbox)
	if err != nil {
		return nil, fmt.Errorf("subscribe discovery inbox: %w", err)
	}

	if err := c.pub.Publish(subject, msg); err != nil {
		return nil, faults.NewTransportFailure("", err)
	}

	timer := time.NewTimer(c.conf.DiscoveryWindow)
	defer timer.Stop()

	var catalog []Registration
	for {
		select {
		case <-ctx.Done():
			return catalog, nil
		case <-timer.C:
			return catalog, nil
		case reply, ok := <-replies:
			if !ok {
				return catalog, nil
			}
			payload, err := decodePayload(reply.Payload)
			reply.Ack()
			if err != nil || payload.Discovery == nil {
				continue
			}
			catalog = append(catalog, payload.Discovery.Catalog...)
		}
	}
}
