// Package natsrpc provides a NATS core request/reply Backend for the
// hybrid client. Endpoints are NATS subjects; replies arrive on the
// connection's inbox.
package natsrpc

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/meshwire/meshwire/internal/runtime/faults"
	"github.com/meshwire/meshwire/internal/runtime/ids"
	"github.com/meshwire/meshwire/transport"
)

// TransportName is the name used in logs and per-endpoint overrides.
const TransportName = "natsrpc"

// ConnectFactory allows overriding the connection for testing.
var ConnectFactory = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

// Backend serves the rpc protocol tag over a single NATS connection.
type Backend struct {
	conn *nats.Conn
}

// New connects to the given NATS URL.
func New(url string, opts ...nats.Option) (*Backend, error) {
	conn, err := ConnectFactory(url, opts...)
	if err != nil {
		return nil, faults.NewTransportFailure("", err)
	}
	return &Backend{conn: conn}, nil
}

// NewWithConn wraps an existing connection. The caller keeps ownership;
// Close becomes a no-op on the connection itself.
func NewWithConn(conn *nats.Conn) *Backend {
	return &Backend{conn: conn}
}

func (b *Backend) Name() string {
	return TransportName
}

func (b *Backend) Protocols() []transport.Protocol {
	return []transport.Protocol{transport.ProtocolRPC, transport.ProtocolToolCall}
}

// Probe checks the connection is alive and the endpoint subject has at
// least the shape of a valid subject. NATS has no cheap per-subject
// reachability check, so a connected conn counts as reachable.
func (b *Backend) Probe(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return faults.NewTransportFailure(faults.FailureOther, errors.New("empty subject"))
	}
	if !b.conn.IsConnected() {
		return faults.NewTransportFailure(faults.FailureClosed, nats.ErrConnectionClosed)
	}
	return ctx.Err()
}

// Request publishes to the endpoint subject and waits for the reply.
// Message metadata travels as NATS headers.
func (b *Backend) Request(ctx context.Context, endpoint string, req *message.Message) (*message.Message, error) {
	natsMsg := nats.NewMsg(endpoint)
	natsMsg.Data = req.Payload
	for key, value := range req.Metadata {
		natsMsg.Header.Set(key, value)
	}

	reply, err := b.conn.RequestMsgWithContext(ctx, natsMsg)
	if err != nil {
		return nil, classify(err)
	}

	out := message.NewMessage(ids.CreateULID(), reply.Data)
	for key := range reply.Header {
		out.Metadata.Set(key, reply.Header.Get(key))
	}
	return out, nil
}

// Close drains the connection.
func (b *Backend) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Drain()
}

func classify(err error) error {
	switch {
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return faults.NewTransportFailure(faults.FailureTimeout, err)
	case errors.Is(err, nats.ErrNoResponders):
		return faults.NewTransportFailure(faults.FailureRefused, err)
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining):
		return faults.NewTransportFailure(faults.FailureClosed, err)
	default:
		return faults.NewTransportFailure("", err)
	}
}
