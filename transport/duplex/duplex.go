// Package duplex provides a WebSocket request/reply Backend for the hybrid
// client. One connection is kept per endpoint; frames carry a correlation
// id so replies can arrive out of order.
package duplex

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"

	"github.com/meshwire/meshwire/internal/runtime/faults"
	"github.com/meshwire/meshwire/internal/runtime/ids"
	"github.com/meshwire/meshwire/internal/runtime/jsoncodec"
	"github.com/meshwire/meshwire/transport"
)

// TransportName is the name used in logs and per-endpoint overrides.
const TransportName = "duplex"

// frame is the wire format exchanged over the socket. Payload is base64 in
// JSON; peers echo the id on the reply.
type frame struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload,omitempty"`
}

// Backend serves the duplex protocol tag. Connections are dialed lazily and
// reused per endpoint.
type Backend struct {
	dialer *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*endpointConn
}

// New returns a Backend using the given dialer; nil selects
// websocket.DefaultDialer.
func New(dialer *websocket.Dialer) *Backend {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Backend{
		dialer: dialer,
		conns:  make(map[string]*endpointConn),
	}
}

func (b *Backend) Name() string {
	return TransportName
}

func (b *Backend) Protocols() []transport.Protocol {
	return []transport.Protocol{transport.ProtocolDuplex}
}

// Probe dials the endpoint if no live connection exists. A successful dial
// is kept for subsequent requests.
func (b *Backend) Probe(ctx context.Context, endpoint string) error {
	_, err := b.connFor(ctx, endpoint)
	return err
}

// Request writes a frame and waits for the reply carrying the same id.
func (b *Backend) Request(ctx context.Context, endpoint string, req *message.Message) (*message.Message, error) {
	ec, err := b.connFor(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	id := ids.CreateULID()
	reply := ec.register(id)
	defer ec.unregister(id)

	out := frame{ID: id, Metadata: req.Metadata, Payload: req.Payload}
	if err := ec.write(out); err != nil {
		b.drop(endpoint, ec)
		return nil, faults.NewTransportFailure(faults.FailureClosed, err)
	}

	select {
	case <-ctx.Done():
		return nil, faults.NewTransportFailure(faults.FailureTimeout, ctx.Err())
	case fr, ok := <-reply:
		if !ok {
			b.drop(endpoint, ec)
			return nil, faults.NewTransportFailure(faults.FailureClosed, errors.New("connection closed while waiting for reply"))
		}
		msg := message.NewMessage(ids.CreateULID(), fr.Payload)
		for key, value := range fr.Metadata {
			msg.Metadata.Set(key, value)
		}
		return msg, nil
	}
}

// Close closes every live connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[string]*endpointConn)
	b.mu.Unlock()

	var errs []error
	for _, ec := range conns {
		errs = append(errs, ec.close())
	}
	return errors.Join(errs...)
}

func (b *Backend) connFor(ctx context.Context, endpoint string) (*endpointConn, error) {
	b.mu.Lock()
	if ec, ok := b.conns[endpoint]; ok && !ec.isClosed() {
		b.mu.Unlock()
		return ec, nil
	}
	b.mu.Unlock()

	ws, _, err := b.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, faults.NewTransportFailure(classifyDial(err), err)
	}

	ec := newEndpointConn(ws)
	go ec.readLoop()

	b.mu.Lock()
	// Another goroutine may have dialed concurrently; keep the first.
	if existing, ok := b.conns[endpoint]; ok && !existing.isClosed() {
		b.mu.Unlock()
		_ = ec.close()
		return existing, nil
	}
	b.conns[endpoint] = ec
	b.mu.Unlock()
	return ec, nil
}

func (b *Backend) drop(endpoint string, ec *endpointConn) {
	b.mu.Lock()
	if b.conns[endpoint] == ec {
		delete(b.conns, endpoint)
	}
	b.mu.Unlock()
	_ = ec.close()
}

func classifyDial(err error) faults.TransportFailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.FailureTimeout
	}
	return faults.FailureRefused
}

// endpointConn owns one socket: serialized writes, a single reader
// goroutine, and a pending table keyed by correlation id.
type endpointConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame
	closed  bool
}

func newEndpointConn(ws *websocket.Conn) *endpointConn {
	return &endpointConn{
		ws:      ws,
		pending: make(map[string]chan frame),
	}
}

func (c *endpointConn) register(id string) chan frame {
	ch := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		close(ch)
	} else {
		c.pending[id] = ch
	}
	c.mu.Unlock()
	return ch
}

func (c *endpointConn) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *endpointConn) write(fr frame) error {
	data, err := jsoncodec.Marshal(fr)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// readLoop delivers frames to their waiters until the socket dies, then
// closes every pending channel so waiters observe the disconnect.
func (c *endpointConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.failAll()
			return
		}

		var fr frame
		if err := jsoncodec.Unmarshal(data, &fr); err != nil {
			continue // unparseable frame, not fatal
		}

		c.mu.Lock()
		ch, ok := c.pending[fr.ID]
		if ok {
			delete(c.pending, fr.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- fr
		}
	}
}

func (c *endpointConn) failAll() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}

func (c *endpointConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *endpointConn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return c.ws.Close()
}
