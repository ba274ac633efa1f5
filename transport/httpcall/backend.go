package httpcall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/meshwire/meshwire/internal/runtime/faults"
	"github.com/meshwire/meshwire/internal/runtime/ids"
	"github.com/meshwire/meshwire/transport"
)

// Backend performs request/reply calls over plain HTTP. The request payload
// is POSTed to the endpoint URL, message metadata travels as headers, and
// the response body plus headers come back as the reply message.
type Backend struct {
	client *nethttp.Client
}

// NewBackend wraps the given client; nil selects http.DefaultClient.
// Per-call deadlines come from the context, not the client timeout.
func NewBackend(client *nethttp.Client) *Backend {
	if client == nil {
		client = nethttp.DefaultClient
	}
	return &Backend{client: client}
}

func (b *Backend) Name() string {
	return TransportName
}

func (b *Backend) Protocols() []transport.Protocol {
	return []transport.Protocol{transport.ProtocolHTTP}
}

// Probe issues a HEAD request. Any HTTP response, including an error
// status, proves the endpoint speaks HTTP; only wire failures count as a
// failed probe.
func (b *Backend) Probe(ctx context.Context, endpoint string) error {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodHead, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return faults.NewTransportFailure(classify(err), err)
	}
	return resp.Body.Close()
}

// Request POSTs the message payload to the endpoint and returns the
// response as a message. Metadata keys become request headers verbatim;
// response headers become reply metadata with single values.
func (b *Backend) Request(ctx context.Context, endpoint string, req *message.Message) (*message.Message, error) {
	httpReq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, endpoint, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")
	for key, value := range req.Metadata {
		httpReq.Header.Set(key, value)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, faults.NewTransportFailure(classify(err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.NewTransportFailure(faults.FailureClosed, err)
	}

	if resp.StatusCode >= nethttp.StatusBadRequest {
		return nil, faults.NewTransportFailure(faults.FailureOther, fmt.Errorf("endpoint returned status %d", resp.StatusCode))
	}

	reply := message.NewMessage(ids.CreateULID(), body)
	for key, values := range resp.Header {
		if len(values) > 0 {
			reply.Metadata.Set(key, values[0])
		}
	}
	return reply, nil
}

// Close is a no-op; the underlying client pools its own connections.
func (b *Backend) Close() error {
	return nil
}

// classify maps wire errors onto retry kinds. Unknown errors fall through
// to the non-retryable "other" kind via NewTransportFailure.
func classify(err error) faults.TransportFailureKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return faults.FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return faults.FailureRefused
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return faults.FailureClosed
	}
	return ""
}
