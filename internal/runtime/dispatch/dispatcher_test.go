package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/meshwire/meshwire/internal/runtime/envelope"
	"github.com/meshwire/meshwire/internal/runtime/faults"
	"github.com/meshwire/meshwire/internal/runtime/logging"
	"github.com/meshwire/meshwire/internal/runtime/reqctx"
	"github.com/meshwire/meshwire/transport"
)

func testTransport() transport.Transport {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	return transport.Transport{Publisher: ps, Subscriber: ps}
}

func testLogger() logging.ServiceLogger {
	return logging.NewWatermillServiceLogger(watermill.NopLogger{})
}

func startDispatcher(t *testing.T, fabric transport.Transport, conf Config, tools map[string]ToolHandler) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(conf, fabric, nil, testLogger())
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	for name, handler := range tools {
		if err := d.RegisterTool(Registration{Name: name}, handler); err != nil {
			t.Fatalf("RegisterTool(%s): %v", name, err)
		}
	}
	if err := d.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newTestCaller(t *testing.T, fabric transport.Transport, conf CallerConfig) *Caller {
	t.Helper()
	if conf.CallTimeout == 0 {
		conf.CallTimeout = 2 * time.Second
	}
	c, err := NewCaller(conf, fabric, nil, testLogger())
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}
	return c
}

func TestCallRoundTripPreservesMetadata(t *testing.T) {
	fabric := testTransport()

	var seenMeta envelope.Meta
	var seenTenantInCtx string
	startDispatcher(t, fabric, Config{Service: "calc"}, map[string]ToolHandler{
		"add": func(ctx context.Context, meta envelope.Meta, call ToolCall) (ToolResponse, error) {
			seenMeta = meta
			if rc, ok := reqctx.Current(ctx); ok {
				seenTenantInCtx = rc.Tenant()
			}
			var args struct{ A, B int }
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				return ToolResponse{}, err
			}
			return ToolResponse{Content: []Content{{
				Type: "text",
				Text: jsonInt(args.A + args.B),
			}}}, nil
		},
	})

	caller := newTestCaller(t, fabric, CallerConfig{})

	meta := envelope.NewMeta()
	meta.RequestID = "req-123"
	meta.Tenant = "acme"
	ctx := reqctx.Install(t.Context(), reqctx.FromMeta(meta))

	reply, err := caller.Call(ctx, "calc", "add", json.RawMessage(`{"a":2,"b":3}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if reply.Response.IsError {
		t.Fatalf("unexpected error response: %+v", reply.Response)
	}
	if len(reply.Response.Content) != 1 || reply.Response.Content[0].Text != "5" {
		t.Errorf("unexpected content: %+v", reply.Response.Content)
	}

	if seenMeta.Tenant != "acme" {
		t.Errorf("handler saw tenant %q, want acme", seenMeta.Tenant)
	}
	if seenTenantInCtx != "acme" {
		t.Errorf("request context tenant = %q, want acme", seenTenantInCtx)
	}

	if reply.Meta.RequestID != "req-123" {
		t.Errorf("reply request id = %q, want req-123", reply.Meta.RequestID)
	}
	if reply.Meta.Tenant != "acme" {
		t.Errorf("reply tenant = %q, want acme", reply.Meta.Tenant)
	}
	if _, ok := reply.Meta.Duration(); !ok {
		t.Error("reply missing server-measured duration")
	}
}

func jsonInt(v int) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func TestHandlerErrorBecomesErrorResponse(t *testing.T) {
	fabric := testTransport()
	startDispatcher(t, fabric, Config{Service: "calc"}, map[string]ToolHandler{
		"add": func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
			return ToolResponse{}, errors.New("division by zero")
		},
	})
	caller := newTestCaller(t, fabric, CallerConfig{})

	reply, err := caller.Call(t.Context(), "calc", "add", nil)
	if err != nil {
		t.Fatalf("handler error must not surface as call error, got %v", err)
	}
	if !reply.Response.IsError {
		t.Fatal("IsError not set on handler failure")
	}
	if len(reply.Response.Content) == 0 || !strings.Contains(reply.Response.Content[0].Text, "division by zero") {
		t.Errorf("error text lost: %+v", reply.Response.Content)
	}
}

func TestHandlerPanicBecomesErrorResponse(t *testing.T) {
	fabric := testTransport()
	startDispatcher(t, fabric, Config{Service: "calc"}, map[string]ToolHandler{
		"explode": func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
			panic("kaboom")
		},
	})
	caller := newTestCaller(t, fabric, CallerConfig{})

	reply, err := caller.Call(t.Context(), "calc", "explode", nil)
	if err != nil {
		t.Fatalf("panic must not surface as call error, got %v", err)
	}
	if !reply.Response.IsError {
		t.Fatal("IsError not set after panic")
	}
	if !strings.Contains(reply.Response.Content[0].Text, "kaboom") {
		t.Errorf("panic value lost: %+v", reply.Response.Content)
	}
}

func TestCallTimeout(t *testing.T) {
	fabric := testTransport()
	// No dispatcher is running; the call can never be answered.

	var states []CallState
	caller := newTestCaller(t, fabric, CallerConfig{
		CallTimeout: 50 * time.Millisecond,
		Observer: func(_ string, state CallState) {
			states = append(states, state)
		},
	})

	_, err := caller.Call(t.Context(), "calc", "add", nil)
	if !errors.Is(err, faults.ErrCallTimeout) {
		t.Fatalf("want ErrCallTimeout, got %v", err)
	}
	if faults.Code(err) != faults.CodeCallTimeout {
		t.Errorf("code = %q, want %q", faults.Code(err), faults.CodeCallTimeout)
	}

	want := []CallState{CallStateCreated, CallStateWaiting, CallStateTimedOut}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestWildcardSubjectRouting(t *testing.T) {
	fabric := testTransport()
	ps := fabric.Publisher

	var gotName string
	d, err := NewDispatcher(Config{Service: "svc"}, fabric, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	err = d.RegisterTool(Registration{Name: "files.>"}, func(_ context.Context, _ envelope.Meta, call ToolCall) (ToolResponse, error) {
		gotName = call.Name
		return ToolResponse{Content: []Content{{Type: "text", Text: "ok"}}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Run(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })

	// The in-memory substrate has no broker-side wildcards, so publish
	// straight to the pattern topic the dispatcher subscribed.
	inbox := "tools.inbox.wildcard-test"
	replies, err := fabric.Subscriber.Subscribe(t.Context(), inbox)
	if err != nil {
		t.Fatal(err)
	}

	body, err := encodePayload(&Payload{ToolCall: &ToolCall{ID: "c1", Name: "files.read"}})
	if err != nil {
		t.Fatal(err)
	}
	msg := message.NewMessage("m1", body)
	msg.Metadata.Set(metaReplyTo, inbox)
	if err := ps.Publish("tools.svc.files.>", msg); err != nil {
		t.Fatal(err)
	}

	select {
	case reply := <-replies:
		reply.Ack()
		payload, err := decodePayload(reply.Payload)
		if err != nil {
			t.Fatal(err)
		}
		if payload.ToolResponse == nil || payload.ToolResponse.IsError {
			t.Fatalf("unexpected reply: %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply on wildcard subject")
	}

	if gotName != "files.read" {
		t.Errorf("handler saw tool %q, want files.read", gotName)
	}
}

func TestNoHandlerGetsErrorResponse(t *testing.T) {
	fabric := testTransport()
	d, err := NewDispatcher(Config{Service: "svc"}, fabric, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	err = d.RegisterTool(Registration{Name: "files.>"}, func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
		return ToolResponse{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Run(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })

	inbox := "tools.inbox.nohandler-test"
	replies, err := fabric.Subscriber.Subscribe(t.Context(), inbox)
	if err != nil {
		t.Fatal(err)
	}

	// A call arriving on the wildcard topic whose name falls outside the
	// registered prefix gets an error response, not silence.
	body, err := encodePayload(&Payload{ToolCall: &ToolCall{ID: "c2", Name: "other.thing"}})
	if err != nil {
		t.Fatal(err)
	}
	msg := message.NewMessage("m2", body)
	msg.Metadata.Set(metaReplyTo, inbox)
	if err := fabric.Publisher.Publish("tools.svc.files.>", msg); err != nil {
		t.Fatal(err)
	}

	select {
	case reply := <-replies:
		reply.Ack()
		payload, err := decodePayload(reply.Payload)
		if err != nil {
			t.Fatal(err)
		}
		if payload.ToolResponse == nil || !payload.ToolResponse.IsError {
			t.Fatalf("want error response, got %+v", payload)
		}
		if payload.ToolResponse.ID != "c2" {
			t.Errorf("error response id = %q, want c2", payload.ToolResponse.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error response for unhandled tool")
	}
}

func TestDiscoveryAggregatesServices(t *testing.T) {
	fabric := testTransport()
	startDispatcher(t, fabric, Config{Service: "alpha"}, map[string]ToolHandler{
		"ping": func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
			return ToolResponse{}, nil
		},
	})
	startDispatcher(t, fabric, Config{Service: "beta"}, map[string]ToolHandler{
		"pong": func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
			return ToolResponse{}, nil
		},
	})

	caller := newTestCaller(t, fabric, CallerConfig{DiscoveryWindow: 300 * time.Millisecond})

	catalog, err := caller.Discover(t.Context(), "")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	services := map[string]string{}
	for _, reg := range catalog {
		services[reg.Service] = reg.Name
	}
	if services["alpha"] != "ping" || services["beta"] != "pong" {
		t.Errorf("catalog missing services: %+v", catalog)
	}
}

func TestDiscoverSingleService(t *testing.T) {
	fabric := testTransport()
	startDispatcher(t, fabric, Config{Service: "alpha"}, map[string]ToolHandler{
		"ping": func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
			return ToolResponse{}, nil
		},
	})

	caller := newTestCaller(t, fabric, CallerConfig{DiscoveryWindow: 300 * time.Millisecond})
	catalog, err := caller.Discover(t.Context(), "alpha")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(catalog) != 1 || catalog[0].Name != "ping" || catalog[0].Service != "alpha" {
		t.Errorf("unexpected catalog: %+v", catalog)
	}
}

func TestRegisterAfterRunRejected(t *testing.T) {
	fabric := testTransport()
	d := startDispatcher(t, fabric, Config{Service: "svc"}, map[string]ToolHandler{
		"a": func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
			return ToolResponse{}, nil
		},
	})

	err := d.RegisterTool(Registration{Name: "late"}, func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
		return ToolResponse{}, nil
	})
	if !errors.Is(err, ErrDispatcherRunning) {
		t.Errorf("want ErrDispatcherRunning, got %v", err)
	}
}

func TestStatsRecordCalls(t *testing.T) {
	fabric := testTransport()
	d := startDispatcher(t, fabric, Config{Service: "calc"}, map[string]ToolHandler{
		"ok": func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
			return ToolResponse{}, nil
		},
		"bad": func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
			return ToolResponse{}, errors.New("nope")
		},
	})
	caller := newTestCaller(t, fabric, CallerConfig{})

	if _, err := caller.Call(t.Context(), "calc", "ok", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := caller.Call(t.Context(), "calc", "ok", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := caller.Call(t.Context(), "calc", "bad", nil); err != nil {
		t.Fatal(err)
	}

	byTool := map[string]ToolStatsSnapshot{}
	for _, snap := range d.Stats() {
		byTool[snap.Tool] = snap
	}
	if byTool["ok"].CallsHandled != 2 || byTool["ok"].CallsFailed != 0 {
		t.Errorf("ok stats = %+v", byTool["ok"])
	}
	if byTool["bad"].CallsHandled != 1 || byTool["bad"].CallsFailed != 1 {
		t.Errorf("bad stats = %+v", byTool["bad"])
	}
}

func TestDispatcherValidation(t *testing.T) {
	fabric := testTransport()

	if _, err := NewDispatcher(Config{}, fabric, nil, testLogger()); err == nil {
		t.Error("missing service accepted")
	}
	if _, err := NewDispatcher(Config{Service: "x"}, fabric, nil, nil); err == nil {
		t.Error("nil logger accepted")
	}
	if _, err := NewDispatcher(Config{Service: "x"}, transport.Transport{}, nil, testLogger()); err == nil {
		t.Error("empty transport accepted")
	}

	d, err := NewDispatcher(Config{Service: "x"}, fabric, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.RegisterTool(Registration{}, nil); err == nil {
		t.Error("nil handler accepted")
	}
	if err := d.RegisterTool(Registration{}, func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
		return ToolResponse{}, nil
	}); err == nil {
		t.Error("empty tool name accepted")
	}
}

func TestCallerValidation(t *testing.T) {
	fabric := testTransport()
	caller := newTestCaller(t, fabric, CallerConfig{})

	if _, err := caller.Call(t.Context(), "", "tool", nil); err == nil {
		t.Error("empty service accepted")
	}
	if _, err := caller.Call(t.Context(), "svc", "", nil); err == nil {
		t.Error("empty tool accepted")
	}
	if _, err := NewCaller(CallerConfig{}, transport.Transport{}, nil, testLogger()); err == nil {
		t.Error("empty transport accepted")
	}
}

func TestLateReplyAfterTimeoutIsDropped(t *testing.T) {
	fabric := testTransport()

	release := make(chan struct{})
	finished := make(chan struct{})
	startDispatcher(t, fabric, Config{Service: "calc"}, map[string]ToolHandler{
		"slow": func(ctx context.Context, _ envelope.Meta, _ ToolCall) (ToolResponse, error) {
			<-release
			defer close(finished)
			return ToolResponse{Content: []Content{{Type: "text", Text: "late"}}}, nil
		},
		"fast": func(context.Context, envelope.Meta, ToolCall) (ToolResponse, error) {
			return ToolResponse{Content: []Content{{Type: "text", Text: "fast"}}}, nil
		},
	})

	var states []CallState
	caller := newTestCaller(t, fabric, CallerConfig{
		CallTimeout: 50 * time.Millisecond,
		Observer: func(_ string, state CallState) {
			states = append(states, state)
		},
	})

	_, err := caller.Call(t.Context(), "calc", "slow", nil)
	if !errors.Is(err, faults.ErrCallTimeout) {
		t.Fatalf("want ErrCallTimeout, got %v", err)
	}
	if len(states) == 0 || states[len(states)-1] != CallStateTimedOut {
		t.Fatalf("states = %v, want trailing %s", states, CallStateTimedOut)
	}

	// The timed-out call's inbox subscription is gone, so the reply the
	// handler produces now has nowhere to land and must vanish without
	// disturbing later calls.
	close(release)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("slow handler never finished")
	}

	reply, err := caller.Call(t.Context(), "calc", "fast", nil)
	if err != nil {
		t.Fatalf("follow-up call failed: %v", err)
	}
	if len(reply.Response.Content) != 1 || reply.Response.Content[0].Text != "fast" {
		t.Fatalf("follow-up reply polluted by stale response: %+v", reply.Response)
	}
}

func TestCallContextCancellation(t *testing.T) {
	fabric := testTransport()
	// No dispatcher is running; cancellation beats the call timer.

	var states []CallState
	caller := newTestCaller(t, fabric, CallerConfig{
		CallTimeout: time.Second,
		Observer: func(_ string, state CallState) {
			states = append(states, state)
		},
	})

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := caller.Call(ctx, "calc", "add", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if errors.Is(err, faults.ErrCallTimeout) {
		t.Fatal("cancellation must not be reported as a timeout")
	}
	if len(states) == 0 || states[len(states)-1] != CallStateFailed {
		t.Fatalf("states = %v, want trailing %s", states, CallStateFailed)
	}
}
