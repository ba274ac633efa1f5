package meshwire

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestHandlerExportsPropagateErrors(t *testing.T) {
	if err := RegisterJSONHandler[*structpb.Struct, *structpb.Struct](nil, JSONHandlerRegistration[*structpb.Struct, *structpb.Struct]{}); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}

	if err := RegisterProtoHandler[*structpb.Struct](nil, ProtoHandlerRegistration[*structpb.Struct]{}); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}
}

func TestToolExportsPropagateErrors(t *testing.T) {
	if err := RegisterTool(nil, ToolRegistration{Name: "echo"}, nil); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}

	if err := RegisterJSONTool[*structpb.Struct, *structpb.Struct](nil, ToolRegistration{Name: "echo"}, nil); !errors.Is(err, ErrServiceRequired) {
		t.Fatalf("expected service required error, got %v", err)
	}
}

func TestProtoMessageHelpers(t *testing.T) {
	msg, err := NewProtoMessage[*structpb.Struct]()
	if err != nil {
		t.Fatalf("unexpected error creating proto: %v", err)
	}
	if msg == nil {
		t.Fatal("expected proto message instance")
	}

	must := MustProtoMessage[*structpb.Struct]()
	if must == nil {
		t.Fatal("expected must helper to return instance")
	}
}

func TestLoggerExports(t *testing.T) {
	logger := NewEntryServiceLogger(&stubEntry{})
	logger.Info("boot", LogFields{"component": "test"})
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata("key", "value")
	if md["key"] != "value" {
		t.Fatalf("expected metadata to contain key, got %#v", md)
	}
}

func TestEnvelopeExports(t *testing.T) {
	env := NewEnvelope(map[string]string{"k": "v"})
	if env.Meta.RequestID == "" {
		t.Fatal("expected fresh meta with request ID")
	}

	meta := NewMeta()
	meta.Tenant = "acme"
	wrapped := WrapEnvelope(meta, "payload")
	if wrapped.Meta.Tenant != "acme" {
		t.Fatalf("expected tenant to survive wrapping, got %q", wrapped.Meta.Tenant)
	}
}

func TestFaultExports(t *testing.T) {
	if got := FaultCode(ErrCallTimeout); got != CodeCallTimeout {
		t.Fatalf("expected %q, got %q", CodeCallTimeout, got)
	}
	if FaultRetryable(ErrNoTenantFound) {
		t.Fatal("tenant lookup failure must not be retryable")
	}
}

func TestErrorCategoryConstants(t *testing.T) {
	if ErrorCategoryValidation != "validation" {
		t.Fatalf("expected ErrorCategoryValidation to be 'validation', got %q", ErrorCategoryValidation)
	}
	if ErrorCategoryTransport != "transport" {
		t.Fatalf("expected ErrorCategoryTransport to be 'transport', got %q", ErrorCategoryTransport)
	}
}

func TestHeaderKeyConstants(t *testing.T) {
	if HeaderRequestID != "x-request-id" {
		t.Fatalf("unexpected request ID header: %q", HeaderRequestID)
	}
	if HeaderTenant != "x-tenant" {
		t.Fatalf("unexpected tenant header: %q", HeaderTenant)
	}
}

type stubEntry struct {
	fields LogFields
	err    error
}

func (s *stubEntry) Error(args ...any) {}
func (s *stubEntry) Info(args ...any)  {}
func (s *stubEntry) Debug(args ...any) {}
func (s *stubEntry) Trace(args ...any) {}

func (s *stubEntry) WithError(err error) *stubEntry {
	clone := *s
	clone.err = err
	return &clone
}

func (s *stubEntry) WithField(key string, value any) *stubEntry {
	clone := *s
	if clone.fields == nil {
		clone.fields = make(LogFields)
	}
	clone.fields[key] = value
	return &clone
}
