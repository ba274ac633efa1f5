package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errs "github.com/meshwire/meshwire/internal/runtime/errors"
)

type mockConfig struct {
	pubSubSystem string
}

func (m *mockConfig) GetPubSubSystem() string       { return m.pubSubSystem }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetQueueGroup() string         { return "" }
func (m *mockConfig) GetHTTPServerAddress() string  { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error { return nil }

func mockBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}, nil
}

func TestRegistryRegisterAndBuild(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", mockBuilder)

	if !reg.Has("test-transport") {
		t.Fatal("registered transport not found")
	}

	tr, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "test-transport"}, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if tr.Publisher == nil || tr.Subscriber == nil {
		t.Error("Build returned incomplete transport")
	}
}

func TestRegistryRegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("test-transport", mockBuilder, Capabilities{
		Name:      "test-transport",
		Protocols: []Protocol{ProtocolPubSub},
		Score:     42,
	})

	caps := reg.GetCapabilities("test-transport")
	if caps.Name != "test-transport" || caps.Score != 42 {
		t.Errorf("capabilities = %+v", caps)
	}
	if !caps.HasProtocol(ProtocolPubSub) {
		t.Error("expected pubsub protocol tag")
	}
}

func TestRegistryGetCapabilitiesUnknown(t *testing.T) {
	caps := NewRegistry().GetCapabilities("unknown")
	if caps.Name != "unknown" {
		t.Errorf("name = %q, want echoed back", caps.Name)
	}
	if len(caps.Protocols) != 0 {
		t.Errorf("protocols = %v, want none", caps.Protocols)
	}
}

func TestRegistryBuildNilConfig(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), nil, nil)
	if !errors.Is(err, errs.ErrConfigRequired) {
		t.Errorf("Build(nil config) = %v, want ErrConfigRequired", err)
	}
}

func TestRegistryBuildUnknownTransport(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), &mockConfig{pubSubSystem: "nope"}, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown transport") {
		t.Errorf("Build = %v, want unknown transport error", err)
	}
}

func TestRegistryBuildBuilderError(t *testing.T) {
	reg := NewRegistry()
	wantErr := errors.New("builder error")
	reg.Register("failing", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, wantErr
	})

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "failing"}, nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Build = %v, want builder error", err)
	}
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", mockBuilder)
	reg.Register("b", mockBuilder)

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("Names = %v, want 2 entries", names)
	}
}

func TestRegistryAllCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("a", mockBuilder, Capabilities{Name: "a"})
	reg.Register("b", mockBuilder)

	all := reg.AllCapabilities()
	if len(all) != 1 {
		t.Fatalf("AllCapabilities = %v, want only the one with capabilities", all)
	}
	if all["a"].Name != "a" {
		t.Errorf("AllCapabilities[a] = %+v", all["a"])
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.RegisterWithCapabilities("shared", mockBuilder, Capabilities{Name: "shared"})
				reg.Has("shared")
				reg.Names()
				reg.GetCapabilities("shared")
				reg.AllCapabilities()
			}
		}()
	}
	wg.Wait()

	if !reg.Has("shared") {
		t.Error("transport lost after concurrent registration")
	}
}

func TestConfigInterface(t *testing.T) {
	var _ Config = (*mockConfig)(nil)
}
