// Package transport defines the core interfaces and types for meshwire
// transports. Broker substrates (kafka, rabbitmq, nats, aws, etc.) live in
// their own sub-packages and register themselves with the substrate
// registry; request/reply backends implement Backend and are handed to the
// hybrid client.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Protocol tags the interaction style a backend can serve for an endpoint.
type Protocol string

const (
	ProtocolPubSub   Protocol = "pubsub"
	ProtocolRPC      Protocol = "rpc"
	ProtocolHTTP     Protocol = "http"
	ProtocolDuplex   Protocol = "duplex"
	ProtocolToolCall Protocol = "toolcall"
)

// DefaultPreference is the protocol order the hybrid client uses when an
// endpoint supports more than one.
func DefaultPreference() []Protocol {
	return []Protocol{ProtocolPubSub, ProtocolRPC, ProtocolHTTP, ProtocolDuplex, ProtocolToolCall}
}

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a substrate from config.
// Each substrate package provides a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by substrates. The
// interface lets each substrate see only the settings it needs without
// depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the substrate type name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// GetQueueGroup returns the group shared by replicas of this service
	// so each message is consumed by one member. Substrates without
	// native groups ignore it and deliver to every replica.
	GetQueueGroup() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by substrates that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Backend is a request/reply transport the hybrid client can dispatch to.
// One backend may serve several protocol tags.
type Backend interface {
	// Name identifies the backend in logs and overrides.
	Name() string

	// Protocols returns the tags this backend satisfies.
	Protocols() []Protocol

	// Probe cheaply checks whether the endpoint is reachable over this
	// backend. Used during capability detection; must respect ctx.
	Probe(ctx context.Context, endpoint string) error

	// Request sends req to the endpoint and waits for the reply.
	Request(ctx context.Context, endpoint string, req *message.Message) (*message.Message, error)

	// Close releases the backend's connections.
	Close() error
}
