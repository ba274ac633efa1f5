package transport

// Capabilities describes what a transport can do: the protocol tags it
// serves for the hybrid client plus the broker features relevant to routing
// decisions.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// Version is the transport/driver version.
	Version string

	// Protocols lists the interaction styles this transport satisfies.
	Protocols []Protocol

	// Score ranks this transport against others serving the same protocol
	// tag. Higher wins; capability detection may adjust it per endpoint.
	Score int

	// SupportsOrdering indicates messages within a partition/stream are
	// delivered in order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates tracing headers
	// natively.
	SupportsTracing bool

	// SupportsBatching indicates the transport can batch multiple messages.
	SupportsBatching bool

	// SupportsAck indicates explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsPartitioning indicates message partitioning.
	SupportsPartitioning bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// HasProtocol reports whether the capability set includes the given tag.
func (c Capabilities) HasProtocol(p Protocol) bool {
	for _, tag := range c.Protocols {
		if tag == p {
			return true
		}
	}
	return false
}

// SupportsReliableDelivery returns true if the transport supports
// at-least-once delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for common transports.
var (
	// ChannelCapabilities for the in-memory Go channel substrate.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		Protocols:        []Protocol{ProtocolPubSub, ProtocolToolCall},
		Score:            10,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for the Apache Kafka substrate.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		Protocols:            []Protocol{ProtocolPubSub},
		Score:                80,
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsAck:          true,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP substrate.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		Protocols:        []Protocol{ProtocolPubSub},
		Score:            70,
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// NATSCapabilities for the NATS Core substrate.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		Protocols:       []Protocol{ProtocolPubSub, ProtocolRPC, ProtocolToolCall},
		Score:           90,
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// NATSJetStreamCapabilities for the NATS JetStream substrate.
	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		Protocols:        []Protocol{ProtocolPubSub, ProtocolToolCall},
		Score:            85,
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsBatching: true,
		SupportsAck:      true,
		SupportsNack:     true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// AWSCapabilities for the AWS SNS/SQS substrate.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		Protocols:        []Protocol{ProtocolPubSub},
		Score:            60,
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsBatching: true,
		SupportsAck:      true,
		SupportsNack:     true,
		MaxMessageSize:   262144, // 256KB
	}

	// HTTPCapabilities for the HTTP request/reply backend.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		Protocols:       []Protocol{ProtocolHTTP},
		Score:           50,
		SupportsTracing: true,
	}

	// DuplexCapabilities for the WebSocket duplex backend.
	DuplexCapabilities = Capabilities{
		Name:            "duplex",
		Protocols:       []Protocol{ProtocolDuplex},
		Score:           40,
		SupportsTracing: true,
	}
)

// GetCapabilities returns the capabilities for a transport by name, via the
// default registry. Returns a zero Capabilities struct carrying only the
// name if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
