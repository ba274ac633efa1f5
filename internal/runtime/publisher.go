package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/meshwire/meshwire/internal/runtime/envelope"
	errspkg "github.com/meshwire/meshwire/internal/runtime/errors"
	handlerpkg "github.com/meshwire/meshwire/internal/runtime/handlers"
	headerspkg "github.com/meshwire/meshwire/internal/runtime/headers"
	idspkg "github.com/meshwire/meshwire/internal/runtime/ids"
	jsoncodec "github.com/meshwire/meshwire/internal/runtime/jsoncodec"
	metadatapkg "github.com/meshwire/meshwire/internal/runtime/metadata"
	"github.com/meshwire/meshwire/internal/runtime/propagation"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// Producer emits proto-based events onto the configured transport.
type Producer interface {
	PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) error
}

// NewMessageFromProto converts the provided proto message into a Watermill message with
// the standard metadata required by the event pipeline.
func NewMessageFromProto(event proto.Message, metadata metadatapkg.Metadata) (*message.Message, error) {
	if event == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}

	payload, err := protoJSONMarshalOptions.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadata)
	msg.Metadata[handlerpkg.MetadataKeyEventSchema] = fmt.Sprintf("%T", event)
	return msg, nil
}

// PublishProto marshals the proto payload and publishes it to the provided topic.
func PublishProto(ctx context.Context, publisher message.Publisher, topic string, event proto.Message, metadata metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	msg, err := NewMessageFromProto(event, metadata)
	if err != nil {
		return err
	}

	if ctx != nil {
		msg.SetContext(ctx)
	}

	return publisher.Publish(topic, msg)
}

// PublishProto emits the event using the Service publisher so HTTP handlers can
// create events without touching the internal Watermill APIs directly.
func (s *Service) PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errors.New("event service is nil")
	}
	return PublishProto(ctx, s.publisher, topic, event, metadata)
}

// Publish sends a raw Watermill message to the topic using the service
// publisher.
func (s *Service) Publish(ctx context.Context, topic string, msg *message.Message) error {
	if s == nil {
		return errors.New("event service is nil")
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return s.publisher.Publish(topic, msg)
}

// PublishEnvelope serializes the envelope payload as JSON and publishes it
// with the envelope metadata injected as headers.
func PublishEnvelope[T any](ctx context.Context, publisher message.Publisher, prop *propagation.Propagator, topic string, env *envelope.Envelope[T]) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if env == nil {
		return errspkg.ErrEnvelopeRequired
	}
	if prop == nil {
		prop = propagation.Default()
	}

	payload, err := jsoncodec.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope payload: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	if err := prop.Inject(env.Meta, headerspkg.Metadata(msg.Metadata)); err != nil {
		return err
	}

	if ctx != nil {
		msg.SetContext(ctx)
	}

	return publisher.Publish(topic, msg)
}

// PublishEnvelope emits the envelope using the Service publisher and
// propagator.
func (s *Service) PublishEnvelope(ctx context.Context, topic string, meta envelope.Meta, payload any) error {
	if s == nil {
		return errors.New("event service is nil")
	}
	return PublishEnvelope(ctx, s.publisher, s.prop, topic, envelope.Wrap(meta, payload))
}
