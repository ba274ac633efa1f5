package runtime

import (
	"google.golang.org/protobuf/proto"

	"github.com/meshwire/meshwire/internal/runtime/dispatch"
	errspkg "github.com/meshwire/meshwire/internal/runtime/errors"
	handlerpkg "github.com/meshwire/meshwire/internal/runtime/handlers"
)

// RegisterProtoHandler converts the typed handler into a Watermill handler and registers it on the Service router.
func RegisterProtoHandler[T proto.Message](svc *Service, cfg handlerpkg.ProtoHandlerRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	var zero T
	prototype, err := handlerpkg.EnsureProtoPrototype(zero)
	if err != nil {
		return err
	}

	resolvedOpts := handlerpkg.ApplyProtoHandlerOptions(cfg.Options)

	var validate func(proto.Message) error
	if cfg.ValidateOutgoing && svc.validator != nil {
		validate = func(msg proto.Message) error {
			return svc.validator.Validate(msg)
		}
	}

	wrapped, err := handlerpkg.BuildProtoHandler(prototype, cfg.Handler, validate, NewMessageFromProto, svc.Logger)
	if err != nil {
		return err
	}

	if err := svc.registerHandler(handlerRegistration{
		Name:               cfg.Name,
		ConsumeQueue:       cfg.ConsumeQueue,
		PublishQueue:       cfg.PublishQueue,
		Handler:            wrapped,
		consumeMessageType: prototype,
	}); err != nil {
		return err
	}

	for _, emitted := range resolvedOpts.AdditionalPublishTypes {
		svc.registerProtoType(emitted)
	}

	return nil
}

// RegisterProtoTool registers a typed protobuf tool on the service
// dispatcher. Arguments arrive and results leave as protojson.
func RegisterProtoTool[T proto.Message](svc *Service, reg dispatch.Registration, handler handlerpkg.ProtoToolHandler[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildProtoTool(handler)
	if err != nil {
		return err
	}
	return RegisterTool(svc, reg, wrapped)
}
