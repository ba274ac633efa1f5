package runtime

import (
	"github.com/meshwire/meshwire/internal/runtime/dispatch"
	errspkg "github.com/meshwire/meshwire/internal/runtime/errors"
	handlerpkg "github.com/meshwire/meshwire/internal/runtime/handlers"
)

// RegisterJSONHandler converts the typed JSON handler into a Watermill handler and registers it.
func RegisterJSONHandler[T any, O any](svc *Service, cfg handlerpkg.JSONHandlerRegistration[T, O]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildJSONHandler(cfg.Handler, svc.Logger)
	if err != nil {
		return err
	}

	return svc.registerHandler(handlerRegistration{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Handler:      wrapped,
	})
}

// RegisterJSONTool registers a typed JSON tool on the service dispatcher.
// Arguments are decoded into T and the returned O is serialized as the tool
// response.
func RegisterJSONTool[T any, O any](svc *Service, reg dispatch.Registration, handler handlerpkg.JSONToolHandler[T, O]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildJSONTool(handler)
	if err != nil {
		return err
	}
	return RegisterTool(svc, reg, wrapped)
}
