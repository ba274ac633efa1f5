package errors

import sterrors "errors"

var (
	ErrServiceRequired     = sterrors.New("meshwire: service is required")
	ErrHandlerRequired     = sterrors.New("meshwire: handler function is required")
	ErrSubjectRequired     = sterrors.New("meshwire: subject is required")
	ErrToolNameRequired    = sterrors.New("meshwire: tool name is required")
	ErrServiceNameRequired = sterrors.New("meshwire: service name is required")
	ErrPublisherRequired   = sterrors.New("meshwire: publisher is required")
	ErrSubscriberRequired  = sterrors.New("meshwire: subscriber is required")
	ErrTopicRequired       = sterrors.New("meshwire: topic is required")
	ErrEndpointRequired    = sterrors.New("meshwire: endpoint is required")
	ErrEnvelopeRequired    = sterrors.New("meshwire: envelope is required")
	ErrAdapterRequired     = sterrors.New("meshwire: header adapter is required")
	ErrConfigRequired      = sterrors.New("meshwire: configuration is required")
	ErrLoggerRequired      = sterrors.New("meshwire: logger is required")

	ErrConsumeQueueRequired        = sterrors.New("meshwire: consume queue is required")
	ErrHandlerNameRequired         = sterrors.New("meshwire: handler name is required")
	ErrEventPayloadRequired        = sterrors.New("meshwire: event payload is required")
	ErrConsumeMessageTypeRequired  = sterrors.New("meshwire: consume message type is required")
	ErrConsumeMessagePointerNeeded = sterrors.New("meshwire: consume message type must be a pointer")
)

// ConfigValidationError wraps the validation failures reported by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "meshwire: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err in a ConfigValidationError. A nil err
// returns nil so callers can pass through Validate results unconditionally.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
