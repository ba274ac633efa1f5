package meshwire

import (
	runtimepkg "github.com/meshwire/meshwire/internal/runtime"
	backoffpkg "github.com/meshwire/meshwire/internal/runtime/backoff"
	configpkg "github.com/meshwire/meshwire/internal/runtime/config"
	dispatchpkg "github.com/meshwire/meshwire/internal/runtime/dispatch"
	envelopepkg "github.com/meshwire/meshwire/internal/runtime/envelope"
	errspkg "github.com/meshwire/meshwire/internal/runtime/errors"
	faultspkg "github.com/meshwire/meshwire/internal/runtime/faults"
	handlerpkg "github.com/meshwire/meshwire/internal/runtime/handlers"
	headerspkg "github.com/meshwire/meshwire/internal/runtime/headers"
	hybridpkg "github.com/meshwire/meshwire/internal/runtime/hybrid"
	idspkg "github.com/meshwire/meshwire/internal/runtime/ids"
	jsoncodec "github.com/meshwire/meshwire/internal/runtime/jsoncodec"
	loggingpkg "github.com/meshwire/meshwire/internal/runtime/logging"
	metadatapkg "github.com/meshwire/meshwire/internal/runtime/metadata"
	"github.com/meshwire/meshwire/internal/runtime/propagation"
	"github.com/meshwire/meshwire/internal/runtime/reqctx"
	tenantpkg "github.com/meshwire/meshwire/internal/runtime/tenant"
	transportpkg "github.com/meshwire/meshwire/internal/runtime/transport"
	substrate "github.com/meshwire/meshwire/transport"
	"google.golang.org/protobuf/proto"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	ProtoValidator      = runtimepkg.ProtoValidator
	OutboxStore         = runtimepkg.OutboxStore
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	// Envelope metadata
	Meta             = envelopepkg.Meta
	Envelope[T any]  = envelopepkg.Envelope[T]
	MetaSecurity     = envelopepkg.Security
	MetaTracing      = envelopepkg.Tracing
	MetaOnBehalfOf   = envelopepkg.OnBehalfOf
	AuthMethod       = envelopepkg.AuthMethod
	RequestContext   = reqctx.Context
	Propagator       = propagation.Propagator
	PropagatorConfig = propagation.Config
	HeaderAdapter    = headerspkg.Adapter

	// Tenant extraction
	TenantExtractor = tenantpkg.Extractor
	TenantConfig    = tenantpkg.Config
	TenantInfo      = tenantpkg.Info
	TenantRequest   = tenantpkg.Request
	TenantSource    = tenantpkg.Source

	// Tool dispatch
	Dispatcher       = dispatchpkg.Dispatcher
	DispatcherConfig = dispatchpkg.Config
	Caller           = dispatchpkg.Caller
	CallerConfig     = dispatchpkg.CallerConfig
	CallState        = dispatchpkg.CallState
	CallObserver     = dispatchpkg.CallObserver
	Reply            = dispatchpkg.Reply
	ToolCall         = dispatchpkg.ToolCall
	ToolResponse     = dispatchpkg.ToolResponse
	ToolContent      = dispatchpkg.Content
	ToolRegistration = dispatchpkg.Registration
	ToolHandler      = dispatchpkg.ToolHandler
	ToolPayload      = dispatchpkg.Payload
	ToolDiscovery    = dispatchpkg.Discovery
	ToolStats        = dispatchpkg.ToolStatsSnapshot

	// Hybrid multi-protocol client
	HybridClient   = hybridpkg.Client
	HybridConfig   = hybridpkg.Config
	HybridOverride = hybridpkg.Override
	Backend        = substrate.Backend
	Protocol       = substrate.Protocol

	// Retry policy
	BackoffPolicy = backoffpkg.Policy

	MessageHandlerRegistration                = runtimepkg.MessageHandlerRegistration
	JSONHandlerRegistration[T any, O any]     = handlerpkg.JSONHandlerRegistration[T, O]
	JSONMessageContext[T any]                 = handlerpkg.JSONMessageContext[T]
	JSONMessageOutput[T any]                  = handlerpkg.JSONMessageOutput[T]
	JSONMessageHandler[T any, O any]          = handlerpkg.JSONMessageHandler[T, O]
	JSONToolHandler[T any, O any]             = handlerpkg.JSONToolHandler[T, O]
	ProtoHandlerRegistration[T proto.Message] = handlerpkg.ProtoHandlerRegistration[T]
	ProtoHandlerOption                        = handlerpkg.ProtoHandlerOption
	ProtoMessageContext[T proto.Message]      = handlerpkg.ProtoMessageContext[T]
	ProtoMessageOutput                        = handlerpkg.ProtoMessageOutput
	ProtoMessageHandler[T proto.Message]      = handlerpkg.ProtoMessageHandler[T]
	ProtoToolHandler[T proto.Message]         = handlerpkg.ProtoToolHandler[T]
	MessageContextBase                        = handlerpkg.MessageContextBase

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Producer = runtimepkg.Producer

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	UnprocessableEventError = runtimepkg.UnprocessableEventError

	HandlerInfo           = runtimepkg.HandlerInfo
	HandlerStats          = runtimepkg.HandlerStats
	HandlerStatsSnapshot  = runtimepkg.HandlerStatsSnapshot
	ConfigValidationError = errspkg.ConfigValidationError

	// Job and call lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks
	CallHooks  = runtimepkg.CallHooks

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory
	ErrorBreakdown  = runtimepkg.ErrorBreakdown

	// Fault taxonomy
	TransportFailureError = faultspkg.TransportFailureError
	TransportFailureKind  = faultspkg.TransportFailureKind
	HandlerError          = faultspkg.HandlerError
	DetectionError        = faultspkg.DetectionError

	// Substrate registry
	SubstrateBuilder      = substrate.Builder
	SubstrateConfig       = substrate.Config
	SubstrateRegistry     = substrate.Registry
	SubstrateCapabilities = substrate.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ValidateConfig = configpkg.ValidateConfig

	// Envelope metadata
	NewMeta               = envelopepkg.NewMeta
	NewPropagator         = propagation.New
	DefaultPropagator     = propagation.Default
	NewTenantExtractor    = tenantpkg.New
	RequestContextOf      = reqctx.Current
	InstallRequestContext = reqctx.Install
	RequestMetaFor        = reqctx.MetaFor
	RequestContextFrom    = reqctx.FromMeta

	// Header adapters
	HTTPHeaders     = headerspkg.HTTP
	NATSHeaders     = headerspkg.NATS
	MetadataHeaders = headerspkg.Metadata
	ReadonlyHeaders = headerspkg.Readonly
	HeadersFromMap  = headerspkg.FromMap

	// Tool dispatch
	NewDispatcher = dispatchpkg.NewDispatcher
	NewCaller     = dispatchpkg.NewCaller

	// Hybrid multi-protocol client
	NewHybridClient = hybridpkg.New

	// Fault taxonomy
	FaultCode           = faultspkg.Code
	FaultRetryable      = faultspkg.Retryable
	NewTransportFailure = faultspkg.NewTransportFailure

	RegisterMessageHandler  = runtimepkg.RegisterMessageHandler
	WithPublishMessageTypes = handlerpkg.WithPublishMessageTypes

	DefaultMiddlewares       = runtimepkg.DefaultMiddlewares
	ContextExtractMiddleware = runtimepkg.ContextExtractMiddleware
	ContextInjectMiddleware  = runtimepkg.ContextInjectMiddleware
	RequestIDMiddleware      = runtimepkg.RequestIDMiddleware
	LogMessagesMiddleware    = runtimepkg.LogMessagesMiddleware
	ProtoValidateMiddleware  = runtimepkg.ProtoValidateMiddleware
	OutboxMiddleware         = runtimepkg.OutboxMiddleware
	TracerMiddleware         = runtimepkg.TracerMiddleware
	MetricsMiddleware        = runtimepkg.MetricsMiddleware
	RetryMiddleware          = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware    = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware      = runtimepkg.RecovererMiddleware

	// Job lifecycle hooks
	JobHooksMiddleware = runtimepkg.JobHooksMiddleware
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks
	LoggingCallHooks   = runtimepkg.LoggingCallHooks

	// Substrate registry. Import individual substrates via
	// _ "github.com/meshwire/meshwire/transport/transports" or one by one,
	// for example _ "github.com/meshwire/meshwire/transport/kafka".
	DefaultSubstrateRegistry = substrate.DefaultRegistry
	RegisterSubstrate        = substrate.Register
	BuildSubstrate           = substrate.Build
	GetCapabilities          = substrate.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired             = errspkg.ErrServiceRequired
	ErrHandlerRequired             = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired        = errspkg.ErrConsumeQueueRequired
	ErrHandlerNameRequired         = errspkg.ErrHandlerNameRequired
	ErrConsumeMessageTypeRequired  = errspkg.ErrConsumeMessageTypeRequired
	ErrConsumeMessagePointerNeeded = errspkg.ErrConsumeMessagePointerNeeded
	ErrPublisherRequired           = errspkg.ErrPublisherRequired
	ErrTopicRequired               = errspkg.ErrTopicRequired
	ErrConfigRequired              = errspkg.ErrConfigRequired
	ErrLoggerRequired              = errspkg.ErrLoggerRequired
	ErrEventPayloadRequired        = errspkg.ErrEventPayloadRequired
	ErrEnvelopeRequired            = errspkg.ErrEnvelopeRequired

	// Fault sentinels
	ErrTransportRejected         = faultspkg.ErrTransportRejected
	ErrExtractionDisabled        = faultspkg.ErrExtractionDisabled
	ErrNoTenantFound             = faultspkg.ErrNoTenantFound
	ErrCallTimeout               = faultspkg.ErrCallTimeout
	ErrForcedProtocolUnavailable = faultspkg.ErrForcedProtocolUnavailable

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Wire header keys injected and extracted by the propagator.
const (
	HeaderRequestID      = propagation.HeaderRequestID
	HeaderTenant         = propagation.HeaderTenant
	HeaderTimestamp      = propagation.HeaderTimestamp
	HeaderVersion        = propagation.HeaderVersion
	HeaderDurationMillis = propagation.HeaderDurationMillis
	HeaderTraceID        = propagation.HeaderTraceID
	HeaderSpanID         = propagation.HeaderSpanID
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = handlerpkg.MetadataKeyCorrelationID
	MetadataKeyEventSchema   = handlerpkg.MetadataKeyEventSchema
	MetadataKeyRequestID     = handlerpkg.MetadataKeyRequestID
	MetadataKeyTenant        = handlerpkg.MetadataKeyTenant
)

// Call lifecycle states reported to CallObserver.
const (
	CallStateCreated   = dispatchpkg.CallStateCreated
	CallStateWaiting   = dispatchpkg.CallStateWaiting
	CallStateCompleted = dispatchpkg.CallStateCompleted
	CallStateTimedOut  = dispatchpkg.CallStateTimedOut
	CallStateFailed    = dispatchpkg.CallStateFailed
)

// Protocol tags served by hybrid client backends.
const (
	ProtocolPubSub   = substrate.ProtocolPubSub
	ProtocolRPC      = substrate.ProtocolRPC
	ProtocolHTTP     = substrate.ProtocolHTTP
	ProtocolDuplex   = substrate.ProtocolDuplex
	ProtocolToolCall = substrate.ProtocolToolCall
)

// Stable fault codes returned by FaultCode.
const (
	CodeMetadataTooLarge          = faultspkg.CodeMetadataTooLarge
	CodeMalformedMetadata         = faultspkg.CodeMalformedMetadata
	CodeTransportRejected         = faultspkg.CodeTransportRejected
	CodeExtractionDisabled        = faultspkg.CodeExtractionDisabled
	CodeNoTenantFound             = faultspkg.CodeNoTenantFound
	CodeCapabilityDetectionFailed = faultspkg.CodeCapabilityDetectionFailed
	CodeForcedProtocolUnavailable = faultspkg.CodeForcedProtocolUnavailable
	CodeCallTimeout               = faultspkg.CodeCallTimeout
	CodeTransportFailure          = faultspkg.CodeTransportFailure
	CodeHandlerError              = faultspkg.CodeHandlerError
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

func RegisterJSONHandler[T any, O any](svc *Service, cfg JSONHandlerRegistration[T, O]) error {
	return runtimepkg.RegisterJSONHandler(svc, cfg)
}

func RegisterProtoHandler[T proto.Message](svc *Service, cfg ProtoHandlerRegistration[T]) error {
	return runtimepkg.RegisterProtoHandler(svc, cfg)
}

// RegisterTool registers a raw tool handler on the service dispatcher.
func RegisterTool(svc *Service, reg ToolRegistration, handler ToolHandler) error {
	return runtimepkg.RegisterTool(svc, reg, handler)
}

// RegisterJSONTool registers a typed JSON tool on the service dispatcher.
func RegisterJSONTool[T any, O any](svc *Service, reg ToolRegistration, handler JSONToolHandler[T, O]) error {
	return runtimepkg.RegisterJSONTool(svc, reg, handler)
}

// RegisterProtoTool registers a typed protobuf tool on the service dispatcher.
func RegisterProtoTool[T proto.Message](svc *Service, reg ToolRegistration, handler ProtoToolHandler[T]) error {
	return runtimepkg.RegisterProtoTool(svc, reg, handler)
}

// WrapEnvelope pairs metadata with a payload.
func WrapEnvelope[T any](meta Meta, payload T) *Envelope[T] {
	return envelopepkg.Wrap(meta, payload)
}

// NewEnvelope wraps the payload with freshly generated metadata.
func NewEnvelope[T any](payload T) *Envelope[T] {
	return envelopepkg.New(payload)
}

func NewProtoMessage[T proto.Message]() (T, error) {
	return runtimepkg.NewProtoMessage[T]()
}

func MustProtoMessage[T proto.Message]() T {
	return runtimepkg.MustProtoMessage[T]()
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
