package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"google.golang.org/protobuf/proto"

	configpkg "github.com/meshwire/meshwire/internal/runtime/config"
	"github.com/meshwire/meshwire/internal/runtime/dispatch"
	errspkg "github.com/meshwire/meshwire/internal/runtime/errors"
	"github.com/meshwire/meshwire/internal/runtime/hybrid"
	loggingpkg "github.com/meshwire/meshwire/internal/runtime/logging"
	"github.com/meshwire/meshwire/internal/runtime/propagation"
	"github.com/meshwire/meshwire/internal/runtime/tenant"
	transportpkg "github.com/meshwire/meshwire/internal/runtime/transport"
	substrate "github.com/meshwire/meshwire/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ProtoValidator validates unmarshalled payloads. Implementations typically
// forward to protovalidate or a custom struct validator.
type ProtoValidator interface {
	Validate(value any) error
}

// OutboxStore persists processed messages so they can be forwarded reliably.
type OutboxStore interface {
	StoreOutgoingMessage(ctx context.Context, eventType, uuid, payload string) error
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to skip the related middleware.
type ServiceDependencies struct {
	Outbox                    OutboxStore
	Validator                 ProtoValidator
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	ErrorClassifier           ErrorClassifier

	// Propagator overrides the default envelope header codec.
	Propagator *propagation.Propagator
	// TenantExtractor overrides the default tenant resolution.
	TenantExtractor *tenant.Extractor
}

// Service wires config, logger, a broker substrate, the Watermill router and
// middleware chain, and the tool dispatch layer.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	prop    *propagation.Propagator
	tenantx *tenant.Extractor

	validator ProtoValidator
	outbox    OutboxStore

	protoRegistry   map[string]func() proto.Message
	protoRegistryMu sync.RWMutex

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	dispatcher   *dispatch.Dispatcher
	dispatcherMu sync.Mutex
	caller       *dispatch.Caller
	callerMu     sync.Mutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
}

// NewService constructs a Service for the supplied configuration. It panics
// when the transport or router cannot be built; use TryNewService to handle
// those errors. Register handlers on the returned Service before Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService is NewService with an error return.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating meshwire service",
		loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
			"service":       conf.ServiceName,
			"config":        conf,
		})

	s := &Service{
		Conf:          conf,
		Logger:        log,
		validator:     deps.Validator,
		outbox:        deps.Outbox,
		protoRegistry: make(map[string]func() proto.Message),
	}

	if deps.ErrorClassifier != nil {
		s.errorClassifier = deps.ErrorClassifier
	} else {
		s.errorClassifier = defaultErrorClassifier
	}

	if deps.Propagator != nil {
		s.prop = deps.Propagator
	} else {
		s.prop = propagation.New(propagation.Config{
			TenantExtractionEnabled: conf.TenantExtractionEnabled,
		})
	}

	if deps.TenantExtractor != nil {
		s.tenantx = deps.TenantExtractor
	} else {
		tconf := tenant.Config{Enabled: conf.TenantExtractionEnabled}
		if conf.TenantPayloadPath != "" {
			tconf.PayloadPaths = []string{conf.TenantPayloadPath}
		}
		s.tenantx = tenant.New(tconf)
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	return s, nil
}

// Start runs the underlying Watermill router until the provided context is
// cancelled. The introspection and metrics HTTP servers start alongside it.
func (s *Service) Start(ctx context.Context) error {
	s.StartIntrospectionServer()
	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Propagator returns the envelope header codec used by this service.
func (s *Service) Propagator() *propagation.Propagator {
	return s.prop
}

// TenantExtractor returns the tenant resolution chain used by this service.
func (s *Service) TenantExtractor() *tenant.Extractor {
	return s.tenantx
}

// Transport returns the substrate pair so callers can build dispatchers or
// hybrid clients sharing the service connection.
func (s *Service) Transport() substrate.Transport {
	return substrate.Transport{Publisher: s.publisher, Subscriber: s.subscriber}
}

// Dispatcher lazily builds the tool dispatcher for this service. The service
// name and version come from the configuration unless the config overrides
// them.
func (s *Service) Dispatcher() (*dispatch.Dispatcher, error) {
	s.dispatcherMu.Lock()
	defer s.dispatcherMu.Unlock()

	if s.dispatcher != nil {
		return s.dispatcher, nil
	}

	d, err := dispatch.NewDispatcher(dispatch.Config{
		Service:    s.Conf.ServiceName,
		Version:    s.Conf.ServiceVersion,
		QueueGroup: s.Conf.QueueGroup,
	}, s.Transport(), s.prop, s.Logger)
	if err != nil {
		return nil, err
	}
	s.dispatcher = d
	return d, nil
}

// Caller lazily builds the tool caller for this service.
func (s *Service) Caller() (*dispatch.Caller, error) {
	s.callerMu.Lock()
	defer s.callerMu.Unlock()

	if s.caller != nil {
		return s.caller, nil
	}

	c, err := dispatch.NewCaller(dispatch.CallerConfig{
		CallTimeout:     s.Conf.CallTimeout,
		DiscoveryWindow: s.Conf.DiscoveryWindow,
	}, s.Transport(), s.prop, s.Logger)
	if err != nil {
		return nil, err
	}
	s.caller = c
	return c, nil
}

// HybridClient builds a multi-protocol client sharing this service's
// propagator and logger.
func (s *Service) HybridClient(conf hybrid.Config, backends ...substrate.Backend) (*hybrid.Client, error) {
	return hybrid.New(conf, s.prop, s.Logger, backends...)
}

// StartDispatcher runs the dispatcher subscriptions. Call after registering
// every tool.
func (s *Service) StartDispatcher(ctx context.Context) error {
	s.dispatcherMu.Lock()
	d := s.dispatcher
	s.dispatcherMu.Unlock()
	if d == nil {
		return errspkg.ErrServiceNameRequired
	}
	return d.Run(ctx)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

// HandlerSnapshots returns introspection snapshots for every registered
// router handler.
func (s *Service) HandlerSnapshots() []HandlerStatsSnapshot {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	out := make([]HandlerStatsSnapshot, 0, len(s.handlers))
	for _, info := range s.handlers {
		out = append(out, info.Stats.Snapshot())
	}
	return out
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			srv := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
