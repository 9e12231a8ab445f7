package runtime

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	configpkg "github.com/drblury/eventport/internal/runtime/config"
	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/transport"
)

// ServiceDependencies holds the optional collaborators that the Service can
// use. Leave fields nil to get the defaults.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Applied inside the default chain.
	DisableDefaultMiddlewares bool                     // Skips the default chain when true.
	Registry                  *transport.Registry      // Defaults to transport.DefaultRegistry.
	MetricsRegisterer         prometheus.Registerer    // Defaults to prometheus.DefaultRegisterer.
	TracerProvider            trace.TracerProvider     // Defaults to the global provider.
}

// Service is the facade services talk to. It forwards every call to the
// single adapter selected by Config.Adapter, through the configured
// middlewares.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	adapter  string
	registry *transport.Registry
	port     transport.Port

	metrics        *PortMetrics
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
}

// TryNewService validates conf, builds the adapter registered for
// conf.Adapter and applies the middlewares. Adapters that need an explicit
// connection (MQTT) are connected before it returns.
func TryNewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	registry := deps.Registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}

	log.Info("Creating event service", loggingpkg.LogFields{
		"adapter": conf.GetAdapter(),
		"config":  conf.String(),
	})

	port, err := registry.Build(ctx, conf, log)
	if err != nil {
		return nil, err
	}

	s := &Service{
		Conf:           conf,
		Logger:         log,
		adapter:        conf.GetAdapter(),
		registry:       registry,
		registerer:     deps.MetricsRegisterer,
		tracerProvider: deps.TracerProvider,
	}

	s.port, err = s.decorate(port, deps)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return s, nil
}

// NewService is TryNewService that panics on error.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) *Service {
	s, err := TryNewService(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// decorate wraps port so the first registration ends up outermost.
func (s *Service) decorate(port transport.Port, deps ServiceDependencies) (transport.Port, error) {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for i := len(registrations) - 1; i >= 0; i-- {
		reg := registrations[i]
		next, err := s.applyMiddleware(port, reg)
		if err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return nil, fmt.Errorf("failed to apply middleware %s: %w", name, err)
		}
		port = next
	}
	return port, nil
}

// SendMessage publishes evt on topic.
func (s *Service) SendMessage(ctx context.Context, topic string, evt cloudevents.Event, opts ...transport.SendOption) error {
	return s.port.SendMessage(ctx, topic, evt, opts...)
}

// ReceiveMessage registers handler for the topics of sub.
func (s *Service) ReceiveMessage(ctx context.Context, sub transport.Subscription, handler transport.Handler) error {
	return s.port.ReceiveMessage(ctx, sub, handler)
}

// Close releases the adapter. Calling it again is a no-op.
func (s *Service) Close() error {
	return s.port.Close()
}

// Adapter returns the adapter kind in use.
func (s *Service) Adapter() string {
	return s.adapter
}

// Capabilities returns the capabilities of the adapter in use.
func (s *Service) Capabilities() transport.Capabilities {
	return s.registry.GetCapabilities(s.adapter)
}

// Port returns the decorated Port, for code that only needs the contract.
func (s *Service) Port() transport.Port {
	return s.port
}

// Metrics returns the collectors of the metrics middleware, or nil when
// metrics are disabled.
func (s *Service) Metrics() *PortMetrics {
	return s.metrics
}
