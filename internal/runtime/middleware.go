package runtime

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	idspkg "github.com/drblury/eventport/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/transport"
)

const tracerName = "github.com/drblury/eventport"

// Middleware decorates a Port. The decorated Port must forward Close.
type Middleware func(next transport.Port) transport.Port

// MiddlewareBuilder constructs a middleware using the provided service
// instance. Returning a nil Middleware skips the registration.
type MiddlewareBuilder func(*Service) (Middleware, error)

// MiddlewareRegistration captures how a middleware is applied to the Port
// of a Service.
type MiddlewareRegistration struct {
	Name       string
	Middleware Middleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard chain used by the Service
// constructor, outermost first.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		LoggingMiddleware(nil),
		CorrelationIDMiddleware(),
		TracingMiddleware(),
		MetricsMiddleware(),
	}
}

// LoggingMiddleware logs every send, subscription and handled event at
// debug level.
func LoggingMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "logging",
		Builder: func(s *Service) (Middleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("logging middleware requires a logger")
			}
			return func(next transport.Port) transport.Port {
				return &loggingPort{Port: next, logger: l}
			}, nil
		},
	}
}

// CorrelationIDMiddleware makes sure every sent event carries a
// correlation id and exposes the id of a received event through the handler
// context, so follow-up events inherit it.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(next transport.Port) transport.Port {
			return &correlationPort{Port: next}
		},
	}
}

// TracingMiddleware starts a producer span per send and a consumer span per
// handled event, carrying W3C trace context in the envelope's traceparent
// and tracestate extensions. Enabled by Config.TracingEnabled.
func TracingMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracing",
		Builder: func(s *Service) (Middleware, error) {
			if !s.Conf.TracingEnabled {
				return nil, nil
			}
			provider := s.tracerProvider
			if provider == nil {
				provider = otel.GetTracerProvider()
			}
			tracer := provider.Tracer(tracerName)
			adapter := s.adapter
			return func(next transport.Port) transport.Port {
				return &tracingPort{
					Port:       next,
					adapter:    adapter,
					tracer:     tracer,
					propagator: propagation.TraceContext{},
				}
			}, nil
		},
	}
}

// MetricsMiddleware records Prometheus metrics for sends and handlers.
// Enabled by Config.MetricsEnabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (Middleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}
			m := NewPortMetrics(s.registerer)
			if err := m.Register(); err != nil {
				return nil, err
			}
			s.metrics = m
			adapter := s.adapter
			return func(next transport.Port) transport.Port {
				return &metricsPort{Port: next, adapter: adapter, metrics: m}
			}, nil
		},
	}
}

// HooksMiddleware invokes hooks around every handler call.
func HooksMiddleware(hooks HandleHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "hooks",
		Builder: func(s *Service) (Middleware, error) {
			adapter := s.adapter
			return func(next transport.Port) transport.Port {
				return &hooksPort{Port: next, adapter: adapter, hooks: hooks}
			}, nil
		},
	}
}

func (s *Service) applyMiddleware(port transport.Port, cfg MiddlewareRegistration) (transport.Port, error) {
	var mw Middleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return port, nil
	}
	return mw(port), nil
}

// wrapHandler applies wrap unless h is nil, which the adapter has to
// reject itself.
func wrapHandler(h transport.Handler, wrap func(transport.Handler) transport.Handler) transport.Handler {
	if h == nil {
		return nil
	}
	return wrap(h)
}

func deliveryTopic(ctx context.Context) string {
	if d, ok := transport.DeliveryFromContext(ctx); ok && d.Topic != "" {
		return d.Topic
	}
	return "unknown"
}

type loggingPort struct {
	transport.Port
	logger loggingpkg.ServiceLogger
}

func (p *loggingPort) SendMessage(ctx context.Context, topic string, evt cloudevents.Event, opts ...transport.SendOption) error {
	p.logger.Debug("Sending event", loggingpkg.LogFields{
		"topic":      topic,
		"event_id":   evt.ID,
		"event_type": evt.Type,
	})
	return p.Port.SendMessage(ctx, topic, evt, opts...)
}

func (p *loggingPort) ReceiveMessage(ctx context.Context, sub transport.Subscription, handler transport.Handler) error {
	p.logger.Debug("Registering subscription", loggingpkg.LogFields{"topics": sub.String()})
	return p.Port.ReceiveMessage(ctx, sub, wrapHandler(handler, func(h transport.Handler) transport.Handler {
		return func(ctx context.Context, evt cloudevents.Event) error {
			p.logger.Debug("Handling event", loggingpkg.LogFields{
				"topic":      deliveryTopic(ctx),
				"event_id":   evt.ID,
				"event_type": evt.Type,
			})
			return h(ctx, evt)
		}
	}))
}

type correlationPort struct {
	transport.Port
}

func (p *correlationPort) SendMessage(ctx context.Context, topic string, evt cloudevents.Event, opts ...transport.SendOption) error {
	if cloudevents.CorrelationID(evt) == "" {
		id := CorrelationIDFromContext(ctx)
		if id == "" {
			id = idspkg.CreateULID()
		}
		evt = cloudevents.WithCorrelationID(evt, id)
	}
	return p.Port.SendMessage(ctx, topic, evt, opts...)
}

func (p *correlationPort) ReceiveMessage(ctx context.Context, sub transport.Subscription, handler transport.Handler) error {
	return p.Port.ReceiveMessage(ctx, sub, wrapHandler(handler, func(h transport.Handler) transport.Handler {
		return func(ctx context.Context, evt cloudevents.Event) error {
			if id := cloudevents.CorrelationID(evt); id != "" {
				ctx = ContextWithCorrelationID(ctx, id)
			}
			return h(ctx, evt)
		}
	}))
}

type tracingPort struct {
	transport.Port
	adapter    string
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func (p *tracingPort) SendMessage(ctx context.Context, topic string, evt cloudevents.Event, opts ...transport.SendOption) error {
	ctx, span := p.tracer.Start(ctx, "publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(p.attributes(topic, evt)...),
	)
	defer span.End()

	err := p.Port.SendMessage(ctx, topic, injectTraceContext(ctx, p.propagator, evt), opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *tracingPort) ReceiveMessage(ctx context.Context, sub transport.Subscription, handler transport.Handler) error {
	return p.Port.ReceiveMessage(ctx, sub, wrapHandler(handler, func(h transport.Handler) transport.Handler {
		return func(ctx context.Context, evt cloudevents.Event) error {
			topic := deliveryTopic(ctx)
			ctx = extractTraceContext(ctx, p.propagator, evt)
			ctx, span := p.tracer.Start(ctx, "process "+topic,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(p.attributes(topic, evt)...),
			)
			defer span.End()

			err := h(ctx, evt)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}))
}

func (p *tracingPort) attributes(topic string, evt cloudevents.Event) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", p.adapter),
		attribute.String("messaging.destination.name", topic),
		attribute.String("messaging.message.id", evt.ID),
		attribute.String("cloudevents.event_type", evt.Type),
		attribute.String("cloudevents.event_source", evt.Source),
	}
}

func injectTraceContext(ctx context.Context, propagator propagation.TextMapPropagator, evt cloudevents.Event) cloudevents.Event {
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)

	ext := make(map[string]any, 2)
	for _, key := range []string{cloudevents.ExtTraceParent, cloudevents.ExtTraceState} {
		if v := carrier.Get(key); v != "" {
			ext[key] = v
		}
	}
	if len(ext) == 0 {
		return evt
	}
	return evt.MergeExtensions(ext)
}

func extractTraceContext(ctx context.Context, propagator propagation.TextMapPropagator, evt cloudevents.Event) context.Context {
	carrier := propagation.MapCarrier{}
	for _, key := range []string{cloudevents.ExtTraceParent, cloudevents.ExtTraceState} {
		if v := evt.ExtensionString(key); v != "" {
			carrier.Set(key, v)
		}
	}
	return propagator.Extract(ctx, carrier)
}

type metricsPort struct {
	transport.Port
	adapter string
	metrics *PortMetrics
}

func (p *metricsPort) SendMessage(ctx context.Context, topic string, evt cloudevents.Event, opts ...transport.SendOption) error {
	err := p.Port.SendMessage(ctx, topic, evt, opts...)
	p.metrics.RecordSend(p.adapter, topic, err)
	return err
}

func (p *metricsPort) ReceiveMessage(ctx context.Context, sub transport.Subscription, handler transport.Handler) error {
	err := p.Port.ReceiveMessage(ctx, sub, wrapHandler(handler, func(h transport.Handler) transport.Handler {
		return func(ctx context.Context, evt cloudevents.Event) error {
			start := time.Now()
			err := h(ctx, evt)
			p.metrics.RecordHandled(p.adapter, deliveryTopic(ctx), time.Since(start), err)
			return err
		}
	}))
	if err == nil {
		p.metrics.RecordSubscription(p.adapter)
	}
	return err
}
