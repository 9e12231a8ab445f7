package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	configpkg "github.com/drblury/eventport/internal/runtime/config"
	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	handlerpkg "github.com/drblury/eventport/internal/runtime/handlers"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/internal/runtime/logging/logtest"
	"github.com/drblury/eventport/transport"
	"github.com/drblury/eventport/transport/channel"
)

type sentEvent struct {
	topic string
	evt   cloudevents.Event
	opts  transport.SendOptions
}

// stubPort records calls and lets tests play the broker.
type stubPort struct {
	mu       sync.Mutex
	sent     []sentEvent
	handlers map[string][]transport.Handler
	closed   int
	sendErr  error
}

func newStubPort() *stubPort {
	return &stubPort{handlers: map[string][]transport.Handler{}}
}

func (p *stubPort) SendMessage(_ context.Context, topic string, evt cloudevents.Event, opts ...transport.SendOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, sentEvent{topic, evt, transport.ApplySendOptions(opts...)})
	return nil
}

func (p *stubPort) ReceiveMessage(_ context.Context, sub transport.Subscription, handler transport.Handler) error {
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if err := sub.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, topic := range sub.Literals() {
		p.handlers[topic] = append(p.handlers[topic], handler)
	}
	return nil
}

func (p *stubPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *stubPort) deliver(topic string, evt cloudevents.Event) error {
	p.mu.Lock()
	handlers := append([]transport.Handler(nil), p.handlers[topic]...)
	p.mu.Unlock()

	ctx := transport.WithDelivery(context.Background(), transport.Delivery{Adapter: "stub", Topic: topic})
	var errs []error
	for _, h := range handlers {
		errs = append(errs, h(ctx, evt))
	}
	return errors.Join(errs...)
}

func (p *stubPort) lastSent(t *testing.T) sentEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.sent)
	return p.sent[len(p.sent)-1]
}

func stubRegistry(port *stubPort) *transport.Registry {
	registry := transport.NewRegistry()
	registry.RegisterWithCapabilities("stub", func(context.Context, transport.Config, loggingpkg.ServiceLogger) (transport.Port, error) {
		return port, nil
	}, transport.Capabilities{Name: "stub", SupportsAck: true})
	return registry
}

func newStubService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) (*Service, *stubPort) {
	t.Helper()
	port := newStubPort()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	conf.Adapter = "stub"
	deps.Registry = stubRegistry(port)
	if deps.MetricsRegisterer == nil {
		deps.MetricsRegisterer = prometheus.NewRegistry()
	}
	svc, err := TryNewService(context.Background(), conf, logtest.New(), deps)
	require.NoError(t, err)
	return svc, port
}

func TestTryNewServiceValidation(t *testing.T) {
	ctx := context.Background()
	registry := stubRegistry(newStubPort())

	_, err := TryNewService(ctx, nil, logtest.New(), ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = TryNewService(ctx, &configpkg.Config{Adapter: "stub"}, nil, ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	_, err = TryNewService(ctx, &configpkg.Config{Adapter: "kafka"}, logtest.New(), ServiceDependencies{Registry: registry})
	assert.ErrorIs(t, err, errspkg.ErrConfiguration)
	assert.Contains(t, err.Error(), "brokers")

	_, err = TryNewService(ctx, &configpkg.Config{Adapter: "carrier-pigeon"}, logtest.New(), ServiceDependencies{Registry: registry})
	assert.ErrorIs(t, err, errspkg.ErrConfiguration)
	assert.Contains(t, err.Error(), "stub")
}

func TestNewServicePanicsOnError(t *testing.T) {
	assert.Panics(t, func() {
		NewService(context.Background(), &configpkg.Config{}, logtest.New(), ServiceDependencies{})
	})
}

func TestServiceForwardsUnchangedWithoutMiddlewares(t *testing.T) {
	svc, port := newStubService(t, nil, ServiceDependencies{DisableDefaultMiddlewares: true})

	evt := cloudevents.New("order.created", "/orders", map[string]any{"id": "1"})
	require.NoError(t, svc.SendMessage(context.Background(), "orders", evt, transport.WithExchange("ex"), transport.WithQueue("q")))

	got := port.lastSent(t)
	assert.Equal(t, "orders", got.topic)
	assert.Equal(t, evt, got.evt)
	assert.Equal(t, transport.SendOptions{ExchangeName: "ex", QueueName: "q"}, got.opts)

	var received cloudevents.Event
	require.NoError(t, svc.ReceiveMessage(context.Background(), transport.Subscribe(transport.Topic("orders")),
		func(_ context.Context, e cloudevents.Event) error { received = e; return nil }))
	require.NoError(t, port.deliver("orders", evt))
	assert.Equal(t, evt.ID, received.ID)

	assert.Equal(t, "stub", svc.Adapter())
	assert.True(t, svc.Capabilities().SupportsAck)
	assert.Nil(t, svc.Metrics())

	require.NoError(t, svc.Close())
	assert.Equal(t, 1, port.closed)
}

func TestNilHandlerReachesAdapter(t *testing.T) {
	svc, _ := newStubService(t, &configpkg.Config{MetricsEnabled: true, TracingEnabled: true}, ServiceDependencies{})
	err := svc.ReceiveMessage(context.Background(), transport.Subscribe(transport.Topic("a")), nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
}

func TestCorrelationIDIsAddedAndInherited(t *testing.T) {
	svc, port := newStubService(t, nil, ServiceDependencies{})

	require.NoError(t, svc.SendMessage(context.Background(), "a", cloudevents.New("t", "/s", nil)))
	generated := cloudevents.CorrelationID(port.lastSent(t).evt)
	assert.Len(t, generated, 26)

	explicit := cloudevents.WithCorrelationID(cloudevents.New("t", "/s", nil), "keep-me")
	require.NoError(t, svc.SendMessage(ContextWithCorrelationID(context.Background(), "ctx-id"), "a", explicit))
	assert.Equal(t, "keep-me", cloudevents.CorrelationID(port.lastSent(t).evt))

	require.NoError(t, svc.ReceiveMessage(context.Background(), transport.Subscribe(transport.Topic("in")),
		func(ctx context.Context, _ cloudevents.Event) error {
			return svc.SendMessage(ctx, "out", cloudevents.New("follow.up", "/s", nil))
		}))
	require.NoError(t, port.deliver("in", cloudevents.WithCorrelationID(cloudevents.New("t", "/s", nil), "upstream")))
	assert.Equal(t, "upstream", cloudevents.CorrelationID(port.lastSent(t).evt))
}

func TestMiddlewaresApplyInRegistrationOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) MiddlewareRegistration {
		return MiddlewareRegistration{
			Name: name,
			Middleware: func(next transport.Port) transport.Port {
				return &recordingPort{Port: next, before: func() {
					mu.Lock()
					order = append(order, name)
					mu.Unlock()
				}}
			},
		}
	}

	svc, _ := newStubService(t, nil, ServiceDependencies{
		DisableDefaultMiddlewares: true,
		Middlewares:               []MiddlewareRegistration{record("outer"), record("inner"), {Name: "skipped", Builder: func(*Service) (Middleware, error) { return nil, nil }}},
	})
	require.NoError(t, svc.SendMessage(context.Background(), "a", cloudevents.New("t", "/s", nil)))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

type recordingPort struct {
	transport.Port
	before func()
}

func (p *recordingPort) SendMessage(ctx context.Context, topic string, evt cloudevents.Event, opts ...transport.SendOption) error {
	p.before()
	return p.Port.SendMessage(ctx, topic, evt, opts...)
}

func TestMiddlewareErrorClosesPort(t *testing.T) {
	port := newStubPort()
	_, err := TryNewService(context.Background(), &configpkg.Config{Adapter: "stub"}, logtest.New(), ServiceDependencies{
		Registry: stubRegistry(port),
		Middlewares: []MiddlewareRegistration{
			{Name: "broken", Builder: func(*Service) (Middleware, error) { return nil, errors.New("nope") }},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 1, port.closed)

	_, err = TryNewService(context.Background(), &configpkg.Config{Adapter: "stub"}, logtest.New(), ServiceDependencies{
		Registry:    stubRegistry(newStubPort()),
		Middlewares: []MiddlewareRegistration{{}},
	})
	assert.ErrorContains(t, err, "anonymous_middleware")
}

func TestMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	svc, port := newStubService(t, &configpkg.Config{MetricsEnabled: true}, ServiceDependencies{MetricsRegisterer: registry})
	m := svc.Metrics()
	require.NotNil(t, m)

	require.NoError(t, svc.SendMessage(context.Background(), "orders", cloudevents.New("t", "/s", nil)))
	port.sendErr = errors.New("broker down")
	require.Error(t, svc.SendMessage(context.Background(), "orders", cloudevents.New("t", "/s", nil)))

	require.NoError(t, svc.ReceiveMessage(context.Background(), transport.Subscribe(transport.Topic("orders")),
		func(_ context.Context, evt cloudevents.Event) error {
			if evt.Type == "bad" {
				return errors.New("boom")
			}
			return nil
		}))
	require.NoError(t, port.deliver("orders", cloudevents.New("good", "/s", nil)))
	require.Error(t, port.deliver("orders", cloudevents.New("bad", "/s", nil)))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sentTotal.WithLabelValues("stub", "orders", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sentTotal.WithLabelValues("stub", "orders", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handledTotal.WithLabelValues("stub", "orders", "handled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handledTotal.WithLabelValues("stub", "orders", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptionsTotal.WithLabelValues("stub")))

	stats := m.GetTopicStats("orders")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(1), stats.SendFailures)
	assert.Equal(t, uint64(1), stats.Handled)
	assert.Equal(t, uint64(1), stats.HandlerFailures)

	snapshot := m.GetSnapshot()
	assert.Equal(t, uint64(1), snapshot.TotalSent)
	assert.Equal(t, uint64(1), snapshot.TotalHandlerFailures)

	count, err := testutil.GatherAndCount(registry, "eventport_port_messages_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPortMetricsRegisterTwice(t *testing.T) {
	registry := prometheus.NewRegistry()
	require.NoError(t, NewPortMetrics(registry).Register())

	second := NewPortMetrics(registry)
	require.NoError(t, second.Register())
	require.NoError(t, second.Register())

	second.RecordSend("kafka", "a", nil)
	second.Reset()
	assert.Nil(t, second.GetTopicStats("a"))
}

func TestTracingMiddlewarePropagatesTraceContext(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	svc, port := newStubService(t, &configpkg.Config{TracingEnabled: true}, ServiceDependencies{TracerProvider: provider})

	require.NoError(t, svc.SendMessage(context.Background(), "orders", cloudevents.New("order.created", "/orders", nil)))
	sent := port.lastSent(t).evt
	traceparent := sent.ExtensionString(cloudevents.ExtTraceParent)
	require.NotEmpty(t, traceparent)

	require.NoError(t, svc.ReceiveMessage(context.Background(), transport.Subscribe(transport.Topic("orders")),
		func(context.Context, cloudevents.Event) error { return errors.New("boom") }))
	require.Error(t, port.deliver("orders", sent))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	producer, consumer := spans[0], spans[1]
	assert.Equal(t, "publish orders", producer.Name())
	assert.Equal(t, "process orders", consumer.Name())
	assert.Equal(t, producer.SpanContext().TraceID(), consumer.SpanContext().TraceID())
	assert.Equal(t, producer.SpanContext().SpanID(), consumer.Parent().SpanID())
	assert.Contains(t, traceparent, producer.SpanContext().TraceID().String())
	assert.Equal(t, "Error", consumer.Status().Code.String())
}

func TestTracingDisabledLeavesEnvelopeAlone(t *testing.T) {
	svc, port := newStubService(t, nil, ServiceDependencies{})
	require.NoError(t, svc.SendMessage(context.Background(), "orders", cloudevents.New("t", "/s", nil)))
	_, ok := port.lastSent(t).evt.Extension(cloudevents.ExtTraceParent)
	assert.False(t, ok)
}

func TestHooksMiddleware(t *testing.T) {
	var mu sync.Mutex
	var events []string
	note := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}
	hooks := HandleHooks{
		OnHandleStart: func(ctx HandleContext) { note("start:" + ctx.Topic) },
		OnHandleDone:  func(ctx HandleContext) { note("done:" + ctx.Event.Type) },
	}.Merge(AlertingHooks(func(ctx HandleContext, err error) { note("error:" + err.Error()) }))

	logger := logtest.New()
	svc, port := newStubService(t, nil, ServiceDependencies{
		Middlewares: []MiddlewareRegistration{HooksMiddleware(hooks), HooksMiddleware(LoggingHooks(logger))},
	})
	require.NoError(t, svc.ReceiveMessage(context.Background(), transport.Subscribe(transport.Topic("jobs")),
		func(_ context.Context, evt cloudevents.Event) error {
			if evt.Type == "bad" {
				return errors.New("boom")
			}
			return nil
		}))

	require.NoError(t, port.deliver("jobs", cloudevents.New("good", "/s", nil)))
	require.Error(t, port.deliver("jobs", cloudevents.New("bad", "/s", nil)))

	assert.Equal(t, []string{"start:jobs", "done:good", "start:jobs", "error:boom"}, events)
	_, ok := logger.Find("error", "Handler failed")
	assert.True(t, ok)
	assert.Equal(t, 3, logger.Count("info"))
}

func TestRegisterJSONHandlerOverChannelAdapter(t *testing.T) {
	registry := transport.NewRegistry()
	registry.RegisterWithCapabilities(channel.TransportName, channel.Build, channel.Capabilities())

	svc, err := TryNewService(context.Background(), &configpkg.Config{Adapter: "channel"}, logtest.New(), ServiceDependencies{
		Registry:          registry,
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	defer svc.Close()

	type request struct {
		Repo string `json:"repo"`
	}
	type result struct {
		Repo     string `json:"repo"`
		Findings int    `json:"findings"`
	}

	results := make(chan cloudevents.Event, 1)
	require.NoError(t, svc.ReceiveMessage(context.Background(), transport.Subscribe(transport.Topic("scans.completed")),
		func(_ context.Context, evt cloudevents.Event) error {
			results <- evt
			return nil
		}))

	require.NoError(t, RegisterJSONHandler(context.Background(), svc, handlerpkg.JSONHandlerRegistration[*request, *result]{
		Name:         "scanner",
		Subscription: transport.Subscribe(transport.Topic("scans.requested")),
		PublishTopic: "scans.completed",
		Source:       "/scanner",
		Handler: func(_ context.Context, in handlerpkg.JSONMessageContext[*request]) ([]handlerpkg.JSONMessageOutput[*result], error) {
			return []handlerpkg.JSONMessageOutput[*result]{
				{Type: "scan.completed", Message: &result{Repo: in.Payload.Repo, Findings: 3}},
			}, nil
		},
	}))

	req := cloudevents.WithTenantID(cloudevents.New("scan.requested", "/api", map[string]any{"repo": "acme/app"}), "acme")
	require.NoError(t, svc.SendMessage(context.Background(), "scans.requested", req))

	select {
	case evt := <-results:
		assert.Equal(t, "scan.completed", evt.Type)
		assert.Equal(t, "acme", cloudevents.TenantID(evt))
		out, err := cloudevents.DataAs[result](evt)
		require.NoError(t, err)
		assert.Equal(t, result{Repo: "acme/app", Findings: 3}, out)
	case <-time.After(2 * time.Second):
		t.Fatal("no result event")
	}
}

func TestRegisterJSONHandlerRequiresService(t *testing.T) {
	err := RegisterJSONHandler(context.Background(), nil, handlerpkg.JSONHandlerRegistration[*struct{}, *struct{}]{})
	assert.ErrorIs(t, err, errspkg.ErrServiceRequired)
}
