// Package nats provides the NATS Core adapter. Delivery is fire-and-forget:
// handler failures are logged and nothing is redelivered.
package nats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	"github.com/drblury/eventport/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/internal/runtime/subscription"
	"github.com/drblury/eventport/transport"
)

// TransportName is the name used to register this adapter.
const TransportName = "nats"

const clientName = "eventport"

func init() {
	Register()
}

// Register adds the adapter to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Capabilities returns the capabilities of this adapter.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

// Build creates a NATS adapter. The connection is opened on first use.
func Build(_ context.Context, cfg transport.Config, logger loggingpkg.ServiceLogger) (transport.Port, error) {
	return New(Settings{URL: cfg.GetNATSURL(), QueueGroup: cfg.GetNATSQueueGroup()}, logger), nil
}

// Settings are the NATS connection parameters.
type Settings struct {
	URL string
	// QueueGroup load-balances subjects across instances. A subscription's
	// QueueName takes precedence for the subjects it introduces.
	QueueGroup string
}

// Adapter implements transport.Port on NATS Core.
type Adapter struct {
	settings Settings
	logger   loggingpkg.ServiceLogger
	conn     *lifecycle.Connector
	table    *subscription.Table

	mu   sync.Mutex
	nc   Conn
	subs map[string]Subscription

	closed atomic.Bool
}

// New creates an unconnected adapter.
func New(settings Settings, logger loggingpkg.ServiceLogger) *Adapter {
	return &Adapter{
		settings: settings,
		logger:   logger,
		conn:     lifecycle.NewConnector(),
		table:    subscription.NewTable(subscription.NATSSubject),
		subs:     make(map[string]Subscription),
	}
}

func (a *Adapter) Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

func (a *Adapter) connect(context.Context) error {
	nc, err := Connect(a.settings.URL,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				a.logger.Warn("NATS connection interrupted", loggingpkg.LogFields{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			a.logger.Info("Reconnected to NATS", nil)
		}),
	)
	if err != nil {
		return &errspkg.ConnectionError{Adapter: TransportName, Target: a.settings.URL, Err: err}
	}

	a.mu.Lock()
	a.nc = nc
	a.mu.Unlock()
	a.logger.Info("Connected to NATS", loggingpkg.LogFields{"server": a.settings.URL})
	return nil
}

func (a *Adapter) client() Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nc
}

// SendMessage publishes evt on subject topic and flushes, so the call
// returns once the server has the message.
func (a *Adapter) SendMessage(ctx context.Context, topic string, evt cloudevents.Event, _ ...transport.SendOption) error {
	if topic == "" {
		return a.publishErr(topic, errspkg.ErrTopicRequired)
	}
	if a.closed.Load() {
		return a.publishErr(topic, errspkg.ErrClosed)
	}
	if err := a.conn.Connect(ctx, a.connect); err != nil {
		return a.publishErr(topic, err)
	}

	payload, err := cloudevents.Encode(evt)
	if err != nil {
		return a.publishErr(topic, err)
	}

	nc := a.client()
	if err := nc.Publish(topic, payload); err != nil {
		return a.publishErr(topic, err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return a.publishErr(topic, err)
	}
	a.logger.Debug("Published event", loggingpkg.LogFields{"subject": topic, "event_id": evt.ID})
	return nil
}

// ReceiveMessage subscribes every literal subject not subscribed yet. NATS
// wildcards in literals keep their broker meaning; regex patterns only
// filter subjects already reachable through literals.
func (a *Adapter) ReceiveMessage(ctx context.Context, sub transport.Subscription, handler transport.Handler) error {
	if handler == nil {
		return a.subscribeErr(sub, errspkg.ErrHandlerRequired)
	}
	if err := sub.Validate(); err != nil {
		return a.subscribeErr(sub, err)
	}
	if a.closed.Load() {
		return a.subscribeErr(sub, errspkg.ErrClosed)
	}
	if err := a.conn.Connect(ctx, a.connect); err != nil {
		return a.subscribeErr(sub, err)
	}

	fresh := a.table.Add(sub, handler)
	if len(sub.Literals()) == 0 {
		a.logger.Warn("Subscription has only patterns and receives nothing by itself", loggingpkg.LogFields{"topics": sub.String()})
	}

	queue := sub.QueueName
	if queue == "" {
		queue = a.settings.QueueGroup
	}

	nc := a.client()
	var errs []error
	for _, subject := range fresh {
		s, err := nc.Subscribe(subject, queue, a.onMessage(subject))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a.mu.Lock()
		a.subs[subject] = s
		a.mu.Unlock()
		a.logger.Info("Subscribed", loggingpkg.LogFields{"subject": subject, "queue": queue})
	}
	if err := errors.Join(errs...); err != nil {
		return a.subscribeErr(sub, err)
	}
	return nil
}

// onMessage returns the callback of the broker subscription for filter.
// The server delivers a message once per matching subscription, so only the
// first matching filter in sorted order dispatches it.
func (a *Adapter) onMessage(filter string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if owner := a.owner(msg.Subject); owner != filter {
			return
		}

		ctx := transport.WithDelivery(context.Background(), transport.Delivery{
			Adapter: TransportName,
			Topic:   msg.Subject,
		})
		outcome, err := subscription.Handle(ctx, a.table, msg.Subject, msg.Data)
		fields := loggingpkg.LogFields{"subject": msg.Subject}
		switch outcome {
		case subscription.Malformed:
			a.logger.Error("Dropping malformed message", err, fields)
		case subscription.Failed:
			a.logger.Error("Handler failed", err, fields)
		case subscription.Unmatched:
			a.logger.Trace("No handler matched", fields)
		}
	}
}

func (a *Adapter) owner(subject string) string {
	for _, filter := range a.table.Literals() {
		if subscription.NATSSubject(filter, subject) {
			return filter
		}
	}
	return ""
}

// Close drains nothing: the connection is closed and queued deliveries are
// dropped. Calling Close again is a no-op.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := a.conn.Disconnect(func() error {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.nc.Close()
		a.subs = make(map[string]Subscription)
		return nil
	})
	a.table.Reset()
	return err
}

func (a *Adapter) publishErr(topic string, err error) error {
	return &errspkg.PublishError{Adapter: TransportName, Topic: topic, Err: err}
}

func (a *Adapter) subscribeErr(sub transport.Subscription, err error) error {
	names := make([]string, 0, len(sub.Topics))
	for _, t := range sub.Topics {
		names = append(names, t.String())
	}
	return &errspkg.SubscriptionError{Adapter: TransportName, Topics: names, Err: err}
}
