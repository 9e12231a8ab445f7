// Package mqtt provides the MQTT adapter on the Eclipse Paho client. MQTT is
// fire-and-forget here: QoS 0, no acknowledgement, no redelivery.
package mqtt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	idspkg "github.com/drblury/eventport/internal/runtime/ids"
	"github.com/drblury/eventport/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/internal/runtime/subscription"
	"github.com/drblury/eventport/transport"
)

// TransportName is the name used to register this adapter.
const TransportName = "mqtt"

const (
	qos            byte = 0
	disconnectWait uint = 250
)

// Client is the part of paho.Client the adapter uses.
type Client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	IsConnected() bool
}

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *paho.ClientOptions) Client {
	return paho.NewClient(opts)
}

func init() {
	Register()
}

// Register adds the adapter to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.MQTTCapabilities)
}

// Capabilities returns the capabilities of this adapter.
func Capabilities() transport.Capabilities {
	return transport.MQTTCapabilities
}

// Build creates the adapter and connects it. Unlike the other adapters MQTT
// does not connect lazily: sends and subscriptions before a successful
// connect fail with ErrNotConnected.
func Build(ctx context.Context, cfg transport.Config, logger loggingpkg.ServiceLogger) (transport.Port, error) {
	adapter := New(Settings{
		URL:            cfg.GetMQTTURL(),
		ClientID:       cfg.GetMQTTClientID(),
		Username:       cfg.GetMQTTUsername(),
		Password:       cfg.GetMQTTPassword(),
		CleanSession:   cfg.GetMQTTCleanSession(),
		KeepAlive:      cfg.GetMQTTKeepAlive(),
		ConnectTimeout: cfg.GetMQTTConnectTimeout(),
	}, logger)
	if err := adapter.Connect(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}

// Settings are the MQTT connection parameters.
type Settings struct {
	URL            string
	ClientID       string
	Username       string
	Password       string
	CleanSession   bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// Adapter implements transport.Port on MQTT.
type Adapter struct {
	settings Settings
	logger   loggingpkg.ServiceLogger
	client   Client
	conn     *lifecycle.Connector
	table    *subscription.Table

	subMu      sync.Mutex
	subscribed map[string]struct{}

	closed atomic.Bool
}

// New creates the adapter and its client without connecting.
func New(settings Settings, logger loggingpkg.ServiceLogger) *Adapter {
	if settings.ClientID == "" {
		settings.ClientID = idspkg.ClientID("eventport")
	}
	a := &Adapter{
		settings:   settings,
		logger:     logger.With(loggingpkg.LogFields{"client_id": settings.ClientID}),
		conn:       lifecycle.NewConnector(),
		table:      subscription.NewTable(subscription.MQTTFilter),
		subscribed: make(map[string]struct{}),
	}
	a.client = ClientFactory(a.clientOptions())
	return a
}

func (a *Adapter) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(a.settings.URL)
	opts.SetClientID(a.settings.ClientID)
	opts.SetUsername(a.settings.Username)
	opts.SetPassword(a.settings.Password)
	opts.SetCleanSession(a.settings.CleanSession)
	opts.SetKeepAlive(a.settings.KeepAlive)
	opts.SetConnectTimeout(a.settings.ConnectTimeout)
	opts.SetAutoReconnect(true)
	// handlers run concurrently, one goroutine per message
	opts.SetOrderMatters(false)
	opts.SetDefaultPublishHandler(a.onMessage)
	opts.SetOnConnectHandler(a.onConnect)
	opts.SetConnectionLostHandler(a.onConnectionLost)
	return opts
}

func (a *Adapter) Capabilities() transport.Capabilities {
	return transport.MQTTCapabilities
}

// Connect opens the broker connection. Concurrent calls share one attempt.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.conn.Connect(ctx, func(ctx context.Context) error {
		if a.settings.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.settings.ConnectTimeout)
			defer cancel()
		}
		if err := waitToken(ctx, a.client.Connect()); err != nil {
			return &errspkg.ConnectionError{Adapter: TransportName, Target: a.settings.URL, Err: err}
		}
		a.logger.Info("Connected to MQTT broker", loggingpkg.LogFields{"broker": a.settings.URL})
		return nil
	})
}

// SendMessage publishes evt at QoS 0 and waits until the client has written
// it.
func (a *Adapter) SendMessage(ctx context.Context, topic string, evt cloudevents.Event, _ ...transport.SendOption) error {
	if topic == "" {
		return a.publishErr(topic, errspkg.ErrTopicRequired)
	}
	if err := a.ready(); err != nil {
		return a.publishErr(topic, err)
	}

	payload, err := cloudevents.Encode(evt)
	if err != nil {
		return a.publishErr(topic, err)
	}
	if err := waitToken(ctx, a.client.Publish(topic, qos, false, payload)); err != nil {
		return a.publishErr(topic, err)
	}
	a.logger.Debug("Published event", loggingpkg.LogFields{"topic": topic, "event_id": evt.ID})
	return nil
}

// ReceiveMessage registers handler and subscribes the literal topics the
// broker does not deliver yet. MQTT filters ("+", "#") are valid literals.
// Patterns only filter locally. Every matching entry receives each message.
func (a *Adapter) ReceiveMessage(ctx context.Context, sub transport.Subscription, handler transport.Handler) error {
	if handler == nil {
		return a.subscribeErr(sub, errspkg.ErrHandlerRequired)
	}
	if err := sub.Validate(); err != nil {
		return a.subscribeErr(sub, err)
	}
	if err := a.ready(); err != nil {
		return a.subscribeErr(sub, err)
	}

	a.table.Add(sub, handler)
	if len(sub.Literals()) == 0 {
		a.logger.Warn("Subscription has only patterns; it sees messages of literally subscribed topics only",
			loggingpkg.LogFields{"topics": sub.String()})
	}

	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, topic := range sub.Literals() {
		if _, ok := a.subscribed[topic]; ok {
			continue
		}
		// nil callback: deliveries go to the default publish handler
		if err := waitToken(ctx, a.client.Subscribe(topic, qos, nil)); err != nil {
			return a.subscribeErr(sub, err)
		}
		a.subscribed[topic] = struct{}{}
		a.logger.Info("Subscribed to topic", loggingpkg.LogFields{"topic": topic})
	}
	return nil
}

func (a *Adapter) ready() error {
	if a.closed.Load() {
		return errspkg.ErrClosed
	}
	if !a.conn.IsConnected() {
		return errspkg.ErrNotConnected
	}
	return nil
}

// onMessage is the single global listener. Failures are logged; MQTT has
// nothing to nack.
func (a *Adapter) onMessage(_ paho.Client, msg paho.Message) {
	topic := msg.Topic()
	ctx := transport.WithDelivery(context.Background(), transport.Delivery{
		Adapter:     TransportName,
		Topic:       topic,
		Redelivered: msg.Duplicate(),
	})

	outcome, err := subscription.Handle(ctx, a.table, topic, msg.Payload())
	fields := loggingpkg.LogFields{"topic": topic}
	switch outcome {
	case subscription.Unmatched:
		a.logger.Debug("No local subscription matches message, dropping", fields)
	case subscription.Malformed:
		a.logger.Error("Malformed message dropped", err, fields)
	case subscription.Failed:
		a.logger.Error("Handler failed", err, fields)
	}
}

// onConnect re-subscribes every known literal after an automatic reconnect,
// since a clean session forgets them.
func (a *Adapter) onConnect(paho.Client) {
	topics := a.table.Literals()
	if len(topics) == 0 {
		return
	}
	a.logger.Info("Reconnected, restoring subscriptions", loggingpkg.LogFields{"topics": topics})
	go func() {
		for _, topic := range topics {
			tok := a.client.Subscribe(topic, qos, nil)
			tok.Wait()
			if err := tok.Error(); err != nil {
				a.logger.Error("Re-subscribe failed", err, loggingpkg.LogFields{"topic": topic})
			}
		}
	}()
}

func (a *Adapter) onConnectionLost(_ paho.Client, err error) {
	a.logger.Warn("MQTT connection lost, reconnecting", loggingpkg.LogFields{"error": err.Error()})
}

// Close disconnects gracefully. Calling it again is a no-op.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := a.conn.Disconnect(func() error {
		a.client.Disconnect(disconnectWait)
		return nil
	})
	a.table.Reset()
	return err
}

func waitToken(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
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
