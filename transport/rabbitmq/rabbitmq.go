// Package rabbitmq provides the RabbitMQ adapter on amqp091-go. Events are
// published to a durable topic exchange with the topic as routing key;
// every subscription gets its own channel and queue with manual acks.
package rabbitmq

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	"github.com/drblury/eventport/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/internal/runtime/subscription"
	"github.com/drblury/eventport/transport"
)

// TransportName is the name used to register this adapter.
const TransportName = "rabbitmq"

// DefaultPrefetchCount bounds unacknowledged deliveries per subscription.
const DefaultPrefetchCount = 10

const contentType = "application/cloudevents+json"

func init() {
	Register()
}

// Register adds the adapter to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Capabilities returns the capabilities of this adapter.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

// Build creates a RabbitMQ adapter. The connection is opened on first use.
func Build(_ context.Context, cfg transport.Config, logger loggingpkg.ServiceLogger) (transport.Port, error) {
	return New(Settings{
		URL:           cfg.GetRabbitMQURL(),
		Exchange:      cfg.GetRabbitMQExchange(),
		Queue:         cfg.GetRabbitMQQueue(),
		PrefetchCount: cfg.GetRabbitMQPrefetchCount(),
	}, logger), nil
}

// Settings are the RabbitMQ connection parameters.
type Settings struct {
	URL      string
	Exchange string
	// Queue is used by subscriptions that do not name one.
	Queue         string
	PrefetchCount int
}

type consumer struct {
	ch    Channel
	queue string
	done  chan struct{}
}

// Adapter implements transport.Port on RabbitMQ.
type Adapter struct {
	settings Settings
	logger   loggingpkg.ServiceLogger
	conn     *lifecycle.Connector

	mu         sync.Mutex
	connection Connection
	pubCh      Channel
	exchanges  map[string]struct{}
	consumers  map[string]*consumer

	closed atomic.Bool
}

// New creates an unconnected adapter.
func New(settings Settings, logger loggingpkg.ServiceLogger) *Adapter {
	if settings.PrefetchCount <= 0 {
		settings.PrefetchCount = DefaultPrefetchCount
	}
	return &Adapter{
		settings:  settings,
		logger:    logger,
		conn:      lifecycle.NewConnector(),
		exchanges: make(map[string]struct{}),
		consumers: make(map[string]*consumer),
	}
}

func (a *Adapter) Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

// connect dials, opens the bootstrap channel and declares the configured
// exchange. The bootstrap channel is kept for publishing.
func (a *Adapter) connect(context.Context) error {
	connection, err := Dial(a.settings.URL)
	if err != nil {
		return &errspkg.ConnectionError{Adapter: TransportName, Target: redact(a.settings.URL), Err: err}
	}
	ch, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return &errspkg.ConnectionError{Adapter: TransportName, Target: redact(a.settings.URL), Err: err}
	}
	if err := ch.DeclareExchange(a.settings.Exchange); err != nil {
		_ = ch.Close()
		_ = connection.Close()
		return &errspkg.ConnectionError{Adapter: TransportName, Target: a.settings.Exchange, Err: err}
	}

	a.mu.Lock()
	a.connection = connection
	a.pubCh = ch
	a.exchanges = map[string]struct{}{a.settings.Exchange: {}}
	a.mu.Unlock()

	go a.watch(connection.NotifyClose(make(chan *amqp.Error, 1)))
	a.logger.Info("Connected to RabbitMQ", loggingpkg.LogFields{"exchange": a.settings.Exchange})
	return nil
}

// watch resets the adapter when the broker drops the connection so the next
// call reconnects. Subscriptions on the lost connection are gone and have to
// be registered again.
func (a *Adapter) watch(notify chan *amqp.Error) {
	amqpErr, ok := <-notify
	if !ok || amqpErr == nil || a.closed.Load() {
		return
	}

	a.mu.Lock()
	lost := make([]string, 0, len(a.consumers))
	for key := range a.consumers {
		lost = append(lost, key)
	}
	a.consumers = make(map[string]*consumer)
	a.mu.Unlock()

	a.conn.Reset()
	a.logger.Error("RabbitMQ connection lost", amqpErr, loggingpkg.LogFields{"lost_subscriptions": lost})
}

// SendMessage publishes evt as a persistent message with topic as routing
// key. A broker nack is logged but does not fail the call.
func (a *Adapter) SendMessage(ctx context.Context, topic string, evt cloudevents.Event, opts ...transport.SendOption) error {
	if topic == "" {
		return a.publishErr(topic, errspkg.ErrTopicRequired)
	}
	if a.closed.Load() {
		return a.publishErr(topic, errspkg.ErrClosed)
	}
	if err := a.conn.Connect(ctx, a.connect); err != nil {
		return a.publishErr(topic, err)
	}

	o := transport.ApplySendOptions(opts...)
	exchange := a.exchangeName(o.ExchangeName)

	a.mu.Lock()
	ch := a.pubCh
	a.mu.Unlock()

	if err := a.ensureExchange(ch, exchange); err != nil {
		return a.publishErr(topic, err)
	}
	if o.QueueName != "" {
		if _, err := ch.DeclareQueue(o.QueueName, false); err != nil {
			return a.publishErr(topic, err)
		}
		if err := ch.Bind(o.QueueName, topic, exchange); err != nil {
			return a.publishErr(topic, err)
		}
	}

	payload, err := cloudevents.Encode(evt)
	if err != nil {
		return a.publishErr(topic, err)
	}

	acked, err := ch.Publish(ctx, exchange, topic, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Type:         evt.Type,
		Timestamp:    evt.Time,
		Body:         payload,
	})
	if err != nil {
		return a.publishErr(topic, err)
	}

	fields := loggingpkg.LogFields{"exchange": exchange, "routing_key": topic, "event_id": evt.ID}
	if !acked {
		a.logger.Warn("Broker did not confirm message", fields)
		return nil
	}
	a.logger.Debug("Published event", fields)
	return nil
}

func (a *Adapter) exchangeName(override string) string {
	if override != "" {
		return override
	}
	return a.settings.Exchange
}

func (a *Adapter) ensureExchange(ch Channel, name string) error {
	a.mu.Lock()
	_, ok := a.exchanges[name]
	a.mu.Unlock()
	if ok {
		return nil
	}
	if err := ch.DeclareExchange(name); err != nil {
		return err
	}
	a.mu.Lock()
	a.exchanges[name] = struct{}{}
	a.mu.Unlock()
	return nil
}

// ReceiveMessage opens a channel for the subscription, declares its queue
// (exclusive and server-named unless a name is given), binds every literal
// topic and starts consuming with manual acks. Patterns cannot be bound and
// are ignored with a warning; a descriptor without literals is rejected.
// The same topic set cannot be subscribed twice.
func (a *Adapter) ReceiveMessage(ctx context.Context, sub transport.Subscription, handler transport.Handler) error {
	if handler == nil {
		return a.subscribeErr(sub, errspkg.ErrHandlerRequired)
	}
	if err := sub.Validate(); err != nil {
		return a.subscribeErr(sub, err)
	}
	literals := sub.Literals()
	if len(literals) == 0 {
		return a.subscribeErr(sub, errspkg.ErrNoLiteralTopics)
	}
	if patterns := sub.Patterns(); len(patterns) > 0 {
		a.logger.Warn("Topic patterns are not bound on RabbitMQ and are ignored", loggingpkg.LogFields{"topics": sub.String()})
	}
	if a.closed.Load() {
		return a.subscribeErr(sub, errspkg.ErrClosed)
	}
	if err := a.conn.Connect(ctx, a.connect); err != nil {
		return a.subscribeErr(sub, err)
	}

	key := sub.Key()
	a.mu.Lock()
	if _, exists := a.consumers[key]; exists {
		a.mu.Unlock()
		return a.subscribeErr(sub, errspkg.ErrDuplicateConsume)
	}
	c := &consumer{done: make(chan struct{})}
	a.consumers[key] = c
	connection := a.connection
	a.mu.Unlock()

	deliveries, prefetch, err := a.setup(connection, c, sub, literals)
	if err != nil {
		if c.ch != nil {
			_ = c.ch.Close()
		}
		a.mu.Lock()
		delete(a.consumers, key)
		a.mu.Unlock()
		return a.subscribeErr(sub, err)
	}

	a.logger.Info("Consuming", loggingpkg.LogFields{"queue": c.queue, "topics": literals, "prefetch": prefetch})
	go a.consume(c, deliveries, handler, prefetch)
	return nil
}

func (a *Adapter) setup(connection Connection, c *consumer, sub transport.Subscription, literals []string) (<-chan amqp.Delivery, int, error) {
	ch, err := connection.Channel()
	if err != nil {
		return nil, 0, err
	}
	c.ch = ch

	prefetch := sub.PrefetchCount
	if prefetch <= 0 {
		prefetch = a.settings.PrefetchCount
	}
	if err := ch.Qos(prefetch); err != nil {
		return nil, 0, err
	}

	exchange := a.exchangeName(sub.ExchangeName)
	if exchange != a.settings.Exchange {
		if err := ch.DeclareExchange(exchange); err != nil {
			return nil, 0, err
		}
	}

	queueName := sub.QueueName
	if queueName == "" {
		queueName = a.settings.Queue
	}
	queue, err := ch.DeclareQueue(queueName, queueName == "")
	if err != nil {
		return nil, 0, err
	}
	c.queue = queue

	for _, topic := range literals {
		if err := ch.Bind(queue, topic, exchange); err != nil {
			return nil, 0, err
		}
	}

	deliveries, err := ch.Consume(queue)
	if err != nil {
		return nil, 0, err
	}
	return deliveries, prefetch, nil
}

// consume processes up to prefetch deliveries concurrently. The broker
// never has more than prefetch unacknowledged deliveries in flight, so the
// semaphore only blocks when handlers are slower than that.
func (a *Adapter) consume(c *consumer, deliveries <-chan amqp.Delivery, handler transport.Handler, prefetch int) {
	defer close(c.done)

	sem := make(chan struct{}, prefetch)
	var wg sync.WaitGroup
	for d := range deliveries {
		sem <- struct{}{}
		wg.Add(1)
		go func(d amqp.Delivery) {
			defer func() {
				<-sem
				wg.Done()
			}()
			a.handleDelivery(d, handler)
		}(d)
	}
	wg.Wait()
}

// handleDelivery acks on success and nacks without requeue when the body is
// malformed or the handler fails.
func (a *Adapter) handleDelivery(d amqp.Delivery, handler transport.Handler) subscription.Outcome {
	fields := loggingpkg.LogFields{"routing_key": d.RoutingKey, "delivery_tag": d.DeliveryTag}
	ctx := transport.WithDelivery(context.Background(), transport.Delivery{
		Adapter:     TransportName,
		Topic:       d.RoutingKey,
		Redelivered: d.Redelivered,
	})

	outcome := subscription.Handled
	evt, err := cloudevents.Decode(d.Body)
	if err != nil {
		var malformed *errspkg.MalformedMessageError
		if errors.As(err, &malformed) {
			malformed.Topic = d.RoutingKey
		}
		a.logger.Error("Malformed message rejected", err, fields)
		outcome = subscription.Malformed
	} else if err = subscription.Dispatch(ctx, d.RoutingKey, []transport.Handler{handler}, evt); err != nil {
		a.logger.Error("Handler failed, message rejected", err, fields)
		outcome = subscription.Failed
	}

	if outcome == subscription.Handled {
		if err := d.Ack(false); err != nil {
			a.logger.Error("Ack failed", err, fields)
		}
		return outcome
	}
	if err := d.Nack(false, false); err != nil {
		a.logger.Error("Nack failed", err, fields)
	}
	return outcome
}

// Close closes every subscription channel, the publish channel and the
// connection. In-flight handlers are not awaited. Calling Close again is a
// no-op.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	return a.conn.Disconnect(func() error {
		a.mu.Lock()
		defer a.mu.Unlock()

		var errs []error
		for key, c := range a.consumers {
			if c.ch != nil {
				if err := c.ch.Close(); err != nil {
					errs = append(errs, err)
				}
			}
			delete(a.consumers, key)
		}
		if a.pubCh != nil {
			if err := a.pubCh.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.connection != nil {
			if err := a.connection.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Subscriptions returns the number of active subscriptions.
func (a *Adapter) Subscriptions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.consumers)
}

// redact hides the password of an amqp:// URL.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
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
