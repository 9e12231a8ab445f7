// Package channel provides an in-memory adapter on watermill's gochannel.
// It is meant for tests and local development; nothing leaves the process.
package channel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/internal/runtime/subscription"
	"github.com/drblury/eventport/transport"
)

// TransportName is the name used to register this adapter.
const TransportName = "channel"

const outputBuffer = 64

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the adapter to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Capabilities returns the capabilities of this adapter.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// Build creates an in-memory adapter.
func Build(_ context.Context, _ transport.Config, logger loggingpkg.ServiceLogger) (transport.Port, error) {
	return New(logger), nil
}

// Adapter implements transport.Port in memory. Messages published before
// a topic has a subscriber are dropped.
type Adapter struct {
	logger     loggingpkg.ServiceLogger
	publisher  message.Publisher
	subscriber message.Subscriber
	table      *subscription.Table

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an adapter with its own in-process bus.
func New(logger loggingpkg.ServiceLogger) *Adapter {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: outputBuffer}, loggingpkg.NewWatermillAdapter(logger))
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		logger:     logger,
		publisher:  pub,
		subscriber: sub,
		table:      subscription.NewTable(subscription.Exact),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (a *Adapter) Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

func (a *Adapter) SendMessage(ctx context.Context, topic string, evt cloudevents.Event, _ ...transport.SendOption) error {
	if topic == "" {
		return &errspkg.PublishError{Adapter: TransportName, Topic: topic, Err: errspkg.ErrTopicRequired}
	}
	if a.closed.Load() {
		return &errspkg.PublishError{Adapter: TransportName, Topic: topic, Err: errspkg.ErrClosed}
	}

	payload, err := cloudevents.Encode(evt)
	if err != nil {
		return &errspkg.PublishError{Adapter: TransportName, Topic: topic, Err: err}
	}
	msg := message.NewMessage(evt.ID, payload)
	msg.SetContext(ctx)
	if err := a.publisher.Publish(topic, msg); err != nil {
		return &errspkg.PublishError{Adapter: TransportName, Topic: topic, Err: err}
	}
	return nil
}

// ReceiveMessage starts one reader per literal topic not seen before.
func (a *Adapter) ReceiveMessage(_ context.Context, sub transport.Subscription, handler transport.Handler) error {
	if handler == nil {
		return a.subscribeErr(sub, errspkg.ErrHandlerRequired)
	}
	if err := sub.Validate(); err != nil {
		return a.subscribeErr(sub, err)
	}
	if a.closed.Load() {
		return a.subscribeErr(sub, errspkg.ErrClosed)
	}

	for _, topic := range a.table.Add(sub, handler) {
		messages, err := a.subscriber.Subscribe(a.ctx, topic)
		if err != nil {
			return a.subscribeErr(sub, err)
		}
		a.wg.Add(1)
		go a.read(topic, messages)
	}
	return nil
}

// read dispatches every message of topic. Failures are logged and the
// message is acked anyway.
func (a *Adapter) read(topic string, messages <-chan *message.Message) {
	defer a.wg.Done()
	for msg := range messages {
		ctx := transport.WithDelivery(context.Background(), transport.Delivery{Adapter: TransportName, Topic: topic})
		outcome, err := subscription.Handle(ctx, a.table, topic, msg.Payload)
		switch outcome {
		case subscription.Malformed:
			a.logger.Error("Dropping malformed message", err, loggingpkg.LogFields{"topic": topic})
		case subscription.Failed:
			a.logger.Error("Handler failed", err, loggingpkg.LogFields{"topic": topic, "event_id": msg.UUID})
		}
		msg.Ack()
	}
}

// Close stops every reader and closes the bus. Calling Close again is a
// no-op.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.cancel()
	err := a.publisher.Close()
	if any(a.subscriber) != any(a.publisher) {
		if subErr := a.subscriber.Close(); err == nil {
			err = subErr
		}
	}
	a.wg.Wait()
	a.table.Reset()
	return err
}

func (a *Adapter) subscribeErr(sub transport.Subscription, err error) error {
	names := make([]string, 0, len(sub.Topics))
	for _, t := range sub.Topics {
		names = append(names, t.String())
	}
	return &errspkg.SubscriptionError{Adapter: TransportName, Topics: names, Err: err}
}
