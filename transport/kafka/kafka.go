// Package kafka provides the Kafka adapter. Publishing goes through the
// Watermill Kafka publisher; consuming uses a sarama consumer group with
// manual offset commits so a record is committed only after every matching
// handler succeeded.
package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	"github.com/drblury/eventport/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/internal/runtime/subscription"
	"github.com/drblury/eventport/transport"
)

// TransportName is the name used to register this adapter.
const TransportName = "kafka"

const (
	metadataRetryMax = 5
	rejoinBackoff    = time.Second
)

// ConsumerGroup is the part of sarama.ConsumerGroup the adapter uses.
type ConsumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Errors() <-chan error
	Close() error
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// ConsumerGroupFactory allows overriding the consumer group creation for
// testing.
var ConsumerGroupFactory = func(brokers []string, groupID string, cfg *sarama.Config) (ConsumerGroup, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return group, nil
}

func init() {
	Register()
}

// Register adds the adapter to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a Kafka adapter. Nothing is dialled until the first send or
// receive.
func Build(_ context.Context, cfg transport.Config, logger loggingpkg.ServiceLogger) (transport.Port, error) {
	return New(Settings{
		Brokers:       cfg.GetKafkaBrokers(),
		ClientID:      cfg.GetKafkaClientID(),
		ConsumerGroup: cfg.GetKafkaConsumerGroup(),
	}, logger), nil
}

// Capabilities returns the capabilities of this adapter.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// Settings are the Kafka connection parameters.
type Settings struct {
	Brokers       []string
	ClientID      string
	ConsumerGroup string
}

// Adapter implements transport.Port on Kafka.
type Adapter struct {
	settings Settings
	logger   loggingpkg.ServiceLogger
	table    *subscription.Table

	producer  *lifecycle.Connector
	publisher message.Publisher

	consumer *lifecycle.Connector
	group    ConsumerGroup

	loopOnce   sync.Once
	started    atomic.Bool
	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	changed    chan struct{}

	sessMu     sync.Mutex
	sessCancel context.CancelFunc

	closed atomic.Bool
}

// New creates an unconnected adapter.
func New(settings Settings, logger loggingpkg.ServiceLogger) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		settings:   settings,
		logger:     logger,
		table:      subscription.NewTable(subscription.Exact),
		producer:   lifecycle.NewConnector(),
		consumer:   lifecycle.NewConnector(),
		loopCtx:    ctx,
		loopCancel: cancel,
		loopDone:   make(chan struct{}),
		changed:    make(chan struct{}, 1),
	}
}

func (a *Adapter) Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// SendMessage publishes evt to topic, creating the producer on first use.
func (a *Adapter) SendMessage(ctx context.Context, topic string, evt cloudevents.Event, _ ...transport.SendOption) error {
	if topic == "" {
		return a.publishErr(topic, errspkg.ErrTopicRequired)
	}
	if a.closed.Load() {
		return a.publishErr(topic, errspkg.ErrClosed)
	}

	if err := a.producer.Connect(ctx, a.connectProducer); err != nil {
		return a.publishErr(topic, err)
	}

	payload, err := cloudevents.Encode(evt)
	if err != nil {
		return a.publishErr(topic, err)
	}

	msg := message.NewMessage(evt.ID, payload)
	msg.Metadata.Set(partitionKeyMetadata, partitionKey(evt))
	msg.SetContext(ctx)

	if err := a.publisher.Publish(topic, msg); err != nil {
		return a.publishErr(topic, err)
	}
	a.logger.Debug("Published event", loggingpkg.LogFields{"topic": topic, "event_id": evt.ID})
	return nil
}

func (a *Adapter) connectProducer(context.Context) error {
	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               a.settings.Brokers,
			Marshaler:             kafka.NewWithPartitioningMarshaler(metadataPartitionKey),
			OverwriteSaramaConfig: newProducerConfig(a.settings.ClientID),
		},
		loggingpkg.NewWatermillAdapter(a.logger),
	)
	if err != nil {
		return &errspkg.ConnectionError{Adapter: TransportName, Target: joinBrokers(a.settings.Brokers), Err: err}
	}
	a.publisher = publisher
	return nil
}

// ReceiveMessage registers handler and makes sure the consume loop runs.
// Literal topics join the group subscription; a new literal ends the current
// group session so the loop rejoins with the enlarged topic list. Patterns
// only filter records of topics that are already subscribed literally.
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

	if err := a.consumer.Connect(ctx, a.connectConsumer); err != nil {
		return a.subscribeErr(sub, err)
	}

	fresh := a.table.Add(sub, handler)
	if len(sub.Literals()) == 0 {
		a.logger.Warn("Subscription has only patterns; it sees records of literally subscribed topics only",
			loggingpkg.LogFields{"topics": sub.String()})
	}

	a.loopOnce.Do(func() {
		a.started.Store(true)
		go a.consumeLoop()
	})
	if len(fresh) > 0 {
		a.logger.Info("Subscribing to topics", loggingpkg.LogFields{"topics": fresh, "group": a.settings.ConsumerGroup})
		a.rejoin()
	}
	return nil
}

func (a *Adapter) connectConsumer(context.Context) error {
	group, err := ConsumerGroupFactory(a.settings.Brokers, a.settings.ConsumerGroup, newConsumerConfig(a.settings.ClientID))
	if err != nil {
		return &errspkg.ConnectionError{Adapter: TransportName, Target: joinBrokers(a.settings.Brokers), Err: err}
	}
	a.group = group
	go a.drainErrors(group)
	return nil
}

func (a *Adapter) drainErrors(group ConsumerGroup) {
	for err := range group.Errors() {
		a.logger.Error("Consumer group error", err, nil)
	}
}

// rejoin signals the loop that the topic set changed and ends the running
// session, if any.
func (a *Adapter) rejoin() {
	select {
	case a.changed <- struct{}{}:
	default:
	}
	a.sessMu.Lock()
	if a.sessCancel != nil {
		a.sessCancel()
	}
	a.sessMu.Unlock()
}

func (a *Adapter) consumeLoop() {
	defer close(a.loopDone)
	handler := &groupHandler{adapter: a}

	for {
		select {
		case <-a.changed:
		default:
		}

		topics := a.table.Literals()
		if len(topics) == 0 {
			select {
			case <-a.changed:
				continue
			case <-a.loopCtx.Done():
				return
			}
		}

		sessCtx, cancel := context.WithCancel(a.loopCtx)
		a.sessMu.Lock()
		a.sessCancel = cancel
		a.sessMu.Unlock()

		// a rejoin between the snapshot and storing cancel left a signal
		select {
		case <-a.changed:
			cancel()
			continue
		default:
		}

		err := a.group.Consume(sessCtx, topics, handler)
		cancel()

		if a.loopCtx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return
		}
		if err != nil {
			a.logger.Error("Consumer group session failed, rejoining", err, loggingpkg.LogFields{"topics": topics})
			select {
			case <-time.After(rejoinBackoff):
			case <-a.loopCtx.Done():
				return
			}
		}
	}
}

// offsetCommitter is the part of a group session used to acknowledge.
type offsetCommitter interface {
	MarkOffset(topic string, partition int32, offset int64, metadata string)
	Commit()
}

// handleRecord runs the matching handlers for one record and commits
// offset+1 only when all of them succeeded. Unmatched, malformed and failed
// records are not committed; a later successful record of the same
// partition does move the committed offset past them.
func (a *Adapter) handleRecord(ctx context.Context, committer offsetCommitter, rec *sarama.ConsumerMessage) subscription.Outcome {
	fields := loggingpkg.LogFields{"topic": rec.Topic, "partition": rec.Partition, "offset": rec.Offset}
	hctx := transport.WithDelivery(context.WithoutCancel(ctx), transport.Delivery{
		Adapter:   TransportName,
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
	})

	outcome, err := subscription.Handle(hctx, a.table, rec.Topic, rec.Value)
	switch outcome {
	case subscription.Unmatched:
		a.logger.Debug("No local subscription matches record, skipping", fields)
	case subscription.Malformed:
		a.logger.Error("Malformed record, offset not committed", err, fields)
	case subscription.Failed:
		a.logger.Error("Handler failed, offset not committed", err, fields)
	case subscription.Handled:
		committer.MarkOffset(rec.Topic, rec.Partition, rec.Offset+1, "")
		committer.Commit()
	}
	return outcome
}

type groupHandler struct {
	adapter *Adapter
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.adapter.logger.Debug("Consumer group session started", loggingpkg.LogFields{
		"member_id":  sess.MemberID(),
		"generation": sess.GenerationID(),
		"claims":     sess.Claims(),
	})
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes the records of one partition sequentially.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case rec, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.adapter.handleRecord(sess.Context(), sess, rec)
		case <-sess.Context().Done():
			return nil
		}
	}
}

// Close stops the consume loop and closes the consumer group and the
// producer. In-flight handlers are not awaited. Calling Close again is a
// no-op.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.loopCancel()

	var errs []error
	if err := a.consumer.Disconnect(func() error { return a.group.Close() }); err != nil {
		errs = append(errs, err)
	}
	if a.started.Load() {
		<-a.loopDone
	}
	if err := a.producer.Disconnect(func() error { return a.publisher.Close() }); err != nil {
		errs = append(errs, err)
	}
	a.table.Reset()
	return errors.Join(errs...)
}

func (a *Adapter) publishErr(topic string, err error) error {
	return &errspkg.PublishError{Adapter: TransportName, Topic: topic, Err: err}
}

func (a *Adapter) subscribeErr(sub transport.Subscription, err error) error {
	return &errspkg.SubscriptionError{Adapter: TransportName, Topics: topicNames(sub), Err: err}
}
