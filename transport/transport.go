// Package transport defines the broker-agnostic Port contract, the
// subscription descriptor and the adapter registry. Each adapter (kafka,
// mqtt, rabbitmq, ...) lives in its own sub-package and registers itself
// with the registry.
package transport

import (
	"context"
	"time"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
)

// Handler processes one inbound event. A returned error means the event was
// not processed; what that implies for redelivery depends on the adapter.
type Handler func(ctx context.Context, evt cloudevents.Event) error

// Port is the uniform contract every adapter implements.
type Port interface {
	// SendMessage publishes evt to topic. The topic is the Kafka topic, MQTT
	// topic, AMQP routing key or NATS subject.
	SendMessage(ctx context.Context, topic string, evt cloudevents.Event, opts ...SendOption) error

	// ReceiveMessage registers handler for the topics in sub. It returns once
	// the subscription is registered; delivery happens in the background.
	ReceiveMessage(ctx context.Context, sub Subscription, handler Handler) error

	// Close releases broker resources. It is safe to call more than once.
	Close() error
}

// SendOptions are the optional per-call publish arguments.
type SendOptions struct {
	// ExchangeName overrides the configured exchange (RabbitMQ only).
	ExchangeName string
	// QueueName makes RabbitMQ declare and bind a durable queue for the
	// topic before publishing.
	QueueName string
}

type SendOption func(*SendOptions)

// WithExchange publishes to the named exchange instead of the configured one.
func WithExchange(name string) SendOption {
	return func(o *SendOptions) { o.ExchangeName = name }
}

// WithQueue ensures a durable queue bound to the topic exists before
// publishing.
func WithQueue(name string) SendOption {
	return func(o *SendOptions) { o.QueueName = name }
}

// ApplySendOptions folds opts into a SendOptions value.
func ApplySendOptions(opts ...SendOption) SendOptions {
	var o SendOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Builder creates a Port from config. Builders for brokers that need an
// explicit connect (MQTT) connect before returning; all others connect
// lazily on first use.
type Builder func(ctx context.Context, cfg Config, logger loggingpkg.ServiceLogger) (Port, error)

// Config provides the settings adapters read. It lets adapters depend on
// values rather than on the concrete config package.
type Config interface {
	// GetAdapter returns the registered adapter kind.
	GetAdapter() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	// MQTT
	GetMQTTURL() string
	GetMQTTClientID() string
	GetMQTTUsername() string
	GetMQTTPassword() string
	GetMQTTCleanSession() bool
	GetMQTTKeepAlive() time.Duration
	GetMQTTConnectTimeout() time.Duration

	// RabbitMQ
	GetRabbitMQURL() string
	GetRabbitMQExchange() string
	GetRabbitMQQueue() string
	GetRabbitMQPrefetchCount() int

	// NATS
	GetNATSURL() string
	GetNATSQueueGroup() string
}

// CapabilitiesProvider is implemented by ports that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
