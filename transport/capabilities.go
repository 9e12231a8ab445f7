package transport

// Capabilities describes the delivery guarantees of an adapter kind, so
// callers can check at runtime what a deployment's broker offers.
type Capabilities struct {
	// Name is the adapter kind.
	Name string

	// SupportsAck indicates inbound events are acknowledged only after the
	// handler succeeded (at-least-once).
	SupportsAck bool

	// SupportsNack indicates failed events are explicitly rejected.
	SupportsNack bool

	// SupportsOrdering indicates per-partition or per-queue ordering.
	SupportsOrdering bool

	// SupportsWildcards indicates literal topics may use broker wildcards
	// (MQTT +/#, AMQP */#, NATS */>).
	SupportsWildcards bool

	// SupportsDurableQueues indicates events published while no consumer
	// is connected can be retained.
	SupportsDurableQueues bool

	// RequiresConnect indicates the builder connects eagerly and calls fail
	// with ErrNotConnected until it has.
	RequiresConnect bool

	// MaxMessageSize is the default maximum message size in bytes
	// (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true if the adapter supports
// at-least-once delivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in adapters.
var (
	KafkaCapabilities = Capabilities{
		Name:                  "kafka",
		SupportsAck:           true,
		SupportsNack:          false,
		SupportsOrdering:      true,
		SupportsDurableQueues: true,
		MaxMessageSize:        1048576,
	}

	MQTTCapabilities = Capabilities{
		Name:              "mqtt",
		SupportsWildcards: true,
		RequiresConnect:   true,
		MaxMessageSize:    268435455,
	}

	RabbitMQCapabilities = Capabilities{
		Name:                  "rabbitmq",
		SupportsAck:           true,
		SupportsNack:          true,
		SupportsOrdering:      true,
		SupportsWildcards:     true,
		SupportsDurableQueues: true,
	}

	NATSCapabilities = Capabilities{
		Name:              "nats",
		SupportsWildcards: true,
		MaxMessageSize:    1048576,
	}

	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
	}
)

// GetCapabilities returns the capabilities registered for an adapter kind.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
