// Package eventport is a broker-agnostic publish/subscribe facade. Services
// send and receive CloudEvents-style envelopes through a single Port and pick
// the broker (Kafka, MQTT, RabbitMQ, NATS, or in-memory Go channels) from
// Config, so switching brokers is a configuration change rather than a code
// change.
//
// A minimal setup fills Config (or loads it with LoadConfig from a viper
// instance and EVENTPORT_* environment variables), creates a Service, and
// calls ReceiveMessage and SendMessage:
//
//	svc := eventport.NewService(ctx, cfg, logger, eventport.ServiceDependencies{})
//	defer svc.Close()
//
//	err := svc.ReceiveMessage(ctx, eventport.Subscribe(eventport.Topic("orders.created")),
//		func(ctx context.Context, evt eventport.Event) error {
//			order, err := eventport.DataAs[Order](evt)
//			...
//		})
//
//	err = svc.SendMessage(ctx, "orders.created", eventport.NewEvent("order.created", "checkout", order))
//
// # Adapters
//
// Every adapter connects lazily on its first call and reports broker failures
// as typed errors (ConnectionError, PublishError, SubscriptionError) that
// match the sentinels with errors.Is:
//   - kafka: sarama consumer groups, offsets committed only after the handler succeeds
//   - mqtt: QoS 0, every matching handler invoked, no durability
//   - rabbitmq: topic exchange, manual ack, failed messages rejected without requeue
//   - nats: core subjects with optional queue groups
//   - channel: in-memory Go channels for tests and local tooling
//
// Topics are literal names or regular expressions. Regular expressions never
// create broker subscriptions; they filter the topics that a literal in the
// same subscription already receives.
//
// # Middleware
//
// The default chain adds structured logging, correlation ids, OpenTelemetry
// tracing (TracingEnabled), and Prometheus metrics (MetricsEnabled) around
// the selected adapter. HooksMiddleware runs OnHandleStart, OnHandleDone and
// OnHandleError callbacks around every handler. Custom middleware is added
// via ServiceDependencies.Middlewares, and custom brokers through
// RegisterAdapter.
package eventport
