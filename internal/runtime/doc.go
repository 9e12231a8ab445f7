/*
Package runtime hosts the Service facade and the middleware that decorates
the selected adapter.

# Service (service.go)

TryNewService validates the Config, asks the adapter registry for the Port
of the configured kind, and wraps it with the middleware chain. The first
registration ends up outermost. Service itself only forwards; everything
else lives in a decorator.

# Middleware (middleware.go, hooks.go)

Each middleware is a function from Port to Port:
  - LoggingMiddleware: debug logs for sends, subscriptions and deliveries
  - CorrelationIDMiddleware: fills the correlationid extension and exposes it on the handler context
  - TracingMiddleware: producer and consumer spans with W3C trace context carried in the envelope
  - MetricsMiddleware: Prometheus counters and a handler duration histogram
  - HooksMiddleware: lifecycle callbacks around every handler

# Typed handlers (registration.go)

RegisterJSONHandler decodes event data into a typed payload and publishes
the handler's outputs to a follow-up topic.

# Sub-packages

  - cloudevents/: the event envelope and its JSON wire form
  - config/: settings, validation and the viper loader
  - errors/: sentinel errors and typed broker errors
  - handlers/: typed JSON handler adapters
  - ids/: ULID generation for event and client ids
  - jsoncodec/: JSON marshaling backed by sonic
  - lifecycle/: connect-once guard shared by the adapters
  - logging/: ServiceLogger and bridges to slog, zap, Watermill and entry loggers
  - subscription/: topic tables, wildcard matching and handler dispatch

# Usage Example

	cfg := &config.Config{
		Adapter:            "kafka",
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaClientID:      "billing",
		KafkaConsumerGroup: "billing",
		MetricsEnabled:     true,
	}

	svc := runtime.NewService(ctx, cfg, logger, runtime.ServiceDependencies{})
	defer svc.Close()

	runtime.RegisterJSONHandler(ctx, svc, handlers.JSONHandlerRegistration[*OrderCreated, InvoiceIssued]{
		Name:         "invoice-issuer",
		Subscription: transport.Subscribe(transport.Topic("orders.created")),
		PublishTopic: "invoices.issued",
		Handler:      issueInvoice,
	})
*/
package runtime
