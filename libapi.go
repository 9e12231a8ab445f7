package eventport

import (
	"context"

	runtimepkg "github.com/drblury/eventport/internal/runtime"
	ce "github.com/drblury/eventport/internal/runtime/cloudevents"
	configpkg "github.com/drblury/eventport/internal/runtime/config"
	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	handlerpkg "github.com/drblury/eventport/internal/runtime/handlers"
	idspkg "github.com/drblury/eventport/internal/runtime/ids"
	jsoncodec "github.com/drblury/eventport/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	transportpkg "github.com/drblury/eventport/transport"
	_ "github.com/drblury/eventport/transport/transports"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	Event        = ce.Event
	Port         = transportpkg.Port
	Handler      = transportpkg.Handler
	TopicSpec    = transportpkg.TopicSpec
	Subscription = transportpkg.Subscription
	SendOption   = transportpkg.SendOption
	Delivery     = transportpkg.Delivery

	JSONHandlerRegistration[T any, O any] = handlerpkg.JSONHandlerRegistration[T, O]
	JSONMessageContext[T any]             = handlerpkg.JSONMessageContext[T]
	JSONMessageOutput[T any]              = handlerpkg.JSONMessageOutput[T]
	JSONMessageHandler[T any, O any]      = handlerpkg.JSONMessageHandler[T, O]

	Middleware             = runtimepkg.Middleware
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	// Handler lifecycle hooks
	HandleContext = runtimepkg.HandleContext
	HandleHooks   = runtimepkg.HandleHooks

	// Prometheus metrics
	PortMetrics     = runtimepkg.PortMetrics
	TopicStats      = runtimepkg.TopicStats
	MetricsSnapshot = runtimepkg.MetricsSnapshot

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ConfigurationError    = errspkg.ConfigurationError
	ConnectionError       = errspkg.ConnectionError
	PublishError          = errspkg.PublishError
	SubscriptionError     = errspkg.SubscriptionError
	ProcessingError       = errspkg.ProcessingError
	MalformedMessageError = errspkg.MalformedMessageError

	// Adapter registry. Custom brokers plug in through RegisterAdapter.
	AdapterBuilder  = transportpkg.Builder
	AdapterConfig   = transportpkg.Config
	AdapterRegistry = transportpkg.Registry
	Capabilities    = transportpkg.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	// Topics and subscriptions
	Topic       = transportpkg.Topic
	Topics      = transportpkg.Topics
	Pattern     = transportpkg.Pattern
	MustPattern = transportpkg.MustPattern
	PatternOf   = transportpkg.PatternOf
	Subscribe   = transportpkg.Subscribe

	WithExchange        = transportpkg.WithExchange
	WithQueue           = transportpkg.WithQueue
	DeliveryFromContext = transportpkg.DeliveryFromContext

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	LoggingMiddleware       = runtimepkg.LoggingMiddleware
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	TracingMiddleware       = runtimepkg.TracingMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	HooksMiddleware         = runtimepkg.HooksMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewPortMetrics = runtimepkg.NewPortMetrics

	ContextWithCorrelationID = runtimepkg.ContextWithCorrelationID
	CorrelationIDFromContext = runtimepkg.CorrelationIDFromContext

	// Event constructors and helpers
	NewEvent          = ce.New
	NewEventWithID    = ce.NewWithID
	EncodeEvent       = ce.Encode
	DecodeEvent       = ce.Decode
	TenantID          = ce.TenantID
	WithTenantID      = ce.WithTenantID
	CorrelationID     = ce.CorrelationID
	WithCorrelationID = ce.WithCorrelationID
	EventVersion      = ce.EventVersion
	WithEventVersion  = ce.WithEventVersion
	CopyCorrelation   = ce.CopyCorrelation

	DefaultAdapterRegistry = transportpkg.DefaultRegistry
	RegisterAdapter        = transportpkg.Register
	GetCapabilities        = transportpkg.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrConfiguration    = errspkg.ErrConfiguration
	ErrConnection       = errspkg.ErrConnection
	ErrPublish          = errspkg.ErrPublish
	ErrSubscription     = errspkg.ErrSubscription
	ErrProcessing       = errspkg.ErrProcessing
	ErrMalformedMessage = errspkg.ErrMalformedMessage
	ErrNotConnected     = errspkg.ErrNotConnected
	ErrClosed           = errspkg.ErrClosed
	ErrConfigRequired   = errspkg.ErrConfigRequired
	ErrLoggerRequired   = errspkg.ErrLoggerRequired
	ErrHandlerRequired  = errspkg.ErrHandlerRequired
	ErrTopicRequired    = errspkg.ErrTopicRequired
	ErrNoTopics         = errspkg.ErrNoTopics
	ErrNoLiteralTopics  = errspkg.ErrNoLiteralTopics
	ErrDuplicateConsume = errspkg.ErrDuplicateConsume
	ErrServiceRequired  = errspkg.ErrServiceRequired

	ErrPayloadTypeRequired    = handlerpkg.ErrPayloadTypeRequired
	ErrPayloadPointerRequired = handlerpkg.ErrPayloadPointerRequired
	ErrOutputTargetRequired   = handlerpkg.ErrOutputTargetRequired

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.Nop

	CreateULID = idspkg.CreateULID
)

// Extension attribute names understood by the built-in middlewares.
const (
	ExtTenantID      = ce.ExtTenantID
	ExtCorrelationID = ce.ExtCorrelationID
	ExtTraceParent   = ce.ExtTraceParent
	ExtTraceState    = ce.ExtTraceState
	ExtEventVersion  = ce.ExtEventVersion
)

func RegisterJSONHandler[T any, O any](ctx context.Context, svc *Service, cfg JSONHandlerRegistration[T, O]) error {
	return runtimepkg.RegisterJSONHandler(ctx, svc, cfg)
}

// DataAs decodes the event payload into T.
func DataAs[T any](evt Event) (T, error) {
	return ce.DataAs[T](evt)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
