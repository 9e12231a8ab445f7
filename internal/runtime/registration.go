package runtime

import (
	"context"

	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	handlerpkg "github.com/drblury/eventport/internal/runtime/handlers"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
)

// RegisterJSONHandler converts the typed JSON handler and subscribes it.
// Events it returns are sent through the Service, so they pass the same
// middlewares as any other send.
func RegisterJSONHandler[T any, O any](ctx context.Context, svc *Service, cfg handlerpkg.JSONHandlerRegistration[T, O]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	logger := svc.Logger
	if cfg.Name != "" {
		logger = logger.With(loggingpkg.LogFields{"handler": cfg.Name})
	}

	wrapped, err := handlerpkg.BuildJSONHandler(cfg.Handler, handlerpkg.JSONHandlerOptions{
		Logger:       logger,
		Sender:       svc,
		PublishTopic: cfg.PublishTopic,
		Source:       cfg.Source,
	})
	if err != nil {
		return err
	}

	return svc.ReceiveMessage(ctx, cfg.Subscription, wrapped)
}
