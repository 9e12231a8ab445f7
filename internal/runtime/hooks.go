package runtime

import (
	"context"
	"time"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/transport"
)

// HandleContext describes one handler invocation.
type HandleContext struct {
	// Adapter is the adapter kind that delivered the event.
	Adapter string
	// Topic is the topic the event arrived on.
	Topic string
	// Event is the decoded envelope.
	Event cloudevents.Event
	// Delivery holds the broker details, when the adapter supplies them.
	Delivery transport.Delivery
	// Context is the handler context.
	Context context.Context
	// StartedAt is when the handler was invoked.
	StartedAt time.Time
	// Duration is how long the handler took (only set in OnHandleDone and
	// OnHandleError).
	Duration time.Duration
}

// HandleHooks defines callbacks around handler calls. Nil hooks are
// skipped.
type HandleHooks struct {
	OnHandleStart func(ctx HandleContext)
	OnHandleDone  func(ctx HandleContext)
	OnHandleError func(ctx HandleContext, err error)
}

// Merge combines two HandleHooks. The hooks from other run after the hooks
// from h.
func (h HandleHooks) Merge(other HandleHooks) HandleHooks {
	return HandleHooks{
		OnHandleStart: chainHooks(h.OnHandleStart, other.OnHandleStart),
		OnHandleDone:  chainHooks(h.OnHandleDone, other.OnHandleDone),
		OnHandleError: chainErrorHooks(h.OnHandleError, other.OnHandleError),
	}
}

func chainHooks(a, b func(HandleContext)) func(HandleContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HandleContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(HandleContext, error)) func(HandleContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HandleContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

type hooksPort struct {
	transport.Port
	adapter string
	hooks   HandleHooks
}

func (p *hooksPort) ReceiveMessage(ctx context.Context, sub transport.Subscription, handler transport.Handler) error {
	return p.Port.ReceiveMessage(ctx, sub, wrapHandler(handler, func(h transport.Handler) transport.Handler {
		return func(ctx context.Context, evt cloudevents.Event) error {
			delivery, _ := transport.DeliveryFromContext(ctx)
			hc := HandleContext{
				Adapter:   p.adapter,
				Topic:     deliveryTopic(ctx),
				Event:     evt,
				Delivery:  delivery,
				Context:   ctx,
				StartedAt: time.Now(),
			}

			if p.hooks.OnHandleStart != nil {
				p.hooks.OnHandleStart(hc)
			}

			err := h(ctx, evt)
			hc.Duration = time.Since(hc.StartedAt)

			if err != nil {
				if p.hooks.OnHandleError != nil {
					p.hooks.OnHandleError(hc, err)
				}
			} else if p.hooks.OnHandleDone != nil {
				p.hooks.OnHandleDone(hc)
			}
			return err
		}
	}))
}

// LoggingHooks returns hooks that log handler calls.
func LoggingHooks(logger loggingpkg.ServiceLogger) HandleHooks {
	return HandleHooks{
		OnHandleStart: func(ctx HandleContext) {
			logger.Info("Handler started", loggingpkg.LogFields{
				"topic":    ctx.Topic,
				"event_id": ctx.Event.ID,
			})
		},
		OnHandleDone: func(ctx HandleContext) {
			logger.Info("Handler completed", loggingpkg.LogFields{
				"topic":       ctx.Topic,
				"event_id":    ctx.Event.ID,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnHandleError: func(ctx HandleContext, err error) {
			logger.Error("Handler failed", err, loggingpkg.LogFields{
				"topic":       ctx.Topic,
				"event_id":    ctx.Event.ID,
				"duration_ms": ctx.Duration.Milliseconds(),
				"redelivered": ctx.Delivery.Redelivered,
			})
		},
	}
}

// AlertingHooks returns hooks that call alertFunc on handler errors.
func AlertingHooks(alertFunc func(ctx HandleContext, err error)) HandleHooks {
	return HandleHooks{
		OnHandleError: alertFunc,
	}
}
