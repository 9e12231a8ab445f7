// Package handlers adapts typed functions to transport.Handler.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	jsoncodec "github.com/drblury/eventport/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/transport"
)

var (
	ErrPayloadTypeRequired    = errors.New("eventport: payload type is required")
	ErrPayloadPointerRequired = errors.New("eventport: payload type must be a pointer")
	ErrOutputTargetRequired   = errors.New("eventport: handler emitted events but has no publish topic")
)

// Sender is the publishing half of a Port.
type Sender interface {
	SendMessage(ctx context.Context, topic string, evt cloudevents.Event, opts ...transport.SendOption) error
}

// JSONHandlerRegistration wires a typed JSON handler to a subscription.
type JSONHandlerRegistration[T any, O any] struct {
	Name         string
	Subscription transport.Subscription
	// PublishTopic receives the events the handler returns.
	PublishTopic string
	// Source is the source attribute of emitted events.
	Source  string
	Handler JSONMessageHandler[T, O]
}

// JSONMessageContext exposes the decoded payload and its envelope.
type JSONMessageContext[T any] struct {
	Payload T
	Event   cloudevents.Event
	Logger  loggingpkg.ServiceLogger
}

func (c JSONMessageContext[T]) TenantID() string      { return cloudevents.TenantID(c.Event) }
func (c JSONMessageContext[T]) CorrelationID() string { return cloudevents.CorrelationID(c.Event) }

// JSONMessageOutput is an event emitted by a JSON handler. Type defaults to
// the Go type name of Message.
type JSONMessageOutput[T any] struct {
	Type       string
	Subject    string
	Message    T
	Extensions map[string]any
}

// JSONMessageHandler processes a JSON payload and returns the events to
// publish.
type JSONMessageHandler[T any, O any] func(ctx context.Context, event JSONMessageContext[T]) ([]JSONMessageOutput[O], error)

// JSONHandlerOptions configures BuildJSONHandler. Sender and PublishTopic
// are only needed when the handler emits events.
type JSONHandlerOptions struct {
	Logger       loggingpkg.ServiceLogger
	Sender       Sender
	PublishTopic string
	Source       string
}

// BuildJSONHandler converts a typed JSON handler into a transport.Handler.
// T must be a pointer type. Emitted events inherit the tenant and
// correlation id of the incoming event.
func BuildJSONHandler[T any, O any](handler JSONMessageHandler[T, O], opts JSONHandlerOptions) (transport.Handler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if opts.Logger == nil {
		opts.Logger = loggingpkg.Nop()
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, evt cloudevents.Event) error {
		typed := prototypeFactory()
		if err := decodeData(evt, typed); err != nil {
			return &errspkg.MalformedMessageError{Err: fmt.Errorf("decode %s data: %w", evt.Type, err)}
		}

		outgoing, err := handler(ctx, JSONMessageContext[T]{
			Payload: typed,
			Event:   evt,
			Logger:  opts.Logger,
		})
		if err != nil {
			return err
		}
		if len(outgoing) == 0 {
			return nil
		}

		events, err := convertJSONOutputs(evt, outgoing, opts.Source)
		if err != nil {
			return err
		}
		if opts.Sender == nil || opts.PublishTopic == "" {
			return ErrOutputTargetRequired
		}
		for _, out := range events {
			if err := opts.Sender.SendMessage(ctx, opts.PublishTopic, out); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func decodeData(evt cloudevents.Event, target any) error {
	if evt.Data == nil {
		return errors.New("event has no data")
	}
	raw, err := jsoncodec.Marshal(evt.Data)
	if err != nil {
		return err
	}
	return jsoncodec.Unmarshal(raw, target)
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, ErrPayloadPointerRequired
	}
	elem := typ.Elem()
	return func() T {
		clone := reflect.New(elem).Interface()
		return clone.(T)
	}, nil
}

func convertJSONOutputs[T any](in cloudevents.Event, outputs []JSONMessageOutput[T], source string) ([]cloudevents.Event, error) {
	if source == "" {
		source = in.Source
	}

	result := make([]cloudevents.Event, len(outputs))
	for i, out := range outputs {
		if reflect.ValueOf(&out.Message).Elem().IsZero() {
			return nil, errors.New("json handler emitted zero-value message")
		}

		eventType := out.Type
		if eventType == "" {
			eventType = typeName(out.Message)
		}

		evt := cloudevents.New(eventType, source, out.Message).
			WithSubject(out.Subject).
			MergeExtensions(out.Extensions)
		result[i] = cloudevents.CopyCorrelation(in, evt)
	}
	return result, nil
}

func typeName(v any) string {
	typ := reflect.TypeOf(v)
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	return typ.Name()
}
