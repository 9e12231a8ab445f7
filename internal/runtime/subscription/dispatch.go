package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	"github.com/drblury/eventport/transport"
)

// Dispatch invokes every handler in order with its own copy of evt. It
// returns nil only if all of them succeeded; failures (including recovered
// panics) are wrapped in ProcessingError and joined.
func Dispatch(ctx context.Context, topic string, handlers []transport.Handler, evt cloudevents.Event) error {
	var errs []error
	for _, h := range handlers {
		if err := invoke(ctx, h, evt.Clone()); err != nil {
			errs = append(errs, &errspkg.ProcessingError{Topic: topic, EventID: evt.ID, Err: err})
		}
	}
	return errors.Join(errs...)
}

func invoke(ctx context.Context, h transport.Handler, evt cloudevents.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, evt)
}

// Outcome classifies how an inbound message was handled.
type Outcome int

const (
	// Unmatched means no local entry selected the topic.
	Unmatched Outcome = iota
	// Malformed means the body was not a valid envelope.
	Malformed
	// Failed means at least one handler returned an error or panicked.
	Failed
	// Handled means every matching handler succeeded.
	Handled
)

func (o Outcome) String() string {
	switch o {
	case Unmatched:
		return "unmatched"
	case Malformed:
		return "malformed"
	case Failed:
		return "failed"
	case Handled:
		return "handled"
	default:
		return "unknown"
	}
}

// Handle matches topic against the table, decodes body and dispatches. The
// adapter turns the outcome into its broker's acknowledgement.
func Handle(ctx context.Context, table *Table, topic string, body []byte) (Outcome, error) {
	handlers := table.Match(topic)
	if len(handlers) == 0 {
		return Unmatched, nil
	}

	evt, err := cloudevents.Decode(body)
	if err != nil {
		var malformed *errspkg.MalformedMessageError
		if errors.As(err, &malformed) {
			malformed.Topic = topic
		}
		return Malformed, err
	}

	if err := Dispatch(ctx, topic, handlers, evt); err != nil {
		return Failed, err
	}
	return Handled, nil
}
