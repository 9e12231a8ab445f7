// Package cloudevents defines the transport-agnostic event envelope exchanged
// by every adapter. It follows the CloudEvents v1.0 attribute names; the JSON
// form is identical on Kafka, MQTT, RabbitMQ and the other transports.
package cloudevents

import (
	"fmt"
	"maps"
	"time"

	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	idspkg "github.com/drblury/eventport/internal/runtime/ids"
	"github.com/drblury/eventport/internal/runtime/jsoncodec"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// Event is the envelope carried on the wire. It is plain data: the With*
// helpers return modified copies and never touch the receiver.
type Event struct {
	// SpecVersion is always "1.0".
	SpecVersion string

	// ID is assigned by the producer and expected to be unique per logical event.
	ID string

	// Source identifies the producing service, e.g. "svc/scanner".
	Source string

	// Type describes the occurrence, e.g. "ScanCompleted" or "secrets.found.v2".
	Type string

	// Time is when the occurrence happened.
	Time time.Time

	// Subject optionally narrows the event within the source (a repository,
	// an asset id, ...). Empty means absent.
	Subject string

	// DataContentType is optional; adapters always send JSON bodies.
	DataContentType string

	// Data is the payload. After decoding it holds generic JSON values
	// (map[string]any, []any, float64, ...); use DataAs for a typed view.
	Data any

	// Extensions holds additional attributes such as tenant or trace context.
	Extensions map[string]any
}

// wireEvent is the JSON shape of Event. Extensions stay nested under
// "extensions", which is what the existing producers emit.
type wireEvent struct {
	SpecVersion     string         `json:"specversion"`
	ID              string         `json:"id"`
	Source          string         `json:"source"`
	Type            string         `json:"type"`
	Time            string         `json:"time,omitempty"`
	Subject         string         `json:"subject,omitempty"`
	DataContentType string         `json:"datacontenttype,omitempty"`
	Data            any            `json:"data,omitempty"`
	Extensions      map[string]any `json:"extensions,omitempty"`
}

var knownAttributes = map[string]struct{}{
	"specversion":     {},
	"id":              {},
	"source":          {},
	"type":            {},
	"time":            {},
	"subject":         {},
	"datacontenttype": {},
	"data":            {},
	"extensions":      {},
}

// New creates an event with a ULID id and the current UTC time.
func New(eventType, source string, data any) Event {
	return Event{
		SpecVersion: SpecVersion,
		ID:          idspkg.CreateULID(),
		Source:      source,
		Type:        eventType,
		Time:        Now(),
		Data:        data,
	}
}

// NewWithID creates an event with a caller-supplied id.
func NewWithID(id, eventType, source string, data any) Event {
	evt := New(eventType, source, data)
	evt.ID = id
	return evt
}

// WithSubject returns a copy with the subject set.
func (e Event) WithSubject(subject string) Event {
	e.Subject = subject
	return e
}

// WithExtension returns a copy carrying the extension attribute.
func (e Event) WithExtension(key string, value any) Event {
	e = e.Clone()
	if e.Extensions == nil {
		e.Extensions = make(map[string]any, 1)
	}
	e.Extensions[key] = value
	return e
}

// Extension returns the extension value and whether it was present.
func (e Event) Extension(key string) (any, bool) {
	v, ok := e.Extensions[key]
	return v, ok
}

// ExtensionString returns the extension rendered as a string, or "".
func (e Event) ExtensionString(key string) string {
	v, ok := e.Extensions[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Validate checks the required attributes.
func (e Event) Validate() error {
	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("specversion must be %q, got %q", SpecVersion, e.SpecVersion)
	}
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Source == "" {
		return fmt.Errorf("source is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	return nil
}

// Clone returns a copy whose extension map (including nested maps and
// slices) can be mutated without affecting the original. Data is copied by
// reference.
func (e Event) Clone() Event {
	if e.Extensions != nil {
		e.Extensions = cloneMap(e.Extensions)
	}
	return e
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// MarshalJSON encodes the event in its wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		SpecVersion:     e.SpecVersion,
		ID:              e.ID,
		Source:          e.Source,
		Type:            e.Type,
		Time:            FormatTime(e.Time),
		Subject:         e.Subject,
		DataContentType: e.DataContentType,
		Data:            e.Data,
	}
	if len(e.Extensions) > 0 {
		w.Extensions = e.Extensions
	}
	return jsoncodec.Marshal(w)
}

// UnmarshalJSON decodes the wire form. Unknown top-level attributes, as sent
// by producers using flattened CloudEvents extensions, end up in Extensions.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return err
	}

	var raw map[string]any
	if err := jsoncodec.Unmarshal(data, &raw); err != nil {
		return err
	}

	decoded := Event{
		SpecVersion:     w.SpecVersion,
		ID:              w.ID,
		Source:          w.Source,
		Type:            w.Type,
		Subject:         w.Subject,
		DataContentType: w.DataContentType,
		Data:            w.Data,
		Extensions:      w.Extensions,
	}
	if w.Time != "" {
		t, err := ParseTime(w.Time)
		if err != nil {
			return fmt.Errorf("invalid time: %w", err)
		}
		decoded.Time = t.UTC()
	}

	for k, v := range raw {
		if _, known := knownAttributes[k]; known {
			continue
		}
		if decoded.Extensions == nil {
			decoded.Extensions = make(map[string]any)
		}
		if _, exists := decoded.Extensions[k]; !exists {
			decoded.Extensions[k] = v
		}
	}

	*e = decoded
	return nil
}

// Encode serializes the event for publishing.
func Encode(evt Event) ([]byte, error) {
	return jsoncodec.Marshal(evt)
}

// Decode parses an inbound body. Any failure is a MalformedMessageError.
func Decode(body []byte) (Event, error) {
	var evt Event
	if err := jsoncodec.Unmarshal(body, &evt); err != nil {
		return Event{}, &errspkg.MalformedMessageError{Err: err}
	}
	return evt, nil
}

// DataAs converts the payload into T. When Data already holds a T it is
// returned as is; otherwise it is re-encoded and decoded into T.
func DataAs[T any](evt Event) (T, error) {
	var out T
	if typed, ok := evt.Data.(T); ok {
		return typed, nil
	}
	if evt.Data == nil {
		return out, nil
	}
	raw, err := jsoncodec.Marshal(evt.Data)
	if err != nil {
		return out, fmt.Errorf("encode data: %w", err)
	}
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode data into %T: %w", out, err)
	}
	return out, nil
}

// MergeExtensions returns a copy with every entry of ext applied on top of
// the existing extensions.
func (e Event) MergeExtensions(ext map[string]any) Event {
	if len(ext) == 0 {
		return e
	}
	e = e.Clone()
	if e.Extensions == nil {
		e.Extensions = make(map[string]any, len(ext))
	}
	maps.Copy(e.Extensions, ext)
	return e
}
