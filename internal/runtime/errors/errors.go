// Package errors holds the error taxonomy shared by the facade and every
// adapter. Sentinels are meant for errors.Is checks; the typed errors carry
// the adapter and topic that failed.
package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration    = sterrors.New("eventport: invalid configuration")
	ErrConnection       = sterrors.New("eventport: broker connection failed")
	ErrPublish          = sterrors.New("eventport: publish failed")
	ErrSubscription     = sterrors.New("eventport: subscription failed")
	ErrProcessing       = sterrors.New("eventport: handler failed")
	ErrMalformedMessage = sterrors.New("eventport: malformed message")

	ErrNotConnected     = sterrors.New("eventport: adapter is not connected")
	ErrClosed           = sterrors.New("eventport: adapter is closed")
	ErrConfigRequired   = sterrors.New("eventport: configuration is required")
	ErrLoggerRequired   = sterrors.New("eventport: logger is required")
	ErrHandlerRequired  = sterrors.New("eventport: handler function is required")
	ErrTopicRequired    = sterrors.New("eventport: topic is required")
	ErrNoTopics         = sterrors.New("eventport: subscription needs at least one topic")
	ErrNoLiteralTopics  = sterrors.New("eventport: subscription needs at least one literal topic")
	ErrDuplicateConsume = sterrors.New("eventport: subscription is already registered")
	ErrServiceRequired  = sterrors.New("eventport: service is required")
)

// ConfigurationError reports a missing or invalid setting for an adapter kind.
type ConfigurationError struct {
	Adapter string
	Field   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is required"
	}
	if e.Adapter == "" {
		return fmt.Sprintf("eventport: config %s %s", e.Field, reason)
	}
	return fmt.Sprintf("eventport: %s config %s %s", e.Adapter, e.Field, reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ConnectionError wraps a failure to reach the broker.
type ConnectionError struct {
	Adapter string
	Target  string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("eventport: %s connect to %s: %v", e.Adapter, e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// PublishError is returned by SendMessage. It names the topic so callers can
// apply their own retry policy; nothing is retried here.
type PublishError struct {
	Adapter string
	Topic   string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("eventport: %s publish to %q: %v", e.Adapter, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool {
	return target == ErrPublish
}

// SubscriptionError is returned by ReceiveMessage when the consumer could not
// be set up.
type SubscriptionError struct {
	Adapter string
	Topics  []string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("eventport: %s subscribe to [%s]: %v", e.Adapter, strings.Join(e.Topics, ","), e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

func (e *SubscriptionError) Is(target error) bool {
	return target == ErrSubscription
}

// ProcessingError records a handler failure for one inbound event. It is
// logged by the adapters, never returned to producers.
type ProcessingError struct {
	Topic   string
	EventID string
	Err     error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("eventport: handling event %q from %q: %v", e.EventID, e.Topic, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Is(target error) bool {
	return target == ErrProcessing
}

// MalformedMessageError is produced when an inbound body is not a valid
// envelope.
type MalformedMessageError struct {
	Topic string
	Err   error
}

func (e *MalformedMessageError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("eventport: malformed message: %v", e.Err)
	}
	return fmt.Sprintf("eventport: malformed message on %q: %v", e.Topic, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

func (e *MalformedMessageError) Is(target error) bool {
	return target == ErrMalformedMessage
}
