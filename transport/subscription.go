package transport

import (
	"slices"
	"strings"

	errspkg "github.com/drblury/eventport/internal/runtime/errors"
)

// Subscription describes what a consumer wants to receive.
type Subscription struct {
	// Topics holds at least one literal or pattern specifier.
	Topics []TopicSpec

	// ExchangeName overrides the configured exchange (RabbitMQ only).
	ExchangeName string

	// QueueName names a durable, shared queue (RabbitMQ) or a queue group
	// (NATS). Empty means a private, server-named queue.
	QueueName string

	// PrefetchCount bounds unacknowledged deliveries (RabbitMQ). Zero uses
	// the configured default.
	PrefetchCount int
}

// Subscribe builds a descriptor for the given specifiers.
func Subscribe(topics ...TopicSpec) Subscription {
	return Subscription{Topics: topics}
}

// Validate checks the descriptor invariants: at least one specifier and no
// empty ones.
func (s Subscription) Validate() error {
	if len(s.Topics) == 0 {
		return errspkg.ErrNoTopics
	}
	for _, t := range s.Topics {
		if !t.valid() {
			return errspkg.ErrTopicRequired
		}
	}
	if s.PrefetchCount < 0 {
		return &errspkg.ConfigurationError{Field: "prefetch count", Reason: "cannot be negative"}
	}
	return nil
}

// Literals returns the literal topic names in declaration order, without
// duplicates.
func (s Subscription) Literals() []string {
	out := make([]string, 0, len(s.Topics))
	for _, t := range s.Topics {
		if t.IsPattern() || t.literal == "" || slices.Contains(out, t.literal) {
			continue
		}
		out = append(out, t.literal)
	}
	return out
}

// Patterns returns the pattern specifiers.
func (s Subscription) Patterns() []TopicSpec {
	var out []TopicSpec
	for _, t := range s.Topics {
		if t.IsPattern() {
			out = append(out, t)
		}
	}
	return out
}

// Key is the canonical form of the topic list: the sorted, de-duplicated
// specifier strings joined with commas. Two descriptors naming the same
// topics in a different order share a key.
func (s Subscription) Key() string {
	parts := make([]string, 0, len(s.Topics))
	for _, t := range s.Topics {
		parts = append(parts, t.String())
	}
	slices.Sort(parts)
	return strings.Join(slices.Compact(parts), ",")
}

// String returns a readable form for logs.
func (s Subscription) String() string {
	return "[" + s.Key() + "]"
}
