// Package subscription keeps the local (topic specifier, handler) entries of
// an adapter and dispatches inbound events to every matching handler.
package subscription

import (
	"slices"
	"sync"

	"github.com/drblury/eventport/transport"
)

// LiteralMatcher decides whether a literal subscription topic selects an
// inbound topic. Brokers with wildcard filters supply their own; the default
// is string equality.
type LiteralMatcher func(filter, topic string) bool

// Exact is the default LiteralMatcher.
func Exact(filter, topic string) bool { return filter == topic }

// Entry pairs a descriptor with its handler.
type Entry struct {
	Subscription transport.Subscription
	Handler      transport.Handler
}

// Matches reports whether any specifier of the entry selects topic.
func (e Entry) Matches(topic string, literal LiteralMatcher) bool {
	for _, spec := range e.Subscription.Topics {
		if spec.IsPattern() {
			if spec.Matches(topic) {
				return true
			}
			continue
		}
		if literal(spec.Literal(), topic) {
			return true
		}
	}
	return false
}

// Table is the set of local subscriptions of one adapter. It is safe for
// concurrent use.
type Table struct {
	mu       sync.RWMutex
	match    LiteralMatcher
	entries  []Entry
	literals map[string]struct{}
}

// NewTable creates a table using match for literal specifiers; nil means
// Exact.
func NewTable(match LiteralMatcher) *Table {
	if match == nil {
		match = Exact
	}
	return &Table{match: match, literals: make(map[string]struct{})}
}

// Add registers an entry and returns the literal topics not seen before, in
// declaration order. Those are the ones the adapter still has to subscribe
// on the broker.
func (t *Table) Add(sub transport.Subscription, h transport.Handler) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, Entry{Subscription: sub, Handler: h})

	var fresh []string
	for _, lit := range sub.Literals() {
		if _, ok := t.literals[lit]; ok {
			continue
		}
		t.literals[lit] = struct{}{}
		fresh = append(fresh, lit)
	}
	return fresh
}

// Literals returns every registered literal topic, sorted.
func (t *Table) Literals() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.literals))
	for lit := range t.literals {
		out = append(out, lit)
	}
	slices.Sort(out)
	return out
}

// Match returns the handlers of every entry selecting topic, in
// registration order.
func (t *Table) Match(topic string) []transport.Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []transport.Handler
	for _, e := range t.entries {
		if e.Matches(topic, t.match) {
			out = append(out, e.Handler)
		}
	}
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Reset drops every entry.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.literals = make(map[string]struct{})
}
