package transport

import (
	"fmt"
	"regexp"
)

// TopicSpec is one entry of a subscription: either a literal topic name or
// a regular expression. Literals are handed to the broker; patterns only
// filter locally among topics the adapter already receives.
type TopicSpec struct {
	literal string
	pattern *regexp.Regexp
}

// Topic returns a literal specifier.
func Topic(name string) TopicSpec {
	return TopicSpec{literal: name}
}

// Pattern compiles expr into a pattern specifier.
func Pattern(expr string) (TopicSpec, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return TopicSpec{}, fmt.Errorf("topic pattern %q: %w", expr, err)
	}
	return TopicSpec{pattern: re}, nil
}

// MustPattern is like Pattern but panics on an invalid expression.
func MustPattern(expr string) TopicSpec {
	spec, err := Pattern(expr)
	if err != nil {
		panic(err)
	}
	return spec
}

// PatternOf wraps an already compiled expression.
func PatternOf(re *regexp.Regexp) TopicSpec {
	return TopicSpec{pattern: re}
}

// Topics is a shorthand for a list of literal specifiers.
func Topics(names ...string) []TopicSpec {
	specs := make([]TopicSpec, len(names))
	for i, name := range names {
		specs[i] = Topic(name)
	}
	return specs
}

func (t TopicSpec) IsPattern() bool { return t.pattern != nil }

// Literal returns the topic name; "" for patterns.
func (t TopicSpec) Literal() string { return t.literal }

// Regexp returns the compiled pattern; nil for literals.
func (t TopicSpec) Regexp() *regexp.Regexp { return t.pattern }

// String renders literals as is and patterns as /expr/.
func (t TopicSpec) String() string {
	if t.pattern != nil {
		return "/" + t.pattern.String() + "/"
	}
	return t.literal
}

// Matches reports whether topic is selected by this specifier. Literals
// compare for equality; adapters with broker wildcards use their own
// literal matcher instead.
func (t TopicSpec) Matches(topic string) bool {
	if t.pattern != nil {
		return t.pattern.MatchString(topic)
	}
	return t.literal == topic
}

func (t TopicSpec) valid() bool {
	return t.pattern != nil || t.literal != ""
}
