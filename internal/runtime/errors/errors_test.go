package errors

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrNotConnected", ErrNotConnected, "eventport: adapter is not connected"},
		{"ErrClosed", ErrClosed, "eventport: adapter is closed"},
		{"ErrTopicRequired", ErrTopicRequired, "eventport: topic is required"},
		{"ErrNoTopics", ErrNoTopics, "eventport: subscription needs at least one topic"},
		{"ErrHandlerRequired", ErrHandlerRequired, "eventport: handler function is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigurationError(t *testing.T) {
	err := &ConfigurationError{Adapter: "kafka", Field: "brokers"}
	assert.Equal(t, "eventport: kafka config brokers is required", err.Error())
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.NotErrorIs(t, err, ErrConnection)

	generic := &ConfigurationError{Field: "adapter", Reason: "is unknown"}
	assert.Equal(t, "eventport: config adapter is unknown", generic.Error())
}

func TestWrappedErrorsMatchSentinelAndCause(t *testing.T) {
	cause := io.ErrUnexpectedEOF

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"connection", &ConnectionError{Adapter: "rabbitmq", Target: "amqp://host", Err: cause}, ErrConnection},
		{"publish", &PublishError{Adapter: "kafka", Topic: "scans.completed", Err: cause}, ErrPublish},
		{"subscription", &SubscriptionError{Adapter: "mqtt", Topics: []string{"a", "b"}, Err: cause}, ErrSubscription},
		{"processing", &ProcessingError{Topic: "scans.completed", EventID: "e1", Err: cause}, ErrProcessing},
		{"malformed", &MalformedMessageError{Topic: "scans.completed", Err: cause}, ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.ErrorIs(t, tt.err, cause)
			assert.Contains(t, tt.err.Error(), cause.Error())
		})
	}
}

func TestPublishErrorNamesTopic(t *testing.T) {
	err := &PublishError{Adapter: "kafka", Topic: "assets.discovered", Err: errors.New("leader not available")}
	assert.Contains(t, err.Error(), `"assets.discovered"`)

	var target *PublishError
	wrapped := errors.Join(errors.New("outer"), err)
	if assert.ErrorAs(t, wrapped, &target) {
		assert.Equal(t, "assets.discovered", target.Topic)
	}
}

func TestSubscriptionErrorListsTopics(t *testing.T) {
	err := &SubscriptionError{Adapter: "rabbitmq", Topics: []string{"secrets.found", "secrets.resolved"}, Err: ErrNoLiteralTopics}
	assert.Contains(t, err.Error(), "secrets.found,secrets.resolved")
	assert.ErrorIs(t, err, ErrNoLiteralTopics)
}
