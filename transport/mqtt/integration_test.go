//go:build integration

package mqtt

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	idspkg "github.com/drblury/eventport/internal/runtime/ids"
	"github.com/drblury/eventport/internal/runtime/logging/logtest"
	"github.com/drblury/eventport/transport"
)

func integrationSettings(t *testing.T) Settings {
	t.Helper()
	url := os.Getenv("EVENTPORT_TEST_MQTT_URL")
	if url == "" {
		t.Skip("EVENTPORT_TEST_MQTT_URL not set")
	}
	return Settings{URL: url, CleanSession: true}
}

func TestIntegrationWildcardRoundTrip(t *testing.T) {
	settings := integrationSettings(t)
	prefix := "eventport/it/" + strings.ToLower(idspkg.CreateULID())

	adapter := New(settings, logtest.New())
	t.Cleanup(func() { _ = adapter.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	received := make(chan cloudevents.Event, 1)
	require.NoError(t, adapter.ReceiveMessage(ctx, transport.Subscribe(transport.Topic(prefix+"/+")), func(_ context.Context, evt cloudevents.Event) error {
		received <- evt
		return nil
	}))

	sent := cloudevents.New("sensor.reading", "it", map[string]any{"celsius": 21.5})
	require.NoError(t, adapter.SendMessage(ctx, prefix+"/kitchen", sent))

	select {
	case got := <-received:
		require.Equal(t, sent.ID, got.ID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestIntegrationMessagesBeforeSubscribeAreLost(t *testing.T) {
	settings := integrationSettings(t)
	topic := "eventport/it/" + strings.ToLower(idspkg.CreateULID())

	adapter := New(settings, logtest.New())
	t.Cleanup(func() { _ = adapter.Close() })

	ctx := context.Background()
	require.NoError(t, adapter.SendMessage(ctx, topic, cloudevents.New("sensor.reading", "it", nil)))

	received := make(chan struct{}, 1)
	require.NoError(t, adapter.ReceiveMessage(ctx, transport.Subscribe(transport.Topic(topic)), func(context.Context, cloudevents.Event) error {
		received <- struct{}{}
		return nil
	}))

	select {
	case <-received:
		t.Fatal("message published before the subscription was delivered")
	case <-time.After(2 * time.Second):
	}
}
