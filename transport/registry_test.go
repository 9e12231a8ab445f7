package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventport/internal/runtime/cloudevents"
	"github.com/drblury/eventport/internal/runtime/config"
	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/internal/runtime/logging/logtest"
)

type stubPort struct {
	closed bool
}

func (s *stubPort) SendMessage(context.Context, string, cloudevents.Event, ...SendOption) error {
	return nil
}

func (s *stubPort) ReceiveMessage(context.Context, Subscription, Handler) error { return nil }

func (s *stubPort) Close() error {
	s.closed = true
	return nil
}

func stubBuilder(port Port) Builder {
	return func(context.Context, Config, loggingpkg.ServiceLogger) (Port, error) {
		return port, nil
	}
}

func TestNewRegistryIsEmpty(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.Names())
	assert.False(t, reg.Has("kafka"))
}

func TestRegistryRegisterIsCaseInsensitive(t *testing.T) {
	reg := NewRegistry()
	reg.Register(" Kafka ", stubBuilder(&stubPort{}))

	assert.True(t, reg.Has("kafka"))
	assert.True(t, reg.Has("KAFKA"))
	assert.Equal(t, []string{"kafka"}, reg.Names())
}

func TestRegistryNamesAreSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"rabbitmq", "kafka", "mqtt"} {
		reg.Register(name, stubBuilder(&stubPort{}))
	}
	assert.Equal(t, []string{"kafka", "mqtt", "rabbitmq"}, reg.Names())
}

func TestRegistryCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("rabbitmq", stubBuilder(&stubPort{}), RabbitMQCapabilities)

	caps := reg.GetCapabilities("rabbitmq")
	assert.True(t, caps.SupportsReliableDelivery())
	assert.True(t, caps.SupportsWildcards)

	unknown := reg.GetCapabilities("Unknown")
	assert.Equal(t, Capabilities{Name: "unknown"}, unknown)
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	port := &stubPort{}
	var gotCfg Config
	reg.Register("mqtt", func(_ context.Context, cfg Config, logger loggingpkg.ServiceLogger) (Port, error) {
		gotCfg = cfg
		logger.Info("built", nil)
		return port, nil
	})

	rec := logtest.New()
	cfg := &config.Config{Adapter: "mqtt", MQTTURL: "tcp://localhost:1883"}

	built, err := reg.Build(context.Background(), cfg, rec)
	require.NoError(t, err)
	assert.Same(t, port, built)
	assert.Same(t, cfg, gotCfg)

	entry, ok := rec.Find("info", "built")
	require.True(t, ok)
	assert.Equal(t, "mqtt", entry.Fields["adapter"])
}

func TestRegistryBuildRejectsUnknownKind(t *testing.T) {
	reg := NewRegistry()
	reg.Register("kafka", stubBuilder(&stubPort{}))

	_, err := reg.Build(context.Background(), &config.Config{Adapter: "pulsar"}, logtest.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrConfiguration)
	assert.Contains(t, err.Error(), `"pulsar" is not registered (registered: kafka)`)
}

func TestRegistryBuildRequiresConfigAndLogger(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Build(context.Background(), nil, logtest.New())
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = reg.Build(context.Background(), &config.Config{Adapter: "kafka"}, nil)
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestRegistryBuildPropagatesBuilderError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("dial failed")
	reg.Register("mqtt", func(context.Context, Config, loggingpkg.ServiceLogger) (Port, error) {
		return nil, boom
	})

	_, err := reg.Build(context.Background(), &config.Config{Adapter: "mqtt"}, logtest.New())
	assert.Same(t, boom, err)
}

func TestPredefinedCapabilities(t *testing.T) {
	assert.True(t, KafkaCapabilities.SupportsAck)
	assert.False(t, KafkaCapabilities.SupportsReliableDelivery())
	assert.True(t, MQTTCapabilities.RequiresConnect)
	assert.False(t, MQTTCapabilities.SupportsAck)
	assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
	assert.False(t, NATSCapabilities.SupportsDurableQueues)
	assert.Equal(t, "channel", ChannelCapabilities.Name)
}
