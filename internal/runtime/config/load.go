package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix read by Load, e.g.
// EVENTPORT_KAFKA_BROKERS or EVENTPORT_RABBITMQ_URL.
const EnvPrefix = "EVENTPORT"

// Viper keys read by Load.
const (
	KeyAdapter               = "adapter"
	KeyKafkaBrokers          = "kafka.brokers"
	KeyKafkaClientID         = "kafka.client_id"
	KeyKafkaConsumerGroup    = "kafka.consumer_group"
	KeyMQTTURL               = "mqtt.url"
	KeyMQTTClientID          = "mqtt.client_id"
	KeyMQTTUsername          = "mqtt.username"
	KeyMQTTPassword          = "mqtt.password"
	KeyMQTTCleanSession      = "mqtt.clean_session"
	KeyMQTTKeepAlive         = "mqtt.keep_alive"
	KeyMQTTConnectTimeout    = "mqtt.connect_timeout"
	KeyRabbitMQURL           = "rabbitmq.url"
	KeyRabbitMQExchange      = "rabbitmq.exchange"
	KeyRabbitMQQueue         = "rabbitmq.queue"
	KeyRabbitMQPrefetchCount = "rabbitmq.prefetch_count"
	KeyNATSURL               = "nats.url"
	KeyNATSQueueGroup        = "nats.queue_group"
	KeyMetricsEnabled        = "metrics.enabled"
	KeyTracingEnabled        = "tracing.enabled"
)

// SetDefaults registers every key with its default so that environment
// variables are picked up even when no config file mentions the key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAdapter, "")
	v.SetDefault(KeyKafkaBrokers, []string{})
	v.SetDefault(KeyKafkaClientID, "eventport")
	v.SetDefault(KeyKafkaConsumerGroup, "")
	v.SetDefault(KeyMQTTURL, "")
	v.SetDefault(KeyMQTTClientID, "")
	v.SetDefault(KeyMQTTUsername, "")
	v.SetDefault(KeyMQTTPassword, "")
	v.SetDefault(KeyMQTTCleanSession, true)
	v.SetDefault(KeyMQTTKeepAlive, DefaultMQTTKeepAlive)
	v.SetDefault(KeyMQTTConnectTimeout, DefaultMQTTConnectTimeout)
	v.SetDefault(KeyRabbitMQURL, "")
	v.SetDefault(KeyRabbitMQExchange, "")
	v.SetDefault(KeyRabbitMQQueue, "")
	v.SetDefault(KeyRabbitMQPrefetchCount, DefaultRabbitMQPrefetchCount)
	v.SetDefault(KeyNATSURL, "")
	v.SetDefault(KeyNATSQueueGroup, "")
	v.SetDefault(KeyMetricsEnabled, false)
	v.SetDefault(KeyTracingEnabled, false)
}

// Load builds a Config from v, which may already hold a config file and
// bound flags. Environment variables use EnvPrefix with dots replaced by
// underscores. List values given as a single string are split on commas.
// The result is validated.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	cfg := &Config{
		Adapter:               v.GetString(KeyAdapter),
		KafkaBrokers:          stringList(v.Get(KeyKafkaBrokers)),
		KafkaClientID:         v.GetString(KeyKafkaClientID),
		KafkaConsumerGroup:    v.GetString(KeyKafkaConsumerGroup),
		MQTTURL:               v.GetString(KeyMQTTURL),
		MQTTClientID:          v.GetString(KeyMQTTClientID),
		MQTTUsername:          v.GetString(KeyMQTTUsername),
		MQTTPassword:          v.GetString(KeyMQTTPassword),
		MQTTCleanSession:      v.GetBool(KeyMQTTCleanSession),
		MQTTKeepAlive:         v.GetDuration(KeyMQTTKeepAlive),
		MQTTConnectTimeout:    v.GetDuration(KeyMQTTConnectTimeout),
		RabbitMQURL:           v.GetString(KeyRabbitMQURL),
		RabbitMQExchange:      v.GetString(KeyRabbitMQExchange),
		RabbitMQQueue:         v.GetString(KeyRabbitMQQueue),
		RabbitMQPrefetchCount: v.GetInt(KeyRabbitMQPrefetchCount),
		NATSURL:               v.GetString(KeyNATSURL),
		NATSQueueGroup:        v.GetString(KeyNATSQueueGroup),
		MetricsEnabled:        v.GetBool(KeyMetricsEnabled),
		TracingEnabled:        v.GetBool(KeyTracingEnabled),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func stringList(raw any) []string {
	var parts []string
	switch t := raw.(type) {
	case string:
		parts = strings.Split(t, ",")
	case []string:
		parts = t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
	}
	return nonEmpty(parts)
}
