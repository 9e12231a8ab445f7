// Package ctl implements the eventportctl commands.
package ctl

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	runtimepkg "github.com/drblury/eventport/internal/runtime"
	configpkg "github.com/drblury/eventport/internal/runtime/config"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	_ "github.com/drblury/eventport/transport/transports"
)

// Version is reported by --version.
var Version = "0.1.0"

// newService and newLogger are swapped by tests.
var newService = func(ctx context.Context, cfg *configpkg.Config, log loggingpkg.ServiceLogger) (*runtimepkg.Service, error) {
	return runtimepkg.TryNewService(ctx, cfg, log, runtimepkg.ServiceDependencies{})
}

var newLogger = func(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type rootOptions struct {
	v          *viper.Viper
	configFile string
	verbose    bool
}

// NewRootCmd builds the eventportctl command tree. Broker flags are bound to
// the same keys as the config file and the EVENTPORT_* environment.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "eventportctl",
		Short:         "Publish and consume events through eventport adapters",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "development logging at debug level")
	flags.String("adapter", "", "adapter kind: kafka, mqtt, rabbitmq, nats or channel")
	flags.StringSlice("kafka-brokers", nil, "Kafka bootstrap brokers")
	flags.String("kafka-consumer-group", "", "Kafka consumer group")
	flags.String("mqtt-url", "", "MQTT broker URL")
	flags.String("rabbitmq-url", "", "RabbitMQ URL")
	flags.String("rabbitmq-exchange", "", "RabbitMQ topic exchange")
	flags.String("nats-url", "", "NATS server URL")

	bindings := map[string]string{
		configpkg.KeyAdapter:            "adapter",
		configpkg.KeyKafkaBrokers:       "kafka-brokers",
		configpkg.KeyKafkaConsumerGroup: "kafka-consumer-group",
		configpkg.KeyMQTTURL:            "mqtt-url",
		configpkg.KeyRabbitMQURL:        "rabbitmq-url",
		configpkg.KeyRabbitMQExchange:   "rabbitmq-exchange",
		configpkg.KeyNATSURL:            "nats-url",
	}
	for key, flag := range bindings {
		_ = opts.v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(
		newPublishCmd(opts),
		newSubscribeCmd(opts),
		newAdaptersCmd(),
	)
	return cmd
}

// service loads the configuration and builds the facade. The returned
// cleanup closes the service and flushes the logger.
func (o *rootOptions) service(ctx context.Context, tweak func(*configpkg.Config)) (*runtimepkg.Service, loggingpkg.ServiceLogger, func(), error) {
	if o.configFile != "" {
		o.v.SetConfigFile(o.configFile)
		if err := o.v.ReadInConfig(); err != nil {
			return nil, nil, nil, fmt.Errorf("read config %s: %w", o.configFile, err)
		}
	}
	cfg, err := configpkg.Load(o.v)
	if err != nil {
		return nil, nil, nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}

	zl, err := newLogger(o.verbose)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}
	logger := loggingpkg.NewZapServiceLogger(zl)

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		_ = zl.Sync()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := svc.Close(); err != nil {
			logger.Error("Close failed", err, nil)
		}
		_ = zl.Sync()
	}
	return svc, logger, cleanup, nil
}
