package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	ce "github.com/drblury/eventport/internal/runtime/cloudevents"
	configpkg "github.com/drblury/eventport/internal/runtime/config"
	"github.com/drblury/eventport/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
	"github.com/drblury/eventport/transport"
)

type subscribeOptions struct {
	patterns    []string
	queue       string
	exchange    string
	prefetch    int
	count       int
	metricsAddr string
}

func newSubscribeCmd(root *rootOptions) *cobra.Command {
	opts := &subscribeOptions{}

	cmd := &cobra.Command{
		Use:   "subscribe TOPIC...",
		Short: "Print events received on one or more topics",
		Long: "Print every received event as one JSON line until interrupted or " +
			"--count events arrived. --pattern filters the literal topics further.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := opts.subscription(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, logger, cleanup, err := root.service(ctx, func(cfg *configpkg.Config) {
				if opts.metricsAddr != "" {
					cfg.MetricsEnabled = true
				}
			})
			if err != nil {
				return err
			}
			defer cleanup()

			if opts.metricsAddr != "" {
				shutdown := serveMetrics(opts.metricsAddr, logger)
				defer shutdown()
			}

			printer := &eventPrinter{out: cmd.OutOrStdout(), limit: int64(opts.count), done: make(chan struct{})}
			if err := svc.ReceiveMessage(ctx, sub, printer.handle); err != nil {
				return err
			}
			logger.Info("Subscribed", loggingpkg.LogFields{"subscription": sub.String()})

			select {
			case <-ctx.Done():
			case <-printer.done:
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.patterns, "pattern", nil, "regular expression applied to received topics")
	f.StringVar(&opts.queue, "queue", "", "RabbitMQ queue or NATS queue group")
	f.StringVar(&opts.exchange, "exchange", "", "RabbitMQ exchange override")
	f.IntVar(&opts.prefetch, "prefetch", 0, "RabbitMQ prefetch count")
	f.IntVar(&opts.count, "count", 0, "exit after this many events (0 = run until interrupted)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func (o *subscribeOptions) subscription(topics []string) (transport.Subscription, error) {
	specs := transport.Topics(topics...)
	for _, expr := range o.patterns {
		spec, err := transport.Pattern(expr)
		if err != nil {
			return transport.Subscription{}, fmt.Errorf("invalid pattern %q: %w", expr, err)
		}
		specs = append(specs, spec)
	}
	sub := transport.Subscribe(specs...)
	sub.QueueName = o.queue
	sub.ExchangeName = o.exchange
	sub.PrefetchCount = o.prefetch
	return sub, sub.Validate()
}

// eventPrinter writes one JSON line per event and closes done after limit
// events when limit is positive.
type eventPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	seen  atomic.Int64
	limit int64
	done  chan struct{}
	once  sync.Once
}

func (p *eventPrinter) handle(_ context.Context, evt ce.Event) error {
	line, err := jsoncodec.Marshal(evt)
	if err != nil {
		return err
	}

	p.mu.Lock()
	_, err = fmt.Fprintln(p.out, string(line))
	p.mu.Unlock()
	if err != nil {
		return err
	}

	if p.limit > 0 && p.seen.Add(1) >= p.limit {
		p.once.Do(func() { close(p.done) })
	}
	return nil
}

func serveMetrics(addr string, logger loggingpkg.ServiceLogger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", err, loggingpkg.LogFields{"addr": addr})
		}
	}()
	logger.Info("Serving metrics", loggingpkg.LogFields{"addr": addr})

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
