package ctl

import (
	"fmt"

	"github.com/spf13/cobra"

	ce "github.com/drblury/eventport/internal/runtime/cloudevents"
	"github.com/drblury/eventport/internal/runtime/jsoncodec"
	"github.com/drblury/eventport/transport"
)

type publishOptions struct {
	eventType string
	source    string
	subject   string
	data      string
	tenantID  string
	exchange  string
	queue     string
}

func newPublishCmd(root *rootOptions) *cobra.Command {
	opts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish TOPIC",
		Short: "Send one event to a topic",
		Long: "Send one event to a topic. --data is decoded as JSON when it parses, " +
			"otherwise it is sent as a string.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := root.service(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer cleanup()

			evt := ce.New(opts.eventType, opts.source, decodeData(opts.data))
			if opts.subject != "" {
				evt = evt.WithSubject(opts.subject)
			}
			if opts.tenantID != "" {
				evt = ce.WithTenantID(evt, opts.tenantID)
			}

			var sendOpts []transport.SendOption
			if opts.exchange != "" {
				sendOpts = append(sendOpts, transport.WithExchange(opts.exchange))
			}
			if opts.queue != "" {
				sendOpts = append(sendOpts, transport.WithQueue(opts.queue))
			}

			if err := svc.SendMessage(cmd.Context(), args[0], evt, sendOpts...); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", evt.ID, args[0])
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.eventType, "type", "eventportctl.message", "event type")
	f.StringVar(&opts.source, "source", "eventportctl", "event source")
	f.StringVar(&opts.subject, "subject", "", "event subject")
	f.StringVar(&opts.data, "data", "", "event data, JSON or plain text")
	f.StringVar(&opts.tenantID, "tenant", "", "tenantid extension")
	f.StringVar(&opts.exchange, "exchange", "", "RabbitMQ exchange override")
	f.StringVar(&opts.queue, "queue", "", "RabbitMQ queue to declare and bind before publishing")
	return cmd
}

func decodeData(raw string) any {
	if raw == "" {
		return nil
	}
	var data any
	if err := jsoncodec.Unmarshal([]byte(raw), &data); err != nil {
		return raw
	}
	return data
}
