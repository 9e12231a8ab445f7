package ctl

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drblury/eventport/transport"
)

func newAdaptersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List the registered adapter kinds and their delivery guarantees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ADAPTER\tACK\tNACK\tORDERING\tWILDCARDS\tDURABLE")
			for _, name := range transport.DefaultRegistry.Names() {
				c := transport.DefaultRegistry.GetCapabilities(name)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", name,
					yesNo(c.SupportsAck), yesNo(c.SupportsNack), yesNo(c.SupportsOrdering),
					yesNo(c.SupportsWildcards), yesNo(c.SupportsDurableQueues))
			}
			return w.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
