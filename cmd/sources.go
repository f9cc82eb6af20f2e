package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/bytewatch/internal/source"
	"github.com/JakeFAU/bytewatch/internal/stream"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the configured sources without starting a browser",
		Args:  cobra.NoArgs,

		// Listing needs only the source table, not resolver credentials.
		Annotations: map[string]string{annotationConfig: configUnchecked},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			reg, err := source.New(cfg.Sources)
			if err != nil {
				return fmt.Errorf("source registry: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLABEL\tMOVIE\tSERIES\tSTEPS")
			for _, d := range reg.Descriptors() {
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\n",
					d.Name, d.Label, d.Supports(stream.KindMovie), d.Supports(stream.KindSeries), len(d.Script))
			}
			return w.Flush()
		},
	}
}
