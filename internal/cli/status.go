package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of the store, Redis and the audit trail",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx := context.Background()
	app := openApp(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	report := app.Health(ctx)

	names := make([]string, 0, len(report.Components))
	for name := range report.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "COMPONENT\tSTATUS\tLATENCY_MS\tDETAIL")
	for _, name := range names {
		c := report.Components[name]
		detail := c.Error
		if c.Dropped > 0 {
			detail = fmt.Sprintf("%d audit entries dropped", c.Dropped)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, c.Status, c.LatencyMS, detail)
	}
	_ = w.Flush()
	fmt.Printf("\nsystem: %s\n", report.SystemStatus)
}
