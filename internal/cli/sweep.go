package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep-sessions",
	Short: "Purge sessions that ended before the retention window",
	Run:   runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	cfg := setup()
	ctx := context.Background()
	app := openApp(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	n, err := app.SweepSessions(ctx)
	if err != nil {
		slog.Error("Failed to sweep sessions", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Purged %d sessions older than %s\n", n, cfg.Session.Retention)
}
