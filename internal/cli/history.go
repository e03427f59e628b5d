package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vietddude/watchledger/internal/ledger"
)

var (
	historyToken  string
	historyLimit  int
	historyCursor string
	historySince  time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history [watch_address_id]",
	Short: "Print the balance history of a watch address, newest first",
	Args:  cobra.ExactArgs(1),
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyToken, "token", "", "token contract address (native asset when empty)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "rows per page")
	historyCmd.Flags().StringVar(&historyCursor, "cursor", "", "page cursor returned by a previous call")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only rows recorded within this window")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	watchID, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Printf("Invalid watch address id: %v\n", err)
		os.Exit(1)
	}

	cfg := setup()
	ctx := context.Background()
	app := openApp(ctx, cfg)
	defer func() {
		_ = app.Stop(ctx)
	}()

	req := ledger.HistoryRequest{
		WatchAddressID: watchID,
		Limit:          historyLimit,
		Cursor:         historyCursor,
	}
	if historyToken != "" {
		req.TokenAddress = &historyToken
	}
	if historySince > 0 {
		since := time.Now().Add(-historySince)
		req.Since = &since
	}

	page, err := app.Ledger.History(ctx, req)
	if err != nil {
		slog.Error("Failed to read history", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tBALANCE\tBLOCK\tLATE\tRECORDED")
	for _, row := range page.Rows {
		block := "-"
		if row.BlockNumber != nil {
			block = fmt.Sprint(*row.BlockNumber)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", row.ID, row.Balance, block, row.Late, row.RecordedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
	if page.NextCursor != "" {
		fmt.Printf("\nnext cursor: %s\n", page.NextCursor)
	}
}
