package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/sweepwatch/internal/infra/storage/postgres"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the monitor configuration and recent sweeps",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of sweeps to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("database.url is not set")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	mc, err := postgres.NewConfigRepo(db).Get(ctx)
	if err != nil {
		slog.Error("Failed to read monitor config", "error", err)
		os.Exit(1)
	}
	fmt.Printf("threshold_usd: %s (updated %s by %s)\n", mc.ThresholdUSD, mc.UpdatedAt.Format(time.RFC3339), mc.UpdatedBy)
	fmt.Printf("destinations:  evm=%q btc=%q tron=%q\n\n",
		mc.EVMDestinationAddress, mc.BTCDestinationAddress, mc.TronDestinationAddress)

	rows, err := db.QueryContext(ctx, `
		SELECT wallet_id, chain_family, asset, status, tx_hash, updated_at
		FROM sweep_records ORDER BY updated_at DESC LIMIT $1`, statusLimit)
	if err != nil {
		slog.Error("Failed to query sweeps", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "WALLET\tFAMILY\tASSET\tSTATUS\tTX\tUPDATED")

	for rows.Next() {
		var walletID, family, asset, status, txHash string
		var updatedAt time.Time
		if err := rows.Scan(&walletID, &family, &asset, &status, &txHash, &updatedAt); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			walletID, family, asset, status, txHash, updatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
