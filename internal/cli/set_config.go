package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vietddude/sweepwatch/internal/infra/storage/postgres"
)

var (
	setThreshold string
	setEVMDest   string
	setBTCDest   string
	setTronDest  string
	setBy        string
)

var setConfigCmd = &cobra.Command{
	Use:   "set-config",
	Short: "Update the persisted threshold or sweep destinations",
	Long:  `Only the given flags are changed. Running monitors pick the change up at their next cycle.`,
	Run:   runSetConfig,
}

func init() {
	f := setConfigCmd.Flags()
	f.StringVar(&setThreshold, "threshold-usd", "", "USD threshold")
	f.StringVar(&setEVMDest, "evm-destination", "", "EVM sweep destination")
	f.StringVar(&setBTCDest, "btc-destination", "", "Bitcoin sweep destination")
	f.StringVar(&setTronDest, "tron-destination", "", "Tron sweep destination")
	f.StringVar(&setBy, "by", "cli", "operator recorded as updated_by")
	rootCmd.AddCommand(setConfigCmd)
}

func runSetConfig(cmd *cobra.Command, args []string) {
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

	repo := postgres.NewConfigRepo(db)
	mc, err := repo.Get(ctx)
	if err != nil {
		slog.Error("Failed to read monitor config", "error", err)
		os.Exit(1)
	}

	if setThreshold != "" {
		d, err := decimal.NewFromString(setThreshold)
		if err != nil || d.IsNegative() {
			slog.Error("Invalid --threshold-usd", "value", setThreshold)
			os.Exit(1)
		}
		mc.ThresholdUSD = d
	}
	if cmd.Flags().Changed("evm-destination") {
		mc.EVMDestinationAddress = setEVMDest
	}
	if cmd.Flags().Changed("btc-destination") {
		mc.BTCDestinationAddress = setBTCDest
	}
	if cmd.Flags().Changed("tron-destination") {
		mc.TronDestinationAddress = setTronDest
	}
	mc.UpdatedAt = time.Now().UTC()
	mc.UpdatedBy = setBy

	if err := repo.Update(ctx, mc); err != nil {
		slog.Error("Failed to update monitor config", "error", err)
		os.Exit(1)
	}
	slog.Info("Monitor config updated", "threshold_usd", mc.ThresholdUSD.String(), "by", setBy)
}
