package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/sweepwatch/internal/control"
	"github.com/vietddude/sweepwatch/internal/core/config"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgPath   string
	isDebug   bool
	threshold string
)

var rootCmd = &cobra.Command{
	Use:   "sweepwatch",
	Short: "Wallet balance monitor with automated sweeps",
	Long: `Sweepwatch polls wallet balances across EVM, Bitcoin and Tron, values them in USD
and sweeps wallets whose holdings on a chain family cross the configured threshold.`,
	Run: runMonitor,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&threshold, "threshold", "", "USD threshold override")
}

// loadConfig reads .env and the config file, then installs the logger.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

// thresholdOverride merges the flag over the config file value.
func thresholdOverride(cfg *config.AppConfig) *decimal.Decimal {
	if threshold != "" {
		d, err := decimal.NewFromString(threshold)
		if err != nil || d.IsNegative() {
			slog.Error("Invalid --threshold", "value", threshold)
			os.Exit(1)
		}
		return &d
	}
	d, _ := cfg.Monitor.Threshold()
	return d
}

func runMonitor(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := control.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	svc.Serve()

	if cfg.Monitor.Enabled {
		if err := svc.Start(cfg.Monitor.Interval, thresholdOverride(cfg)); err != nil {
			slog.Error("Failed to start monitor", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("Monitor disabled, set MONITOR_ENABLED=true to start it")
	}

	slog.Info("Sweepwatch started", "config", cfgPath)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Close(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}
