package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/sweepwatch/internal/control"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single monitoring cycle and print its summary",
	Run:   runCycle,
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}

func runCycle(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := control.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = svc.Close(closeCtx)
	}()

	result, err := svc.RunOnce(ctx, thresholdOverride(cfg))
	if err != nil {
		slog.Error("Cycle failed", "error", err)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CYCLE\tWALLETS\tBREACHES\tSUBMITTED\tSKIPPED\tERRORS\tDURATION")
	_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
		result.ID,
		result.WalletsScanned,
		result.BreachesFound,
		result.SweepsSubmitted,
		result.SweepsSkipped,
		len(result.Errors()),
		result.Duration(),
	)
	_ = w.Flush()

	for _, e := range result.Errors() {
		_, _ = fmt.Fprintln(os.Stdout, "  -", e.Error())
	}
}
