// Command docflow is the manual execution surface of the transfer engine:
// run a mapping over a set of document ids, inspect executions, manage
// mappings and consecutive counters.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docflowhq/docflow/internal/telemetry"
	"github.com/docflowhq/docflow/internal/ui"
)

// Version is stamped by the release build (-ldflags "-X main.Version=...").
var Version = "dev"

var (
	configPath string

	// Signal-aware context for graceful cancellation.
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "docflow",
	Short:         "Config-driven document transfer between databases",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init()
		return telemetry.Init(cmd.Context(), "docflow", Version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default docflow.yaml)")
	rootCmd.AddCommand(runCmd, statusCmd, mappingCmd, consecutiveCmd, versionCmd)

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderFail("error: ")+err.Error())
		os.Exit(1)
	}
}

// mustLogger builds the configured logger or falls back to the no-op one.
func mustLogger(a *app) *zap.Logger {
	if a != nil && a.logger != nil {
		return a.logger
	}
	return zap.NewNop()
}
