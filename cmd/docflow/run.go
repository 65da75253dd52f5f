package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/telemetry"
	"github.com/docflowhq/docflow/internal/types"
	"github.com/docflowhq/docflow/internal/ui"
)

var (
	runMapping string
	runIDs     []string
	runIDsFile string
)

var runCmd = &cobra.Command{
	Use:   "run --mapping <id> (--ids id,... | --ids-file path)",
	Short: "Transfer a set of documents under a mapping",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := collectIDs()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("no document ids given (use --ids or --ids-file)")
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		// One run per mapping per host at a time. A second invocation fails
		// fast instead of racing markers and local counters.
		lock := flock.New(filepath.Join(os.TempDir(), "docflow-"+runMapping+".lock"))
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire mapping lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("mapping %s is already being processed on this host", runMapping)
		}
		defer func() { _ = lock.Unlock() }()

		// Reclaim abandoned reservations while the run is in flight.
		sweepCtx, stopSweeper := context.WithCancel(cmd.Context())
		defer stopSweeper()
		var group errgroup.Group
		group.Go(func() error {
			err := a.counters.RunSweeper(sweepCtx, a.cfg.Engine.SweepInterval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		defer func() {
			stopSweeper()
			if err := group.Wait(); err != nil {
				a.logger.Warn("reservation sweeper stopped with error", zap.Error(err))
			}
		}()

		interactive := ui.ShouldUseColor()
		eng := a.newEngine(engine.WithProgress(func(p types.Progress) {
			if interactive {
				fmt.Printf("\r%s", ui.RenderProgress(p))
			}
		}))

		res, err := eng.ProcessDocuments(cmd.Context(), runMapping, ids)
		if interactive {
			fmt.Println()
		}
		if err != nil {
			return err
		}

		telemetry.NewExecutionMetrics().Record(cmd.Context(), res)
		fmt.Print(ui.RenderResult(res))

		if res.Status == types.StatusFailed {
			a.logger.Error("execution failed", zap.String("execution", res.ExecutionID))
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runMapping, "mapping", "m", "", "mapping id or name (required)")
	runCmd.Flags().StringSliceVar(&runIDs, "ids", nil, "document ids, comma separated or repeated")
	runCmd.Flags().StringVar(&runIDsFile, "ids-file", "", "file with one document id per line")
	_ = runCmd.MarkFlagRequired("mapping")
}

// collectIDs merges --ids with the --ids-file contents, skipping blank lines
// and # comments, de-duplicating while preserving order.
func collectIDs() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || strings.HasPrefix(id, "#") || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	for _, id := range runIDs {
		add(id)
	}
	if runIDsFile != "" {
		f, err := os.Open(runIDsFile)
		if err != nil {
			return nil, fmt.Errorf("read ids file: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			add(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read ids file: %w", err)
		}
	}
	return out, nil
}
