package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/config"
	"github.com/xkilldash9x/noticescan/internal/engine"
	"github.com/xkilldash9x/noticescan/internal/observability"
	"github.com/xkilldash9x/noticescan/internal/service"
	"github.com/xkilldash9x/noticescan/internal/targets"
)

// datasetAliases accepts the numeric dataset names of earlier releases.
var datasetAliases = map[string]string{
	"1":                   config.DatasetTop,
	"2":                   config.DatasetSampled,
	config.DatasetTop:     config.DatasetTop,
	config.DatasetSampled: config.DatasetSampled,
}

// newScanCmd creates and configures the `scan` command. A nil factory uses
// the production component factory.
func newScanCmd(app *appConfig, factory service.ComponentFactory) *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scans a list of domains, identifies cookie notices and evaluates them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if err := applyScanFlagOverrides(cmd, app.cfg); err != nil {
				return err
			}
			if factory == nil {
				factory = service.NewComponentFactory()
			}
			return runScan(ctx, logger, app.cfg, factory, cmd.OutOrStdout())
		},
	}

	scanCmd.Flags().String("dataset", config.DatasetTop, "the set of domains to scan: `top` for the top list, `sampled` for the sampled list")
	scanCmd.Flags().Int("start", 1, "the rank to start scanning from, inclusive")
	scanCmd.Flags().Int("end", -1, "the rank to stop scanning at, inclusive; -1 scans to the end")
	scanCmd.Flags().String("results", "results", "the directory to store the results in")
	scanCmd.Flags().Bool("click", false, "click every link and button of the detected cookie notices")
	scanCmd.Flags().IntP("concurrency", "j", 1, "number of targets scanned in parallel")
	scanCmd.Flags().Bool("no-screenshots", false, "do not capture screenshots")
	scanCmd.Flags().Bool("headless", true, "run the browser without a window")

	return scanCmd
}

// applyScanFlagOverrides applies the flags the user set explicitly on top of
// the loaded configuration.
func applyScanFlagOverrides(cmd *cobra.Command, cfg config.Interface) error {
	flags := cmd.Flags()

	dataset := cfg.Dataset()
	if flags.Changed("dataset") {
		raw, _ := flags.GetString("dataset")
		name, ok := datasetAliases[strings.ToLower(raw)]
		if !ok {
			return fmt.Errorf("invalid --dataset value %q (expected %q or %q)", raw, config.DatasetTop, config.DatasetSampled)
		}
		dataset.Name = name
	}
	if flags.Changed("start") {
		dataset.Start, _ = flags.GetInt("start")
	}
	if flags.Changed("end") {
		dataset.End, _ = flags.GetInt("end")
	}
	if err := dataset.Validate(); err != nil {
		return fmt.Errorf("invalid dataset selection: %w", err)
	}
	cfg.SetDataset(dataset)

	if flags.Changed("results") {
		dir, _ := flags.GetString("results")
		cfg.SetStoreResultsDir(dir)
	}
	if flags.Changed("click") {
		click, _ := flags.GetBool("click")
		cfg.SetScanClick(click)
	}
	if flags.Changed("concurrency") {
		n, _ := flags.GetInt("concurrency")
		if n <= 0 {
			return fmt.Errorf("--concurrency must be a positive integer, got %d", n)
		}
		cfg.SetEngineWorkerConcurrency(n)
	}
	if flags.Changed("no-screenshots") {
		off, _ := flags.GetBool("no-screenshots")
		cfg.SetScanScreenshots(!off)
	}
	if flags.Changed("headless") {
		headless, _ := flags.GetBool("headless")
		cfg.SetBrowserHeadless(headless)
	}
	return nil
}

// runScan contains the core logic for the scan command.
func runScan(ctx context.Context, logger *zap.Logger, cfg config.Interface, factory service.ComponentFactory, out io.Writer) error {
	list, err := targets.Load(cfg.Dataset())
	if err != nil {
		return fmt.Errorf("failed to load targets: %w", err)
	}
	if len(list) == 0 {
		logger.Warn("No targets in the selected rank window.",
			zap.String("dataset", cfg.Dataset().Name),
			zap.Int("start", cfg.Dataset().Start),
			zap.Int("end", cfg.Dataset().End))
		return nil
	}

	scanID := uuid.NewString()
	logger.Info("Starting scan.",
		zap.String("scan_id", scanID),
		zap.String("dataset", cfg.Dataset().Name),
		zap.Int("targets", len(list)),
		zap.Bool("click", cfg.Scan().Click))

	components, err := factory.Create(ctx, cfg, scanID, printResult(out), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scan components: %w", err)
	}
	defer components.Shutdown()

	summary, err := components.Engine.Run(ctx, list)
	fmt.Fprintf(out, "Scanned %d domains: %d failed, %d could not be saved.\n",
		summary.Scanned, summary.Failed, summary.SaveErrors)
	return err
}

// printResult reports every finished target on w.
func printResult(w io.Writer) engine.CompletionFunc {
	return func(result *schemas.ScanResult, saveErr error) {
		fmt.Fprintf(w, "#%d: %s\n", result.Rank, result.URL)
		if result.StoppedWaiting {
			fmt.Fprintf(w, "-> stopped waiting for %s\n", result.StoppedWaitingReason)
		}
		if failed, reason, exception := result.Failure(); failed {
			line := "-> failed: " + reason
			if exception != "" {
				line += " (" + exception + ")"
			}
			fmt.Fprintln(w, line)
			for _, frame := range result.FailedTraceback {
				fmt.Fprintln(w, frame)
			}
		}
		if saveErr != nil {
			fmt.Fprintf(w, "-> not saved: %v\n", saveErr)
		}
	}
}
