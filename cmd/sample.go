package cmd

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/internal/observability"
	"github.com/xkilldash9x/noticescan/internal/targets"
)

type sampleOptions struct {
	input  string
	output string
	count  int
	seed   uint64
}

// newSampleCmd creates the `sample` command, which draws the sampled dataset
// from the full ranked list.
func newSampleCmd(app *appConfig) *cobra.Command {
	opts := &sampleOptions{}
	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Randomly samples domains from a ranked list into the sampled dataset file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.input == "" {
				opts.input = app.cfg.Dataset().TopList
			}
			if opts.output == "" {
				opts.output = app.cfg.Dataset().SampledList
			}
			if opts.seed == 0 {
				opts.seed = uint64(time.Now().UnixNano())
			}
			return runSample(opts)
		},
	}

	sampleCmd.Flags().StringVarP(&opts.input, "input", "i", "", "ranked domain list to sample from (default: dataset.top_list)")
	sampleCmd.Flags().StringVarP(&opts.output, "output", "o", "", "file to write the sample to (default: dataset.sampled_list)")
	sampleCmd.Flags().IntVarP(&opts.count, "count", "n", 2000, "number of domains to sample")
	sampleCmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed; 0 picks one from the clock")
	return sampleCmd
}

func runSample(opts *sampleOptions) error {
	logger := observability.GetLogger()
	if opts.count <= 0 {
		return fmt.Errorf("--count must be a positive integer, got %d", opts.count)
	}

	domains, err := targets.LoadDomains(opts.input, 0)
	if err != nil {
		return err
	}
	sampled := targets.Sample(domains, opts.count, rand.New(rand.NewPCG(opts.seed, opts.seed)))

	if dir := filepath.Dir(opts.output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(opts.output)
	if err != nil {
		return fmt.Errorf("failed to create sample file: %w", err)
	}
	if err := targets.WriteDomains(f, sampled); err != nil {
		f.Close()
		return fmt.Errorf("failed to write sample: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write sample: %w", err)
	}

	logger.Info("Domain sample written.",
		zap.String("input", opts.input),
		zap.String("output", opts.output),
		zap.Int("available", len(domains)),
		zap.Int("sampled", len(sampled)),
		zap.Uint64("seed", opts.seed))
	return nil
}
