// Command forensics analyzes crypto market data around price-shock events.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketshock/forensics/internal/config"
	"github.com/marketshock/forensics/internal/logging"
	"github.com/marketshock/forensics/internal/pipeline"
	"github.com/marketshock/forensics/internal/stats"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "forensics",
		Short: "Market forensics around crypto price shocks",
		Long: "Detects price-shock events in trade or quote data, extracts\n" +
			"pre/post event windows, and determines the onset ordering of\n" +
			"liquidity, volume, and price signals.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newAggregateCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		tradesPath string
		tobPath    string
		outputDir  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full analysis pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

			result, err := pipeline.Run(cfg, pipeline.Options{
				TradesPath: tradesPath,
				TOBPath:    tobPath,
				OutputDir:  outputDir,
			})
			if err != nil {
				return err
			}

			log.Info().
				Int("events", len(result.Events)).
				Int("windows", len(result.Windows)).
				Str("output_dir", result.OutputDir).
				Msg("analysis complete")
			if result.RunID != "" {
				log.Info().Str("run_id", result.RunID).Msg("run recorded")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&tradesPath, "trades", "", "path to trades file (.csv or .jsonl)")
	cmd.Flags().StringVar(&tobPath, "tob", "", "path to top-of-book file (.csv or .jsonl)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (overrides config)")
	return cmd
}

func newAggregateCmd() *cobra.Command {
	var (
		inputPath  string
		outputPath string
		nullProp   float64
		resamples  int
		seed       int64
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate ordering results and test the liquidity-first proportion",
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := pipeline.Aggregate(inputPath, stats.Options{
				NullProportion: nullProp,
				Resamples:      resamples,
				Seed:           seed,
			})
			if err != nil {
				return err
			}

			if outputPath != "" {
				if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
				data, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal summary: %w", err)
				}
				if err := os.WriteFile(outputPath, data, 0o644); err != nil {
					return fmt.Errorf("failed to write summary: %w", err)
				}
			}

			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "outputs/orderings.csv", "path to orderings file (.csv or .json)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "path to write the summary JSON")
	cmd.Flags().Float64VarP(&nullProp, "null-proportion", "p", stats.DefaultNullProportion, "null hypothesis proportion")
	cmd.Flags().IntVar(&resamples, "n-bootstrap", 1000, "number of bootstrap resamples")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed for the bootstrap")
	return cmd
}

func printSummary(w io.Writer, s stats.Summary) {
	fmt.Fprintf(w, "Total events: %d\n", s.TotalEvents)
	classes := make([]string, 0, len(s.Counts))
	for cls := range s.Counts {
		classes = append(classes, cls)
	}
	sort.Strings(classes)
	for _, cls := range classes {
		count := s.Counts[cls]
		pct := 0.0
		if s.TotalEvents > 0 {
			pct = 100 * float64(count) / float64(s.TotalEvents)
		}
		fmt.Fprintf(w, "  %-20s %5d (%5.1f%%)\n", cls, count, pct)
	}
	fmt.Fprintf(w, "Liquidity-first proportion: %.1f%% (%d/%d), null %.1f%%\n",
		100*s.ObservedProportion, s.LiquidityFirstCount, s.TotalEvents, 100*s.NullProportion)
	fmt.Fprintf(w, "Binomial test p-value: %.4f (%s)\n",
		s.BinomialTest.PValue, significance(s.BinomialTest.PValue))
	fmt.Fprintf(w, "Bootstrap 95%% CI: [%.1f%%, %.1f%%] (%d resamples)\n",
		100*s.BootstrapCI.Lower, 100*s.BootstrapCI.Upper, s.BootstrapCI.Resamples)
}

func significance(p float64) string {
	switch {
	case p < 0.001:
		return "p < 0.001"
	case p < 0.01:
		return "p < 0.01"
	case p < 0.05:
		return "p < 0.05"
	default:
		return "not significant"
	}
}
