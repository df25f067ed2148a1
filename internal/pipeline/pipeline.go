// Package pipeline runs the full analysis chain: load market data, detect
// price shocks, extract event windows, compute metrics, analyze onset
// ordering, and persist results.
package pipeline

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/marketshock/forensics/internal/config"
	"github.com/marketshock/forensics/internal/detector"
	"github.com/marketshock/forensics/internal/loader"
	"github.com/marketshock/forensics/internal/metrics"
	"github.com/marketshock/forensics/internal/models"
	"github.com/marketshock/forensics/internal/ordering"
	"github.com/marketshock/forensics/internal/report"
	"github.com/marketshock/forensics/internal/series"
	"github.com/marketshock/forensics/internal/stats"
	"github.com/marketshock/forensics/internal/store"
	"github.com/marketshock/forensics/internal/windows"
)

// Options are the per-invocation inputs.
type Options struct {
	TradesPath string
	TOBPath    string
	OutputDir  string // overrides the configured output dir when set
}

// Result summarizes one completed run.
type Result struct {
	RunID     string
	OutputDir string
	Events    []models.Event
	Windows   []windows.EventWindow
	Metrics   []metrics.EventMetrics
	Orderings []ordering.EventOrdering
}

// Run executes the full pipeline under cfg.
func Run(cfg *config.Config, opts Options) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	trades, tob, err := loadInputs(cfg, opts)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("trades", len(trades)).
		Int("quotes", len(tob)).
		Str("source", cfg.EventDetection.Source).
		Msg("loaded market data")

	var events []models.Event
	if cfg.EventDetection.Source == "trades" {
		events, err = detector.DetectFromConfig(series.TradeSeries(trades), cfg.EventDetection)
	} else {
		events, err = detector.DetectFromConfig(series.QuoteSeries(tob), cfg.EventDetection)
	}
	if err != nil {
		return nil, fmt.Errorf("event detection failed: %w", err)
	}
	log.Info().Int("events", len(events)).Msg("detected price shocks")

	ws, err := windows.ExtractAll(events, trades, tob,
		cfg.Windows.PreSeconds, cfg.Windows.PostSeconds, cfg.Windows.OverlapStrategy)
	if err != nil {
		return nil, fmt.Errorf("window extraction failed: %w", err)
	}
	log.Info().Int("windows", len(ws)).Msg("extracted event windows")

	ems := metrics.ComputeAll(ws)

	orderings, err := ordering.AnalyzeAll(ws, ordering.Config{
		KStd:                cfg.Ordering.KStd,
		VolumeBucketSeconds: cfg.Ordering.VolumeBucketSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("ordering analysis failed: %w", err)
	}

	outputDir := cfg.Output.Dir
	if opts.OutputDir != "" {
		outputDir = opts.OutputDir
	}
	if err := writeReports(outputDir, events, ems, orderings); err != nil {
		return nil, err
	}
	log.Info().Str("dir", outputDir).Msg("wrote result files")

	result := &Result{
		OutputDir: outputDir,
		Events:    events,
		Windows:   ws,
		Metrics:   ems,
		Orderings: orderings,
	}

	if cfg.Storage.DBPath != "" {
		runID, err := persist(cfg, trades, tob, result)
		if err != nil {
			return nil, err
		}
		result.RunID = runID
	}

	return result, nil
}

func loadInputs(cfg *config.Config, opts Options) ([]models.Trade, []models.TopOfBook, error) {
	var trades []models.Trade
	var tob []models.TopOfBook
	var err error

	if opts.TradesPath != "" {
		trades, err = loader.LoadTrades(opts.TradesPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load trades: %w", err)
		}
	}
	if opts.TOBPath != "" {
		tob, err = loader.LoadTOB(opts.TOBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load quotes: %w", err)
		}
	}

	if cfg.EventDetection.Source == "trades" && len(trades) == 0 {
		return nil, nil, fmt.Errorf("event source is trades but no trade data was provided")
	}
	if cfg.EventDetection.Source == "quotes" && len(tob) == 0 {
		return nil, nil, fmt.Errorf("event source is quotes but no quote data was provided")
	}
	return trades, tob, nil
}

func writeReports(dir string, events []models.Event, ems []metrics.EventMetrics, orderings []ordering.EventOrdering) error {
	records := report.FlattenAll(orderings)
	writers := []struct {
		name string
		fn   func(string) error
	}{
		{"events.csv", func(p string) error { return report.WriteEventsCSV(events, p) }},
		{"events.json", func(p string) error { return report.WriteEventsJSON(events, p) }},
		{"metrics.csv", func(p string) error { return report.WriteMetricsCSV(ems, p) }},
		{"metrics.json", func(p string) error { return report.WriteMetricsJSON(ems, p) }},
		{"orderings.csv", func(p string) error { return report.WriteOrderingsCSV(records, p) }},
		{"orderings.json", func(p string) error { return report.WriteOrderingsJSON(records, p) }},
	}
	for _, w := range writers {
		if err := w.fn(filepath.Join(dir, w.name)); err != nil {
			return fmt.Errorf("failed to write %s: %w", w.name, err)
		}
	}
	return nil
}

func persist(cfg *config.Config, trades []models.Trade, tob []models.TopOfBook, result *Result) (string, error) {
	s, err := store.New(cfg.Storage.DBPath)
	if err != nil {
		return "", fmt.Errorf("failed to open run store: %w", err)
	}
	defer s.Close()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	run := store.NewRun(cfg.EventDetection.Source, dataSymbol(trades, tob), string(cfgJSON))
	if err := s.CreateRun(run); err != nil {
		return "", err
	}
	if err := s.SaveEvents(run.ID, result.Events); err != nil {
		return "", err
	}
	if err := s.SaveOrderings(run.ID, result.Orderings); err != nil {
		return "", err
	}
	if err := s.FinishRun(run.ID, len(result.Events), len(result.Windows)); err != nil {
		return "", err
	}
	log.Info().Str("run_id", run.ID).Str("db", cfg.Storage.DBPath).Msg("persisted run")
	return run.ID, nil
}

func dataSymbol(trades []models.Trade, tob []models.TopOfBook) string {
	if len(trades) > 0 {
		return trades[0].Symbol
	}
	if len(tob) > 0 {
		return tob[0].Symbol
	}
	return ""
}

// Aggregate loads previously written ordering results and computes the
// classification summary statistics. The input format follows the file
// extension.
func Aggregate(inputPath string, opts stats.Options) (stats.Summary, error) {
	var records []report.OrderingRecord
	var err error

	switch strings.ToLower(filepath.Ext(inputPath)) {
	case ".csv":
		records, err = report.ReadOrderingsCSV(inputPath)
	case ".json":
		records, err = report.ReadOrderingsJSON(inputPath)
	default:
		return stats.Summary{}, fmt.Errorf("unsupported orderings format: %s", inputPath)
	}
	if err != nil {
		return stats.Summary{}, err
	}
	if len(records) == 0 {
		return stats.Summary{}, fmt.Errorf("no ordering records in %s", inputPath)
	}
	return stats.Analyze(records, opts), nil
}
