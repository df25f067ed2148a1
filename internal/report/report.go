// Package report persists analysis results as CSV and JSON files and reads
// ordering results back for downstream aggregation. The ordering record field
// set is a compatibility surface: downstream tooling keys on these names.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marketshock/forensics/internal/metrics"
	"github.com/marketshock/forensics/internal/models"
	"github.com/marketshock/forensics/internal/ordering"
)

// OrderingRecord is the flat serialized form of one EventOrdering. Empty
// strings and nil pointers stand for absent values.
type OrderingRecord struct {
	WindowID           string   `json:"window_id"`
	Symbol             string   `json:"symbol"`
	EventTimestamp     string   `json:"event_timestamp"`
	EventDirection     string   `json:"event_direction"`
	LiquidityOnsetTime string   `json:"liquidity_onset_time,omitempty"`
	VolumeOnsetTime    string   `json:"volume_onset_time,omitempty"`
	PriceOnsetTime     string   `json:"price_onset_time,omitempty"`
	Ordering           []string `json:"ordering"`
	Classification     string   `json:"classification"`
	LiquidityBaseline  *float64 `json:"liquidity_baseline,omitempty"`
	LiquidityThreshold *float64 `json:"liquidity_threshold,omitempty"`
	VolumeBaseline     *float64 `json:"volume_baseline,omitempty"`
	VolumeThreshold    *float64 `json:"volume_threshold,omitempty"`
	PriceBaseline      *float64 `json:"price_baseline,omitempty"`
	PriceThreshold     *float64 `json:"price_threshold,omitempty"`
}

var orderingColumns = []string{
	"window_id", "symbol", "event_timestamp", "event_direction",
	"liquidity_onset_time", "volume_onset_time", "price_onset_time",
	"ordering", "classification",
	"liquidity_baseline", "liquidity_threshold",
	"volume_baseline", "volume_threshold",
	"price_baseline", "price_threshold",
}

// Flatten converts an EventOrdering to its serialized record.
func Flatten(o ordering.EventOrdering) OrderingRecord {
	seq := make([]string, len(o.Ordering))
	for i, t := range o.Ordering {
		seq[i] = string(t)
	}
	return OrderingRecord{
		WindowID:           o.WindowID,
		Symbol:             o.Symbol,
		EventTimestamp:     o.EventTimestamp.UTC().Format(time.RFC3339Nano),
		EventDirection:     string(o.EventDirection),
		LiquidityOnsetTime: formatTimePtr(o.Liquidity.OnsetTime),
		VolumeOnsetTime:    formatTimePtr(o.Volume.OnsetTime),
		PriceOnsetTime:     formatTimePtr(o.Price.OnsetTime),
		Ordering:           seq,
		Classification:     o.Classification,
		LiquidityBaseline:  o.Liquidity.Baseline,
		LiquidityThreshold: o.Liquidity.Threshold,
		VolumeBaseline:     o.Volume.Baseline,
		VolumeThreshold:    o.Volume.Threshold,
		PriceBaseline:      o.Price.Baseline,
		PriceThreshold:     o.Price.Threshold,
	}
}

// FlattenAll converts a result list, preserving order.
func FlattenAll(orderings []ordering.EventOrdering) []OrderingRecord {
	records := make([]OrderingRecord, len(orderings))
	for i, o := range orderings {
		records[i] = Flatten(o)
	}
	return records
}

// WriteOrderingsJSON writes ordering records as a JSON array.
func WriteOrderingsJSON(records []OrderingRecord, path string) error {
	return writeJSON(records, path)
}

// WriteOrderingsCSV writes ordering records with the documented column set.
func WriteOrderingsCSV(records []OrderingRecord, path string) error {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.WindowID, r.Symbol, r.EventTimestamp, r.EventDirection,
			r.LiquidityOnsetTime, r.VolumeOnsetTime, r.PriceOnsetTime,
			strings.Join(r.Ordering, ","), r.Classification,
			formatFloatPtr(r.LiquidityBaseline), formatFloatPtr(r.LiquidityThreshold),
			formatFloatPtr(r.VolumeBaseline), formatFloatPtr(r.VolumeThreshold),
			formatFloatPtr(r.PriceBaseline), formatFloatPtr(r.PriceThreshold),
		})
	}
	return writeCSV(orderingColumns, rows, path)
}

// ReadOrderingsJSON loads ordering records from a JSON array file.
func ReadOrderingsJSON(path string) ([]OrderingRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read orderings file: %w", err)
	}
	var records []OrderingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse orderings file %s: %w", path, err)
	}
	return records, nil
}

// ReadOrderingsCSV loads ordering records from a CSV file written by
// WriteOrderingsCSV.
func ReadOrderingsCSV(path string) ([]OrderingRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open orderings file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read orderings file %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("orderings file has no header: %s", path)
	}

	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[name] = i
	}
	for _, name := range orderingColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("orderings file %s missing column %q", path, name)
		}
	}

	var records []OrderingRecord
	for _, row := range rows[1:] {
		get := func(name string) string { return row[cols[name]] }
		rec := OrderingRecord{
			WindowID:           get("window_id"),
			Symbol:             get("symbol"),
			EventTimestamp:     get("event_timestamp"),
			EventDirection:     get("event_direction"),
			LiquidityOnsetTime: get("liquidity_onset_time"),
			VolumeOnsetTime:    get("volume_onset_time"),
			PriceOnsetTime:     get("price_onset_time"),
			Classification:     get("classification"),
			LiquidityBaseline:  parseFloatPtr(get("liquidity_baseline")),
			LiquidityThreshold: parseFloatPtr(get("liquidity_threshold")),
			VolumeBaseline:     parseFloatPtr(get("volume_baseline")),
			VolumeThreshold:    parseFloatPtr(get("volume_threshold")),
			PriceBaseline:      parseFloatPtr(get("price_baseline")),
			PriceThreshold:     parseFloatPtr(get("price_threshold")),
		}
		if seq := get("ordering"); seq != "" {
			rec.Ordering = strings.Split(seq, ",")
		}
		records = append(records, rec)
	}
	return records, nil
}

// WriteEventsJSON writes detected events as a JSON array.
func WriteEventsJSON(events []models.Event, path string) error {
	return writeJSON(events, path)
}

// WriteEventsCSV writes detected events in flat form.
func WriteEventsCSV(events []models.Event, path string) error {
	header := []string{"timestamp", "symbol", "event_type", "direction", "magnitude"}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Symbol,
			e.Type,
			string(e.Direction),
			strconv.FormatFloat(e.Magnitude, 'g', -1, 64),
		})
	}
	return writeCSV(header, rows, path)
}

// WriteMetricsJSON writes event metrics as a JSON array.
func WriteMetricsJSON(ems []metrics.EventMetrics, path string) error {
	return writeJSON(ems, path)
}

// WriteMetricsCSV writes event metrics with pre_/post_ prefixed columns.
func WriteMetricsCSV(ems []metrics.EventMetrics, path string) error {
	header := []string{"window_id", "symbol", "event_timestamp", "event_direction", "event_magnitude"}
	for _, prefix := range []string{"pre_", "post_"} {
		header = append(header,
			prefix+"trade_count", prefix+"trade_volume", prefix+"avg_trade_size",
			prefix+"vwap", prefix+"avg_spread", prefix+"avg_spread_bps",
			prefix+"avg_midprice", prefix+"realized_volatility",
			prefix+"min_price", prefix+"max_price",
		)
	}

	rows := make([][]string, 0, len(ems))
	for _, em := range ems {
		row := []string{
			em.WindowID,
			em.Symbol,
			em.EventTimestamp.UTC().Format(time.RFC3339Nano),
			string(em.EventDirection),
			strconv.FormatFloat(em.EventMagnitude, 'g', -1, 64),
		}
		for _, wm := range []metrics.WindowMetrics{em.Pre, em.Post} {
			row = append(row,
				strconv.Itoa(wm.TradeCount),
				strconv.FormatFloat(wm.TradeVolume, 'g', -1, 64),
				formatFloatPtr(wm.AvgTradeSize),
				formatFloatPtr(wm.VWAP),
				formatFloatPtr(wm.AvgSpread),
				formatFloatPtr(wm.AvgSpreadBps),
				formatFloatPtr(wm.AvgMidPrice),
				formatFloatPtr(wm.RealizedVolatility),
				formatFloatPtr(wm.MinPrice),
				formatFloatPtr(wm.MaxPrice),
			)
		}
		rows = append(rows, row)
	}
	return writeCSV(header, rows, path)
}

func writeJSON(v any, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeCSV(header []string, rows [][]string, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return f.Close()
}

func formatTimePtr(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func parseFloatPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
