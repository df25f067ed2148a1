// Package loader reads trade and top-of-book history from CSV or JSONL files
// and converts it into validated canonical records. Loaders fail loudly with
// row-numbered errors; the analysis core never sees unvalidated data.
package loader

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketshock/forensics/internal/models"
)

var (
	tradeRequiredColumns = []string{"timestamp", "symbol", "price", "size", "side"}
	tobRequiredColumns   = []string{"timestamp", "symbol", "bid_price", "bid_size", "ask_price", "ask_size"}
)

// LoadTrades dispatches on the file extension (.csv or .jsonl).
func LoadTrades(path string) ([]models.Trade, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadTradesCSV(path)
	case ".jsonl":
		return LoadTradesJSONL(path)
	default:
		return nil, fmt.Errorf("unsupported trades file format: %s", path)
	}
}

// LoadTOB dispatches on the file extension (.csv or .jsonl).
func LoadTOB(path string) ([]models.TopOfBook, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadTOBCSV(path)
	case ".jsonl":
		return LoadTOBJSONL(path)
	default:
		return nil, fmt.Errorf("unsupported top-of-book file format: %s", path)
	}
}

// LoadTradesCSV reads trades from a CSV file with at least the columns
// timestamp, symbol, price, size, side (trade_id optional). The result is
// sorted by timestamp.
func LoadTradesCSV(path string) ([]models.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trades file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("trades file is empty: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trades header: %w", err)
	}
	cols, err := columnIndex(header, tradeRequiredColumns, path)
	if err != nil {
		return nil, err
	}

	var trades []models.Trade
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s row %d: %w", path, row, err)
		}
		trade, err := tradeFromFields(func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		})
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, row, err)
		}
		trades = append(trades, trade)
	}

	sortTrades(trades)
	log.Debug().Str("path", path).Int("trades", len(trades)).Msg("loaded trades")
	return trades, nil
}

// LoadTOBCSV reads top-of-book snapshots from a CSV file with the columns
// timestamp, symbol, bid_price, bid_size, ask_price, ask_size. The result is
// sorted by timestamp.
func LoadTOBCSV(path string) ([]models.TopOfBook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open top-of-book file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("top-of-book file is empty: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read top-of-book header: %w", err)
	}
	cols, err := columnIndex(header, tobRequiredColumns, path)
	if err != nil {
		return nil, err
	}

	var tob []models.TopOfBook
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s row %d: %w", path, row, err)
		}
		b, err := tobFromFields(func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		})
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, row, err)
		}
		tob = append(tob, b)
	}

	sortTOB(tob)
	log.Debug().Str("path", path).Int("snapshots", len(tob)).Msg("loaded top-of-book")
	return tob, nil
}

// LoadTradesJSONL reads one trade JSON object per line. Timestamps may be
// ISO-8601 strings or unix seconds/milliseconds.
func LoadTradesJSONL(path string) ([]models.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trades file: %w", err)
	}
	defer f.Close()

	var trades []models.Trade
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for row := 1; scanner.Scan(); row++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw struct {
			Timestamp any     `json:"timestamp"`
			Symbol    string  `json:"symbol"`
			Price     float64 `json:"price"`
			Size      float64 `json:"size"`
			Side      string  `json:"side"`
			TradeID   string  `json:"trade_id"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("%s line %d: invalid JSON: %w", path, row, err)
		}
		ts, err := parseTimestampValue(raw.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, row, err)
		}
		side, err := models.ParseSide(raw.Side)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, row, err)
		}
		trade, err := models.NewTrade(ts, strings.TrimSpace(raw.Symbol), raw.Price, raw.Size, side, raw.TradeID)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, row, err)
		}
		trades = append(trades, trade)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades file: %w", err)
	}

	sortTrades(trades)
	log.Debug().Str("path", path).Int("trades", len(trades)).Msg("loaded trades")
	return trades, nil
}

// LoadTOBJSONL reads one top-of-book JSON object per line.
func LoadTOBJSONL(path string) ([]models.TopOfBook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open top-of-book file: %w", err)
	}
	defer f.Close()

	var tob []models.TopOfBook
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for row := 1; scanner.Scan(); row++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw struct {
			Timestamp any     `json:"timestamp"`
			Symbol    string  `json:"symbol"`
			BidPrice  float64 `json:"bid_price"`
			BidSize   float64 `json:"bid_size"`
			AskPrice  float64 `json:"ask_price"`
			AskSize   float64 `json:"ask_size"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("%s line %d: invalid JSON: %w", path, row, err)
		}
		ts, err := parseTimestampValue(raw.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, row, err)
		}
		b, err := models.NewTopOfBook(ts, strings.TrimSpace(raw.Symbol), raw.BidPrice, raw.BidSize, raw.AskPrice, raw.AskSize)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, row, err)
		}
		tob = append(tob, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read top-of-book file: %w", err)
	}

	sortTOB(tob)
	log.Debug().Str("path", path).Int("snapshots", len(tob)).Msg("loaded top-of-book")
	return tob, nil
}

func tradeFromFields(field func(string) string) (models.Trade, error) {
	ts, err := ParseTimestamp(field("timestamp"))
	if err != nil {
		return models.Trade{}, err
	}
	price, err := parseFloat("price", field("price"))
	if err != nil {
		return models.Trade{}, err
	}
	size, err := parseFloat("size", field("size"))
	if err != nil {
		return models.Trade{}, err
	}
	side, err := models.ParseSide(field("side"))
	if err != nil {
		return models.Trade{}, err
	}
	return models.NewTrade(ts, strings.TrimSpace(field("symbol")), price, size, side, strings.TrimSpace(field("trade_id")))
}

func tobFromFields(field func(string) string) (models.TopOfBook, error) {
	ts, err := ParseTimestamp(field("timestamp"))
	if err != nil {
		return models.TopOfBook{}, err
	}
	values := make(map[string]float64, 4)
	for _, name := range []string{"bid_price", "bid_size", "ask_price", "ask_size"} {
		v, err := parseFloat(name, field(name))
		if err != nil {
			return models.TopOfBook{}, err
		}
		values[name] = v
	}
	return models.NewTopOfBook(ts, strings.TrimSpace(field("symbol")),
		values["bid_price"], values["bid_size"], values["ask_price"], values["ask_size"])
}

// ParseTimestamp accepts ISO-8601 strings and unix timestamps in seconds or
// milliseconds (values above 1e12 are taken as milliseconds).
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}

	if unix, err := strconv.ParseFloat(value, 64); err == nil {
		if unix > 1e12 {
			unix /= 1000
		}
		sec, frac := math.Modf(unix)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("cannot parse timestamp: %q", value)
}

func parseTimestampValue(value any) (time.Time, error) {
	switch v := value.(type) {
	case string:
		return ParseTimestamp(v)
	case float64:
		return ParseTimestamp(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return time.Time{}, fmt.Errorf("cannot parse timestamp: %v", value)
	}
}

func parseFloat(name, value string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, value)
	}
	return v, nil
}

func columnIndex(header, required []string, path string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns in %s: %v (found: %v)", path, missing, header)
	}
	return cols, nil
}

func sortTrades(trades []models.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
}

func sortTOB(tob []models.TopOfBook) {
	sort.SliceStable(tob, func(i, j int) bool {
		return tob[i].Timestamp.Before(tob[j].Timestamp)
	})
}
