package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketshock/forensics/internal/metrics"
	"github.com/marketshock/forensics/internal/models"
	"github.com/marketshock/forensics/internal/ordering"
)

func fp(v float64) *float64 { return &v }

func tp(ts time.Time) *time.Time { return &ts }

func sampleOrderings() []ordering.EventOrdering {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []ordering.EventOrdering{
		{
			WindowID:       "BTC-USDT_20240301_120000_price_shock",
			Symbol:         "BTC-USDT",
			EventTimestamp: base,
			EventDirection: models.DirectionDown,
			Liquidity: ordering.OnsetDetection{
				Type: ordering.OnsetLiquidity, OnsetTime: tp(base.Add(-20 * time.Second)),
				Baseline: fp(1.5), Threshold: fp(2.1),
			},
			Volume: ordering.OnsetDetection{
				Type: ordering.OnsetVolume, OnsetTime: tp(base.Add(-10 * time.Second)),
				Baseline: fp(3.0), Threshold: fp(9.0),
			},
			Price: ordering.OnsetDetection{
				Type: ordering.OnsetPrice, OnsetTime: tp(base.Add(-5 * time.Second)),
				Baseline: fp(100.0), Threshold: fp(99.4),
			},
			Ordering:       []ordering.OnsetType{ordering.OnsetLiquidity, ordering.OnsetVolume, ordering.OnsetPrice},
			Classification: ordering.ClassLiquidityFirst,
		},
		{
			WindowID:       "BTC-USDT_20240301_130000_price_shock",
			Symbol:         "BTC-USDT",
			EventTimestamp: base.Add(time.Hour),
			EventDirection: models.DirectionUp,
			Liquidity:      ordering.OnsetDetection{Type: ordering.OnsetLiquidity},
			Volume:         ordering.OnsetDetection{Type: ordering.OnsetVolume},
			Price:          ordering.OnsetDetection{Type: ordering.OnsetPrice},
			Classification: ordering.ClassUndetermined,
		},
	}
}

func classCounts(records []OrderingRecord) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Classification]++
	}
	return counts
}

func TestOrderingsCSVRoundTrip(t *testing.T) {
	records := FlattenAll(sampleOrderings())
	path := filepath.Join(t.TempDir(), "orderings.csv")

	require.NoError(t, WriteOrderingsCSV(records, path))
	loaded, err := ReadOrderingsCSV(path)
	require.NoError(t, err)

	require.Len(t, loaded, len(records))
	assert.Equal(t, classCounts(records), classCounts(loaded))
	assert.Equal(t, records[0].WindowID, loaded[0].WindowID)
	assert.Equal(t, records[0].LiquidityOnsetTime, loaded[0].LiquidityOnsetTime)
	assert.Equal(t, records[0].Ordering, loaded[0].Ordering)
	require.NotNil(t, loaded[0].PriceThreshold)
	assert.InDelta(t, 99.4, *loaded[0].PriceThreshold, 1e-12)

	assert.Empty(t, loaded[1].LiquidityOnsetTime)
	assert.Nil(t, loaded[1].VolumeBaseline)
	assert.Nil(t, loaded[1].Ordering)
}

func TestOrderingsJSONRoundTrip(t *testing.T) {
	records := FlattenAll(sampleOrderings())
	path := filepath.Join(t.TempDir(), "orderings.json")

	require.NoError(t, WriteOrderingsJSON(records, path))
	loaded, err := ReadOrderingsJSON(path)
	require.NoError(t, err)

	require.Len(t, loaded, len(records))
	assert.Equal(t, classCounts(records), classCounts(loaded))
	assert.Equal(t, records, loaded)
}

func TestReadOrderingsCSVMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, writeCSV([]string{"window_id", "symbol"}, [][]string{{"w", "s"}}, path))

	_, err := ReadOrderingsCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event_timestamp")
}

func TestWriteEventsCSV(t *testing.T) {
	events := []models.Event{
		{
			Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Symbol:    "BTC-USDT",
			Type:      models.EventTypePriceShock,
			Direction: models.DirectionDown,
			Magnitude: -2.5,
		},
	}
	path := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, WriteEventsCSV(events, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,symbol,event_type,direction,magnitude", lines[0])
	assert.Contains(t, lines[1], "price_shock")
	assert.Contains(t, lines[1], "-2.5")
}

func TestWriteMetricsCSV(t *testing.T) {
	ems := []metrics.EventMetrics{
		{
			WindowID:       "w1",
			Symbol:         "ETH-USDT",
			EventTimestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			EventDirection: models.DirectionUp,
			EventMagnitude: 3.1,
			Pre: metrics.WindowMetrics{
				TradeCount: 2, TradeVolume: 5,
				AvgTradeSize: fp(2.5), VWAP: fp(107.5),
			},
			Post: metrics.WindowMetrics{TradeCount: 0},
		},
	}
	path := filepath.Join(t.TempDir(), "metrics.csv")
	require.NoError(t, WriteMetricsCSV(ems, path))
}
