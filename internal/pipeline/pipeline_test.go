package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketshock/forensics/internal/config"
	"github.com/marketshock/forensics/internal/models"
	"github.com/marketshock/forensics/internal/ordering"
	"github.com/marketshock/forensics/internal/stats"
	"github.com/marketshock/forensics/internal/store"
)

// writeFixtures builds a quote series that holds mid 100 for three minutes,
// drops to mid 95 at t=180s, and stays there, plus a steady trade tape.
func writeFixtures(t *testing.T, dir string) (tradesPath, tobPath string) {
	t.Helper()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var tob strings.Builder
	tob.WriteString("timestamp,symbol,bid_price,bid_size,ask_price,ask_size\n")
	for sec := 0; sec <= 300; sec += 10 {
		mid := 100.0
		if sec >= 180 {
			mid = 95.0
		}
		ts := base.Add(time.Duration(sec) * time.Second)
		fmt.Fprintf(&tob, "%s,BTC-USDT,%.2f,5,%.2f,5\n",
			ts.Format(time.RFC3339), mid-0.05, mid+0.05)
	}
	tobPath = filepath.Join(dir, "tob.csv")
	require.NoError(t, os.WriteFile(tobPath, []byte(tob.String()), 0o644))

	var trades strings.Builder
	trades.WriteString("timestamp,symbol,price,size,side\n")
	for sec := 0; sec <= 300; sec += 10 {
		price := 100.0
		if sec >= 180 {
			price = 95.0
		}
		ts := base.Add(time.Duration(sec) * time.Second)
		fmt.Fprintf(&trades, "%s,BTC-USDT,%.2f,1,buy\n", ts.Format(time.RFC3339), price)
	}
	tradesPath = filepath.Join(dir, "trades.csv")
	require.NoError(t, os.WriteFile(tradesPath, []byte(trades.String()), 0o644))
	return tradesPath, tobPath
}

func testConfig(dbPath, outputDir string) *config.Config {
	return &config.Config{
		EventDetection: config.EventDetectionConfig{
			ThresholdPct:  2.0,
			WindowSeconds: 60,
			Source:        "quotes",
		},
		Windows: config.WindowsConfig{
			PreSeconds:      60,
			PostSeconds:     60,
			OverlapStrategy: "keep_first",
		},
		Ordering: config.OrderingConfig{
			KStd:                2.0,
			VolumeBucketSeconds: 5.0,
		},
		Output:  config.OutputConfig{Dir: outputDir},
		Storage: config.StorageConfig{DBPath: dbPath},
		Logging: config.LoggingConfig{Level: "info", Format: "console"},
	}
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	tradesPath, tobPath := writeFixtures(t, dir)
	outputDir := filepath.Join(dir, "outputs")
	dbPath := filepath.Join(dir, "runs.db")

	cfg := testConfig(dbPath, outputDir)
	result, err := Run(cfg, Options{TradesPath: tradesPath, TOBPath: tobPath})
	require.NoError(t, err)

	// The 5% drop fires once; repeats inside the rolling window collapse.
	require.Len(t, result.Events, 1)
	event := result.Events[0]
	assert.Equal(t, models.DirectionDown, event.Direction)
	assert.InDelta(t, -5.0, event.Magnitude, 1e-9)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 3, 0, 0, time.UTC), event.Timestamp)

	require.Len(t, result.Windows, 1)
	require.Len(t, result.Metrics, 1)
	require.Len(t, result.Orderings, 1)

	// Spreads and volumes never move, so the price onset stands alone.
	o := result.Orderings[0]
	assert.Nil(t, o.Liquidity.OnsetTime)
	assert.Nil(t, o.Volume.OnsetTime)
	require.NotNil(t, o.Price.OnsetTime)
	assert.Equal(t, ordering.ClassPriceFirst, o.Classification)

	for _, name := range []string{
		"events.csv", "events.json", "metrics.csv", "metrics.json",
		"orderings.csv", "orderings.json",
	} {
		_, err := os.Stat(filepath.Join(outputDir, name))
		assert.NoError(t, err, name)
	}

	require.NotEmpty(t, result.RunID)
	s, err := store.New(dbPath)
	require.NoError(t, err)
	defer s.Close()

	run, err := s.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "quotes", run.Source)
	assert.Equal(t, "BTC-USDT", run.Symbol)
	assert.Equal(t, 1, run.EventCount)
	assert.Equal(t, 1, run.WindowCount)

	counts, err := s.ClassificationCounts(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{ordering.ClassPriceFirst: 1}, counts)
}

func TestRunWithoutStore(t *testing.T) {
	dir := t.TempDir()
	tradesPath, tobPath := writeFixtures(t, dir)
	cfg := testConfig("", filepath.Join(dir, "outputs"))

	result, err := Run(cfg, Options{TradesPath: tradesPath, TOBPath: tobPath})
	require.NoError(t, err)
	assert.Empty(t, result.RunID)
}

func TestRunMissingSourceData(t *testing.T) {
	dir := t.TempDir()
	tradesPath, _ := writeFixtures(t, dir)
	cfg := testConfig("", filepath.Join(dir, "outputs"))

	// Quotes configured as event source but only trades supplied.
	_, err := Run(cfg, Options{TradesPath: tradesPath})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no quote data")
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig("", t.TempDir())
	cfg.EventDetection.ThresholdPct = -1

	_, err := Run(cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestAggregateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tradesPath, tobPath := writeFixtures(t, dir)
	outputDir := filepath.Join(dir, "outputs")
	cfg := testConfig("", outputDir)

	_, err := Run(cfg, Options{TradesPath: tradesPath, TOBPath: tobPath})
	require.NoError(t, err)

	for _, name := range []string{"orderings.csv", "orderings.json"} {
		summary, err := Aggregate(filepath.Join(outputDir, name), stats.DefaultOptions())
		require.NoError(t, err, name)
		assert.Equal(t, 1, summary.TotalEvents)
		assert.Equal(t, 0, summary.LiquidityFirstCount)
		assert.Equal(t, 1, summary.Counts[ordering.ClassPriceFirst])
	}
}

func TestAggregateUnsupportedFormat(t *testing.T) {
	_, err := Aggregate("orderings.txt", stats.DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported orderings format")
}
