// Package detector implements price-shock detection over a chronologically
// sorted priced series using a trailing window.
package detector

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketshock/forensics/internal/config"
	"github.com/marketshock/forensics/internal/models"
	"github.com/marketshock/forensics/internal/series"
)

// ErrConfig reports invalid detection parameters.
var ErrConfig = errors.New("invalid detector configuration")

// OrderViolationError reports a timestamp decrease in the input series.
// Sortedness is a precondition; a violation is a data-quality signal worth
// failing loudly on, so the detector never re-sorts input.
type OrderViolationError struct {
	Index int
	Prev  time.Time
	Curr  time.Time
}

func (e *OrderViolationError) Error() string {
	return fmt.Sprintf("timestamps must be non-decreasing: %s after %s at index %d",
		e.Curr.Format(time.RFC3339Nano), e.Prev.Format(time.RFC3339Nano), e.Index)
}

// Detect scans data for price shocks: moments where the percentage change from
// the oldest point still inside the trailing window to the current point is at
// least thresholdPct. Closely timed breaches are collapsed to one
// maximal-magnitude event per cluster.
//
// The reference price is deliberately the oldest in-window point rather than
// the window extremum; the window start boundary only moves forward, keeping
// the scan O(n).
//
// The input must be sorted by timestamp (duplicates allowed). Empty input
// yields an empty result.
func Detect(data series.Priced, thresholdPct, windowSeconds float64) ([]models.Event, error) {
	if thresholdPct <= 0 {
		return nil, fmt.Errorf("%w: threshold_pct must be positive, got %v", ErrConfig, thresholdPct)
	}
	if windowSeconds <= 0 {
		return nil, fmt.Errorf("%w: window_seconds must be positive, got %v", ErrConfig, windowSeconds)
	}

	n := data.Len()
	if n == 0 {
		return nil, nil
	}
	if err := validateOrdering(data); err != nil {
		return nil, err
	}

	window := secondsToDuration(windowSeconds)
	symbol := data.Symbol()

	var candidates []models.Event
	left := 0
	for i := 0; i < n; i++ {
		currentTime := data.Time(i)
		currentPrice := data.Price(i)
		windowStart := currentTime.Add(-window)

		for left < i && data.Time(left).Before(windowStart) {
			left++
		}

		// A lone point cannot shock against itself.
		if i-left < 1 {
			continue
		}

		reference := data.Price(left)
		if reference == 0 {
			continue
		}

		pctChange := (currentPrice - reference) / reference * 100
		if math.Abs(pctChange) < thresholdPct {
			continue
		}

		direction := models.DirectionUp
		if pctChange < 0 {
			direction = models.DirectionDown
		}
		candidates = append(candidates, models.Event{
			Timestamp: currentTime,
			Symbol:    symbol,
			Type:      models.EventTypePriceShock,
			Direction: direction,
			Magnitude: pctChange,
			Metadata: map[string]float64{
				"reference_price": reference,
				"current_price":   currentPrice,
				"threshold_pct":   thresholdPct,
				"window_seconds":  windowSeconds,
			},
		})
	}

	events := collapseClusters(candidates, window)
	log.Debug().
		Str("symbol", symbol).
		Int("points", n).
		Int("breaches", len(candidates)).
		Int("events", len(events)).
		Msg("price shock detection complete")
	return events, nil
}

// DetectFromConfig runs detection with the configured threshold and rolling
// window.
func DetectFromConfig(data series.Priced, cfg config.EventDetectionConfig) ([]models.Event, error) {
	return Detect(data, cfg.ThresholdPct, cfg.WindowSeconds)
}

// DetectTrades runs detection over trade prices.
func DetectTrades(trades []models.Trade, thresholdPct, windowSeconds float64) ([]models.Event, error) {
	return Detect(series.TradeSeries(trades), thresholdPct, windowSeconds)
}

// DetectQuotes runs detection over top-of-book mid prices.
func DetectQuotes(tob []models.TopOfBook, thresholdPct, windowSeconds float64) ([]models.Event, error) {
	return Detect(series.QuoteSeries(tob), thresholdPct, windowSeconds)
}

// collapseClusters folds raw threshold breaches into one event per cluster,
// keeping the maximal-magnitude breach. A breach within window of the cluster's
// current representative belongs to the same cluster; it replaces the
// representative when its magnitude is larger and is dropped otherwise. The
// gap is always measured against the representative's timestamp.
func collapseClusters(candidates []models.Event, window time.Duration) []models.Event {
	if len(candidates) == 0 {
		return nil
	}

	events := make([]models.Event, 0, len(candidates))
	events = append(events, candidates[0])
	for _, cand := range candidates[1:] {
		last := events[len(events)-1]
		if cand.Timestamp.Sub(last.Timestamp) < window {
			if math.Abs(cand.Magnitude) > math.Abs(last.Magnitude) {
				events[len(events)-1] = cand
			}
			continue
		}
		events = append(events, cand)
	}
	return events
}

func validateOrdering(data series.Priced) error {
	for i := 1; i < data.Len(); i++ {
		if data.Time(i).Before(data.Time(i - 1)) {
			return &OrderViolationError{Index: i, Prev: data.Time(i - 1), Curr: data.Time(i)}
		}
	}
	return nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
