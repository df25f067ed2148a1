// Package windows carves pre/post event slices out of the full trade and
// top-of-book history and resolves overlapping events deterministically.
package windows

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketshock/forensics/internal/models"
)

// ErrConfig reports invalid window parameters.
var ErrConfig = errors.New("invalid window configuration")

// StrategyKeepFirst keeps the earliest event of every overlapping run and
// skips events falling inside an accepted event's post-window. It is the only
// supported overlap strategy.
const StrategyKeepFirst = "keep_first"

// EventWindow owns one event plus the four disjoint record slices around it.
// Built once, read-only afterwards.
type EventWindow struct {
	Event       models.Event
	PreTrades   []models.Trade
	PostTrades  []models.Trade
	PreTOB      []models.TopOfBook
	PostTOB     []models.TopOfBook
	PreSeconds  float64
	PostSeconds float64
}

// ID returns the deterministic window identifier, stable and unique per event
// instant: symbol_YYYYMMDD_HHMMSS_eventtype.
func (w *EventWindow) ID() string {
	return fmt.Sprintf("%s_%s_%s", w.Event.Symbol, w.Event.Timestamp.UTC().Format("20060102_150405"), w.Event.Type)
}

// Extract builds the window for a single event. The pre-window is the open
// interval (event-preSeconds, event); the post-window is the half-open
// interval [event, event+postSeconds). Records of other symbols are filtered
// out.
func Extract(event models.Event, trades []models.Trade, tob []models.TopOfBook, preSeconds, postSeconds float64) (EventWindow, error) {
	if preSeconds < 0 {
		return EventWindow{}, fmt.Errorf("%w: pre_seconds must not be negative, got %v", ErrConfig, preSeconds)
	}
	if postSeconds < 0 {
		return EventWindow{}, fmt.Errorf("%w: post_seconds must not be negative, got %v", ErrConfig, postSeconds)
	}

	eventTime := event.Timestamp
	preStart := eventTime.Add(-secondsToDuration(preSeconds))
	postEnd := eventTime.Add(secondsToDuration(postSeconds))

	w := EventWindow{
		Event:       event,
		PreSeconds:  preSeconds,
		PostSeconds: postSeconds,
	}
	for _, t := range trades {
		if t.Symbol != event.Symbol {
			continue
		}
		switch {
		case t.Timestamp.After(preStart) && t.Timestamp.Before(eventTime):
			w.PreTrades = append(w.PreTrades, t)
		case !t.Timestamp.Before(eventTime) && t.Timestamp.Before(postEnd):
			w.PostTrades = append(w.PostTrades, t)
		}
	}
	for _, b := range tob {
		if b.Symbol != event.Symbol {
			continue
		}
		switch {
		case b.Timestamp.After(preStart) && b.Timestamp.Before(eventTime):
			w.PreTOB = append(w.PreTOB, b)
		case !b.Timestamp.Before(eventTime) && b.Timestamp.Before(postEnd):
			w.PostTOB = append(w.PostTOB, b)
		}
	}
	return w, nil
}

// ExtractAll builds windows for every event that survives overlap resolution,
// in ascending event time regardless of input order.
//
// keep_first maintains a watermark at the end of the last accepted event's
// post-window; events before the watermark are dropped entirely. Accepted
// post-windows therefore never overlap, at the cost of discarding events that
// occur during another event's aftermath.
func ExtractAll(events []models.Event, trades []models.Trade, tob []models.TopOfBook, preSeconds, postSeconds float64, strategy string) ([]EventWindow, error) {
	if strategy != StrategyKeepFirst {
		return nil, fmt.Errorf("%w: unknown overlap strategy %q (supported: %q)", ErrConfig, strategy, StrategyKeepFirst)
	}
	if len(events) == 0 {
		return nil, nil
	}

	sorted := make([]models.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var (
		result        []EventWindow
		excludedUntil time.Time
		dropped       int
	)
	for _, event := range sorted {
		if !excludedUntil.IsZero() && event.Timestamp.Before(excludedUntil) {
			dropped++
			continue
		}
		w, err := Extract(event, trades, tob, preSeconds, postSeconds)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
		excludedUntil = event.Timestamp.Add(secondsToDuration(postSeconds))
	}

	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Int("kept", len(result)).Msg("overlapping events discarded by keep_first")
	}
	return result, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
