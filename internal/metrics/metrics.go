// Package metrics computes descriptive microstructure statistics for event
// windows: trade activity, VWAP, realized volatility, and quote averages.
package metrics

import (
	"math"
	"time"

	"github.com/marketshock/forensics/internal/models"
	"github.com/marketshock/forensics/internal/windows"
)

// WindowMetrics are the aggregates for one side (pre or post) of a window.
// Nil pointers mean the quantity is undefined for the window's data (e.g. no
// trades, no quotes, or too few points).
type WindowMetrics struct {
	TradeCount         int      `json:"trade_count"`
	TradeVolume        float64  `json:"trade_volume"`
	AvgTradeSize       *float64 `json:"avg_trade_size,omitempty"`
	VWAP               *float64 `json:"vwap,omitempty"`
	AvgSpread          *float64 `json:"avg_spread,omitempty"`
	AvgSpreadBps       *float64 `json:"avg_spread_bps,omitempty"`
	AvgMidPrice        *float64 `json:"avg_midprice,omitempty"`
	RealizedVolatility *float64 `json:"realized_volatility,omitempty"`
	MinPrice           *float64 `json:"min_price,omitempty"`
	MaxPrice           *float64 `json:"max_price,omitempty"`
}

// EventMetrics pairs the pre- and post-window aggregates for one event.
type EventMetrics struct {
	WindowID       string           `json:"window_id"`
	Symbol         string           `json:"symbol"`
	EventTimestamp time.Time        `json:"event_timestamp"`
	EventDirection models.Direction `json:"event_direction"`
	EventMagnitude float64          `json:"event_magnitude"`
	Pre            WindowMetrics    `json:"pre_metrics"`
	Post           WindowMetrics    `json:"post_metrics"`
}

// ComputeWindow computes all aggregates over one record set.
func ComputeWindow(trades []models.Trade, tob []models.TopOfBook) WindowMetrics {
	m := WindowMetrics{TradeCount: len(trades)}

	if len(trades) > 0 {
		var volume, notional float64
		minPrice := trades[0].Price
		maxPrice := trades[0].Price
		for _, t := range trades {
			volume += t.Size
			notional += t.Price * t.Size
			minPrice = math.Min(minPrice, t.Price)
			maxPrice = math.Max(maxPrice, t.Price)
		}
		m.TradeVolume = volume
		avgSize := volume / float64(len(trades))
		vwap := notional / volume
		m.AvgTradeSize = &avgSize
		m.VWAP = &vwap
		m.MinPrice = &minPrice
		m.MaxPrice = &maxPrice
		m.RealizedVolatility = realizedVolatility(trades)
	}

	if len(tob) > 0 {
		var spread, spreadBps, mid float64
		for _, b := range tob {
			spread += b.Spread()
			spreadBps += b.SpreadBps()
			mid += b.MidPrice()
		}
		n := float64(len(tob))
		avgSpread := spread / n
		avgSpreadBps := spreadBps / n
		avgMid := mid / n
		m.AvgSpread = &avgSpread
		m.AvgSpreadBps = &avgSpreadBps
		m.AvgMidPrice = &avgMid
	}

	return m
}

// realizedVolatility is the population standard deviation of log returns
// between consecutive trades; nil for fewer than two trades.
func realizedVolatility(trades []models.Trade) *float64 {
	if len(trades) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(trades)-1)
	for i := 1; i < len(trades); i++ {
		if trades[i-1].Price > 0 {
			returns = append(returns, math.Log(trades[i].Price/trades[i-1].Price))
		}
	}
	if len(returns) == 0 {
		return nil
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	vol := math.Sqrt(sq / float64(len(returns)))
	return &vol
}

// ComputeEvent computes pre and post aggregates for one window.
func ComputeEvent(w windows.EventWindow) EventMetrics {
	return EventMetrics{
		WindowID:       w.ID(),
		Symbol:         w.Event.Symbol,
		EventTimestamp: w.Event.Timestamp,
		EventDirection: w.Event.Direction,
		EventMagnitude: w.Event.Magnitude,
		Pre:            ComputeWindow(w.PreTrades, w.PreTOB),
		Post:           ComputeWindow(w.PostTrades, w.PostTOB),
	}
}

// ComputeAll computes metrics for every window, preserving window order.
func ComputeAll(ws []windows.EventWindow) []EventMetrics {
	result := make([]EventMetrics, len(ws))
	for i, w := range ws {
		result[i] = ComputeEvent(w)
	}
	return result
}
