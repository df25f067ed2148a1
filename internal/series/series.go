// Package series provides a uniform priced-series view over trade and
// top-of-book data so the event detector does not care which one it scans.
package series

import (
	"time"

	"github.com/marketshock/forensics/internal/models"
)

// Priced is a chronologically ordered sequence of priced points belonging to
// one symbol. Trades expose their execution price, quotes their mid price.
type Priced interface {
	Len() int
	Price(i int) float64
	Time(i int) time.Time
	Symbol() string
}

// TradeSeries adapts a trade slice to the Priced interface.
type TradeSeries []models.Trade

func (s TradeSeries) Len() int             { return len(s) }
func (s TradeSeries) Price(i int) float64  { return s[i].Price }
func (s TradeSeries) Time(i int) time.Time { return s[i].Timestamp }

// Symbol returns the symbol of the first record, empty for an empty series.
func (s TradeSeries) Symbol() string {
	if len(s) == 0 {
		return ""
	}
	return s[0].Symbol
}

// QuoteSeries adapts a top-of-book slice to the Priced interface using mid prices.
type QuoteSeries []models.TopOfBook

func (s QuoteSeries) Len() int             { return len(s) }
func (s QuoteSeries) Price(i int) float64  { return s[i].MidPrice() }
func (s QuoteSeries) Time(i int) time.Time { return s[i].Timestamp }

// Symbol returns the symbol of the first record, empty for an empty series.
func (s QuoteSeries) Symbol() string {
	if len(s) == 0 {
		return ""
	}
	return s[0].Symbol
}
