// Package models defines the canonical market data records flowing through the
// pipeline: trades, top-of-book snapshots, and detected events. Loaders convert
// raw data into these types; everything downstream consumes them read-only.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide normalizes common side spellings ("buy"/"b"/"bid", "sell"/"s"/"ask").
func ParseSide(value string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "buy", "b", "bid":
		return SideBuy, nil
	case "sell", "s", "ask":
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid trade side: %q", value)
	}
}

// Trade is a single trade execution.
type Trade struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      Side      `json:"side"`
	TradeID   string    `json:"trade_id,omitempty"`
}

// NewTrade builds a validated trade record.
func NewTrade(ts time.Time, symbol string, price, size float64, side Side, tradeID string) (Trade, error) {
	t := Trade{Timestamp: ts, Symbol: symbol, Price: price, Size: size, Side: side, TradeID: tradeID}
	if err := t.Validate(); err != nil {
		return Trade{}, err
	}
	return t, nil
}

// Validate checks trade field constraints.
func (t Trade) Validate() error {
	if t.Timestamp.IsZero() {
		return errors.New("trade timestamp must not be zero")
	}
	if t.Symbol == "" {
		return errors.New("trade symbol must not be empty")
	}
	if t.Price <= 0 {
		return fmt.Errorf("trade price must be positive, got %v", t.Price)
	}
	if t.Size <= 0 {
		return fmt.Errorf("trade size must be positive, got %v", t.Size)
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return fmt.Errorf("trade side must be buy or sell, got %q", t.Side)
	}
	return nil
}

// TopOfBook is a best bid/ask snapshot.
type TopOfBook struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	BidPrice  float64   `json:"bid_price"`
	BidSize   float64   `json:"bid_size"`
	AskPrice  float64   `json:"ask_price"`
	AskSize   float64   `json:"ask_size"`
}

// NewTopOfBook builds a validated top-of-book record.
func NewTopOfBook(ts time.Time, symbol string, bidPrice, bidSize, askPrice, askSize float64) (TopOfBook, error) {
	b := TopOfBook{
		Timestamp: ts,
		Symbol:    symbol,
		BidPrice:  bidPrice,
		BidSize:   bidSize,
		AskPrice:  askPrice,
		AskSize:   askSize,
	}
	if err := b.Validate(); err != nil {
		return TopOfBook{}, err
	}
	return b, nil
}

// Validate checks top-of-book field constraints.
func (b TopOfBook) Validate() error {
	if b.Timestamp.IsZero() {
		return errors.New("top-of-book timestamp must not be zero")
	}
	if b.Symbol == "" {
		return errors.New("top-of-book symbol must not be empty")
	}
	if b.BidPrice <= 0 {
		return fmt.Errorf("bid price must be positive, got %v", b.BidPrice)
	}
	if b.AskPrice <= 0 {
		return fmt.Errorf("ask price must be positive, got %v", b.AskPrice)
	}
	if b.BidSize < 0 {
		return fmt.Errorf("bid size must not be negative, got %v", b.BidSize)
	}
	if b.AskSize < 0 {
		return fmt.Errorf("ask size must not be negative, got %v", b.AskSize)
	}
	if b.BidPrice > b.AskPrice {
		return fmt.Errorf("bid price (%v) must not exceed ask price (%v)", b.BidPrice, b.AskPrice)
	}
	return nil
}

// MidPrice returns the arithmetic average of best bid and best ask.
func (b TopOfBook) MidPrice() float64 {
	return (b.BidPrice + b.AskPrice) / 2
}

// Spread returns the absolute bid-ask spread.
func (b TopOfBook) Spread() float64 {
	return b.AskPrice - b.BidPrice
}

// SpreadBps returns the spread in basis points relative to the mid price.
func (b TopOfBook) SpreadBps() float64 {
	return (b.Spread() / b.MidPrice()) * 10000
}
