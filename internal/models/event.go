package models

import (
	"errors"
	"fmt"
	"time"
)

// Direction of a detected event.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// EventTypePriceShock is the only event type currently produced by the detector.
const EventTypePriceShock = "price_shock"

// Event is a detected market event. Events are value objects: the detector may
// replace a candidate with a larger-magnitude one while clustering, but a
// published Event is never mutated.
type Event struct {
	Timestamp time.Time          `json:"timestamp"`
	Symbol    string             `json:"symbol"`
	Type      string             `json:"event_type"`
	Direction Direction          `json:"direction"`
	Magnitude float64            `json:"magnitude"`
	Metadata  map[string]float64 `json:"metadata,omitempty"`
}

// NewEvent builds a validated event record.
func NewEvent(ts time.Time, symbol, eventType string, direction Direction, magnitude float64, metadata map[string]float64) (Event, error) {
	e := Event{
		Timestamp: ts,
		Symbol:    symbol,
		Type:      eventType,
		Direction: direction,
		Magnitude: magnitude,
		Metadata:  metadata,
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Validate checks event field constraints.
func (e Event) Validate() error {
	if e.Timestamp.IsZero() {
		return errors.New("event timestamp must not be zero")
	}
	if e.Symbol == "" {
		return errors.New("event symbol must not be empty")
	}
	if e.Type == "" {
		return errors.New("event type must not be empty")
	}
	if e.Direction != DirectionUp && e.Direction != DirectionDown {
		return fmt.Errorf("event direction must be up or down, got %q", e.Direction)
	}
	return nil
}
