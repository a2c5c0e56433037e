package models

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"
)

// Tick is one observed price sample. Ticks are never persisted.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

var (
	ErrInvalidTickPrice = errors.New("tick price must be a positive number")
	ErrZeroTimestamp    = errors.New("timestamp cannot be zero")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
	ErrInvalidInterval  = errors.New("unsupported interval")
)

// Validate checks a normalized tick
func (t Tick) Validate() error {
	if t.Symbol == "" {
		return ErrEmptySymbol
	}
	if !IsValidSymbol(t.Symbol) {
		return ErrInvalidSymbol
	}
	if !(t.Price > 0) || math.IsInf(t.Price, 1) {
		return ErrInvalidTickPrice
	}
	if t.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

// TickInput is the wire form of a tick accepted from ingest and the tick topic.
// Timestamp may be unix milliseconds, a timestamp string, or omitted.
type TickInput struct {
	Symbol    string          `json:"symbol"`
	Price     float64         `json:"price"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// ToTick normalizes and validates the input. now stamps ticks without a timestamp.
func (in TickInput) ToTick(now time.Time) (Tick, error) {
	t := Tick{Symbol: in.Symbol, Price: in.Price, Timestamp: now}

	raw := strings.TrimSpace(string(in.Timestamp))
	if raw != "" && raw != "null" {
		var s string
		if strings.HasPrefix(raw, `"`) {
			if err := json.Unmarshal(in.Timestamp, &s); err != nil {
				return Tick{}, ErrInvalidTimestamp
			}
		} else {
			s = raw
		}
		ts, err := ParseTimestamp(s)
		if err != nil {
			return Tick{}, err
		}
		t.Timestamp = ts
	}

	t.Normalize()
	if err := t.Validate(); err != nil {
		return Tick{}, err
	}
	return t, nil
}

// Interval is a candle granularity understood by the price feed
type Interval string

const (
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

// Intervals lists every supported interval in ascending order
var Intervals = []Interval{
	Interval5m, Interval15m, Interval30m, Interval1h,
	Interval4h, Interval1d, Interval1w, Interval1M,
}

// ParseInterval accepts only the closed set above. Case matters: 1m is not 1M.
func ParseInterval(s string) (Interval, error) {
	for _, iv := range Intervals {
		if string(iv) == s {
			return iv, nil
		}
	}
	return "", ErrInvalidInterval
}
