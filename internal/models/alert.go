package models

import (
	"errors"
	"math"
	"time"
)

// Direction is the side of the threshold an alert watches
type Direction string

const (
	DirectionAbove Direction = "Above"
	DirectionBelow Direction = "Below"
)

// Alert is a standing watch condition on a single symbol
type Alert struct {
	// Unique identifier assigned at arm time
	ID string `json:"id" db:"id"`

	// Instrument, uppercase ticker pair (e.g. BTCUSDT)
	Symbol string `json:"symbol" db:"symbol"`

	// Threshold price, always positive
	TargetPrice float64 `json:"target_price" db:"target_price"`

	Direction Direction `json:"direction" db:"direction"`

	// Set once the condition has fired, cleared only by an explicit reset
	Triggered bool `json:"triggered" db:"triggered"`

	// Key into the channel registry. Weak reference: the channel may be gone.
	ChannelKey string `json:"channel_key,omitempty" db:"channel_key"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty" db:"triggered_at"`
}

// AlertSpec is the caller-supplied part of an alert
type AlertSpec struct {
	Symbol      string    `json:"symbol"`
	TargetPrice float64   `json:"target_price"`
	Direction   Direction `json:"direction"`
	ChannelKey  string    `json:"channel_key,omitempty"`
}

// Validation errors
var (
	ErrEmptySymbol      = errors.New("symbol cannot be empty")
	ErrInvalidSymbol    = errors.New("symbol must be an uppercase ticker pair")
	ErrInvalidPrice     = errors.New("target price must be a positive number")
	ErrInvalidDirection = errors.New("direction must be Above or Below")
)

const MaxSymbolLength = 20

// Validate checks the spec after Normalize has been applied
func (s *AlertSpec) Validate() error {
	if s.Symbol == "" {
		return ErrEmptySymbol
	}

	if !IsValidSymbol(s.Symbol) {
		return ErrInvalidSymbol
	}

	if math.IsNaN(s.TargetPrice) || math.IsInf(s.TargetPrice, 0) || s.TargetPrice <= 0 {
		return ErrInvalidPrice
	}

	if !s.Direction.IsValid() {
		return ErrInvalidDirection
	}

	return nil
}

// IsValid reports whether d is one of the known directions
func (d Direction) IsValid() bool {
	switch d {
	case DirectionAbove, DirectionBelow:
		return true
	default:
		return false
	}
}

// Crossed reports whether price satisfies the threshold. Both sides are inclusive.
func (d Direction) Crossed(price, target float64) bool {
	switch d {
	case DirectionAbove:
		return price >= target
	case DirectionBelow:
		return price <= target
	default:
		return false
	}
}

// Matches reports whether the alert is armed and its condition holds for price
func (a *Alert) Matches(price float64) bool {
	return !a.Triggered && a.Direction.Crossed(price, a.TargetPrice)
}
