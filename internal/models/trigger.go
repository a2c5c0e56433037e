package models

import (
	"time"
)

// TriggerEvent is emitted exactly once per arming when an alert's condition holds
type TriggerEvent struct {
	AlertID       string    `json:"alert_id"`
	Symbol        string    `json:"symbol"`
	TargetPrice   float64   `json:"target_price"`
	Direction     Direction `json:"direction"`
	ObservedPrice float64   `json:"observed_price"`
	Timestamp     time.Time `json:"timestamp"`
	ChannelKey    string    `json:"channel_key,omitempty"`

	// Delivery attempts so far, bumped on every redelivery from the outbox
	Attempt int `json:"attempt"`
}

// NewTriggerEvent builds the event for alert a fired by tick t
func NewTriggerEvent(a *Alert, t Tick) *TriggerEvent {
	return &TriggerEvent{
		AlertID:       a.ID,
		Symbol:        a.Symbol,
		TargetPrice:   a.TargetPrice,
		Direction:     a.Direction,
		ObservedPrice: t.Price,
		Timestamp:     t.Timestamp,
		ChannelKey:    a.ChannelKey,
	}
}

// DeliveryOutcome is the result of one delivery attempt
type DeliveryOutcome string

const (
	OutcomeDelivered      DeliveryOutcome = "delivered"
	OutcomeChannelInvalid DeliveryOutcome = "channel_invalid"
	OutcomeFailed         DeliveryOutcome = "failed"
	OutcomeNoChannel      DeliveryOutcome = "no_channel"
)

// DeliveryRecord is what gets journaled for every attempt
type DeliveryRecord struct {
	Event       *TriggerEvent   `json:"event"`
	Outcome     DeliveryOutcome `json:"outcome"`
	Error       string          `json:"error,omitempty"`
	AttemptedAt time.Time       `json:"attempted_at"`
	Node        string          `json:"node"`
}

// NewDeliveryRecord stamps an outcome for ev
func NewDeliveryRecord(ev *TriggerEvent, outcome DeliveryOutcome, err error, node string) *DeliveryRecord {
	rec := &DeliveryRecord{
		Event:       ev,
		Outcome:     outcome,
		AttemptedAt: time.Now().UTC(),
		Node:        node,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}
