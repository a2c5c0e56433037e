package state

import (
	"context"
	"errors"

	"pricewatch/internal/models"
)

var ErrChannelNotFound = errors.New("channel not found")

// Registry maps channel keys to notification endpoints
type Registry interface {
	// Register stores the descriptor under its derived key and returns the
	// stored channel. Registering the same endpoint again refreshes it.
	Register(ctx context.Context, ch models.Channel) (models.Channel, error)
	Find(ctx context.Context, key string) (models.Channel, error)
	// Purge removes the channel; purging an unknown key is a no-op
	Purge(ctx context.Context, key string) error
	Close() error
}

// Outbox holds trigger events whose delivery failed transiently
type Outbox interface {
	Push(ctx context.Context, ev *models.TriggerEvent) error
	// Drain removes and returns up to max events, oldest first
	Drain(ctx context.Context, max int) ([]*models.TriggerEvent, error)
	Len(ctx context.Context) (int64, error)
}

// prepare normalizes, validates and keys a descriptor before it is stored
func prepare(ch models.Channel) (models.Channel, error) {
	ch.Normalize()
	if err := ch.Validate(); err != nil {
		return models.Channel{}, err
	}
	ch.Key = ch.DeriveKey()
	return ch, nil
}
