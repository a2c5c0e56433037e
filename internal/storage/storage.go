package storage

import (
	"context"
	"errors"

	"pricewatch/internal/models"
)

var ErrNotFound = errors.New("alert not found")

// Filter narrows Find. Nil fields match everything.
type Filter struct {
	Symbol    *string
	Triggered *bool
}

// Match reports whether a satisfies the filter
func (f Filter) Match(a *models.Alert) bool {
	if f.Symbol != nil && a.Symbol != *f.Symbol {
		return false
	}
	if f.Triggered != nil && a.Triggered != *f.Triggered {
		return false
	}
	return true
}

// AlertStore persists alerts and arbitrates the trigger transition.
type AlertStore interface {
	Insert(ctx context.Context, a *models.Alert) error
	Find(ctx context.Context, f Filter) ([]*models.Alert, error)

	// UpdateTriggeredFlag sets the flag unconditionally. Returns ErrNotFound
	// for unknown ids.
	UpdateTriggeredFlag(ctx context.Context, id string, triggered bool) error

	// MarkTriggered sets triggered=true only if it is currently false.
	// It returns false when another writer got there first.
	MarkTriggered(ctx context.Context, id string) (bool, error)

	// Delete removes the alert; deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}
