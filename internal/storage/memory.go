package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pricewatch/internal/models"
)

// Memory is an in-process AlertStore used for development and tests
type Memory struct {
	mu     sync.RWMutex
	alerts map[string]models.Alert
}

func NewMemory() *Memory {
	return &Memory{alerts: make(map[string]models.Alert)}
}

func (m *Memory) Insert(ctx context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.alerts[a.ID]; ok {
		return fmt.Errorf("alert %s already exists", a.ID)
	}
	m.alerts[a.ID] = *a
	return nil
}

func (m *Memory) Find(ctx context.Context, f Filter) ([]*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !f.Match(&a) {
			continue
		}
		cp := a
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateTriggeredFlag(ctx context.Context, id string, triggered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.Triggered = triggered
	if triggered {
		now := time.Now().UTC()
		a.TriggeredAt = &now
	} else {
		a.TriggeredAt = nil
	}
	m.alerts[id] = a
	return nil
}

func (m *Memory) MarkTriggered(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return false, ErrNotFound
	}
	if a.Triggered {
		return false, nil
	}
	now := time.Now().UTC()
	a.Triggered = true
	a.TriggeredAt = &now
	m.alerts[id] = a
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.alerts, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
