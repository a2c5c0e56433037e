package state

import (
	"context"
	"sync"
	"time"

	"pricewatch/internal/models"
)

type MemoryRegistry struct {
	mu       sync.RWMutex
	channels map[string]models.Channel
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{channels: make(map[string]models.Channel)}
}

func (r *MemoryRegistry) Register(ctx context.Context, ch models.Channel) (models.Channel, error) {
	ch, err := prepare(ch)
	if err != nil {
		return models.Channel{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.channels[ch.Key]; ok {
		ch.CreatedAt = prev.CreatedAt
	} else {
		ch.CreatedAt = time.Now().UTC()
	}
	r.channels[ch.Key] = ch
	return ch, nil
}

func (r *MemoryRegistry) Find(ctx context.Context, key string) (models.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[key]
	if !ok {
		return models.Channel{}, ErrChannelNotFound
	}
	return ch, nil
}

func (r *MemoryRegistry) Purge(ctx context.Context, key string) error {
	r.mu.Lock()
	delete(r.channels, key)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) Close() error { return nil }

type MemoryOutbox struct {
	mu     sync.Mutex
	events []*models.TriggerEvent
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

func (o *MemoryOutbox) Push(ctx context.Context, ev *models.TriggerEvent) error {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
	return nil
}

func (o *MemoryOutbox) Drain(ctx context.Context, max int) ([]*models.TriggerEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if max <= 0 || max > len(o.events) {
		max = len(o.events)
	}
	out := make([]*models.TriggerEvent, max)
	copy(out, o.events[:max])
	o.events = o.events[max:]
	return out, nil
}

func (o *MemoryOutbox) Len(ctx context.Context) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(len(o.events)), nil
}
