package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/models"
	"pricewatch/internal/storage"
)

// ErrPersist wraps store failures surfaced by Arm, Disarm and Reset
var ErrPersist = errors.New("alert persistence failed")

// shard owns every alert of one symbol. Its mutex serializes evaluation
// and mutation for that symbol.
type shard struct {
	mu     sync.Mutex
	alerts map[string]*models.Alert
}

// Engine matches ticks against armed alerts. Each alert fires at most once
// per arming: the store's MarkTriggered decides the winner, the shard lock
// keeps the in-memory copy consistent with it.
type Engine struct {
	store storage.AlertStore

	mu     sync.RWMutex
	shards map[string]*shard
	index  map[string]string // alert id -> symbol

	now func() time.Time
	log zerolog.Logger
}

func NewEngine(store storage.AlertStore) *Engine {
	return &Engine{
		store:  store,
		shards: make(map[string]*shard),
		index:  make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.WithComponent("engine"),
	}
}

// shard returns the shard for symbol, creating it when create is set
func (e *Engine) shard(symbol string, create bool) *shard {
	e.mu.RLock()
	sh := e.shards[symbol]
	e.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if sh = e.shards[symbol]; sh == nil {
		sh = &shard{alerts: make(map[string]*models.Alert)}
		e.shards[symbol] = sh
	}
	return sh
}

func (e *Engine) symbolOf(id string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.index[id]
	return s, ok
}

func (e *Engine) setIndex(id, symbol string) {
	e.mu.Lock()
	e.index[id] = symbol
	e.mu.Unlock()
}

func (e *Engine) dropIndex(id string) {
	e.mu.Lock()
	delete(e.index, id)
	e.mu.Unlock()
}

// Arm validates spec, stores the new alert and makes it visible to
// evaluation. A store failure leaves no trace of the alert.
func (e *Engine) Arm(ctx context.Context, spec models.AlertSpec) (models.Alert, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		metrics.AlertOperationsTotal.WithLabelValues("arm", "invalid").Inc()
		return models.Alert{}, err
	}

	a := &models.Alert{
		ID:          uuid.NewString(),
		Symbol:      spec.Symbol,
		TargetPrice: spec.TargetPrice,
		Direction:   spec.Direction,
		ChannelKey:  spec.ChannelKey,
		CreatedAt:   e.now(),
	}

	sh := e.shard(a.Symbol, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.alerts[a.ID] = a
	e.setIndex(a.ID, a.Symbol)

	if err := e.store.Insert(ctx, a); err != nil {
		delete(sh.alerts, a.ID)
		e.dropIndex(a.ID)

		metrics.AlertOperationsTotal.WithLabelValues("arm", "failed").Inc()
		metrics.StoreErrorsTotal.WithLabelValues("insert").Inc()
		e.log.Error().Err(err).Str("symbol", a.Symbol).Msg("arm rolled back")
		return models.Alert{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	metrics.AlertsArmed.Inc()
	metrics.AlertOperationsTotal.WithLabelValues("arm", "success").Inc()
	e.log.Info().
		Str("alert_id", a.ID).
		Str("symbol", a.Symbol).
		Float64("target", a.TargetPrice).
		Str("direction", string(a.Direction)).
		Msg("alert armed")

	return *a, nil
}

// Disarm deletes the alert. Unknown ids are a no-op.
func (e *Engine) Disarm(ctx context.Context, id string) error {
	symbol, ok := e.symbolOf(id)
	if !ok {
		// may still exist in a shared store
		if err := e.store.Delete(ctx, id); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("delete").Inc()
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
		return nil
	}

	sh := e.shard(symbol, false)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a, ok := sh.alerts[id]
	if !ok {
		return nil
	}

	if err := e.store.Delete(ctx, id); err != nil {
		metrics.AlertOperationsTotal.WithLabelValues("disarm", "failed").Inc()
		metrics.StoreErrorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	delete(sh.alerts, id)
	e.dropIndex(id)
	if !a.Triggered {
		metrics.AlertsArmed.Dec()
	}
	metrics.AlertOperationsTotal.WithLabelValues("disarm", "success").Inc()
	e.log.Info().Str("alert_id", id).Str("symbol", symbol).Msg("alert disarmed")
	return nil
}

// Reset re-arms an alert. The store flag is always cleared, since another
// process sharing the store may have fired the alert without this engine
// seeing it. Unknown ids are a no-op.
func (e *Engine) Reset(ctx context.Context, id string) error {
	symbol, ok := e.symbolOf(id)
	if !ok {
		// may still exist in a shared store
		err := e.store.UpdateTriggeredFlag(ctx, id, false)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			metrics.StoreErrorsTotal.WithLabelValues("update_triggered").Inc()
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
		return nil
	}

	sh := e.shard(symbol, false)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a, ok := sh.alerts[id]
	if !ok {
		return nil
	}

	err := e.store.UpdateTriggeredFlag(ctx, id, false)
	if errors.Is(err, storage.ErrNotFound) {
		// deleted elsewhere
		delete(sh.alerts, id)
		e.dropIndex(id)
		if !a.Triggered {
			metrics.AlertsArmed.Dec()
		}
		return nil
	}
	if err != nil {
		metrics.AlertOperationsTotal.WithLabelValues("reset", "failed").Inc()
		metrics.StoreErrorsTotal.WithLabelValues("update_triggered").Inc()
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	if a.Triggered {
		metrics.AlertsArmed.Inc()
	}
	a.Triggered = false
	a.TriggeredAt = nil
	metrics.AlertOperationsTotal.WithLabelValues("reset", "success").Inc()
	e.log.Info().Str("alert_id", id).Str("symbol", symbol).Msg("alert reset")
	return nil
}

// Evaluate fires every armed alert of the tick's symbol whose condition
// holds, in creation order. Store errors leave the alert armed so the next
// tick retries it; they never surface to the caller.
func (e *Engine) Evaluate(ctx context.Context, tick models.Tick) []*models.TriggerEvent {
	tick.Normalize()
	if err := tick.Validate(); err != nil {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.TicksEvaluatedTotal.Inc()

	sh := e.shard(tick.Symbol, false)
	if sh == nil {
		return nil
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	var matched []*models.Alert
	for _, a := range sh.alerts {
		if a.Matches(tick.Price) {
			matched = append(matched, a)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	log := logger.WithSymbol("engine", tick.Symbol)
	events := make([]*models.TriggerEvent, 0, len(matched))

	for _, a := range matched {
		won, err := e.store.MarkTriggered(ctx, a.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			delete(sh.alerts, a.ID)
			e.dropIndex(a.ID)
			metrics.AlertsArmed.Dec()
			log.Warn().Str("alert_id", a.ID).Msg("alert vanished from store, dropped")
			continue

		case err != nil:
			metrics.StoreErrorsTotal.WithLabelValues("mark_triggered").Inc()
			log.Error().Err(err).Str("alert_id", a.ID).Msg("trigger transition failed, alert stays armed")
			continue

		case !won:
			a.Triggered = true
			metrics.AlertsArmed.Dec()
			metrics.TriggerConflictsTotal.Inc()
			log.Debug().Str("alert_id", a.ID).Msg("alert already triggered elsewhere")
			continue
		}

		now := e.now()
		a.Triggered = true
		a.TriggeredAt = &now
		metrics.AlertsArmed.Dec()

		events = append(events, models.NewTriggerEvent(a, tick))
		log.Info().
			Str("alert_id", a.ID).
			Float64("target", a.TargetPrice).
			Float64("price", tick.Price).
			Str("direction", string(a.Direction)).
			Msg("alert triggered")
	}

	return events
}

// Load replaces the in-memory state with the store's contents
func (e *Engine) Load(ctx context.Context) (int, error) {
	all, err := e.store.Find(ctx, storage.Filter{})
	if err != nil {
		return 0, fmt.Errorf("load alerts: %w", err)
	}

	shards := make(map[string]*shard)
	index := make(map[string]string, len(all))
	armed := 0
	for _, a := range all {
		sh := shards[a.Symbol]
		if sh == nil {
			sh = &shard{alerts: make(map[string]*models.Alert)}
			shards[a.Symbol] = sh
		}
		sh.alerts[a.ID] = a
		index[a.ID] = a.Symbol
		if !a.Triggered {
			armed++
		}
	}

	e.mu.Lock()
	e.shards = shards
	e.index = index
	e.mu.Unlock()

	metrics.AlertsArmed.Set(float64(armed))
	e.log.Info().Int("alerts", len(all)).Int("armed", armed).Int("symbols", len(shards)).Msg("alerts loaded")
	return len(all), nil
}

// Sync merges store rows into memory without dropping anything. Unknown
// alerts are adopted and the in-memory triggered flag follows the row in
// both directions. A stale untriggered row is harmless: the store CAS in
// Evaluate still refuses a second firing. It returns how many alerts were
// adopted.
func (e *Engine) Sync(rows []*models.Alert) int {
	adopted := 0
	for _, row := range rows {
		sh := e.shard(row.Symbol, true)
		sh.mu.Lock()
		switch cur, ok := sh.alerts[row.ID]; {
		case !ok:
			cp := *row
			sh.alerts[cp.ID] = &cp
			e.setIndex(cp.ID, cp.Symbol)
			if !cp.Triggered {
				metrics.AlertsArmed.Inc()
			}
			adopted++
		case row.Triggered && !cur.Triggered:
			cur.Triggered = true
			cur.TriggeredAt = row.TriggeredAt
			metrics.AlertsArmed.Dec()
		case !row.Triggered && cur.Triggered:
			// reset elsewhere
			cur.Triggered = false
			cur.TriggeredAt = nil
			metrics.AlertsArmed.Inc()
		}
		sh.mu.Unlock()
	}
	return adopted
}

// Get returns a copy of the alert
func (e *Engine) Get(id string) (models.Alert, bool) {
	symbol, ok := e.symbolOf(id)
	if !ok {
		return models.Alert{}, false
	}
	sh := e.shard(symbol, false)
	if sh == nil {
		return models.Alert{}, false
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	a, ok := sh.alerts[id]
	if !ok {
		return models.Alert{}, false
	}
	return *a, true
}

func (e *Engine) snapshotShards() map[string]*shard {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*shard, len(e.shards))
	for k, v := range e.shards {
		out[k] = v
	}
	return out
}

// List returns copies of the alerts matching f, oldest first
func (e *Engine) List(f storage.Filter) []models.Alert {
	var out []models.Alert
	for symbol, sh := range e.snapshotShards() {
		if f.Symbol != nil && *f.Symbol != symbol {
			continue
		}
		sh.mu.Lock()
		for _, a := range sh.alerts {
			if f.Match(a) {
				out = append(out, *a)
			}
		}
		sh.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ActiveSymbols lists symbols with at least one armed alert
func (e *Engine) ActiveSymbols() []string {
	var out []string
	for symbol, sh := range e.snapshotShards() {
		sh.mu.Lock()
		for _, a := range sh.alerts {
			if !a.Triggered {
				out = append(out, symbol)
				break
			}
		}
		sh.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

// Stats holds engine counters for /stats
type Stats struct {
	Alerts  int `json:"alerts"`
	Armed   int `json:"armed"`
	Symbols int `json:"symbols"`
}

func (e *Engine) Stats() Stats {
	var s Stats
	for _, sh := range e.snapshotShards() {
		sh.mu.Lock()
		if len(sh.alerts) > 0 {
			s.Symbols++
		}
		for _, a := range sh.alerts {
			s.Alerts++
			if !a.Triggered {
				s.Armed++
			}
		}
		sh.mu.Unlock()
	}
	return s
}
