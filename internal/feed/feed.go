package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/models"
)

var ErrFeedUnavailable = errors.New("price feed unavailable")

// Status of a tick source
type Status int

const (
	StatusConnecting Status = iota
	StatusLive
	StatusDegraded
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusLive:
		return "live"
	case StatusDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source produces ticks. Run blocks until ctx is done or the connection
// fails; the Adapter restarts it after a backoff.
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(models.Tick)) error
}

// Handler receives every accepted tick
type Handler func(ctx context.Context, t models.Tick)

// Offer results
const (
	Accepted  = "accepted"
	Duplicate = "duplicate"
	Stale     = "stale"
	Invalid   = "invalid"
	Stopped   = "stopped"
)

// Adapter dedupes ticks from all sources, keeps the latest tick per symbol
// and tracks the health of each source.
type Adapter struct {
	handle Handler

	mu       sync.RWMutex
	latest   map[string]models.Tick
	statuses map[string]Status

	retryBase time.Duration
	retryMax  time.Duration
}

func NewAdapter(handle Handler, retryBase time.Duration) *Adapter {
	if retryBase <= 0 {
		retryBase = 5 * time.Second
	}
	return &Adapter{
		handle:    handle,
		latest:    make(map[string]models.Tick),
		statuses:  make(map[string]Status),
		retryBase: retryBase,
		retryMax:  time.Minute,
	}
}

// Offer runs a tick through dedupe and, when accepted, the handler.
// Older ticks are dropped, as are exact repeats. A tick with the same
// timestamp and a new price replaces the stored one and is forwarded.
func (a *Adapter) Offer(ctx context.Context, source string, t models.Tick) string {
	if ctx.Err() != nil {
		return Stopped
	}

	t.Normalize()
	if err := t.Validate(); err != nil {
		metrics.FeedTicksTotal.WithLabelValues(source, Invalid).Inc()
		return Invalid
	}

	a.mu.Lock()
	prev, seen := a.latest[t.Symbol]
	verdict := Accepted
	switch {
	case !seen:
	case t.Timestamp.Before(prev.Timestamp):
		verdict = Stale
	case t.Timestamp.Equal(prev.Timestamp) && t.Price == prev.Price:
		verdict = Duplicate
	}
	if verdict == Accepted {
		a.latest[t.Symbol] = t
	}
	a.mu.Unlock()

	metrics.FeedTicksTotal.WithLabelValues(source, verdict).Inc()
	if verdict == Accepted && a.handle != nil {
		a.handle(ctx, t)
	}
	return verdict
}

// Run drives src until ctx is cancelled, restarting it with capped
// exponential backoff. It never returns an error.
func (a *Adapter) Run(ctx context.Context, src Source) {
	name := src.Name()
	log := logger.WithComponent("feed").With().Str("source", name).Logger()

	a.setStatus(name, StatusConnecting)
	delay := a.retryBase

	for {
		err := src.Run(ctx, func(t models.Tick) {
			if a.Status(name) != StatusLive {
				a.setStatus(name, StatusLive)
				log.Info().Msg("feed live")
			}
			a.Offer(ctx, name, t)
		})
		if ctx.Err() != nil {
			log.Info().Msg("feed stopped")
			return
		}

		if a.Status(name) == StatusLive {
			delay = a.retryBase
		}
		if err == nil {
			err = ErrFeedUnavailable
		}
		a.setStatus(name, StatusDegraded)
		metrics.FeedErrorsTotal.WithLabelValues(name).Inc()
		log.Warn().Err(err).Dur("retry_in", delay).Msg("feed degraded, keeping last prices")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay = min(delay*2, a.retryMax)
	}
}

func (a *Adapter) setStatus(source string, s Status) {
	a.mu.Lock()
	a.statuses[source] = s
	a.mu.Unlock()
	metrics.FeedStatus.WithLabelValues(source).Set(float64(s))
}

// Status of one source; unknown sources report Connecting
func (a *Adapter) Status(source string) Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.statuses[source]
}

// Statuses returns a copy of every source's status
func (a *Adapter) Statuses() map[string]Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]Status, len(a.statuses))
	for k, v := range a.statuses {
		out[k] = v
	}
	return out
}

// Latest returns the last accepted tick for symbol
func (a *Adapter) Latest(symbol string) (models.Tick, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.latest[models.NormalizeSymbol(symbol)]
	return t, ok
}

// Snapshot returns the last tick of every symbol, sorted by symbol
func (a *Adapter) Snapshot() []models.Tick {
	a.mu.RLock()
	out := make([]models.Tick, 0, len(a.latest))
	for _, t := range a.latest {
		out = append(out, t)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
