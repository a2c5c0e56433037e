package sweep

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/models"
	"pricewatch/internal/storage"
)

var ErrSweepRunning = errors.New("sweep already running")

// PriceFetcher resolves current prices for many symbols at once
type PriceFetcher interface {
	TickerPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Evaluator is the alert engine as seen by the sweep
type Evaluator interface {
	Sync(rows []*models.Alert) int
	Evaluate(ctx context.Context, tick models.Tick) []*models.TriggerEvent
}

// Deliverer delivers synchronously and redelivers from the outbox
type Deliverer interface {
	DeliverReport(ctx context.Context, ev *models.TriggerEvent) *models.DeliveryRecord
	Redeliver(ctx context.Context, max int) ([]*models.DeliveryRecord, error)
}

// Journal is optional
type Journal interface {
	PublishBatch(ctx context.Context, recs []*models.DeliveryRecord) error
}

// Summary describes one sweep run
type Summary struct {
	Alerts      int           `json:"alerts"`
	Symbols     int           `json:"symbols"`
	Priced      int           `json:"priced"`
	Triggered   int           `json:"triggered"`
	Delivered   int           `json:"delivered"`
	Failed      int           `json:"failed"`
	Redelivered int           `json:"redelivered"`
	Duration    time.Duration `json:"duration_ns"`
}

// Sweeper evaluates every armed alert against fresh prices. It shares the
// engine with the live path, so whichever sees a crossing first fires it.
type Sweeper struct {
	store     storage.AlertStore
	engine    Evaluator
	prices    PriceFetcher
	deliverer Deliverer
	journal   Journal

	outboxBatch int
	running     sync.Mutex
}

func New(store storage.AlertStore, engine Evaluator, prices PriceFetcher, deliverer Deliverer, journal Journal, outboxBatch int) *Sweeper {
	if outboxBatch <= 0 {
		outboxBatch = 100
	}
	return &Sweeper{
		store:       store,
		engine:      engine,
		prices:      prices,
		deliverer:   deliverer,
		journal:     journal,
		outboxBatch: outboxBatch,
	}
}

// Run performs one sweep. Concurrent calls fail with ErrSweepRunning.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	if !s.running.TryLock() {
		return Summary{}, ErrSweepRunning
	}
	defer s.running.Unlock()

	start := time.Now()
	sum, err := s.run(ctx)
	sum.Duration = time.Since(start)

	metrics.SweepDuration.Observe(sum.Duration.Seconds())
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.SweepRunsTotal.WithLabelValues(status).Inc()

	log := logger.WithComponent("sweep")
	if err != nil {
		log.Error().Err(err).Msg("sweep failed")
	} else {
		log.Info().
			Int("alerts", sum.Alerts).
			Int("symbols", sum.Symbols).
			Int("triggered", sum.Triggered).
			Int("delivered", sum.Delivered).
			Int("failed", sum.Failed).
			Int("redelivered", sum.Redelivered).
			Dur("duration", sum.Duration).
			Msg("sweep complete")
	}
	return sum, err
}

func (s *Sweeper) run(ctx context.Context) (Summary, error) {
	var sum Summary
	var records []*models.DeliveryRecord

	// Retry earlier failures before producing new ones
	redelivered, err := s.deliverer.Redeliver(ctx, s.outboxBatch)
	if err != nil {
		log := logger.WithComponent("sweep")
		log.Warn().Err(err).Msg("outbox drain failed")
	}
	for _, rec := range redelivered {
		sum.Redelivered++
		if rec.Outcome == models.OutcomeDelivered {
			sum.Delivered++
		}
	}
	records = append(records, redelivered...)

	armed := false
	rows, err := s.store.Find(ctx, storage.Filter{Triggered: &armed})
	if err != nil {
		s.journalRecords(ctx, records)
		return sum, fmt.Errorf("list armed alerts: %w", err)
	}
	sum.Alerts = len(rows)
	s.engine.Sync(rows)

	symbols := uniqueSymbols(rows)
	sum.Symbols = len(symbols)
	if len(symbols) == 0 {
		s.journalRecords(ctx, records)
		return sum, nil
	}

	prices, err := s.prices.TickerPrices(ctx, symbols)
	if err != nil {
		s.journalRecords(ctx, records)
		return sum, fmt.Errorf("fetch prices: %w", err)
	}
	sum.Priced = len(prices)

	var mu sync.Mutex
	now := time.Now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, symbol := range symbols {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		g.Go(func() error {
			events := s.engine.Evaluate(gctx, models.Tick{Symbol: symbol, Price: price, Timestamp: now})
			metrics.TriggersTotal.WithLabelValues("sweep").Add(float64(len(events)))

			for _, ev := range events {
				rec := s.deliverer.DeliverReport(gctx, ev)

				mu.Lock()
				sum.Triggered++
				switch rec.Outcome {
				case models.OutcomeDelivered:
					sum.Delivered++
				case models.OutcomeFailed:
					sum.Failed++
				}
				records = append(records, rec)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.journalRecords(ctx, records)
	return sum, nil
}

func (s *Sweeper) journalRecords(ctx context.Context, records []*models.DeliveryRecord) {
	if s.journal == nil || len(records) == 0 {
		return
	}
	if err := s.journal.PublishBatch(ctx, records); err != nil {
		log := logger.WithComponent("sweep")
		log.Warn().Err(err).Int("records", len(records)).Msg("journal write failed")
	}
}

func uniqueSymbols(rows []*models.Alert) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range rows {
		if !seen[a.Symbol] {
			seen[a.Symbol] = true
			out = append(out, a.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// Loop runs a sweep every interval until ctx is cancelled
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	log := logger.WithComponent("sweep")
	log.Info().Dur("interval", interval).Msg("periodic sweep started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("periodic sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); errors.Is(err, ErrSweepRunning) {
				log.Debug().Msg("previous sweep still running, skipping")
			}
		}
	}
}
