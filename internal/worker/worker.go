package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/models"
)

// Deliverer performs one delivery attempt and reports it
type Deliverer interface {
	DeliverReport(ctx context.Context, ev *models.TriggerEvent) *models.DeliveryRecord
}

// Journal records delivery outcomes, e.g. to Kafka
type Journal interface {
	Publish(ctx context.Context, rec *models.DeliveryRecord) error
	PublishBatch(ctx context.Context, recs []*models.DeliveryRecord) error
}

// Pool manages a pool of workers that deliver trigger events and journal
// the outcomes in batches
type Pool struct {
	deliverer    Deliverer
	journal      Journal
	queue        *Queue
	workers      int
	batchSize    int
	batchTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	processed     atomic.Uint64
	delivered     atomic.Uint64
	failed        atomic.Uint64
	journalFailed atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Deliverer Deliverer
	// Journal is optional
	Journal      Journal
	Queue        *Queue
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		deliverer:    cfg.Deliverer,
		journal:      cfg.Journal,
		queue:        cfg.Queue,
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing trigger events
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop waits for the workers to drain a closed queue. If ctx expires first
// in-flight deliveries are cancelled.
func (p *Pool) Stop(ctx context.Context) {
	log := logger.WithComponent("worker_pool")
	log.Info().Msg("stopping worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Int("queued", p.queue.Len()).Msg("drain timed out, cancelling deliveries")
		p.cancel()
		<-done
	}
	p.cancel()
	log.Info().Msg("worker pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()
	log.Info().Msg("worker started")
	defer log.Info().Msg("worker stopped")

	batch := make([]*models.TriggerEvent, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			if len(batch) > 0 {
				p.processBatch(batch)
			}
			return

		case ev, ok := <-p.queue.C():
			if !ok {
				// Queue closed, flush and exit
				if len(batch) > 0 {
					p.processBatch(batch)
				}
				return
			}
			metrics.QueueSize.Set(float64(p.queue.Len()))

			batch = append(batch, ev)
			if len(batch) >= p.batchSize {
				p.processBatch(batch)
				batch = batch[:0]
				timer.Reset(p.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				p.processBatch(batch)
				batch = batch[:0]
			}
			timer.Reset(p.batchTimeout)
		}
	}
}

// processBatch delivers every event of the batch, then journals the outcomes
func (p *Pool) processBatch(batch []*models.TriggerEvent) {
	log := logger.WithComponent("worker")

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
		}
	}()

	records := make([]*models.DeliveryRecord, 0, len(batch))
	for _, ev := range batch {
		rec := p.deliverer.DeliverReport(p.ctx, ev)
		p.processed.Add(1)
		switch rec.Outcome {
		case models.OutcomeDelivered:
			p.delivered.Add(1)
		case models.OutcomeFailed:
			p.failed.Add(1)
		}
		records = append(records, rec)
	}

	if p.journal != nil {
		p.journalBatch(records)
	}
}

func (p *Pool) journalBatch(records []*models.DeliveryRecord) {
	log := logger.WithComponent("worker")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), 10*time.Second)
	defer cancel()

	err := p.journal.PublishBatch(ctx, records)
	if err == nil {
		log.Debug().Int("batch_size", len(records)).Msg("delivery records journaled")
		return
	}

	log.Error().Err(err).Int("batch_size", len(records)).Msg("failed to journal batch")

	// Fallback: try publishing individually
	for _, rec := range records {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), 5*time.Second)
		err := p.journal.Publish(ctx, rec)
		cancel()

		if err != nil {
			p.journalFailed.Add(1)
			log.Error().
				Err(err).
				Str("alert_id", rec.Event.AlertID).
				Msg("failed to journal delivery record")
		}
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed:     p.processed.Load(),
		Delivered:     p.delivered.Load(),
		Failed:        p.failed.Load(),
		JournalFailed: p.journalFailed.Load(),
		Dropped:       p.queue.Dropped(),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed     uint64 `json:"processed"`
	Delivered     uint64 `json:"delivered"`
	Failed        uint64 `json:"failed"`
	JournalFailed uint64 `json:"journal_failed"`
	Dropped       uint64 `json:"dropped"`
}
