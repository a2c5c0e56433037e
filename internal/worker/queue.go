package worker

import (
	"sync"
	"sync/atomic"

	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/models"
)

// Queue is a bounded hand-off between the engine and the delivery pool.
// Publish never blocks: when the queue is full the oldest event is dropped.
type Queue struct {
	ch chan *models.TriggerEvent

	// serializes producers so a drop always makes room for the new event
	mu     sync.Mutex
	closed bool

	dropped atomic.Uint64
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1000
	}
	metrics.QueueCapacity.Set(float64(size))
	return &Queue{ch: make(chan *models.TriggerEvent, size)}
}

// Publish enqueues ev. It returns false if the queue is closed.
func (q *Queue) Publish(ev *models.TriggerEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	for {
		select {
		case q.ch <- ev:
			metrics.QueueSize.Set(float64(len(q.ch)))
			return true
		default:
		}

		select {
		case old := <-q.ch:
			q.dropped.Add(1)
			metrics.QueueDroppedTotal.Inc()
			log := logger.WithComponent("queue")
			log.Warn().
				Str("alert_id", old.AlertID).
				Str("symbol", old.Symbol).
				Msg("trigger queue full, dropped oldest event")
		default:
			// a consumer freed a slot in the meantime
		}
	}
}

// C is the consumer side of the queue
func (q *Queue) C() <-chan *models.TriggerEvent {
	return q.ch
}

// Close stops accepting events. Consumers still drain what is buffered.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func (q *Queue) Len() int        { return len(q.ch) }
func (q *Queue) Cap() int        { return cap(q.ch) }
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
