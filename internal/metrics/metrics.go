package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricewatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Engine metrics
	AlertsArmed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_alerts_armed",
			Help: "Number of alerts currently armed and not triggered",
		},
	)

	AlertOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_alert_operations_total",
			Help: "Alert lifecycle operations",
		},
		[]string{"operation", "status"}, // operation: arm, disarm, reset
	)

	TicksEvaluatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_ticks_evaluated_total",
			Help: "Total number of ticks run through the engine",
		},
	)

	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_triggers_total",
			Help: "Trigger transitions by source",
		},
		[]string{"source"}, // source: stream, sweep
	)

	TriggerConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_trigger_conflicts_total",
			Help: "Matches lost to a concurrent trigger of the same alert",
		},
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_store_errors_total",
			Help: "Alert store errors by operation",
		},
		[]string{"operation"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricewatch_evaluation_duration_seconds",
			Help:    "Time taken to evaluate one tick",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// Queue and worker metrics
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_trigger_queue_size",
			Help: "Current size of the trigger event queue",
		},
	)

	QueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_trigger_queue_capacity",
			Help: "Capacity of the trigger event queue",
		},
	)

	QueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_trigger_queue_dropped_total",
			Help: "Trigger events dropped because the queue was full",
		},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_deliveries_total",
			Help: "Delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricewatch_delivery_duration_seconds",
			Help:    "Time taken by one delivery attempt",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	ChannelsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_channels_purged_total",
			Help: "Channels purged after the endpoint reported gone",
		},
	)

	// Feed metrics
	FeedTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_feed_ticks_total",
			Help: "Ticks received from feed sources",
		},
		[]string{"source", "status"}, // status: accepted, duplicate, stale, invalid
	)

	FeedStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pricewatch_feed_status",
			Help: "Feed status (0 connecting, 1 live, 2 degraded)",
		},
		[]string{"source"},
	)

	FeedErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_feed_errors_total",
			Help: "Feed fetch or connection errors",
		},
		[]string{"source"},
	)

	// Sweep metrics
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_sweep_runs_total",
			Help: "Sweep executions",
		},
		[]string{"status"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricewatch_sweep_duration_seconds",
			Help:    "Time taken by one sweep",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Kafka journal metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_kafka_publish_total",
			Help: "Total number of delivery records published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricewatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
