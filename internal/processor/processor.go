package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pricewatch/internal/alerts"
	"pricewatch/internal/config"
	"pricewatch/internal/dispatcher"
	"pricewatch/internal/feed"
	"pricewatch/internal/handlers"
	"pricewatch/internal/kafka"
	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/middleware"
	"pricewatch/internal/models"
	"pricewatch/internal/notify"
	"pricewatch/internal/state"
	"pricewatch/internal/storage"
	"pricewatch/internal/sweep"
	"pricewatch/internal/worker"
)

// pinger is implemented by backends that can report connectivity
type pinger interface {
	Ping(ctx context.Context) error
}

// Processor is the high-level coordinator: feed -> engine -> queue -> dispatcher.
type Processor struct {
	cfg  *config.Config
	node string

	store    storage.AlertStore
	registry state.Registry
	outbox   state.Outbox
	producer *kafka.Producer

	engine     *alerts.Engine
	dispatcher *dispatcher.Dispatcher
	queue      *worker.Queue
	workerPool *worker.Pool
	adapter    *feed.Adapter
	binance    *feed.Binance
	sweeper    *sweep.Sweeper
	source     feed.Source

	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// New constructs a Processor with given config.
func New(cfg *config.Config) *Processor {
	node := cfg.NodeID
	if node == "" {
		node, _ = os.Hostname()
		if node == "" {
			node = "unknown"
		}
	}
	return &Processor{cfg: cfg, node: node}
}

// Run starts background goroutines and blocks until context cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Str("node", p.node).Msg("processor starting")

	if err := p.init(ctx); err != nil {
		p.closeStores()
		return err
	}

	n, err := p.engine.Load(ctx)
	if err != nil {
		p.closeStores()
		return fmt.Errorf("load alerts: %w", err)
	}
	log.Info().Int("alerts", n).Msg("alerts loaded")

	p.initPipeline()
	p.workerPool.Start()

	if err := p.initHTTPServer(); err != nil {
		p.queue.Close()
		p.workerPool.Stop(ctx)
		p.closeStores()
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", p.listener.Addr().String()).Msg("starting HTTP server")
		if err := p.httpServer.Serve(p.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()

	var feedWG sync.WaitGroup
	if p.source != nil {
		feedWG.Add(1)
		go func() {
			defer feedWG.Done()
			p.adapter.Run(feedCtx, p.source)
		}()
	}

	if p.cfg.Sweep.Enabled && p.cfg.Sweep.Interval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.sweeper.Loop(ctx, p.cfg.Sweep.Interval)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return p.shutdown(stopFeed, &feedWG)
}

// RunSweep performs a single sweep with its own stores and returns its
// summary. The live pipeline is not started.
func (p *Processor) RunSweep(ctx context.Context) (sweep.Summary, error) {
	if err := p.init(ctx); err != nil {
		p.closeStores()
		return sweep.Summary{}, err
	}
	defer p.closeStores()

	return p.sweeper.Run(ctx)
}

// init opens the stores and builds the components that do not own goroutines
func (p *Processor) init(ctx context.Context) error {
	log := logger.WithComponent("processor")

	switch p.cfg.Database.Driver {
	case "postgres":
		pg, err := storage.NewPostgres(ctx, p.cfg.Database)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		p.store = pg
	default:
		p.store = storage.NewMemory()
	}

	if p.cfg.Redis.Enabled {
		rs, err := state.NewRedis(ctx, p.cfg.Redis)
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		p.registry, p.outbox = rs, rs
	} else {
		p.registry, p.outbox = state.NewMemoryRegistry(), state.NewMemoryOutbox()
	}

	router := notify.NewRouter().Handle(models.ChannelLog, notify.LogSender{})
	if p.cfg.WebPush.PublicKey != "" && p.cfg.WebPush.PrivateKey != "" {
		router.Handle(models.ChannelWebPush, notify.NewWebPush(p.cfg.WebPush, &http.Client{Timeout: p.cfg.Dispatch.SendTimeout}))
	}
	if p.cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(p.cfg.Telegram.BotToken, p.cfg.Dispatch.SendTimeout)
		if err != nil {
			// channel stays unsupported, alerts still fire
			log.Error().Err(err).Msg("telegram sender disabled")
		} else {
			router.Handle(models.ChannelTelegram, tg)
		}
	}
	log.Info().Interface("kinds", router.Kinds()).Msg("notification senders ready")

	p.dispatcher = dispatcher.New(p.registry, router, p.outbox, p.cfg.Dispatch, p.node)

	if p.cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(p.cfg.Kafka.Brokers, p.cfg.Kafka.Topic, p.cfg.Kafka.Producer)
		if err != nil {
			return fmt.Errorf("failed to initialize producer: %w", err)
		}
		p.producer = producer
		log.Info().
			Strs("brokers", p.cfg.Kafka.Brokers).
			Str("topic", p.cfg.Kafka.Topic).
			Msg("kafka journal initialized")
	}

	p.engine = alerts.NewEngine(p.store)
	p.binance = feed.NewBinance(p.cfg.Feed.RESTBaseURL, p.cfg.Feed.RequestTimeout)

	var journal sweep.Journal
	if p.producer != nil {
		journal = p.producer
	}
	p.sweeper = sweep.New(p.store, p.engine, p.binance, p.dispatcher, journal, p.cfg.Sweep.OutboxBatch)
	return nil
}

// initPipeline wires the live path: feed adapter -> engine -> queue -> workers
func (p *Processor) initPipeline() {
	log := logger.WithComponent("processor")

	p.queue = worker.NewQueue(p.cfg.Dispatch.QueueSize)
	metrics.QueueCapacity.Set(float64(p.queue.Cap()))

	cfg := worker.Config{
		Deliverer:    p.dispatcher,
		Queue:        p.queue,
		Workers:      p.cfg.Dispatch.Workers,
		BatchSize:    p.cfg.Dispatch.BatchSize,
		BatchTimeout: p.cfg.Dispatch.BatchTimeout,
	}
	if p.producer != nil {
		cfg.Journal = p.producer
	}
	p.workerPool = worker.NewPool(cfg)

	p.adapter = feed.NewAdapter(p.onTick, p.cfg.Feed.ReconnectDelay)

	var err error
	switch p.cfg.Feed.Source {
	case "poll":
		p.source, err = feed.NewPoller(p.binance, p.cfg.Feed, p.engine.ActiveSymbols)
	case "stream":
		p.source, err = feed.NewStream(p.cfg.Feed, p.engine.ActiveSymbols)
	case "kafka":
		p.source = kafka.NewConsumer(p.cfg.Kafka)
	}
	if err != nil {
		// Validate already checked the interval, so this is unexpected
		log.Error().Err(err).Str("source", p.cfg.Feed.Source).Msg("feed source disabled")
		p.source = nil
	}
	log.Info().
		Str("source", p.cfg.Feed.Source).
		Int("workers", p.cfg.Dispatch.Workers).
		Int("queue", p.queue.Cap()).
		Msg("pipeline initialized")
}

// onTick evaluates an accepted tick. Evaluation runs to completion even
// when the feed is being stopped.
func (p *Processor) onTick(ctx context.Context, t models.Tick) {
	events := p.engine.Evaluate(context.WithoutCancel(ctx), t)
	if len(events) == 0 {
		return
	}
	metrics.TriggersTotal.WithLabelValues("stream").Add(float64(len(events)))
	for _, ev := range events {
		p.queue.Publish(ev)
	}
}

// initHTTPServer initializes the HTTP server with handlers
func (p *Processor) initHTTPServer() error {
	ln, err := net.Listen("tcp", p.cfg.Server.Addr)
	if err != nil {
		return err
	}
	p.listener = ln

	p.httpServer = &http.Server{
		Handler:      p.routes(),
		ReadTimeout:  p.cfg.Server.ReadTimeout,
		WriteTimeout: p.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return nil
}

func (p *Processor) routes() http.Handler {
	maxBody := p.cfg.Server.MaxBodySize
	alertHandler := handlers.NewAlertHandler(p.engine, p.registry, maxBody)
	channelHandler := handlers.NewChannelHandler(p.registry, maxBody)
	admin := middleware.Auth(p.cfg.Server.AdminToken)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/alerts", alertHandler.Create)
	mux.HandleFunc("GET /api/alerts", alertHandler.List)
	mux.HandleFunc("GET /api/alerts/{id}", alertHandler.Get)
	mux.HandleFunc("DELETE /api/alerts/{id}", alertHandler.Delete)
	mux.HandleFunc("POST /api/alerts/{id}/reset", alertHandler.Reset)

	mux.HandleFunc("POST /api/subscribe", channelHandler.Subscribe)
	mux.HandleFunc("DELETE /api/subscribe/{key}", channelHandler.Unsubscribe)

	mux.Handle("POST /api/ticks", handlers.NewIngestHandler(handlers.IngestConfig{
		Sink:        p.adapter,
		MaxBodySize: maxBody,
	}))
	mux.Handle("GET /api/prices", handlers.NewPricesHandler(p.adapter))
	mux.Handle("POST /api/sweep", admin(handlers.NewSweepHandler(p.sweeper)))

	mux.HandleFunc("GET /health", p.healthHandler)
	mux.HandleFunc("GET /stats", p.statsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.Chain(mux, middleware.Recovery, middleware.Logging)
}

// shutdown stops components in dependency order
func (p *Processor) shutdown(stopFeed context.CancelFunc, feedWG *sync.WaitGroup) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 1. Stop accepting new HTTP requests
	log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the feed; the in-flight evaluation finishes
	stopFeed()
	feedWG.Wait()
	if c, ok := p.source.(*kafka.Consumer); ok {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("tick consumer close error")
		}
	}

	// 3. No more trigger events after this point
	log.Info().Int("queued", p.queue.Len()).Msg("closing trigger queue")
	p.queue.Close()

	// 4. Drain the queue
	p.workerPool.Stop(shutdownCtx)

	// 5. Wait for the remaining goroutines
	p.wg.Wait()

	// 6. Close journal and stores
	p.closeStores()

	log.Info().Msg("processor stopped gracefully")
	return nil
}

func (p *Processor) closeStores() {
	log := logger.WithComponent("processor")
	if p.producer != nil {
		log.Info().Msg("closing kafka producer")
		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}
	if p.registry != nil {
		if err := p.registry.Close(); err != nil {
			log.Error().Err(err).Msg("registry close error")
		}
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			log.Error().Err(err).Msg("store close error")
		}
	}
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws := p.workerPool.Stats()
			es := p.engine.Stats()
			metrics.QueueSize.Set(float64(p.queue.Len()))

			ev := log.Info().
				Int("alerts", es.Alerts).
				Int("armed", es.Armed).
				Int("symbols", es.Symbols).
				Uint64("processed", ws.Processed).
				Uint64("delivered", ws.Delivered).
				Uint64("failed", ws.Failed).
				Uint64("dropped", ws.Dropped).
				Int("queue_size", p.queue.Len())
			if p.producer != nil {
				ps := p.producer.Stats()
				ev = ev.Uint64("journal_sent", ps.MessagesSent).Uint64("journal_failed", ps.MessagesFailed)
			}
			ev.Msg("stats")
		}
	}
}

// healthHandler checks every backend that can report its connectivity
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	check := func(name string, err error) {
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}

	if pg, ok := p.store.(pinger); ok {
		check("store", pg.Ping(ctx))
	}
	if pg, ok := p.registry.(pinger); ok {
		check("registry", pg.Ping(ctx))
	}
	if p.producer != nil {
		check("kafka", p.producer.HealthCheck(ctx))
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"feeds":     p.adapter.Statuses(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"node":   p.node,
		"engine": p.engine.Stats(),
		"worker": p.workerPool.Stats(),
		"queue": map[string]interface{}{
			"buffered": p.queue.Len(),
			"capacity": p.queue.Cap(),
			"dropped":  p.queue.Dropped(),
		},
		"feeds": p.adapter.Statuses(),
	}
	if n, err := p.outbox.Len(r.Context()); err == nil {
		stats["outbox"] = n
	}
	if p.producer != nil {
		stats["producer"] = p.producer.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
