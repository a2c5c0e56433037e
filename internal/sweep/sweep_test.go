package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pricewatch/internal/alerts"
	"pricewatch/internal/config"
	"pricewatch/internal/dispatcher"
	"pricewatch/internal/models"
	"pricewatch/internal/state"
	"pricewatch/internal/storage"
)

type fakePrices struct {
	prices  map[string]float64
	err     error
	asked   []string
	started chan struct{}
	block   chan struct{}
}

func (f *fakePrices) TickerPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	f.asked = symbols
	if f.block != nil {
		close(f.started)
		<-f.block
	}
	return f.prices, f.err
}

type toggleSender struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *toggleSender) Send(ctx context.Context, ch models.Channel, p models.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

type recordingJournal struct {
	mu      sync.Mutex
	records int
}

func (j *recordingJournal) PublishBatch(ctx context.Context, recs []*models.DeliveryRecord) error {
	j.mu.Lock()
	j.records += len(recs)
	j.mu.Unlock()
	return nil
}

type fixture struct {
	store   *storage.Memory
	engine  *alerts.Engine
	prices  *fakePrices
	sender  *toggleSender
	journal *recordingJournal
	sweeper *Sweeper
	channel string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemory()
	engine := alerts.NewEngine(store)
	registry := state.NewMemoryRegistry()
	ch, err := registry.Register(ctx, models.Channel{Kind: models.ChannelLog, Endpoint: "dev"})
	if err != nil {
		t.Fatal(err)
	}

	sender := &toggleSender{}
	d := dispatcher.New(registry, sender, state.NewMemoryOutbox(), config.DispatchConfig{MaxAttempts: 3}, "test")
	prices := &fakePrices{prices: map[string]float64{"BTCUSDT": 65000, "ETHUSDT": 3000}}
	journal := &recordingJournal{}

	return &fixture{
		store:   store,
		engine:  engine,
		prices:  prices,
		sender:  sender,
		journal: journal,
		sweeper: New(store, engine, prices, d, journal, 10),
		channel: ch.Key,
	}
}

func (f *fixture) arm(t *testing.T, symbol string, target float64, dir models.Direction) {
	t.Helper()
	_, err := f.engine.Arm(context.Background(), models.AlertSpec{
		Symbol: symbol, TargetPrice: target, Direction: dir, ChannelKey: f.channel,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSweepFiresAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.arm(t, "BTCUSDT", 60000, models.DirectionAbove)
	f.arm(t, "ETHUSDT", 2500, models.DirectionBelow)
	f.arm(t, "ETHUSDT", 3000, models.DirectionBelow)

	sum, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Alerts != 3 || sum.Symbols != 2 || sum.Triggered != 2 || sum.Delivered != 2 {
		t.Errorf("first sweep = %+v", sum)
	}
	if len(f.prices.asked) != 2 {
		t.Errorf("asked prices for %v", f.prices.asked)
	}

	sum, err = f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Alerts != 1 || sum.Triggered != 0 {
		t.Errorf("second sweep = %+v, want only the untriggered ETH alert and no triggers", sum)
	}
	if f.sender.calls != 2 {
		t.Errorf("sender calls = %d, want 2", f.sender.calls)
	}
	if f.journal.records != 2 {
		t.Errorf("journaled %d records, want 2", f.journal.records)
	}
}

func TestSweepSeesAlertsArmedElsewhere(t *testing.T) {
	f := newFixture(t)

	// another process armed this alert; our engine has never seen it
	other := alerts.NewEngine(f.store)
	if _, err := other.Arm(context.Background(), models.AlertSpec{
		Symbol: "BTCUSDT", TargetPrice: 1, Direction: models.DirectionAbove, ChannelKey: f.channel,
	}); err != nil {
		t.Fatal(err)
	}

	sum, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Triggered != 1 {
		t.Errorf("Triggered = %d, want 1", sum.Triggered)
	}
}

func TestSweepRedeliversFailures(t *testing.T) {
	f := newFixture(t)
	f.arm(t, "BTCUSDT", 60000, models.DirectionAbove)

	f.sender.err = errors.New("push service unavailable")
	sum, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 1 {
		t.Fatalf("first sweep = %+v, want 1 failure", sum)
	}

	f.sender.mu.Lock()
	f.sender.err = nil
	f.sender.mu.Unlock()

	sum, err = f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Redelivered != 1 || sum.Delivered != 1 || sum.Triggered != 0 {
		t.Errorf("second sweep = %+v", sum)
	}
}

func TestSweepErrors(t *testing.T) {
	f := newFixture(t)
	f.arm(t, "BTCUSDT", 60000, models.DirectionAbove)

	f.prices.err = errors.New("binance down")
	if _, err := f.sweeper.Run(context.Background()); err == nil {
		t.Fatal("expected error when prices are unavailable")
	}

	// the alert is still armed for the next sweep
	f.prices.err = nil
	sum, err := f.sweeper.Run(context.Background())
	if err != nil || sum.Triggered != 1 {
		t.Errorf("retry sweep = %+v, %v", sum, err)
	}
}

func TestSweepSkipsUnpricedSymbols(t *testing.T) {
	f := newFixture(t)
	f.arm(t, "DOGEUSDT", 0.01, models.DirectionAbove)

	sum, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Symbols != 1 || sum.Triggered != 0 {
		t.Errorf("sweep = %+v", sum)
	}
}

func TestSweepRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	f.arm(t, "BTCUSDT", 60000, models.DirectionAbove)
	f.prices.started = make(chan struct{})
	f.prices.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		f.sweeper.Run(context.Background())
		close(done)
	}()

	select {
	case <-f.prices.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never reached the price fetch")
	}

	if _, err := f.sweeper.Run(context.Background()); !errors.Is(err, ErrSweepRunning) {
		t.Errorf("concurrent Run = %v, want ErrSweepRunning", err)
	}

	close(f.prices.block)
	<-done
}
