package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pricewatch/internal/config"
	"pricewatch/internal/models"
	"pricewatch/internal/notify"
	"pricewatch/internal/state"
)

type stubSender struct {
	err   error
	calls int
	last  models.Payload
}

func (s *stubSender) Send(ctx context.Context, ch models.Channel, p models.Payload) error {
	s.calls++
	s.last = p
	return s.err
}

type countingRegistry struct {
	*state.MemoryRegistry
	purges int
}

func (c *countingRegistry) Purge(ctx context.Context, key string) error {
	c.purges++
	return c.MemoryRegistry.Purge(ctx, key)
}

func setup(t *testing.T, sendErr error) (*Dispatcher, *stubSender, *countingRegistry, *state.MemoryOutbox, string) {
	t.Helper()
	reg := &countingRegistry{MemoryRegistry: state.NewMemoryRegistry()}
	ch, err := reg.Register(context.Background(), models.Channel{
		Endpoint: "https://push.example.com/abc",
		Keys:     models.PushKeys{P256dh: "k", Auth: "a"},
	})
	if err != nil {
		t.Fatal(err)
	}

	sender := &stubSender{err: sendErr}
	outbox := state.NewMemoryOutbox()
	cfg := config.DispatchConfig{SendTimeout: time.Second, MaxAttempts: 3}
	return New(reg, sender, outbox, cfg, "test"), sender, reg, outbox, ch.Key
}

func event(key string) *models.TriggerEvent {
	return &models.TriggerEvent{
		AlertID:       "a1",
		Symbol:        "BTCUSDT",
		TargetPrice:   65000,
		Direction:     models.DirectionAbove,
		ObservedPrice: 65012.345,
		Timestamp:     time.Now(),
		ChannelKey:    key,
	}
}

func TestDeliverOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		sendErr    error
		useKey     bool
		want       models.DeliveryOutcome
		wantPurges int
		wantOutbox int64
	}{
		{"delivered", nil, true, models.OutcomeDelivered, 0, 0},
		{"gone purges channel", fmt.Errorf("%w: 410", notify.ErrGone), true, models.OutcomeChannelInvalid, 1, 0},
		{"transient failure goes to outbox", errors.New("timeout"), true, models.OutcomeFailed, 0, 1},
		{"unknown channel", nil, false, models.OutcomeNoChannel, 0, 0},
		{"unsupported kind is not retried", fmt.Errorf("%w: %q", notify.ErrUnsupportedKind, "webpush"), true, models.OutcomeNoChannel, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, reg, outbox, key := setup(t, tt.sendErr)
			if !tt.useKey {
				key = "does-not-exist"
			}

			got := d.Deliver(context.Background(), event(key))
			if got != tt.want {
				t.Errorf("Deliver() = %s, want %s", got, tt.want)
			}
			if reg.purges != tt.wantPurges {
				t.Errorf("purges = %d, want %d", reg.purges, tt.wantPurges)
			}
			if n, _ := outbox.Len(context.Background()); n != tt.wantOutbox {
				t.Errorf("outbox len = %d, want %d", n, tt.wantOutbox)
			}
		})
	}
}

func TestUnconfiguredSenderKeepsChannel(t *testing.T) {
	reg := state.NewMemoryRegistry()
	ch, err := reg.Register(context.Background(), models.Channel{
		Endpoint: "https://push.example.com/abc",
		Keys:     models.PushKeys{P256dh: "k", Auth: "a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	outbox := state.NewMemoryOutbox()
	// router without a webpush sender, as when VAPID keys are unset
	router := notify.NewRouter().Handle(models.ChannelLog, notify.LogSender{})
	d := New(reg, router, outbox, config.DispatchConfig{MaxAttempts: 5}, "test")

	if got := d.Deliver(context.Background(), event(ch.Key)); got != models.OutcomeNoChannel {
		t.Errorf("Deliver() = %s, want %s", got, models.OutcomeNoChannel)
	}
	if n, _ := outbox.Len(context.Background()); n != 0 {
		t.Errorf("outbox len = %d, want 0", n)
	}
	if _, err := reg.Find(context.Background(), ch.Key); err != nil {
		t.Errorf("channel removed: %v", err)
	}
}

func TestGoneChannelIsPurgedOnce(t *testing.T) {
	d, sender, reg, _, key := setup(t, notify.ErrGone)
	ctx := context.Background()

	if got := d.Deliver(ctx, event(key)); got != models.OutcomeChannelInvalid {
		t.Fatalf("first Deliver = %s", got)
	}
	// channel is gone now, later events resolve to NoChannel without sending
	if got := d.Deliver(ctx, event(key)); got != models.OutcomeNoChannel {
		t.Fatalf("second Deliver = %s", got)
	}
	if reg.purges != 1 {
		t.Errorf("purges = %d, want 1", reg.purges)
	}
	if sender.calls != 1 {
		t.Errorf("sender calls = %d, want 1", sender.calls)
	}
}

func TestEmptyChannelKey(t *testing.T) {
	d, sender, _, _, _ := setup(t, nil)
	if got := d.Deliver(context.Background(), event("")); got != models.OutcomeNoChannel {
		t.Errorf("Deliver = %s, want no_channel", got)
	}
	if sender.calls != 0 {
		t.Errorf("sender called for alert without channel")
	}
}

func TestRedeliverRespectsAttemptBudget(t *testing.T) {
	d, sender, _, outbox, key := setup(t, errors.New("503"))
	ctx := context.Background()

	d.Deliver(ctx, event(key))

	// MaxAttempts is 3: the first attempt plus two redeliveries
	for i := 0; i < 5; i++ {
		if _, err := d.Redeliver(ctx, 10); err != nil {
			t.Fatalf("Redeliver: %v", err)
		}
	}

	if sender.calls != 3 {
		t.Errorf("sender calls = %d, want 3", sender.calls)
	}
	if n, _ := outbox.Len(ctx); n != 0 {
		t.Errorf("outbox len = %d, want 0", n)
	}
}

func TestRedeliverSucceeds(t *testing.T) {
	d, sender, _, outbox, key := setup(t, errors.New("503"))
	ctx := context.Background()

	d.Deliver(ctx, event(key))
	sender.err = nil

	records, err := d.Redeliver(ctx, 10)
	if err != nil {
		t.Fatalf("Redeliver: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != models.OutcomeDelivered {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Event.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", records[0].Event.Attempt)
	}
	if n, _ := outbox.Len(ctx); n != 0 {
		t.Errorf("outbox len = %d", n)
	}
}

func TestBuildPayload(t *testing.T) {
	p := BuildPayload(event("k"))

	if p.Title != "BTCUSDT Price Alert!" {
		t.Errorf("Title = %q", p.Title)
	}
	wantBody := "Price crossed your target of $65000. Current price: $65012.35"
	if p.Body != wantBody {
		t.Errorf("Body = %q, want %q", p.Body, wantBody)
	}
	if p.Icon != "https://assets.coincap.io/assets/icons/btc@2x.png" {
		t.Errorf("Icon = %q", p.Icon)
	}
}
