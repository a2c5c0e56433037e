package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"pricewatch/internal/config"
	"pricewatch/internal/models"
)

func newAlert(symbol string, target float64, dir models.Direction) *models.Alert {
	return &models.Alert{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		TargetPrice: target,
		Direction:   dir,
		ChannelKey:  "chan-1",
		CreatedAt:   time.Now().UTC(),
	}
}

// testStore exercises the AlertStore contract against any implementation
func testStore(t *testing.T, s AlertStore) {
	ctx := context.Background()
	// unique symbol so a shared database does not leak rows between runs
	symbol := "T" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]

	a := newAlert(symbol, 100, models.DirectionAbove)
	b := newAlert(symbol, 50, models.DirectionBelow)
	for _, al := range []*models.Alert{a, b} {
		if err := s.Insert(ctx, al); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	t.Run("find by symbol", func(t *testing.T) {
		got, err := s.Find(ctx, Filter{Symbol: &symbol})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d alerts, want 2", len(got))
		}
		if got[0].Direction != models.DirectionAbove && got[1].Direction != models.DirectionAbove {
			t.Error("direction not round-tripped")
		}
	})

	t.Run("mark triggered is compare and set", func(t *testing.T) {
		ok, err := s.MarkTriggered(ctx, a.ID)
		if err != nil || !ok {
			t.Fatalf("first MarkTriggered = %v, %v; want true, nil", ok, err)
		}
		ok, err = s.MarkTriggered(ctx, a.ID)
		if err != nil || ok {
			t.Fatalf("second MarkTriggered = %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("find by triggered", func(t *testing.T) {
		armed := false
		got, err := s.Find(ctx, Filter{Symbol: &symbol, Triggered: &armed})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if len(got) != 1 || got[0].ID != b.ID {
			t.Fatalf("got %+v, want only %s", got, b.ID)
		}
	})

	t.Run("reset flag", func(t *testing.T) {
		if err := s.UpdateTriggeredFlag(ctx, a.ID, false); err != nil {
			t.Fatalf("UpdateTriggeredFlag: %v", err)
		}
		ok, err := s.MarkTriggered(ctx, a.ID)
		if err != nil || !ok {
			t.Fatalf("MarkTriggered after reset = %v, %v", ok, err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if err := s.UpdateTriggeredFlag(ctx, uuid.NewString(), true); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateTriggeredFlag = %v, want ErrNotFound", err)
		}
		if _, err := s.MarkTriggered(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
			t.Errorf("MarkTriggered = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, uuid.NewString()); err != nil {
			t.Errorf("Delete unknown = %v, want nil", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Delete(ctx, a.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, b.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		got, _ := s.Find(ctx, Filter{Symbol: &symbol})
		if len(got) != 0 {
			t.Errorf("got %d alerts after delete", len(got))
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemory())
}

func TestMemoryMarkTriggeredConcurrent(t *testing.T) {
	s := NewMemory()
	a := newAlert("BTCUSDT", 1, models.DirectionAbove)
	if err := s.Insert(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.MarkTriggered(context.Background(), a.ID); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}

func TestMemoryFindReturnsCopies(t *testing.T) {
	s := NewMemory()
	a := newAlert("ETHUSDT", 1, models.DirectionAbove)
	s.Insert(context.Background(), a)

	got, _ := s.Find(context.Background(), Filter{})
	got[0].Triggered = true

	again, _ := s.Find(context.Background(), Filter{})
	if again[0].Triggered {
		t.Error("mutating a Find result changed the store")
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres test. Set POSTGRES_TEST_DSN to run.")
	}

	cfg := config.Default().Database
	cfg.Driver = "postgres"
	cfg.DSN = dsn

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewPostgres(ctx, cfg)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer s.Close()

	testStore(t, s)
}
