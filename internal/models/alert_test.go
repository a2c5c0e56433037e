package models_test

import (
	"math"
	"testing"

	"pricewatch/internal/models"
)

func TestAlertSpecValidate(t *testing.T) {
	validSpec := func() *models.AlertSpec {
		return &models.AlertSpec{
			Symbol:      "BTCUSDT",
			TargetPrice: 50000,
			Direction:   models.DirectionAbove,
		}
	}

	tests := []struct {
		name    string
		modify  func(*models.AlertSpec)
		wantErr error
	}{
		{"valid spec", func(s *models.AlertSpec) {}, nil},
		{"empty symbol", func(s *models.AlertSpec) { s.Symbol = "" }, models.ErrEmptySymbol},
		{"lowercase symbol", func(s *models.AlertSpec) { s.Symbol = "btcusdt" }, models.ErrInvalidSymbol},
		{"symbol with separator", func(s *models.AlertSpec) { s.Symbol = "BTC/USDT" }, models.ErrInvalidSymbol},
		{"zero price", func(s *models.AlertSpec) { s.TargetPrice = 0 }, models.ErrInvalidPrice},
		{"negative price", func(s *models.AlertSpec) { s.TargetPrice = -1 }, models.ErrInvalidPrice},
		{"NaN price", func(s *models.AlertSpec) { s.TargetPrice = math.NaN() }, models.ErrInvalidPrice},
		{"infinite price", func(s *models.AlertSpec) { s.TargetPrice = math.Inf(1) }, models.ErrInvalidPrice},
		{"unknown direction", func(s *models.AlertSpec) { s.Direction = "Sideways" }, models.ErrInvalidDirection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSpec()
			tt.modify(s)
			err := s.Validate()
			if err != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDirectionCrossedIsInclusive(t *testing.T) {
	tests := []struct {
		name      string
		direction models.Direction
		price     float64
		want      bool
	}{
		{"above at target", models.DirectionAbove, 100, true},
		{"above over target", models.DirectionAbove, 101, true},
		{"above under target", models.DirectionAbove, 99.99, false},
		{"below at target", models.DirectionBelow, 100, true},
		{"below under target", models.DirectionBelow, 99, true},
		{"below over target", models.DirectionBelow, 100.01, false},
		{"unknown direction", models.Direction("x"), 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.direction.Crossed(tt.price, 100); got != tt.want {
				t.Errorf("Crossed(%v, 100) = %v, want %v", tt.price, got, tt.want)
			}
		})
	}
}

func TestAlertMatchesSkipsTriggered(t *testing.T) {
	a := &models.Alert{Symbol: "BTCUSDT", TargetPrice: 100, Direction: models.DirectionAbove}
	if !a.Matches(100) {
		t.Fatal("armed alert should match at target")
	}

	a.Triggered = true
	if a.Matches(150) {
		t.Error("triggered alert must not match")
	}
}

func TestAlertSpecNormalize(t *testing.T) {
	s := &models.AlertSpec{
		Symbol:     "  ethusdt ",
		Direction:  "below",
		ChannelKey: " key-1 ",
	}
	s.Normalize()

	if s.Symbol != "ETHUSDT" {
		t.Errorf("symbol not normalized: got %q", s.Symbol)
	}
	if s.Direction != models.DirectionBelow {
		t.Errorf("direction not normalized: got %q", s.Direction)
	}
	if s.ChannelKey != "key-1" {
		t.Errorf("channel key not trimmed: got %q", s.ChannelKey)
	}
}
