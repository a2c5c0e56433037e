package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"pricewatch/internal/models"
)

func TestParseInterval(t *testing.T) {
	for _, iv := range models.Intervals {
		got, err := models.ParseInterval(string(iv))
		if err != nil || got != iv {
			t.Errorf("ParseInterval(%q) = %q, %v", iv, got, err)
		}
	}

	for _, bad := range []string{"", "1m", "2h", "1y", "1D"} {
		if _, err := models.ParseInterval(bad); err != models.ErrInvalidInterval {
			t.Errorf("ParseInterval(%q) error = %v, want ErrInvalidInterval", bad, err)
		}
	}
}

func TestTickValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		tick    models.Tick
		wantErr error
	}{
		{"valid", models.Tick{Symbol: "BTCUSDT", Price: 1, Timestamp: now}, nil},
		{"empty symbol", models.Tick{Price: 1, Timestamp: now}, models.ErrEmptySymbol},
		{"zero price", models.Tick{Symbol: "BTCUSDT", Timestamp: now}, models.ErrInvalidTickPrice},
		{"zero timestamp", models.Tick{Symbol: "BTCUSDT", Price: 1}, models.ErrZeroTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.tick.Validate(); err != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"RFC3339", "2024-01-15T10:30:00Z", false},
		{"RFC3339Nano", "2024-01-15T10:30:00.123456789Z", false},
		{"datetime with space", "2024-01-15 10:30:00", false},
		{"unix millis", "1705314600000", false},
		{"invalid", "not-a-timestamp", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := models.ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && ts.Location() != time.UTC {
				t.Errorf("expected UTC, got %v", ts.Location())
			}
		})
	}
}

func TestBaseAsset(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":  "btc",
		"ethusdt":  "eth",
		"SOLBTC":   "solbtc",
		"USDTUSDT": "usdt",
	}
	for in, want := range cases {
		if got := models.BaseAsset(in); got != want {
			t.Errorf("BaseAsset(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTickInputToTick(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		body    string
		wantTS  time.Time
		wantErr bool
	}{
		{"unix millis", `{"symbol":"btcusdt","price":65000.5,"timestamp":1709294400000}`, time.UnixMilli(1709294400000).UTC(), false},
		{"rfc3339 string", `{"symbol":"BTCUSDT","price":1,"timestamp":"2024-03-01T12:00:00Z"}`, now, false},
		{"missing timestamp uses now", `{"symbol":"BTCUSDT","price":1}`, now, false},
		{"bad timestamp", `{"symbol":"BTCUSDT","price":1,"timestamp":"yesterday"}`, time.Time{}, true},
		{"zero price", `{"symbol":"BTCUSDT","price":0}`, time.Time{}, true},
		{"bad symbol", `{"symbol":"BTC/USDT","price":1}`, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in models.TickInput
			if err := json.Unmarshal([]byte(tt.body), &in); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			tick, err := in.ToTick(now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToTick() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tick.Symbol != "BTCUSDT" {
				t.Errorf("Symbol = %q", tick.Symbol)
			}
			if !tick.Timestamp.Equal(tt.wantTS) {
				t.Errorf("Timestamp = %v, want %v", tick.Timestamp, tt.wantTS)
			}
		})
	}
}
