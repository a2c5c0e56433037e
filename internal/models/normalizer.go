package models

import (
	"strconv"
	"strings"
	"time"
)

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

const quoteAsset = "USDT"

// NormalizeSymbol trims and upper-cases a ticker pair
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsValidSymbol accepts uppercase letters and digits only
func IsValidSymbol(s string) bool {
	if len(s) < 2 || len(s) > MaxSymbolLength {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// BaseAsset strips the USDT quote and lower-cases the rest: BTCUSDT -> btc
func BaseAsset(symbol string) string {
	return strings.ToLower(strings.TrimSuffix(NormalizeSymbol(symbol), quoteAsset))
}

// Normalize applies field normalization to an AlertSpec
func (s *AlertSpec) Normalize() {
	s.Symbol = NormalizeSymbol(s.Symbol)
	s.ChannelKey = strings.TrimSpace(s.ChannelKey)

	switch strings.ToLower(strings.TrimSpace(string(s.Direction))) {
	case "above":
		s.Direction = DirectionAbove
	case "below":
		s.Direction = DirectionBelow
	}
}

// Normalize upper-cases the symbol and moves the timestamp to UTC
func (t *Tick) Normalize() {
	t.Symbol = NormalizeSymbol(t.Symbol)
	t.Timestamp = t.Timestamp.UTC()
}

// Normalize trims descriptor fields and lower-cases the kind
func (c *Channel) Normalize() {
	c.Kind = ChannelKind(strings.ToLower(strings.TrimSpace(string(c.Kind))))
	if c.Kind == "" && c.Endpoint != "" {
		c.Kind = ChannelWebPush
	}
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Keys.P256dh = strings.TrimSpace(c.Keys.P256dh)
	c.Keys.Auth = strings.TrimSpace(c.Keys.Auth)
}

// ParseTimestamp accepts RFC3339-ish strings or unix milliseconds
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), nil
	}

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

func formatChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
