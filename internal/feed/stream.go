package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"pricewatch/internal/config"
	"pricewatch/internal/logger"
	"pricewatch/internal/models"
)

const resubscribeEvery = 30 * time.Second

// Stream is a Source fed by the Binance kline websocket
type Stream struct {
	url      string
	interval models.Interval
	symbols  func() []string
}

func NewStream(cfg config.FeedConfig, symbols func() []string) (*Stream, error) {
	iv, err := models.ParseInterval(cfg.Interval)
	if err != nil {
		return nil, err
	}
	return &Stream{
		url:      cfg.StreamURL,
		interval: iv,
		symbols:  watchList(cfg.Symbols, symbols),
	}, nil
}

func (s *Stream) Name() string { return "binance_stream" }

type subscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// klineEvent declares both cases of "e"/"E" and "t"/"T": encoding/json
// matches keys case-insensitively, so an undeclared twin would land in
// the wrong field.
type klineEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Close     string `json:"c"`
	} `json:"k"`
}

func (s *Stream) topic(symbol string) string {
	return strings.ToLower(symbol) + "@kline_" + string(s.interval)
}

// Run holds one connection. Any read error ends it; the Adapter reconnects.
func (s *Stream) Run(ctx context.Context, emit func(models.Tick)) error {
	log := logger.WithComponent("binance_stream")

	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrFeedUnavailable, err)
	}
	defer conn.CloseNow()

	subscribed := make(map[string]bool)
	nextID := 1
	subscribe := func() error {
		var topics []string
		for _, sym := range s.symbols() {
			if t := s.topic(sym); !subscribed[t] {
				topics = append(topics, t)
			}
		}
		if len(topics) == 0 {
			return nil
		}
		if err := wsjson.Write(ctx, conn, subscribeMsg{Method: "SUBSCRIBE", Params: topics, ID: nextID}); err != nil {
			return err
		}
		nextID++
		for _, t := range topics {
			subscribed[t] = true
		}
		log.Info().Strs("topics", topics).Msg("subscribed")
		return nil
	}

	if err := subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Pick up symbols armed after connecting
	subErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(resubscribeEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := subscribe(); err != nil {
					subErr <- err
					conn.CloseNow()
					return
				}
			}
		}
	}()

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "shutting down")
				return nil
			}
			select {
			case serr := <-subErr:
				return fmt.Errorf("resubscribe: %w", serr)
			default:
			}
			return fmt.Errorf("read: %w", err)
		}

		tick, ok := parseKline(raw)
		if ok {
			emit(tick)
		}
	}
}

// parseKline ignores anything that is not a kline event, such as
// subscription acknowledgements
func parseKline(raw []byte) (models.Tick, bool) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Event != "kline" {
		return models.Tick{}, false
	}
	price, err := strconv.ParseFloat(ev.Kline.Close, 64)
	if err != nil {
		return models.Tick{}, false
	}
	return models.Tick{
		Symbol:    ev.Symbol,
		Price:     price,
		Timestamp: time.UnixMilli(ev.Kline.OpenTime).UTC(),
	}, true
}
