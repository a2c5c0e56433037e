package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pricewatch/internal/config"
	"pricewatch/internal/logger"
	"pricewatch/internal/models"
)

const maxParallelFetches = 8

// Binance is a REST client for the public market data endpoints
type Binance struct {
	baseURL string
	client  *http.Client
}

func NewBinance(baseURL string, timeout time.Duration) *Binance {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Binance{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Candle is one kline; only what the engine needs is decoded
type Candle struct {
	OpenTime time.Time
	Close    float64
}

// APIError is a non-2xx response from Binance
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: status %d: %s", e.Status, e.Body)
}

func (b *Binance) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// Klines fetches the most recent limit candles of symbol
func (b *Binance) Klines(ctx context.Context, symbol string, interval models.Interval, limit int) ([]Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(interval))
	q.Set("limit", strconv.Itoa(limit))

	var rows [][]interface{}
	if err := b.get(ctx, "/api/v3/klines", q, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("binance: short kline row of %d fields", len(row))
		}
		openMs, ok := row[0].(float64)
		if !ok {
			return nil, errors.New("binance: kline open time is not a number")
		}
		closeStr, ok := row[4].(string)
		if !ok {
			return nil, errors.New("binance: kline close is not a string")
		}
		closePrice, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: kline close %q: %w", closeStr, err)
		}
		candles = append(candles, Candle{
			OpenTime: time.UnixMilli(int64(openMs)).UTC(),
			Close:    closePrice,
		})
	}
	return candles, nil
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// TickerPrices returns the current price of every symbol it could resolve.
// Binance rejects the whole batch if one symbol is unknown, so a 400 falls
// back to one request per symbol.
func (b *Binance) TickerPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	encoded, err := json.Marshal(symbols)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("symbols", string(encoded))

	var prices []tickerPrice
	err = b.get(ctx, "/api/v3/ticker/price", q, &prices)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest && len(symbols) > 1 {
		return b.tickerPricesOneByOne(ctx, symbols)
	}
	if err != nil {
		return nil, err
	}

	return parsePrices(prices), nil
}

func (b *Binance) tickerPricesOneByOne(ctx context.Context, symbols []string) (map[string]float64, error) {
	log := logger.WithComponent("binance")

	var mu sync.Mutex
	all := make([]tickerPrice, 0, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for _, sym := range symbols {
		g.Go(func() error {
			q := url.Values{}
			q.Set("symbol", sym)

			var p tickerPrice
			if err := b.get(gctx, "/api/v3/ticker/price", q, &p); err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					log.Warn().Str("symbol", sym).Err(err).Msg("symbol rejected by binance")
					return nil
				}
				return err
			}
			mu.Lock()
			all = append(all, p)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parsePrices(all), nil
}

func parsePrices(prices []tickerPrice) map[string]float64 {
	out := make(map[string]float64, len(prices))
	for _, p := range prices {
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || v <= 0 {
			continue
		}
		out[p.Symbol] = v
	}
	return out
}

// Poller is a Source that polls the latest candle of each watched symbol.
// The candle's open time is the tick timestamp, so an updating candle
// yields same-timestamp ticks with new prices.
type Poller struct {
	api      *Binance
	interval models.Interval
	every    time.Duration
	symbols  func() []string
}

// NewPoller watches the union of cfg.Symbols and whatever symbols() returns
func NewPoller(api *Binance, cfg config.FeedConfig, symbols func() []string) (*Poller, error) {
	iv, err := models.ParseInterval(cfg.Interval)
	if err != nil {
		return nil, err
	}
	every := cfg.PollInterval
	if every <= 0 {
		every = 15 * time.Second
	}
	return &Poller{
		api:      api,
		interval: iv,
		every:    every,
		symbols:  watchList(cfg.Symbols, symbols),
	}, nil
}

func (p *Poller) Name() string { return "binance_poll" }

func (p *Poller) Run(ctx context.Context, emit func(models.Tick)) error {
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	for {
		if err := p.poll(ctx, emit); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll fails only when no symbol could be fetched
func (p *Poller) poll(ctx context.Context, emit func(models.Tick)) error {
	symbols := p.symbols()
	if len(symbols) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		ticks   []models.Tick
		lastErr error
	)

	var g errgroup.Group
	g.SetLimit(maxParallelFetches)
	for _, sym := range symbols {
		g.Go(func() error {
			candles, err := p.api.Klines(ctx, sym, p.interval, 1)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return nil
			}
			for _, c := range candles {
				ticks = append(ticks, models.Tick{Symbol: sym, Price: c.Close, Timestamp: c.OpenTime})
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(ticks) == 0 && lastErr != nil {
		return lastErr
	}
	if lastErr != nil {
		log := logger.WithComponent("feed")
		log.Warn().Err(lastErr).Msg("some symbols failed to poll")
	}
	for _, t := range ticks {
		emit(t)
	}
	return nil
}

// watchList merges static and dynamic symbols, normalized and deduplicated
func watchList(static []string, dynamic func() []string) func() []string {
	return func() []string {
		seen := make(map[string]bool)
		var out []string
		add := func(s string) {
			s = models.NormalizeSymbol(s)
			if models.IsValidSymbol(s) && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
		for _, s := range static {
			add(s)
		}
		if dynamic != nil {
			for _, s := range dynamic() {
				add(s)
			}
		}
		return out
	}
}
