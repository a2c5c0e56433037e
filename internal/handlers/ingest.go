package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pricewatch/internal/feed"
	"pricewatch/internal/models"
)

// TickSink accepts ticks and reports what it did with each one
type TickSink interface {
	Offer(ctx context.Context, source string, t models.Tick) string
}

const ingestSource = "http"

// IngestHandler handles tick ingestion via HTTP
type IngestHandler struct {
	sink TickSink

	// Max body size (default 1MB)
	maxBodySize int64

	now func() time.Time
}

// IngestConfig holds configuration for the ingest handler
type IngestConfig struct {
	Sink        TickSink
	MaxBodySize int64
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(cfg IngestConfig) *IngestHandler {
	return &IngestHandler{
		sink:        cfg.Sink,
		maxBodySize: defaultBodySize(cfg.MaxBodySize),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// IngestRequest is the wrapped batch form of the payload
type IngestRequest struct {
	Ticks []models.TickInput `json:"ticks"`
}

// IngestResponse is the response returned to clients
type IngestResponse struct {
	Success  bool          `json:"success"`
	Accepted int           `json:"accepted"`
	Ignored  int           `json:"ignored"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors,omitempty"`
}

// IngestError describes a validation error for a specific tick
type IngestError struct {
	Index  int    `json:"index"`
	Symbol string `json:"symbol,omitempty"`
	Error  string `json:"error"`
}

// ServeHTTP handles the ingest HTTP request
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		writeError(w, r, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inputs, err := parseBody(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	response := h.processTicks(r.Context(), inputs)
	if response == nil {
		writeError(w, r, http.StatusServiceUnavailable, "shutting down")
		return
	}

	status := http.StatusOK
	if response.Rejected > 0 && response.Accepted == 0 && response.Ignored == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, r, status, response)
}

// parseBody accepts a single tick, an array of ticks or {"ticks": [...]}
func parseBody(body []byte) ([]models.TickInput, error) {
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err == nil && len(req.Ticks) > 0 {
		return req.Ticks, nil
	}

	var ticks []models.TickInput
	if err := json.Unmarshal(body, &ticks); err == nil && len(ticks) > 0 {
		return ticks, nil
	}

	var single models.TickInput
	if err := json.Unmarshal(body, &single); err == nil && single.Symbol != "" {
		return []models.TickInput{single}, nil
	}

	return nil, fmt.Errorf("invalid JSON format: expected tick object or array of ticks")
}

// processTicks converts and offers each tick. It returns nil once the sink
// has stopped accepting ticks.
func (h *IngestHandler) processTicks(ctx context.Context, inputs []models.TickInput) *IngestResponse {
	response := &IngestResponse{}
	now := h.now()

	for i, input := range inputs {
		tick, err := input.ToTick(now)
		if err != nil {
			response.Errors = append(response.Errors, IngestError{Index: i, Symbol: input.Symbol, Error: err.Error()})
			response.Rejected++
			continue
		}

		switch h.sink.Offer(ctx, ingestSource, tick) {
		case feed.Accepted:
			response.Accepted++
		case feed.Duplicate, feed.Stale:
			response.Ignored++
		case feed.Stopped:
			return nil
		default:
			response.Errors = append(response.Errors, IngestError{Index: i, Symbol: tick.Symbol, Error: "invalid tick"})
			response.Rejected++
		}
	}

	response.Success = response.Rejected == 0
	return response
}
