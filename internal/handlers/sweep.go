package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"pricewatch/internal/sweep"
)

// SweepRunner runs one sweep over every armed alert
type SweepRunner interface {
	Run(ctx context.Context) (sweep.Summary, error)
}

type SweepHandler struct {
	runner SweepRunner
}

func NewSweepHandler(runner SweepRunner) *SweepHandler {
	return &SweepHandler{runner: runner}
}

func (h *SweepHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.Run(r.Context())
	switch {
	case errors.Is(err, sweep.ErrSweepRunning):
		writeError(w, r, http.StatusConflict, err.Error())
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("sweep failed")
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, r, http.StatusOK, summary)
	}
}
