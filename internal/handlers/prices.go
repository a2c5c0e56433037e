package handlers

import (
	"net/http"
	"sort"

	"pricewatch/internal/feed"
	"pricewatch/internal/models"
)

// PriceView exposes the feed adapter's latest ticks and source health
type PriceView interface {
	Snapshot() []models.Tick
	Statuses() map[string]feed.Status
}

type PricesHandler struct {
	view PriceView
}

func NewPricesHandler(view PriceView) *PricesHandler {
	return &PricesHandler{view: view}
}

func (h *PricesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ticks := h.view.Snapshot()
	if ticks == nil {
		ticks = []models.Tick{}
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Symbol < ticks[j].Symbol })

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"prices": ticks,
		"feeds":  h.view.Statuses(),
	})
}
