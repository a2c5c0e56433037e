package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"pricewatch/internal/alerts"
	"pricewatch/internal/models"
	"pricewatch/internal/storage"
)

// AlertService is the alert engine as seen by the API
type AlertService interface {
	Arm(ctx context.Context, spec models.AlertSpec) (models.Alert, error)
	Disarm(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) error
	Get(id string) (models.Alert, bool)
	List(f storage.Filter) []models.Alert
}

// ChannelRegistrar stores notification channels
type ChannelRegistrar interface {
	Register(ctx context.Context, ch models.Channel) (models.Channel, error)
}

// AlertHandler serves /api/alerts
type AlertHandler struct {
	alerts      AlertService
	channels    ChannelRegistrar
	maxBodySize int64
}

func NewAlertHandler(svc AlertService, channels ChannelRegistrar, maxBodySize int64) *AlertHandler {
	return &AlertHandler{
		alerts:      svc,
		channels:    channels,
		maxBodySize: defaultBodySize(maxBodySize),
	}
}

// CreateAlertRequest arms one alert. Subscription, when present, is
// registered first and its key used as the alert's channel.
type CreateAlertRequest struct {
	Symbol       string          `json:"symbol"`
	TargetPrice  float64         `json:"target_price"`
	Price        float64         `json:"price,omitempty"` // alias of target_price
	Direction    string          `json:"direction"`
	ChannelKey   string          `json:"channel_key,omitempty"`
	Subscription *models.Channel `json:"subscription,omitempty"`
}

func (h *AlertHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAlertRequest
	if err := decodeJSON(w, r, h.maxBodySize, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	spec := models.AlertSpec{
		Symbol:      req.Symbol,
		TargetPrice: req.TargetPrice,
		Direction:   models.Direction(req.Direction),
		ChannelKey:  req.ChannelKey,
	}
	if spec.TargetPrice == 0 {
		spec.TargetPrice = req.Price
	}

	if req.Subscription != nil && h.channels != nil {
		ch, err := h.channels.Register(r.Context(), *req.Subscription)
		if err != nil {
			h.fail(w, r, "register subscription", err)
			return
		}
		spec.ChannelKey = ch.Key
	}

	alert, err := h.alerts.Arm(r.Context(), spec)
	if err != nil {
		h.fail(w, r, "arm alert", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, alert)
}

func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	var f storage.Filter
	q := r.URL.Query()

	if s := q.Get("symbol"); s != "" {
		symbol := models.NormalizeSymbol(s)
		f.Symbol = &symbol
	}
	if s := q.Get("triggered"); s != "" {
		triggered, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "triggered must be a boolean")
			return
		}
		f.Triggered = &triggered
	}

	list := h.alerts.List(f)
	if list == nil {
		list = []models.Alert{}
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"alerts": list,
		"count":  len(list),
	})
}

func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.alerts.Get(r.PathValue("id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, r, http.StatusOK, alert)
}

func (h *AlertHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.Disarm(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, "disarm alert", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AlertHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.Reset(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, "reset alert", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AlertHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if isValidation(err) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Msg(op)
	msg := "internal error"
	if errors.Is(err, alerts.ErrPersist) {
		msg = "alert could not be stored"
	}
	writeError(w, r, http.StatusInternalServerError, msg)
}
