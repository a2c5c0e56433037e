package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"pricewatch/internal/config"
	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/models"
	"pricewatch/internal/notify"
	"pricewatch/internal/state"
)

// Dispatcher resolves a trigger event's channel and delivers the payload.
// Delivery problems are reported as outcomes, never as errors.
type Dispatcher struct {
	registry state.Registry
	sender   notify.Sender
	outbox   state.Outbox

	sendTimeout time.Duration
	maxAttempts int
	node        string

	log zerolog.Logger
}

// New creates a dispatcher. outbox may be nil, in which case failed
// deliveries are only reported.
func New(registry state.Registry, sender notify.Sender, outbox state.Outbox, cfg config.DispatchConfig, node string) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		registry:    registry,
		sender:      sender,
		outbox:      outbox,
		sendTimeout: cfg.SendTimeout,
		maxAttempts: cfg.MaxAttempts,
		node:        node,
		log:         logger.WithComponent("dispatcher"),
	}
}

// Deliver attempts delivery of ev and returns the outcome
func (d *Dispatcher) Deliver(ctx context.Context, ev *models.TriggerEvent) models.DeliveryOutcome {
	return d.DeliverReport(ctx, ev).Outcome
}

// DeliverReport is Deliver with the error detail kept for the journal
func (d *Dispatcher) DeliverReport(ctx context.Context, ev *models.TriggerEvent) *models.DeliveryRecord {
	start := time.Now()
	rec := d.deliver(ctx, ev)

	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	metrics.DeliveriesTotal.WithLabelValues(string(rec.Outcome)).Inc()
	return rec
}

func (d *Dispatcher) deliver(ctx context.Context, ev *models.TriggerEvent) *models.DeliveryRecord {
	log := d.log.With().
		Str("alert_id", ev.AlertID).
		Str("symbol", ev.Symbol).
		Str("channel", ev.ChannelKey).
		Logger()

	if ev.ChannelKey == "" {
		log.Warn().Msg("alert has no channel, nothing to deliver")
		return models.NewDeliveryRecord(ev, models.OutcomeNoChannel, nil, d.node)
	}

	ch, err := d.registry.Find(ctx, ev.ChannelKey)
	if errors.Is(err, state.ErrChannelNotFound) {
		log.Warn().Msg("channel not registered, notification dropped")
		return models.NewDeliveryRecord(ev, models.OutcomeNoChannel, nil, d.node)
	}
	if err != nil {
		log.Error().Err(err).Msg("channel lookup failed")
		d.retryLater(ctx, ev, log)
		return models.NewDeliveryRecord(ev, models.OutcomeFailed, err, d.node)
	}

	sendCtx := ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	err = d.sender.Send(sendCtx, ch, BuildPayload(ev))
	switch {
	case err == nil:
		log.Info().Float64("observed", ev.ObservedPrice).Msg("notification delivered")
		return models.NewDeliveryRecord(ev, models.OutcomeDelivered, nil, d.node)

	case errors.Is(err, notify.ErrGone):
		log.Info().Err(err).Msg("channel gone, purging")
		if perr := d.registry.Purge(ctx, ch.Key); perr != nil {
			log.Error().Err(perr).Msg("purge failed")
		} else {
			metrics.ChannelsPurgedTotal.Inc()
		}
		return models.NewDeliveryRecord(ev, models.OutcomeChannelInvalid, err, d.node)

	case errors.Is(err, notify.ErrUnsupportedKind):
		// no sender until the kind's credentials are configured
		log.Warn().Err(err).Str("kind", string(ch.Kind)).Msg("no sender for channel kind, notification dropped")
		return models.NewDeliveryRecord(ev, models.OutcomeNoChannel, err, d.node)

	default:
		log.Warn().Err(err).Int("attempt", ev.Attempt).Msg("delivery failed")
		d.retryLater(ctx, ev, log)
		return models.NewDeliveryRecord(ev, models.OutcomeFailed, err, d.node)
	}
}

// retryLater parks ev in the outbox until the attempt budget is spent
func (d *Dispatcher) retryLater(ctx context.Context, ev *models.TriggerEvent, log zerolog.Logger) {
	if d.outbox == nil {
		return
	}
	if ev.Attempt+1 >= d.maxAttempts {
		log.Error().Int("attempts", ev.Attempt+1).Msg("giving up on notification")
		return
	}

	retry := *ev
	retry.Attempt++
	if err := d.outbox.Push(ctx, &retry); err != nil {
		log.Error().Err(err).Msg("outbox push failed, notification lost")
	}
}

// Redeliver drains up to max events from the outbox and delivers them again
func (d *Dispatcher) Redeliver(ctx context.Context, max int) ([]*models.DeliveryRecord, error) {
	if d.outbox == nil {
		return nil, nil
	}

	events, err := d.outbox.Drain(ctx, max)
	if err != nil {
		return nil, err
	}

	records := make([]*models.DeliveryRecord, 0, len(events))
	for _, ev := range events {
		if ctx.Err() != nil {
			// put the rest back for the next sweep
			if perr := d.outbox.Push(context.WithoutCancel(ctx), ev); perr != nil {
				d.log.Error().Err(perr).Str("alert_id", ev.AlertID).Msg("outbox requeue failed")
			}
			continue
		}
		records = append(records, d.DeliverReport(ctx, ev))
	}
	return records, nil
}
