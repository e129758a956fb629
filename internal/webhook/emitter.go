package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/JonMunkholm/catalogimport/internal/metrics"
)

// DefaultBufferSize is the outbound event channel capacity.
const DefaultBufferSize = 256

// drainTimeout bounds how long Run keeps dispatching buffered events after
// its context is cancelled.
const drainTimeout = 5 * time.Second

// handoffTimeout bounds each synchronous step of Emit.
const handoffTimeout = 10 * time.Second

// Enqueuer schedules one delivery for later execution.
type Enqueuer interface {
	EnqueueDelivery(ctx context.Context, d Delivery) error
}

// Dispatcher persists an event so a background job can fan it out with
// Dispatch.
type Dispatcher interface {
	EnqueueDispatch(ctx context.Context, ev Event) error
}

// Emitter fans terminal events out to subscriptions. Emit is safe for
// concurrent use by any number of jobs.
type Emitter struct {
	events     chan Event
	registry   Registry
	enqueuer   Enqueuer
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewEmitter returns an Emitter with an outbound buffer of size buffer.
func NewEmitter(registry Registry, enqueuer Enqueuer, buffer int, logger *slog.Logger) *Emitter {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		events:   make(chan Event, buffer),
		registry: registry,
		enqueuer: enqueuer,
		logger:   logger.With("component", "webhook_emitter"),
	}
}

// WithDispatcher makes Emit persist events through d before falling back to
// the in-memory buffer.
func (e *Emitter) WithDispatcher(d Dispatcher) *Emitter {
	e.dispatcher = d
	return e
}

// Emit hands ev off for fan-out, trying in order: the durable dispatcher,
// the in-memory buffer, and an inline Dispatch when the buffer is full.
// Cancellation of ctx is ignored. Emit reports false only when every path
// failed and the event is lost.
func (e *Emitter) Emit(ctx context.Context, ev Event) bool {
	ctx = context.WithoutCancel(ctx)
	logger := e.logger.With("event", ev.Event, "job_id", ev.JobID)

	if e.dispatcher != nil {
		dctx, cancel := context.WithTimeout(ctx, handoffTimeout)
		err := e.dispatcher.EnqueueDispatch(dctx, ev)
		cancel()
		if err == nil {
			metrics.EventsEmitted.WithLabelValues(ev.Event).Inc()
			return true
		}
		logger.Warn("durable dispatch failed, buffering event", "error", err)
	}

	select {
	case e.events <- ev:
		metrics.EventsEmitted.WithLabelValues(ev.Event).Inc()
		return true
	default:
	}

	logger.Warn("event buffer full, dispatching inline")
	dctx, cancel := context.WithTimeout(ctx, handoffTimeout)
	defer cancel()
	if err := e.Dispatch(dctx, ev); err != nil {
		metrics.EventsDropped.Inc()
		logger.Error("event lost", "error", err)
		return false
	}
	metrics.EventsEmitted.WithLabelValues(ev.Event).Inc()
	return true
}

// Run dispatches events until ctx is cancelled, then drains what is already
// buffered within a short grace period.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-e.events:
			e.dispatch(ctx, ev)
		case <-ctx.Done():
			e.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (e *Emitter) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-e.events:
			e.dispatch(ctx, ev)
		default:
			return
		}
	}
}

// dispatch runs Dispatch for the Run loop, where failures can only be logged.
func (e *Emitter) dispatch(ctx context.Context, ev Event) {
	if err := e.Dispatch(ctx, ev); err != nil {
		e.logger.Error("event dispatch failed", "event", ev.Event, "job_id", ev.JobID, "error", err)
	}
}

// Dispatch resolves the enabled subscriptions for ev and enqueues one
// delivery per subscription. A failed enqueue does not stop the others; the
// joined errors are returned.
func (e *Emitter) Dispatch(ctx context.Context, ev Event) (err error) {
	logger := e.logger.With("event", ev.Event, "job_id", ev.JobID)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event dispatch panicked: %v", r)
		}
	}()

	subs, err := e.registry.Enabled(ctx, ev.Event)
	if err != nil {
		return fmt.Errorf("resolve subscriptions: %w", err)
	}
	subs = lo.Filter(subs, func(s Subscription, _ int) bool {
		return s.Enabled && s.Event == ev.Event
	})
	if len(subs) == 0 {
		logger.Debug("no subscriptions for event")
		return nil
	}

	payload, err := ev.Payload()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var errs []error
	for _, s := range subs {
		err := e.enqueuer.EnqueueDelivery(ctx, Delivery{
			SubscriptionID: s.ID,
			URL:            s.URL,
			Event:          ev.Event,
			JobID:          ev.JobID,
			Payload:        payload,
		})
		if err != nil {
			logger.Warn("enqueue delivery failed", "subscription_id", s.ID, "error", err)
			errs = append(errs, fmt.Errorf("subscription %s: %w", s.ID, err))
		}
	}
	logger.Info("event dispatched", "subscriptions", len(subs), "enqueued", len(subs)-len(errs))
	return errors.Join(errs...)
}
