package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/JonMunkholm/catalogimport/internal/importer"
	"github.com/JonMunkholm/catalogimport/internal/metrics"
	"github.com/JonMunkholm/catalogimport/internal/progress"
	"github.com/JonMunkholm/catalogimport/internal/rows"
	"github.com/JonMunkholm/catalogimport/internal/staging"
	"github.com/JonMunkholm/catalogimport/internal/webhook"
)

// ImportWorker runs staged imports.
type ImportWorker struct {
	river.WorkerDefaults[ImportArgs]
	Runner     *importer.Runner
	JobTimeout time.Duration
}

func (w *ImportWorker) Timeout(*river.Job[ImportArgs]) time.Duration {
	return w.JobTimeout
}

func (w *ImportWorker) Work(ctx context.Context, job *river.Job[ImportArgs]) error {
	out := w.Runner.Run(ctx, importer.Job{
		ID:          job.Args.JobID,
		FileName:    job.Args.FileName,
		Format:      rows.DetectFormat(job.Args.FileName),
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
	})
	return importVerdict(out).result(out.Err)
}

// DispatchWorker fans a persisted event out into delivery jobs. A failed
// enqueue retries the whole dispatch; unique delivery args keep the
// subscriptions that already succeeded from being enqueued twice.
type DispatchWorker struct {
	river.WorkerDefaults[DispatchArgs]
	Emitter *webhook.Emitter
	Logger  *slog.Logger
}

func (w *DispatchWorker) Work(ctx context.Context, job *river.Job[DispatchArgs]) error {
	ev := job.Args.Event
	if err := w.Emitter.Dispatch(ctx, ev); err != nil {
		logger := w.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("event dispatch failed, will retry",
			"event", ev.Event, "job_id", ev.JobID, "attempt", job.Attempt, "error", err)
		return fmt.Errorf("dispatch %s: %w", ev.Event, err)
	}
	return nil
}

// DeliveryWorker performs one webhook attempt per run. Retries are River
// reschedules, so no worker sleeps between attempts.
type DeliveryWorker struct {
	river.WorkerDefaults[DeliveryArgs]
	Registry  webhook.Registry
	Deliverer *webhook.Deliverer
	Policy    webhook.RetryPolicy
	Logger    *slog.Logger

	// JobTimeout should exceed the deliverer's HTTP timeout.
	JobTimeout time.Duration
}

// NextRetry schedules retry n at base^n seconds after the failed attempt n.
func (w *DeliveryWorker) NextRetry(job *river.Job[DeliveryArgs]) time.Time {
	return time.Now().Add(w.Policy.Delay(job.Attempt))
}

func (w *DeliveryWorker) Timeout(*river.Job[DeliveryArgs]) time.Duration {
	if w.JobTimeout > 0 {
		return w.JobTimeout
	}
	return webhook.DefaultTimeout + 5*time.Second
}

func (w *DeliveryWorker) Work(ctx context.Context, job *river.Job[DeliveryArgs]) error {
	del := job.Args.delivery()
	logger := w.logger().With(
		"subscription_id", del.SubscriptionID,
		"event", del.Event,
		"job_id", del.JobID,
		"attempt", job.Attempt,
	)

	sub, err := w.Registry.Get(ctx, del.SubscriptionID)
	switch {
	case errors.Is(err, webhook.ErrSubscriptionNotFound):
		metrics.Deliveries.WithLabelValues("skipped").Inc()
		logger.Info("subscription deleted, skipping delivery")
		return nil
	case err != nil:
		return fmt.Errorf("load subscription: %w", err)
	case !sub.Enabled:
		metrics.Deliveries.WithLabelValues("skipped").Inc()
		logger.Info("subscription disabled, skipping delivery")
		return nil
	}
	del.URL = sub.URL

	res, err := w.Deliverer.Deliver(ctx, fmt.Sprintf("delivery-%d", job.ID), del)
	v := deliveryVerdict(w.Policy, job.Attempt, err)

	switch v {
	case verdictDone:
		metrics.Deliveries.WithLabelValues("delivered").Inc()
		logger.Info("webhook delivered", "status", res.StatusCode, "duration", res.Duration)
	case verdictRetry:
		metrics.Deliveries.WithLabelValues("transport_error").Inc()
		logger.Warn("webhook delivery failed, will retry",
			"retry_in", w.Policy.Delay(job.Attempt), "error", err)
	case verdictCancel:
		metrics.Deliveries.WithLabelValues("gave_up").Inc()
		logger.Error("webhook delivery permanently failed", "error", err)
	}
	return v.result(err)
}

func (w *DeliveryWorker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

// JanitorWorker removes orphaned staged uploads and, for stores without
// native expiry, expired progress snapshots.
type JanitorWorker struct {
	river.WorkerDefaults[JanitorArgs]
	Uploads  *staging.Store
	MaxAge   time.Duration
	Progress progress.Store
	Logger   *slog.Logger

	now func() time.Time
}

func (w *JanitorWorker) Work(ctx context.Context, _ *river.Job[JanitorArgs]) error {
	now := time.Now
	if w.now != nil {
		now = w.now
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	removed, err := w.Uploads.Sweep(ctx, w.MaxAge, now())
	if err != nil {
		return fmt.Errorf("sweep staging: %w", err)
	}

	expired := 0
	if s, ok := w.Progress.(progress.Sweeper); ok {
		if expired, err = s.Sweep(ctx); err != nil {
			return fmt.Errorf("sweep progress: %w", err)
		}
	}

	if removed > 0 || expired > 0 {
		logger.Info("janitor sweep", "staged_removed", removed, "progress_expired", expired)
	}
	return nil
}
