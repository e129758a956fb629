package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"

	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/importer"
	"github.com/JonMunkholm/catalogimport/internal/progress"
	"github.com/JonMunkholm/catalogimport/internal/staging"
	"github.com/JonMunkholm/catalogimport/internal/webhook"
)

// ErrNotStarted is returned by Queue methods before a client is attached.
var ErrNotStarted = errors.New("job queue not started")

// inserter is the part of *river.Client the Queue uses.
type inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Queue enqueues imports, event dispatches and deliveries. It satisfies
// importer.Enqueuer, webhook.Dispatcher and webhook.Enqueuer. The emitter and submitter need a Queue before the River
// client exists, so the client is attached afterwards with Attach.
type Queue struct {
	client         inserter
	importAttempts int
	policy         webhook.RetryPolicy
}

// NewQueue returns a detached Queue.
func NewQueue(importAttempts int, policy webhook.RetryPolicy) *Queue {
	return &Queue{importAttempts: importAttempts, policy: policy}
}

var (
	_ webhook.Dispatcher = (*Queue)(nil)
	_ webhook.Enqueuer   = (*Queue)(nil)
)

// Attach sets the client used for inserts. It must be called before any
// Enqueue method.
func (q *Queue) Attach(client inserter) {
	q.client = client
}

func (q *Queue) insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error {
	if q.client == nil {
		return ErrNotStarted
	}
	if _, err := q.client.Insert(ctx, args, opts); err != nil {
		return fmt.Errorf("insert %s job: %w", args.Kind(), err)
	}
	return nil
}

// EnqueueImport schedules job on the imports queue.
func (q *Queue) EnqueueImport(ctx context.Context, job importer.Job) error {
	return q.insert(ctx,
		ImportArgs{JobID: job.ID, FileName: job.FileName},
		&river.InsertOpts{Queue: QueueImports, MaxAttempts: max(q.importAttempts, 1)},
	)
}

// EnqueueDispatch persists ev for the dispatch worker.
func (q *Queue) EnqueueDispatch(ctx context.Context, ev webhook.Event) error {
	return q.insert(ctx,
		DispatchArgs{Event: ev},
		&river.InsertOpts{
			Queue:       QueueWebhooks,
			MaxAttempts: dispatchAttempts,
			UniqueOpts:  river.UniqueOpts{ByArgs: true},
		},
	)
}

// EnqueueDelivery schedules one webhook delivery. MaxAttempts matches the
// retry policy so River and the policy agree on when to give up. Deliveries
// are unique by args so a retried dispatch does not send twice.
func (q *Queue) EnqueueDelivery(ctx context.Context, d webhook.Delivery) error {
	return q.insert(ctx,
		newDeliveryArgs(d),
		&river.InsertOpts{
			Queue:       QueueWebhooks,
			MaxAttempts: q.policy.MaxAttempts(),
			UniqueOpts:  river.UniqueOpts{ByArgs: true},
		},
	)
}

const dispatchAttempts = 10

// Deps are the collaborators the workers need.
type Deps struct {
	Runner    *importer.Runner
	Emitter   *webhook.Emitter
	Registry  webhook.Registry
	Deliverer *webhook.Deliverer
	Uploads   *staging.Store
	Progress  progress.Store
	Logger    *slog.Logger
}

// NewWorkers registers every worker.
func NewWorkers(cfg *config.Config, deps Deps) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[ImportArgs](workers, &ImportWorker{
		Runner:     deps.Runner,
		JobTimeout: cfg.Import.Timeout,
	})
	river.AddWorker[DispatchArgs](workers, &DispatchWorker{
		Emitter: deps.Emitter,
		Logger:  deps.Logger,
	})
	river.AddWorker[DeliveryArgs](workers, &DeliveryWorker{
		Registry:   deps.Registry,
		Deliverer:  deps.Deliverer,
		Policy:     RetryPolicy(cfg),
		Logger:     deps.Logger,
		JobTimeout: cfg.Webhook.Timeout + webhookTimeoutMargin,
	})
	river.AddWorker[JanitorArgs](workers, &JanitorWorker{
		Uploads:  deps.Uploads,
		MaxAge:   cfg.Staging.MaxAge,
		Progress: deps.Progress,
		Logger:   deps.Logger,
	})
	return workers
}

const webhookTimeoutMargin = 5 * time.Second

// RetryPolicy builds the webhook retry policy from configuration.
func RetryPolicy(cfg *config.Config) webhook.RetryPolicy {
	return webhook.RetryPolicy{MaxRetries: cfg.Webhook.MaxRetries, Base: cfg.Webhook.BackoffBase}
}

// NewClient builds the River client with the imports, webhooks and
// maintenance queues and the periodic janitor.
func NewClient(pool *pgxpool.Pool, cfg *config.Config, workers *river.Workers, logger *slog.Logger) (*river.Client[pgx.Tx], error) {
	schedule, err := ParseCron(cfg.Staging.JanitorCron)
	if err != nil {
		return nil, err
	}

	janitor := river.NewPeriodicJob(
		schedule,
		func() (river.JobArgs, *river.InsertOpts) {
			return JanitorArgs{}, &river.InsertOpts{Queue: QueueMaintenance, MaxAttempts: 1}
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: logger,
		Queues: map[string]river.QueueConfig{
			QueueImports:     {MaxWorkers: cfg.Workers.ImportWorkers},
			QueueWebhooks:    {MaxWorkers: cfg.Workers.WebhookWorkers},
			QueueMaintenance: {MaxWorkers: cfg.Workers.MaintenanceJobs},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{janitor},
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return client, nil
}
