package importer

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/metrics"
	"github.com/JonMunkholm/catalogimport/internal/progress"
	"github.com/JonMunkholm/catalogimport/internal/rows"
	"github.com/JonMunkholm/catalogimport/internal/staging"
	"github.com/JonMunkholm/catalogimport/internal/webhook"
)

const tracerName = "github.com/JonMunkholm/catalogimport/internal/importer"

// Progress messages.
const (
	msgStarting = "Starting"
	msgComplete = "Import complete"
)

// Notifier receives terminal events. Emit must not block on the job's
// cancellation and reports false only when the event was lost.
type Notifier interface {
	Emit(ctx context.Context, ev webhook.Event) bool
}

// Runner executes import jobs. It is safe for concurrent use; each Run keeps
// its own state.
type Runner struct {
	uploads   *staging.Store
	sink      catalog.Sink
	progress  *progress.Reporter
	notifier  Notifier
	batchSize int
}

// NewRunner wires a Runner. notifier may be nil.
func NewRunner(uploads *staging.Store, sink catalog.Sink, reporter *progress.Reporter, notifier Notifier, batchSize int) *Runner {
	return &Runner{
		uploads:   uploads,
		sink:      sink,
		progress:  reporter,
		notifier:  notifier,
		batchSize: batchSize,
	}
}

// run is the state of a single Run.
type run struct {
	*Runner
	job    Job
	log    *slog.Logger
	stage  progress.Stage
	total  int
	errs   rows.ErrorList
	upsert *catalog.Upserter
	source *rows.CountingReader
}

// Run imports job and returns its outcome. Progress, the terminal event and
// staging cleanup are handled before Run returns.
func (r *Runner) Run(ctx context.Context, job Job) Outcome {
	ctx = logging.WithJob(ctx, job.ID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "importer.run")
	span.SetAttributes(
		attribute.String("import.job_id", job.ID),
		attribute.String("import.format", job.Format.String()),
		attribute.Int("import.attempt", job.Attempt),
	)
	defer span.End()

	st := &run{
		Runner: r,
		job:    job,
		log:    logging.WithFields(ctx, "file_name", job.FileName, "attempt", job.Attempt),
		stage:  progress.StageStarting,
		upsert: catalog.NewUpserter(r.sink, r.batchSize),
	}

	st.log.Info("import started")
	out := st.finish(ctx, st.execute(ctx))

	metrics.JobsTotal.WithLabelValues(string(out.Status)).Inc()
	span.SetAttributes(
		attribute.String("import.outcome", string(out.Status)),
		attribute.Int("import.processed", out.Processed),
		attribute.Int("import.total", out.Total),
		attribute.Int64("import.bytes_read", out.BytesRead),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, string(out.Status))
	}
	return out
}

// execute does the work and returns the fatal error, if any.
func (st *run) execute(ctx context.Context) error {
	if st.job.Attempt <= 1 {
		st.report(ctx, progress.StageStarting, msgStarting)
	}

	total, err := st.count()
	if err != nil {
		return err
	}
	if total == 0 {
		return ErrNoDataRows
	}
	st.total = total
	st.report(ctx, progress.StageImporting, st.importedMessage())

	f, err := st.uploads.Open(st.job.ID)
	if err != nil {
		return err
	}
	defer f.Close()
	st.source = rows.NewCountingReader(f)

	for row, err := range rows.Parse(st.source, st.job.Format) {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if row.Err != nil {
			st.errs.Add(*row.Err)
			metrics.RowErrors.WithLabelValues(row.Err.Reason).Inc()
			continue
		}

		n, err := st.upsert.Add(ctx, row.Record)
		if err != nil {
			return err
		}
		if n > 0 {
			st.flushed(ctx, n)
		}
	}

	n, err := st.upsert.Flush(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		st.flushed(ctx, n)
	}
	return nil
}

func (st *run) count() (int, error) {
	f, err := st.uploads.Open(st.job.ID)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := rows.Count(f, st.job.Format)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

func (st *run) flushed(ctx context.Context, n int) {
	metrics.RowsProcessed.Add(float64(n))
	st.report(ctx, progress.StageImporting, st.importedMessage())
}

func (st *run) importedMessage() string {
	return fmt.Sprintf("Imported %d/%d", st.upsert.Flushed(), st.total)
}

// report writes a snapshot. Progress is best effort: a failed write is
// logged and counted but never fails the job. Stages never move backwards.
func (st *run) report(ctx context.Context, stage progress.Stage, message string) {
	if stage.Rank() < st.stage.Rank() {
		st.log.Warn("ignoring stage regression", "from", st.stage, "to", stage)
		return
	}
	st.stage = stage

	err := st.progress.Set(ctx, progress.Snapshot{
		JobID:         st.job.ID,
		Stage:         stage,
		Processed:     st.upsert.Flushed(),
		Total:         st.total,
		Message:       message,
		Errors:        st.errs.Items(),
		ErrorsDropped: st.errs.Dropped(),
	})
	if err != nil {
		metrics.ProgressWriteFailures.Inc()
		st.log.Warn("progress write failed", "stage", stage, "error", err)
	}
}

// finish classifies err, writes the last snapshot of this attempt, emits the
// terminal event and cleans up staging.
func (st *run) finish(ctx context.Context, err error) Outcome {
	out := Outcome{
		Status:        StatusComplete,
		Processed:     st.upsert.Flushed(),
		Total:         st.total,
		Errors:        st.errs.Items(),
		ErrorsDropped: st.errs.Dropped(),
		Err:           err,
		Permanent:     IsPermanent(err),
	}
	if st.source != nil {
		out.BytesRead = st.source.BytesRead
	}

	// Terminal writes must land even when the job context was cancelled.
	wctx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		st.report(wctx, progress.StageComplete, msgComplete)
		st.log.Info("import complete",
			"processed", out.Processed, "total", out.Total, "row_errors", st.errs.Total(),
			"bytes_read", out.BytesRead)
		st.emit(wctx, webhook.Event{
			Event:     webhook.EventImportCompleted,
			Status:    string(progress.StageComplete),
			Processed: out.Processed,
			Total:     out.Total,
			Errors:    out.Errors,
		})

	case !out.Permanent && !st.job.lastAttempt():
		out.Status = StatusRetrying
		st.report(wctx, progress.StageImporting, fmt.Sprintf("Attempt %d of %d failed, retrying: %s",
			st.job.Attempt, st.job.MaxAttempts, FormatUserError(err)))
		st.log.Warn("import attempt failed, will retry", "processed", out.Processed, "error", err)
		return out

	default:
		out.Status = StatusFailed
		msg := FormatUserError(err)
		st.report(wctx, progress.StageFailed, msg)
		st.log.Error("import failed",
			"processed", out.Processed, "total", out.Total, "permanent", out.Permanent,
			"bytes_read", out.BytesRead, "error", err)
		st.emit(wctx, webhook.Event{
			Event:        webhook.EventImportFailed,
			Status:       string(progress.StageFailed),
			Processed:    out.Processed,
			Total:        out.Total,
			Errors:       out.Errors,
			ErrorMessage: msg,
		})
	}

	if err := st.uploads.Remove(st.job.ID); err != nil {
		st.log.Warn("staged upload cleanup failed", "error", err)
	}
	return out
}

func (st *run) emit(ctx context.Context, ev webhook.Event) {
	if st.notifier == nil {
		return
	}
	ev.JobID = st.job.ID
	if !st.notifier.Emit(ctx, ev) {
		st.log.Error("terminal event lost", "event", ev.Event)
	}
}
