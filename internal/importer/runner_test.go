package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/progress"
	"github.com/JonMunkholm/catalogimport/internal/rows"
	"github.com/JonMunkholm/catalogimport/internal/staging"
	"github.com/JonMunkholm/catalogimport/internal/webhook"
)

// fakeSink stores upserts in a map and can be told to fail.
type fakeSink struct {
	mu      sync.Mutex
	stored  map[string]catalog.Record
	batches int
	err     error
}

func newFakeSink() *fakeSink {
	return &fakeSink{stored: make(map[string]catalog.Record)}
}

func (s *fakeSink) UpsertBatch(_ context.Context, records []catalog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches++
	for _, r := range records {
		s.stored[r.Key] = r
	}
	return nil
}

// recordingStore remembers every snapshot written through it.
type recordingStore struct {
	*progress.MemoryStore
	mu    sync.Mutex
	snaps []progress.Snapshot
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: progress.NewMemoryStore()}
}

func (s *recordingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var snap progress.Snapshot
	if err := json.Unmarshal(value, &snap); err != nil {
		return err
	}
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func (s *recordingStore) stages() []progress.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progress.Stage, len(s.snaps))
	for i, snap := range s.snaps {
		out[i] = snap.Stage
	}
	return out
}

type fakeNotifier struct {
	mu      sync.Mutex
	events  []webhook.Event
	ctxErrs []error
}

func (n *fakeNotifier) Emit(ctx context.Context, ev webhook.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	return true
}

type harness struct {
	fs       afero.Fs
	uploads  *staging.Store
	sink     *fakeSink
	store    *recordingStore
	reporter *progress.Reporter
	notifier *fakeNotifier
	runner   *Runner
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()
	fsys := afero.NewMemMapFs()
	uploads, err := staging.New(fsys, "/staging")
	require.NoError(t, err)

	h := &harness{
		fs:       fsys,
		uploads:  uploads,
		sink:     newFakeSink(),
		store:    newRecordingStore(),
		notifier: &fakeNotifier{},
	}
	h.reporter = progress.NewReporter(h.store, time.Hour)
	h.runner = NewRunner(uploads, h.sink, h.reporter, h.notifier, batchSize)
	return h
}

// stage puts body into staging and returns a first-attempt job for it.
func (h *harness) stage(t *testing.T, body string) Job {
	t.Helper()
	id := uuid.NewString()
	_, err := h.uploads.Put(context.Background(), id, strings.NewReader(body), 0)
	require.NoError(t, err)
	return Job{ID: id, FileName: "products.csv", Format: rows.FormatCSV, Attempt: 1, MaxAttempts: 3}
}

func (h *harness) snapshot(t *testing.T, jobID string) progress.Snapshot {
	t.Helper()
	snap, err := h.reporter.Get(context.Background(), jobID)
	require.NoError(t, err)
	return snap
}

func (h *harness) staged(jobID string) bool {
	f, err := h.uploads.Open(jobID)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func price(t *testing.T, s string) pgtype.Numeric {
	t.Helper()
	p, err := rows.ParsePrice(s)
	require.NoError(t, err)
	return p
}

func TestRunner_LastWriteWinsWithRowError(t *testing.T) {
	for _, batchSize := range []int{1, 2, 5000} {
		t.Run(fmt.Sprintf("batch=%d", batchSize), func(t *testing.T) {
			h := newHarness(t, batchSize)
			job := h.stage(t, "sku,price\nA1,10.5\n,5\nA1,20\n")

			out := h.runner.Run(context.Background(), job)

			require.Equal(t, StatusComplete, out.Status)
			require.NoError(t, out.Err)
			require.Equal(t, 2, out.Processed)
			require.Equal(t, 3, out.Total)
			require.Len(t, out.Errors, 1)
			require.Equal(t, rows.ReasonMissingIdentifier, out.Errors[0].Reason)
			require.Equal(t, 3, out.Errors[0].Line)

			require.Len(t, h.sink.stored, 1)
			require.Equal(t, price(t, "20"), h.sink.stored["a1"].Price)

			snap := h.snapshot(t, job.ID)
			require.Equal(t, progress.StageComplete, snap.Stage)
			require.Equal(t, "Import complete", snap.Message)
			require.Equal(t, 2, snap.Processed)
			require.Len(t, snap.Errors, 1)

			require.Len(t, h.notifier.events, 1)
			ev := h.notifier.events[0]
			require.Equal(t, webhook.EventImportCompleted, ev.Event)
			require.Equal(t, job.ID, ev.JobID)
			require.Equal(t, "complete", ev.Status)
			require.Empty(t, ev.ErrorMessage)

			require.False(t, h.staged(job.ID), "staged upload must be removed")
		})
	}
}

func TestRunner_ReportsBytesRead(t *testing.T) {
	body := "sku,name,price\nA1,Widget,1\nB2,Gadget,2\n"
	h := newHarness(t, 10)
	job := h.stage(t, body)

	out := h.runner.Run(context.Background(), job)

	require.Equal(t, StatusComplete, out.Status)
	require.Equal(t, int64(len(body)), out.BytesRead)
}

func TestRunner_HeaderOnlyFailsPermanently(t *testing.T) {
	h := newHarness(t, 10)
	job := h.stage(t, "sku,name,price\n")

	out := h.runner.Run(context.Background(), job)

	require.Equal(t, StatusFailed, out.Status)
	require.True(t, out.Permanent)
	require.ErrorIs(t, out.Err, ErrNoDataRows)
	require.Zero(t, out.Processed)

	snap := h.snapshot(t, job.ID)
	require.Equal(t, progress.StageFailed, snap.Stage)
	require.Zero(t, snap.Processed)
	require.Contains(t, snap.Message, "IMP001")
	require.Equal(t, []progress.Stage{progress.StageStarting, progress.StageFailed}, h.store.stages())

	require.Len(t, h.notifier.events, 1)
	require.Equal(t, webhook.EventImportFailed, h.notifier.events[0].Event)
	require.NotEmpty(t, h.notifier.events[0].ErrorMessage)
	require.False(t, h.staged(job.ID))
	require.Zero(t, h.sink.batches)
}

func TestRunner_PermanentInputFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
		code string
	}{
		{"empty", "", rows.ErrEmptyInput, "FILE005"},
		{"invalid utf8", "sku,name\nA1,caf\xe9\n", rows.ErrInvalidEncoding, "FILE003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 10)
			job := h.stage(t, tt.body)
			job.MaxAttempts = 5

			out := h.runner.Run(context.Background(), job)

			require.Equal(t, StatusFailed, out.Status)
			require.False(t, out.Retry())
			require.True(t, out.Permanent)
			require.ErrorIs(t, out.Err, tt.want)
			require.Contains(t, h.snapshot(t, job.ID).Message, tt.code)
			require.Len(t, h.notifier.events, 1)
			require.False(t, h.staged(job.ID))
		})
	}
}

func TestRunner_ProcessedIsValidRowsAndCapDoesNotChangeCounts(t *testing.T) {
	h := newHarness(t, 7)

	var b strings.Builder
	b.WriteString("sku,name,price,color\n")
	for i := range 150 {
		fmt.Fprintf(&b, ",orphan %d,1,red\n", i)
	}
	for i := range 10 {
		fmt.Fprintf(&b, "SKU-%d,item,2.50,blue\n", i)
	}
	fmt.Fprintf(&b, "SKU-X,bad,abc,green\n")
	job := h.stage(t, b.String())

	out := h.runner.Run(context.Background(), job)

	require.Equal(t, StatusComplete, out.Status)
	require.Equal(t, 161, out.Total)
	require.Equal(t, 10, out.Processed)
	require.Len(t, out.Errors, rows.MaxReportedErrors)
	require.Equal(t, 51, out.ErrorsDropped)
	require.Len(t, h.sink.stored, 10)
	require.Equal(t, "blue", h.sink.stored["sku-3"].Attributes["color"])

	snap := h.snapshot(t, job.ID)
	require.Len(t, snap.Errors, rows.MaxReportedErrors)
	require.Equal(t, 51, snap.ErrorsDropped)
}

func TestRunner_TransientFailureRetriesThenFails(t *testing.T) {
	h := newHarness(t, 2)
	h.sink.err = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	job := h.stage(t, "sku,price\nA1,1\nB2,2\nC3,3\n")

	out := h.runner.Run(context.Background(), job)

	require.Equal(t, StatusRetrying, out.Status)
	require.True(t, out.Retry())
	require.False(t, out.Permanent)
	require.Empty(t, h.notifier.events, "no terminal event while retries remain")
	require.True(t, h.staged(job.ID), "retry needs the staged bytes")

	snap := h.snapshot(t, job.ID)
	require.Equal(t, progress.StageImporting, snap.Stage)
	require.Contains(t, snap.Message, "retrying")
	require.Contains(t, snap.Message, "DB004")

	job.Attempt = 3
	out = h.runner.Run(context.Background(), job)

	require.Equal(t, StatusFailed, out.Status)
	require.False(t, out.Permanent)
	require.Len(t, h.notifier.events, 1)
	require.Equal(t, webhook.EventImportFailed, h.notifier.events[0].Event)
	require.Equal(t, progress.StageFailed, h.snapshot(t, job.ID).Stage)
	require.False(t, h.staged(job.ID))
}

func TestRunner_RetryNeverRegressesStage(t *testing.T) {
	h := newHarness(t, 1)
	h.sink.err = errors.New("deadlock detected")
	job := h.stage(t, "sku,price\nA1,1\nB2,2\n")

	require.Equal(t, StatusRetrying, h.runner.Run(context.Background(), job).Status)

	h.sink.err = nil
	job.Attempt = 2
	out := h.runner.Run(context.Background(), job)
	require.Equal(t, StatusComplete, out.Status)
	require.Equal(t, 2, out.Processed)

	stages := h.store.stages()
	require.Equal(t, progress.StageStarting, stages[0])
	require.Equal(t, progress.StageComplete, stages[len(stages)-1])
	for i := 1; i < len(stages); i++ {
		require.GreaterOrEqual(t, stages[i].Rank(), stages[i-1].Rank(), "stages %v", stages)
	}
}

func TestRunner_ProgressPerFlush(t *testing.T) {
	h := newHarness(t, 2)
	job := h.stage(t, "sku\nA\nB\nC\nD\nE\n")

	out := h.runner.Run(context.Background(), job)
	require.Equal(t, 5, out.Processed)

	var messages []string
	for _, s := range h.store.snaps {
		messages = append(messages, s.Message)
	}
	require.Equal(t, []string{
		"Starting",
		"Imported 0/5",
		"Imported 2/5",
		"Imported 4/5",
		"Imported 5/5",
		"Import complete",
	}, messages)
}

func TestRunner_CancelledContextIsTransient(t *testing.T) {
	h := newHarness(t, 10)
	job := h.stage(t, "sku\nA\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := h.runner.Run(ctx, job)

	require.Equal(t, StatusRetrying, out.Status)
	require.ErrorIs(t, out.Err, context.Canceled)
	require.Equal(t, progress.StageImporting, h.snapshot(t, job.ID).Stage)
}

func TestRunner_TerminalEventOutlivesCancellation(t *testing.T) {
	h := newHarness(t, 10)
	job := h.stage(t, "sku\nA\n")
	job.Attempt = job.MaxAttempts

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := h.runner.Run(ctx, job)

	require.Equal(t, StatusFailed, out.Status)
	require.Len(t, h.notifier.events, 1)
	require.Equal(t, webhook.EventImportFailed, h.notifier.events[0].Event)
	require.NoError(t, h.notifier.ctxErrs[0], "emit must not see the job's cancellation")
}

func TestRunner_MissingStagedUploadIsPermanent(t *testing.T) {
	h := newHarness(t, 10)
	job := Job{ID: uuid.NewString(), Format: rows.FormatCSV, Attempt: 1, MaxAttempts: 3}

	out := h.runner.Run(context.Background(), job)
	require.Equal(t, StatusFailed, out.Status)
	require.ErrorIs(t, out.Err, staging.ErrNotFound)
	require.Contains(t, h.snapshot(t, job.ID).Message, "UPL003")
}
