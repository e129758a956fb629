package catalog

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/JonMunkholm/catalogimport/internal/metrics"
)

const tracerName = "github.com/JonMunkholm/catalogimport/internal/catalog"

// DefaultBatchSize is the number of records per bulk upsert.
const DefaultBatchSize = 5000

// Sink performs one idempotent bulk insert-or-update keyed on Record.Key.
// Records passed to UpsertBatch have unique keys.
type Sink interface {
	UpsertBatch(ctx context.Context, records []Record) error
}

// Upserter buffers records and flushes them to a Sink in source order.
// It is not safe for concurrent use; each ingestion job owns one.
type Upserter struct {
	sink      Sink
	batchSize int
	buf       []Record
	flushed   int
}

// NewUpserter returns an Upserter flushing every batchSize records.
// A non-positive batchSize selects DefaultBatchSize.
func NewUpserter(sink Sink, batchSize int) *Upserter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Upserter{
		sink:      sink,
		batchSize: batchSize,
		buf:       make([]Record, 0, batchSize),
	}
}

// Add buffers rec and flushes when the buffer is full. It returns the number
// of records flushed by this call (zero or the batch size).
func (u *Upserter) Add(ctx context.Context, rec Record) (int, error) {
	u.buf = append(u.buf, rec)
	if len(u.buf) < u.batchSize {
		return 0, nil
	}
	return u.Flush(ctx)
}

// Flush writes any buffered records. The buffer is cleared only when the sink
// accepts the batch.
func (u *Upserter) Flush(ctx context.Context) (int, error) {
	if len(u.buf) == 0 {
		return 0, nil
	}

	n := len(u.buf)
	batch := DedupeLastWins(u.buf)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "catalog.flush")
	span.SetAttributes(
		attribute.Int("catalog.batch.rows", n),
		attribute.Int("catalog.batch.unique_keys", len(batch)),
	)
	defer span.End()

	start := time.Now()
	err := u.sink.UpsertBatch(ctx, batch)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return 0, fmt.Errorf("upsert batch of %d: %w", n, err)
	}

	u.flushed += n
	u.buf = u.buf[:0]
	return n, nil
}

// Flushed returns the total number of records accepted by the sink so far,
// counting duplicates collapsed within a batch.
func (u *Upserter) Flushed() int {
	return u.flushed
}

// Pending returns the number of buffered, unflushed records.
func (u *Upserter) Pending() int {
	return len(u.buf)
}

// DedupeLastWins collapses records sharing a key, keeping the last one in
// input order at the position of its last occurrence. A bulk upsert cannot
// touch the same conflict key twice in one statement.
func DedupeLastWins(records []Record) []Record {
	last := make(map[string]int, len(records))
	for i, r := range records {
		last[r.Key] = i
	}
	if len(last) == len(records) {
		return records
	}

	out := make([]Record, 0, len(last))
	for i, r := range records {
		if last[r.Key] == i {
			out = append(out, r)
		}
	}
	return out
}
