// Package progress stores per-job import snapshots with a lease.
//
// Only the job that owns an id writes its snapshot; any number of status
// pollers read it. Every write refreshes the lease, and a snapshot that is
// not rewritten within the lease disappears regardless of stage. A poller
// may briefly see an older importing snapshot after the terminal write; that
// is expected and not an error.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/rows"
)

// DefaultTTL is the lease applied on every write.
const DefaultTTL = time.Hour

// KeyPrefix namespaces snapshot keys in the backing store.
const KeyPrefix = "import_progress:"

// ErrNotFound is returned when no live snapshot exists for a key.
var ErrNotFound = errors.New("progress: not found")

// Stage is the lifecycle position of an import job.
type Stage string

const (
	StageStarting  Stage = "starting"
	StageImporting Stage = "importing"
	StageComplete  Stage = "complete"
	StageFailed    Stage = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Rank orders stages for monotonic progression checks.
func (s Stage) Rank() int {
	switch s {
	case StageStarting:
		return 0
	case StageImporting:
		return 1
	case StageComplete, StageFailed:
		return 2
	default:
		return -1
	}
}

// Snapshot is the JSON document a poller receives.
type Snapshot struct {
	JobID         string          `json:"job_id"`
	Stage         Stage           `json:"stage"`
	Processed     int             `json:"processed"`
	Total         int             `json:"total"`
	Message       string          `json:"message"`
	Errors        []rows.RowError `json:"errors"`
	ErrorsDropped int             `json:"errors_dropped,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Store is a key/value store with per-key expiry.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Key returns the store key for a job id.
func Key(jobID string) string {
	return KeyPrefix + jobID
}

// Reporter reads and writes snapshots through a Store.
type Reporter struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewReporter returns a Reporter applying ttl (DefaultTTL if zero) on writes.
func NewReporter(store Store, ttl time.Duration) *Reporter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reporter{store: store, ttl: ttl, now: time.Now}
}

// Set writes snap under its job id and refreshes the lease.
func (r *Reporter) Set(ctx context.Context, snap Snapshot) error {
	if snap.Errors == nil {
		snap.Errors = []rows.RowError{}
	}
	snap.UpdatedAt = r.now().UTC()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := r.store.Set(ctx, Key(snap.JobID), data, r.ttl); err != nil {
		return fmt.Errorf("write progress %s: %w", snap.JobID, err)
	}
	return nil
}

// Get returns the live snapshot for jobID or ErrNotFound.
func (r *Reporter) Get(ctx context.Context, jobID string) (Snapshot, error) {
	data, err := r.store.Get(ctx, Key(jobID))
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode progress %s: %w", jobID, err)
	}
	return snap, nil
}
