// Package importer runs one uploaded file through parsing, batched upserts
// and progress reporting, and turns the result into a terminal event.
//
// A run ends in one of three outcomes:
//
//	complete  - end of input reached; row errors do not fail a job
//	failed    - permanent error, or a transient error on the last attempt
//	retrying  - transient error with attempts left; the scheduler retries
//
// Only retrying keeps the staged upload. Every other exit removes it.
package importer

import (
	"errors"

	"github.com/JonMunkholm/catalogimport/internal/rows"
	"github.com/JonMunkholm/catalogimport/internal/staging"
)

var (
	// ErrNoDataRows reports a file with a header and nothing else.
	ErrNoDataRows = errors.New("file has no data rows")

	// ErrNoFile reports a submission without an upload.
	ErrNoFile = errors.New("no file provided")
)

// Job identifies one staged upload to import.
type Job struct {
	ID       string
	FileName string
	Format   rows.Format

	// Attempt is 1 on the first run. MaxAttempts bounds transient retries;
	// values below 1 mean a single attempt.
	Attempt     int
	MaxAttempts int
}

func (j Job) lastAttempt() bool {
	return j.Attempt >= max(j.MaxAttempts, 1)
}

// Status is the kind of Outcome.
type Status string

const (
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusRetrying Status = "retrying"
)

// Outcome is the result of one Run.
type Outcome struct {
	Status        Status
	Processed     int
	Total         int
	Errors        []rows.RowError
	ErrorsDropped int

	// BytesRead is how much of the staged upload the import pass consumed.
	BytesRead int64

	// Err is set for failed and retrying outcomes. Permanent marks errors
	// that no retry can fix.
	Err       error
	Permanent bool
}

// Retry reports whether the scheduler should run the job again.
func (o Outcome) Retry() bool {
	return o.Status == StatusRetrying
}

// permanentErrors are input problems no retry can fix.
var permanentErrors = []error{
	rows.ErrEmptyInput,
	rows.ErrInvalidEncoding,
	rows.ErrUnreadable,
	ErrNoDataRows,
	ErrNoFile,
	staging.ErrNotFound,
	staging.ErrBadID,
}

// IsPermanent reports whether err comes from the input rather than from the
// sink or the environment.
func IsPermanent(err error) bool {
	for _, p := range permanentErrors {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}
