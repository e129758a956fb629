package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/progress"
	"github.com/JonMunkholm/catalogimport/internal/rows"
	"github.com/JonMunkholm/catalogimport/internal/staging"
)

// Enqueuer schedules a staged job for a worker.
type Enqueuer interface {
	EnqueueImport(ctx context.Context, job Job) error
}

// Submitter accepts uploads: it stages the bytes, records a starting
// snapshot and enqueues the job.
type Submitter struct {
	uploads  *staging.Store
	limiter  *staging.Limiter
	progress *progress.Reporter
	enqueuer Enqueuer
	maxBytes int64
}

// NewSubmitter wires a Submitter. A nil limiter disables upload throttling.
func NewSubmitter(uploads *staging.Store, limiter *staging.Limiter, reporter *progress.Reporter, enqueuer Enqueuer, maxBytes int64) *Submitter {
	return &Submitter{
		uploads:  uploads,
		limiter:  limiter,
		progress: reporter,
		enqueuer: enqueuer,
		maxBytes: maxBytes,
	}
}

// Submit stages r under a new job id and enqueues it. The returned id can be
// polled immediately.
func (s *Submitter) Submit(ctx context.Context, fileName string, r io.Reader) (string, error) {
	if r == nil {
		return "", ErrNoFile
	}

	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			return "", err
		}
		defer s.limiter.Release()
	}

	id := uuid.NewString()
	log := logging.WithFields(logging.WithJob(ctx, id), "file_name", fileName)

	size, err := s.uploads.Put(ctx, id, r, s.maxBytes)
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}

	// Written before enqueueing so a fast worker never sees its stage
	// overwritten by an older one.
	if err := s.progress.Set(ctx, progress.Snapshot{
		JobID:   id,
		Stage:   progress.StageStarting,
		Message: "Queued",
	}); err != nil {
		log.Warn("initial progress write failed", "error", err)
	}

	job := Job{
		ID:       id,
		FileName: filepath.Base(fileName),
		Format:   rows.DetectFormat(fileName),
		Attempt:  1,
	}
	if err := s.enqueuer.EnqueueImport(ctx, job); err != nil {
		cleanupErr := s.uploads.Remove(id)
		failErr := s.progress.Set(context.WithoutCancel(ctx), progress.Snapshot{
			JobID:   id,
			Stage:   progress.StageFailed,
			Message: FormatUserError(err),
		})
		if e := errors.Join(cleanupErr, failErr); e != nil {
			log.Warn("cleanup after enqueue failure", "error", e)
		}
		return "", fmt.Errorf("enqueue import: %w", err)
	}

	log.Info("import submitted", "format", job.Format.String(), "bytes", size)
	return id, nil
}
