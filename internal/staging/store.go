// Package staging keeps uploaded files on disk between the HTTP request
// that received them and the background job that imports them.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	ErrNotFound = errors.New("staged upload not found")
	ErrTooLarge = errors.New("upload exceeds maximum size")
	ErrBadID    = errors.New("invalid staged upload id")
)

const (
	fileExt = ".upload"
	tmpExt  = ".partial"
)

// Store is a flat directory of staged uploads keyed by job id.
type Store struct {
	fs  afero.Fs
	dir string
}

// New creates dir on fs if needed.
func New(fsys afero.Fs, dir string) (*Store, error) {
	if err := fsys.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir %s: %w", dir, err)
	}
	return &Store{fs: fsys, dir: dir}, nil
}

// NewOS stages uploads on the local filesystem.
func NewOS(dir string) (*Store, error) {
	return New(afero.NewOsFs(), dir)
}

func (s *Store) path(id string, ext string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadID, id)
	}
	return filepath.Join(s.dir, id+ext), nil
}

// Put copies r into the store under id. A maxBytes of zero disables the size
// check. Nothing is left behind when Put fails.
func (s *Store) Put(ctx context.Context, id string, r io.Reader, maxBytes int64) (int64, error) {
	final, err := s.path(id, fileExt)
	if err != nil {
		return 0, err
	}
	tmp := final[:len(final)-len(fileExt)] + tmpExt

	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("create staged file: %w", err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: src})
	closeErr := f.Close()

	switch {
	case err != nil:
		err = fmt.Errorf("write staged file: %w", err)
	case closeErr != nil:
		err = fmt.Errorf("close staged file: %w", closeErr)
	case maxBytes > 0 && n > maxBytes:
		err = fmt.Errorf("%w (limit %s)", ErrTooLarge, humanize.IBytes(uint64(maxBytes)))
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return 0, err
	}

	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		return 0, fmt.Errorf("commit staged file: %w", err)
	}

	slog.Debug("upload staged", "job_id", id, "size", humanize.IBytes(uint64(n)))
	return n, nil
}

// Open returns the staged bytes for id.
func (s *Store) Open(id string) (afero.File, error) {
	p, err := s.path(id, fileExt)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	return f, nil
}

// Remove deletes the staged bytes for id. Removing a missing upload is not
// an error.
func (s *Store) Remove(id string) error {
	p, err := s.path(id, fileExt)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staged file: %w", err)
	}
	return nil
}

// Sweep removes staged and partial files last modified before now-olderThan.
// It returns the number of files removed.
func (s *Store) Sweep(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, fmt.Errorf("list staging dir: %w", err)
	}

	cutoff := now.Add(-olderThan)
	removed := 0
	var freed int64
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if e.IsDir() || !e.ModTime().Before(cutoff) {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case fileExt, tmpExt:
		default:
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("staging sweep: remove failed", "file", e.Name(), "error", err)
			continue
		}
		removed++
		freed += e.Size()
	}

	if removed > 0 {
		slog.Info("staging sweep", "removed", removed, "freed", humanize.IBytes(uint64(freed)))
	}
	return removed, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
