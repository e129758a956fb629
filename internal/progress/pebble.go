package progress

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"
)

// expiryLen is the size of the big-endian unix-nano expiry prefixed to
// every stored value.
const expiryLen = 8

// PebbleStore keeps snapshots in an embedded Pebble database for
// single-node deployments without Redis. Expiry is checked on read;
// Sweep removes expired keys in bulk.
type PebbleStore struct {
	db  *pebble.DB
	now func() time.Time
}

// OpenPebble opens or creates a store at path. opts may be nil.
func OpenPebble(path string, opts *pebble.Options) (*PebbleStore, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	slog.Info("progress store opened", "backend", "pebble", "path", path)
	return &PebbleStore{db: db, now: time.Now}, nil
}

func (s *PebbleStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, expiryLen+len(value))
	binary.BigEndian.PutUint64(buf, uint64(s.now().Add(ttl).UnixNano()))
	copy(buf[expiryLen:], value)
	return s.db.Set([]byte(key), buf, pebble.NoSync)
}

func (s *PebbleStore) Get(_ context.Context, key string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	if len(v) < expiryLen {
		return nil, fmt.Errorf("corrupt progress value for %s", key)
	}
	if s.expired(v) {
		_ = s.db.Delete([]byte(key), pebble.NoSync)
		return nil, ErrNotFound
	}

	out := make([]byte, len(v)-expiryLen)
	copy(out, v[expiryLen:])
	return out, nil
}

// Sweep deletes every expired snapshot and returns how many were removed.
func (s *PebbleStore) Sweep(ctx context.Context) (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(KeyPrefix),
		UpperBound: prefixEnd([]byte(KeyPrefix)),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	batch := s.db.NewBatch()
	defer batch.Close()

	removed := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		v := iter.Value()
		if len(v) < expiryLen || s.expired(v) {
			if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if err := iter.Error(); err != nil {
		return removed, err
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, batch.Commit(pebble.Sync)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) expired(v []byte) bool {
	return s.now().UnixNano() >= int64(binary.BigEndian.Uint64(v[:expiryLen]))
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
