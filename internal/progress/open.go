package progress

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/config"
)

// Sweeper is implemented by stores without native expiry.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Open builds the configured backend. The returned store is process-wide and
// closed by the caller on shutdown.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch strings.ToLower(cfg.Progress.Backend) {
	case "redis":
		return NewRedisStore(ctx, cfg.Redis.URL)
	case "pebble":
		return OpenPebble(cfg.Pebble.Path, nil)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown progress backend %q", cfg.Progress.Backend)
	}
}
