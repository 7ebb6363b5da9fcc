package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "quotebot/pkg/logx"
)

// Store is the persistence API used by the posting pipeline.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	LastRuns(ctx context.Context, n int) ([]RunRecord, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store. An empty or "none" driver disables
// persistence and returns (nil, nil); callers treat a nil Store as
// "keep no state".
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
