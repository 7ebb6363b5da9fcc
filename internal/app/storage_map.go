package app

import (
	"fmt"
	"strings"
	"time"

	"quotebot/internal/storage"
)

// mapStorageConfig translates the storage config section into a
// storage.Config. The second return is false when persistence is off.
func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	raw := cfg.Storage

	driver := strings.ToLower(strings.TrimSpace(raw.Driver))
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file", "sqlite", "sqlite3":
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", strings.TrimSpace(raw.Driver))
	}

	out := storage.Config{Driver: driver, Path: strings.TrimSpace(raw.Path)}
	if out.Path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	if driver != "file" {
		busy, err := parseDurationOrDefault("storage.busy_timeout", raw.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		out.BusyTimeout = busy
	}
	return out, true, nil
}
