package app

import (
	"fmt"
	"strings"
	"time"

	"quotebot/internal/task/scheduler"
)

// ValidateConfig rejects configurations the services could not run with.
// It gates boot, the -validate flag, and hot reloads; a config that passes
// here can be mapped without errors.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if cfg.Engine != nil {
		ec := cfg.Engine
		if ec.Workers < 0 {
			return fmt.Errorf("engine.workers must be >= 0")
		}
		if ec.QueueSize < 0 {
			return fmt.Errorf("engine.queue_size must be >= 0")
		}
		if ec.HistorySize < 0 {
			return fmt.Errorf("engine.history_size must be >= 0")
		}
		if ec.RetryMax < 0 {
			return fmt.Errorf("engine.retry_max must be >= 0")
		}
		if _, err := parseDurationField("engine.default_timeout", ec.DefaultTimeout); err != nil {
			return err
		}
		if _, err := parseDurationField("engine.max_queue_delay", ec.MaxQueueDelay); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
		}
	}
	if len(cfg.Schedule.Crons) > 0 {
		if err := scheduler.ValidateExprs(cfg.Schedule.Crons); err != nil {
			return fmt.Errorf("schedule.crons: %w", err)
		}
	}

	if _, err := mapPosterConfig(cfg); err != nil {
		return err
	}

	if _, err := parseDurationField("twitter.timeout", cfg.Twitter.Timeout); err != nil {
		return err
	}

	if _, err := parseDurationField("sheets.timeout", cfg.Sheets.Timeout); err != nil {
		return err
	}
	if cfg.Sheets.StartRow < 0 {
		return fmt.Errorf("sheets.start_row must be >= 0")
	}

	if _, err := mapPprofConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
