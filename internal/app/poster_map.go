package app

import (
	"fmt"

	"quotebot/internal/poster"
)

// mapPosterConfig converts the JSON config into the pipeline config.
// The poster is always enabled; omitting the section means built-in defaults.
func mapPosterConfig(cfg *Config) (poster.Config, error) {
	out := poster.Config{Enabled: true}
	if cfg == nil || cfg.Poster == nil {
		return out, nil
	}
	pc := cfg.Poster

	if pc.RatePerMinute < 0 {
		return out, fmt.Errorf("poster.rate_per_minute must be >= 0")
	}
	if pc.Burst < 0 {
		return out, fmt.Errorf("poster.burst must be >= 0")
	}
	if pc.RetryMax < 0 {
		return out, fmt.Errorf("poster.retry_max must be >= 0")
	}
	if pc.DedupMaxEntries < 0 {
		return out, fmt.Errorf("poster.dedup_max_entries must be >= 0")
	}
	out.RatePerMinute = pc.RatePerMinute
	out.Burst = pc.Burst
	out.RetryMax = pc.RetryMax
	out.DedupMaxEntries = pc.DedupMaxEntries
	out.PersistDedup = pc.PersistDedup

	sendTO, err := parseDurationField("poster.send_timeout", pc.SendTimeout)
	if err != nil {
		return out, err
	}
	retryBase, err := parseDurationField("poster.retry_base", pc.RetryBase)
	if err != nil {
		return out, err
	}
	retryMaxDelay, err := parseDurationField("poster.retry_max_delay", pc.RetryMaxDelay)
	if err != nil {
		return out, err
	}
	dedupWindow, err := parseDurationField("poster.dedup_window", pc.DedupWindow)
	if err != nil {
		return out, err
	}
	out.SendTimeout = sendTO
	out.RetryBase = retryBase
	out.RetryMaxDelay = retryMaxDelay
	out.DedupWindow = dedupWindow

	if out.PersistDedup && out.DedupWindow <= 0 {
		return out, fmt.Errorf("poster.persist_dedup requires a positive poster.dedup_window")
	}

	return out, nil
}
