package config

import (
	"reflect"
	"sort"
	"strings"

	logx "quotebot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.String("logx.format", newCfg.Logging.Format),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Schedule (triggers)
	oldEnabled := oldCfg.ScheduleEnabled()
	newEnabled := newCfg.ScheduleEnabled()
	if oldEnabled != newEnabled ||
		strings.TrimSpace(oldCfg.Schedule.Timezone) != strings.TrimSpace(newCfg.Schedule.Timezone) ||
		!reflect.DeepEqual(oldCfg.Schedule.Crons, newCfg.Schedule.Crons) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newEnabled),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
			logx.Int("schedule.cron_count", len(newCfg.Schedule.Crons)),
		)
	}

	// Engine (executor)
	oE := derefEngine(oldCfg.Engine)
	nE := derefEngine(newCfg.Engine)
	if (oldCfg.Engine != nil) != (newCfg.Engine != nil) || !reflect.DeepEqual(oE, nE) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Bool("engine.present", newCfg.Engine != nil),
			logx.Int("engine.workers", nE.Workers),
			logx.Int("engine.queue_size", nE.QueueSize),
			logx.String("engine.default_timeout", strings.TrimSpace(nE.DefaultTimeout)),
			logx.Int("engine.retry_max", nE.RetryMax),
		)
	}

	// Poster (pipeline)
	oP := derefPoster(oldCfg.Poster)
	nP := derefPoster(newCfg.Poster)
	if (oldCfg.Poster != nil) != (newCfg.Poster != nil) || !reflect.DeepEqual(oP, nP) {
		changed = append(changed, "poster")
		attrs = append(attrs,
			logx.Bool("poster.present", newCfg.Poster != nil),
			logx.Int("poster.rate_per_minute", nP.RatePerMinute),
			logx.Int("poster.retry_max", nP.RetryMax),
			logx.String("poster.dedup_window", strings.TrimSpace(nP.DedupWindow)),
			logx.Bool("poster.persist_dedup", nP.PersistDedup),
		)
	}

	// Twitter (never log credentials; they don't live here anyway)
	if !reflect.DeepEqual(oldCfg.Twitter, newCfg.Twitter) {
		changed = append(changed, "twitter")
		attrs = append(attrs,
			logx.Bool("twitter.base_url_set", strings.TrimSpace(newCfg.Twitter.BaseURL) != ""),
			logx.String("twitter.timeout", strings.TrimSpace(newCfg.Twitter.Timeout)),
		)
	}

	// Sheets
	if !reflect.DeepEqual(oldCfg.Sheets, newCfg.Sheets) {
		changed = append(changed, "sheets")
		attrs = append(attrs,
			logx.String("sheets.tracking_worksheet", strings.TrimSpace(newCfg.Sheets.TrackingWorksheet)),
			logx.Int("sheets.start_row", newCfg.Sheets.StartRow),
		)
	}

	// Storage (persistence)
	oldS := oldCfg.Storage
	newS := newCfg.Storage
	// Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldS != nil {
		oDriver = strings.TrimSpace(oldS.Driver)
		oBusy = strings.TrimSpace(oldS.BusyTimeout)
		oPathSet = strings.TrimSpace(oldS.Path) != ""
	}
	if newS != nil {
		nDriver = strings.TrimSpace(newS.Driver)
		nBusy = strings.TrimSpace(newS.BusyTimeout)
		nPathSet = strings.TrimSpace(newS.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		strings.TrimSpace(oldCfg.Pprof.Addr) != strings.TrimSpace(newCfg.Pprof.Addr) ||
		strings.TrimSpace(oldCfg.Pprof.Prefix) != strings.TrimSpace(newCfg.Pprof.Prefix) ||
		oldCfg.Pprof.AllowInsecure != newCfg.Pprof.AllowInsecure ||
		strings.TrimSpace(oldCfg.Pprof.ReadTimeout) != strings.TrimSpace(newCfg.Pprof.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.WriteTimeout) != strings.TrimSpace(newCfg.Pprof.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.IdleTimeout) != strings.TrimSpace(newCfg.Pprof.IdleTimeout) ||
		oldCfg.Pprof.MutexProfileFraction != newCfg.Pprof.MutexProfileFraction ||
		oldCfg.Pprof.BlockProfileRate != newCfg.Pprof.BlockProfileRate ||
		oldCfg.Pprof.MemProfileRate != newCfg.Pprof.MemProfileRate ||
		(strings.TrimSpace(oldCfg.Pprof.Token) != "") != (strings.TrimSpace(newCfg.Pprof.Token) != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.String("pprof.prefix", strings.TrimSpace(newCfg.Pprof.Prefix)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefEngine(e *EngineConfig) EngineConfig {
	if e == nil {
		return EngineConfig{}
	}
	return *e
}

func derefPoster(p *PosterConfig) PosterConfig {
	if p == nil {
		return PosterConfig{}
	}
	return *p
}
