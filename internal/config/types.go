package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Schedule controls the posting triggers (cron expressions, timezone).
	// An empty cron list means the built-in daily schedule.
	Schedule ScheduleConfig `json:"schedule"`

	// Engine controls execution settings for triggered tasks.
	Engine *EngineConfig `json:"engine,omitempty"`

	// Poster controls the posting pipeline (rate, retry, dedup).
	Poster *PosterConfig `json:"poster,omitempty"`

	Twitter TwitterConfig `json:"twitter,omitempty"`
	Sheets  SheetsConfig  `json:"sheets,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Pprof   PprofConfig    `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format,omitempty"` // "console" (default) or "json"
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ScheduleConfig controls the trigger service.
//
// Enabled is a pointer so we can distinguish "omitted" (default true)
// from an explicit false.
//
// Crons holds five-field cron expressions evaluated in Timezone
// (default "UTC"). When empty, the built-in daily schedule applies.
type ScheduleConfig struct {
	Enabled  *bool    `json:"enabled,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
	Crons    []string `json:"crons,omitempty"`
}

// EngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 1
//   - queue_size: 16
//   - default_timeout: "2m"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 100
//   - retry_max: 0 (the posting pipeline owns retries)
type EngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	// Use "0s" to disable stale queue dropping.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// PosterConfig controls the posting pipeline.
//
// Cycles run on the engine's workers; this section shapes the Twitter send
// itself. All durations are Go duration strings. If the whole section is
// omitted, the pipeline uses its built-in defaults.
type PosterConfig struct {
	RatePerMinute int    `json:"rate_per_minute,omitempty"`
	Burst         int    `json:"burst,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	// Dedup refuses re-posting identical text within the window.
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// TwitterConfig controls the Twitter API client.
//
// Credentials never live here; they come from the environment
// (see secrets.go).
type TwitterConfig struct {
	// BaseURL overrides the API endpoint (default "https://api.twitter.com").
	BaseURL string `json:"base_url,omitempty"`
	// Timeout is a Go duration string for a single API call (default "30s").
	Timeout string `json:"timeout,omitempty"`
	// Verify is a pointer so we can distinguish "omitted" (default true)
	// from an explicit false. When true, startup calls the authenticated
	// user endpoint and logs the handle.
	Verify *bool `json:"verify,omitempty"`
}

// SheetsConfig controls the spreadsheet quote source.
//
// The spreadsheet id and worksheet name come from the environment
// (see secrets.go); only operational knobs live here.
type SheetsConfig struct {
	// TrackingWorksheet is the worksheet holding the row pointer in cell A1
	// (default "tracking").
	TrackingWorksheet string `json:"tracking_worksheet,omitempty"`
	// StartRow is the first data row; row 1 is assumed to hold headers
	// (default 2).
	StartRow int `json:"start_row,omitempty"`
	// Timeout is a Go duration string for a single API call (default "30s").
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./quotebot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// ScheduleEnabled reports the effective schedule switch (omitted means on).
func (c *Config) ScheduleEnabled() bool {
	if c == nil {
		return false
	}
	if c.Schedule.Enabled == nil {
		return true
	}
	return *c.Schedule.Enabled
}
