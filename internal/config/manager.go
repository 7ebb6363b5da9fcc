package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strings"
	"sync"

	logx "quotebot/pkg/logx"
)

// ConfigManager owns the configuration lifecycle: parsing the file,
// committing the active snapshot handed out by Get, and fanning committed
// updates out to subscribers.
//
// A manager with an empty path runs on built-in defaults: Load commits an
// empty Config and Watch blocks until its context ends.
type ConfigManager struct {
	path string

	mu      sync.RWMutex
	cur     *Config
	curHash uint64

	// subMu guards subs and is held across sends so a channel can never be
	// closed mid-publish.
	subMu sync.Mutex
	subs  map[chan *Config]struct{}

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path: strings.TrimSpace(path),
		subs: make(map[chan *Config]struct{}),
	}
}

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// Path returns the config file path, "" when running on defaults.
func (m *ConfigManager) Path() string { return m.path }

// SetValidator installs the hook Watch runs before committing a reloaded
// config. A rejected config is dropped and the previous one stays active.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and decodes the config file without committing the result.
func (m *ConfigManager) Parse() (*Config, error) {
	if m.path == "" {
		return &Config{}, nil
	}
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return m.decode(raw)
}

func (m *ConfigManager) decode(raw []byte) (*Config, error) {
	jb, err := asJSON(m.path, raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); err {
	case io.EOF:
		return &cfg, nil
	case nil:
		return nil, fmt.Errorf("invalid config: trailing data")
	default:
		return nil, err
	}
}

// Commit makes cfg the active snapshot returned by Get.
func (m *ConfigManager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cur = cfg
	m.curHash = hashConfig(cfg)
	m.mu.Unlock()
}

// Load parses the config file and commits the result.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

// Get returns the last committed config, nil before the first Load.
func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// hashConfig fingerprints a config so byte-identical reloads can be skipped.
// nil and unmarshalable configs hash to 0, treated as "unknown".
func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe registers a buffered channel that receives every config
// committed by Watch. Callers must eventually Unsubscribe; the channel is
// closed there, not by the caller.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subs[ch]; !ok {
		return
	}
	delete(m.subs, ch)
	close(ch)
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		if !deliver(ch, cfg) {
			m.log.Debug("config update dropped, subscriber not draining",
				logx.Int("buffer", cap(ch)))
		}
	}
}

// deliver pushes cfg without ever blocking. A full buffer loses its oldest
// entry first so a slow subscriber still wakes up to the newest config.
func deliver(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}
