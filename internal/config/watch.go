package config

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "quotebot/pkg/logx"
)

const (
	// reloadDebounce coalesces the event bursts editors produce on save and
	// keeps half-written files from being parsed.
	reloadDebounce = 250 * time.Millisecond

	// validateTimeout bounds the validator hook during hot reload.
	validateTimeout = 5 * time.Second

	watchRetryBase = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

// Watch follows the config file until ctx ends. Changes are debounced,
// parsed, validated, committed and published to subscribers. A broken
// fsnotify watcher is rebuilt with jittered exponential backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}

	dir := filepath.Dir(m.path)
	base := filepath.Base(m.path)
	retry := newRetryDelay(watchRetryBase, watchRetryMax)

	var deb debouncer
	fire := func() {
		m.log.Debug("config change detected, scheduling reload", logx.String("path", m.path))
		deb.after(reloadDebounce, func() { m.reload(ctx) })
	}

	for ctx.Err() == nil {
		w, err := newDirWatcher(dir)
		if err != nil {
			m.log.Warn("config watch setup failed", logx.Err(err), logx.String("dir", dir))
			if !sleepCtx(ctx, retry.next()) {
				return nil
			}
			continue
		}

		retry.reset()
		m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", base))

		done := m.watchEvents(ctx, w, base, fire)
		_ = w.Close()
		if done || ctx.Err() != nil {
			return nil
		}

		wait := retry.next()
		m.log.Warn("config watcher stopped, restarting",
			logx.String("dir", dir), logx.Duration("backoff", wait))
		if !sleepCtx(ctx, wait) {
			return nil
		}
	}
	return nil
}

func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// watchEvents drains the watcher until ctx ends (true) or the watcher breaks
// and must be rebuilt (false).
func (m *ConfigManager) watchEvents(ctx context.Context, w *fsnotify.Watcher, base string, fire func()) bool {
	const anyChange = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-w.Events:
			if !ok {
				return false
			}
			// Match on basename: event paths may be absolute or relative
			// depending on the platform.
			if strings.EqualFold(filepath.Base(ev.Name), base) && ev.Op&anyChange != 0 {
				fire()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return false
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "overflow") {
				// Events were lost; reload unconditionally.
				m.log.Warn("config watch overflow, forcing reload", logx.Err(err))
				fire()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
			if strings.Contains(msg, "closed") {
				return false
			}
		}
	}
}

// reload parses the file and, when the content actually changed and passes
// validation, commits and publishes it. Any failure keeps the previous config.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.curHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged, skipping publish", logx.String("path", m.path))
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)))
}

// debouncer runs a function once per burst of triggers.
type debouncer struct {
	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) after(delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(delay, fn)
}

// retryDelay produces jittered exponential waits between watcher rebuilds.
type retryDelay struct {
	base, max, cur time.Duration
	rng            *rand.Rand
}

func newRetryDelay(base, max time.Duration) *retryDelay {
	return &retryDelay{
		base: base,
		max:  max,
		cur:  base,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *retryDelay) next() time.Duration {
	wait := r.cur + time.Duration(r.rng.Int63n(int64(r.cur/2)+1))
	if r.cur < r.max {
		r.cur *= 2
		if r.cur > r.max {
			r.cur = r.max
		}
	}
	return wait
}

func (r *retryDelay) reset() { r.cur = r.base }

// sleepCtx waits for d, returning false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
