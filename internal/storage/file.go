package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "quotebot/pkg/logx"
)

// compactEvery is the number of dedup journal appends between snapshot
// compactions.
const compactEvery = 1000

// fileStore persists the run ledger and the dedup table without a database
// dependency.
//
// Layout, derived from the configured path with its extension stripped:
//
//	<prefix>.runs.jsonl            append-only run ledger
//	<prefix>.dedup.snapshot.json   dedup snapshot
//	<prefix>.dedup.journal.jsonl   dedup appends since the snapshot
//
// PutDedup appends to the journal; every compactEvery appends the journal is
// folded into the snapshot and truncated.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsPath string
	runs     *os.File

	snapPath string
	journal  *os.File
	seen     map[string]int64 // key -> expiry, unix milli
	appends  int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	prefix := storePrefix(path)
	s := &fileStore{
		log:      log,
		runsPath: prefix + ".runs.jsonl",
		snapPath: prefix + ".dedup.snapshot.json",
		seen:     map[string]int64{},
	}

	journalPath := prefix + ".dedup.journal.jsonl"
	if err := loadSnapshot(s.snapPath, s.seen); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Debug("dedup snapshot unreadable, starting fresh", logx.Err(err))
	}
	if err := replayJournal(journalPath, s.seen); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Debug("dedup journal unreadable, starting fresh", logx.Err(err))
	}
	dropExpired(s.seen)

	var err error
	s.runs, err = os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = s.runs.Close()
		return nil, err
	}
	return s, nil
}

// storePrefix strips the extension so "data/store.db" and "data/store" map
// to the same file family.
func storePrefix(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(path), base)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.runs != nil {
		firstErr = s.runs.Close()
		s.runs = nil
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.journal = nil
	}
	return firstErr
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		return errors.New("run ledger closed")
	}
	return json.NewEncoder(s.runs).Encode(r)
}

// LastRuns scans the ledger and returns the most recent n records, newest
// first. The ledger grows by a few rows per day, so a full scan is fine.
func (s *fileStore) LastRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	path := s.runsPath
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// Keep a bounded tail while scanning.
	tail := make([]RunRecord, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if len(tail) == n {
			copy(tail, tail[1:])
			tail = tail[:n-1]
		}
		tail = append(tail, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]RunRecord, 0, len(tail))
	for i := len(tail) - 1; i >= 0; i-- {
		out = append(out, tail[i])
	}
	return out, nil
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("dedup journal closed")
	}

	ms := until.UnixMilli()
	s.seen[key] = ms
	if err := json.NewEncoder(s.journal).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}

	s.appends++
	if s.appends >= compactEvery {
		s.appends = 0
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.seen[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// compactLocked folds live dedup entries into the snapshot and truncates the
// journal. Call with s.mu held.
func (s *fileStore) compactLocked() error {
	dropExpired(s.seen)

	tmp := s.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.seen); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}

	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap map[string]int64
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for k, v := range snap {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec dedupRecord
		if json.Unmarshal(sc.Bytes(), &rec) != nil || rec.Key == "" {
			continue
		}
		out[rec.Key] = rec.Until
	}
	return sc.Err()
}

func dropExpired(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, until := range m {
		if until < now {
			delete(m, k)
		}
	}
}
