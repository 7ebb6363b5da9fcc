//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "quotebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// pruneEvery is the number of dedup upserts between expiry sweeps.
const pruneEvery = 500

const (
	insertRunSQL = `INSERT INTO runs(id, at, trigger_src, row_idx, tweet_id, text, outcome, attempt, err, took_ms)
	 VALUES(?,?,?,?,?,?,?,?,?,?)`
	selectRunsSQL = `SELECT id, at, trigger_src, row_idx, tweet_id, text, outcome, attempt, err, took_ms
	 FROM runs ORDER BY at DESC LIMIT ?`
	upsertDedupSQL = `INSERT INTO dedup(key, until) VALUES(?,?)
	 ON CONFLICT(key) DO UPDATE SET until=excluded.until`
	selectDedupSQL   = `SELECT until FROM dedup WHERE key = ?`
	deleteExpiredSQL = `DELETE FROM dedup WHERE until < ?`
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	upserts atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite tolerates exactly one writer; a single pooled conn avoids
	// SQLITE_BUSY churn entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	applyPragmas(db, cfg)

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func applyPragmas(db *sql.DB, cfg Config) {
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	schema, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(schema))
	return err
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, insertRunSQL,
		r.ID, r.At.Format(time.RFC3339Nano), r.Trigger, r.Row, nullStr(r.TweetID),
		nullStr(r.Text), r.Outcome, r.Attempt, nullStr(r.Error), r.TookMS,
	)
	return err
}

func (s *sqliteStore) LastRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, selectRunsSQL, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(rows *sql.Rows) (RunRecord, error) {
	var (
		r       RunRecord
		at      string
		tweetID sql.NullString
		text    sql.NullString
		errStr  sql.NullString
	)
	err := rows.Scan(&r.ID, &at, &r.Trigger, &r.Row, &tweetID, &text, &r.Outcome, &r.Attempt, &errStr, &r.TookMS)
	if err != nil {
		return RunRecord{}, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
		r.At = t
	}
	r.TweetID = tweetID.String
	r.Text = text.String
	r.Error = errStr.String
	return r, nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, upsertDedupSQL, key, until.UnixMilli())
	if err != nil {
		return err
	}
	if s.upserts.Add(1)%pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if _, perr := s.db.ExecContext(pctx, deleteExpiredSQL, time.Now().UnixMilli()); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, selectDedupSQL, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
