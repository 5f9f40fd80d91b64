package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"peerd/pkg/model"
)

const schema = `CREATE TABLE IF NOT EXISTS cycles(
	id INTEGER, retries INTEGER, outcome TEXT, path TEXT, lines INTEGER,
	busy_zone TEXT, response TEXT, error TEXT, reconfigure_ns INTEGER, ts INTEGER);
CREATE INDEX IF NOT EXISTS idx_cycles_ts ON cycles(ts);`

// keep bounds the number of rows retained.
const keep = 1000

// Journal is a local SQLite log of finished update cycles.
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the journal database at path.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// CycleDone records ev; failures are logged, never returned.
func (j *Journal) CycleDone(ev model.CycleEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.Record(ctx, ev); err != nil {
		j.logger.Warn("journal record failed", zap.Error(err))
	}
}

// Record inserts ev and prunes old rows.
func (j *Journal) Record(ctx context.Context, ev model.CycleEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO cycles(id, retries, outcome, path, lines, busy_zone, response, error, reconfigure_ns, ts) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		int64(ev.ID), ev.Retries, string(ev.Outcome), ev.Path, ev.Lines, ev.BusyZone, ev.Response, ev.Error,
		int64(ev.Reconfigure), ev.Timestamp.UnixNano())
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx,
		`DELETE FROM cycles WHERE rowid NOT IN (SELECT rowid FROM cycles ORDER BY rowid DESC LIMIT ?)`, keep)
	return err
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]model.CycleEvent, error) {
	if limit <= 0 || limit > keep {
		limit = keep
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, retries, outcome, path, lines, busy_zone, response, error, reconfigure_ns, ts FROM cycles ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CycleEvent
	for rows.Next() {
		var (
			ev          model.CycleEvent
			id, ts      int64
			reconfigure int64
			outcome     string
		)
		if err := rows.Scan(&id, &ev.Retries, &outcome, &ev.Path, &ev.Lines, &ev.BusyZone, &ev.Response, &ev.Error, &reconfigure, &ts); err != nil {
			return nil, err
		}
		ev.ID = uint64(id)
		ev.Outcome = model.CycleOutcome(outcome)
		ev.Reconfigure = time.Duration(reconfigure)
		ev.Timestamp = time.Unix(0, ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
