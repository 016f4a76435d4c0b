// Package journal persists the outcome of every dispatched batch to a local
// sqlite database. The pipeline is at-least-once; the journal is the
// operator's record of what was attempted, what failed, and when, surviving
// the process so a failed run can be inspected before re-running.
package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/refdata-migrate/internal/engine"
)

// Journal implements engine.Recorder over modernc.org/sqlite.
type Journal struct {
	db    *sql.DB
	runID string
}

// Open opens (or creates) the journal database at path and starts a new run.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "journal: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "journal: exec %s", pragma)
		}
	}

	j := &Journal{db: db, runID: uuid.New().String()}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS batches (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	batch_index INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	status      INTEGER,
	error       TEXT,
	duration_ms INTEGER NOT NULL,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_batches_run_id ON batches(run_id);
CREATE INDEX IF NOT EXISTS idx_batches_stage ON batches(stage);
`

func (j *Journal) migrate() error {
	_, err := j.db.Exec(migration)
	return eris.Wrap(err, "journal: migrate")
}

// RunID returns the identifier assigned to this run.
func (j *Journal) RunID() string { return j.runID }

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record implements engine.Recorder. Journal failures are logged, never
// propagated: losing a journal row must not fail a batch.
func (j *Journal) Record(ctx context.Context, rec engine.BatchRecord) {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO batches (id, run_id, stage, batch_index, size, status, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), j.runID, rec.Stage.String(), rec.Index, rec.Size,
		rec.Status, rec.Err, rec.Duration.Milliseconds(),
	)
	if err != nil {
		zap.L().Error("journal: record batch", zap.Error(err))
	}
}

// Entry is one journaled batch outcome.
type Entry struct {
	RunID      string
	Stage      string
	Index      int
	Size       int
	Status     int
	Err        string
	Duration   time.Duration
	RecordedAt time.Time
}

// Failures returns the journaled failed batches for a run (empty runID means
// all runs). A batch failed when it carries a non-empty error or a status
// outside the 2xx range. Pulled pages record no status at all; their failures
// surface through the error column.
func (j *Journal) Failures(ctx context.Context, runID string) ([]Entry, error) {
	query := `
		SELECT run_id, stage, batch_index, size, status, error, duration_ms, recorded_at
		FROM batches
		WHERE (error != '' OR (status != 0 AND (status < 200 OR status >= 300)))`
	args := []any{}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY recorded_at`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "journal: query failures")
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMs int64
		if err := rows.Scan(&e.RunID, &e.Stage, &e.Index, &e.Size, &e.Status, &e.Err, &durationMs, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "journal: scan entry")
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "journal: iterate entries")
}
