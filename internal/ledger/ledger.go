// Package ledger records every transcode task in a SQL table so failed
// remuxes stay visible after the process restarts. SQLite is the
// default; a postgres DSN works for fleets that report centrally.
package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"go.uber.org/zap"

	"github.com/mikeyg42/birdwatcher/internal/logging"
	"github.com/mikeyg42/birdwatcher/internal/transcode"
)

// Entry is one row of the transcodes table.
type Entry struct {
	TaskID        string    `db:"task_id"`
	JobID         string    `db:"job_id"`
	Stem          string    `db:"stem"`
	RawPath       string    `db:"raw_path"`
	OutputPath    string    `db:"output_path"`
	RecordedAt    time.Time `db:"recorded_at"`
	ClipSeconds   int       `db:"clip_seconds"`
	Width         int       `db:"width"`
	Height        int       `db:"height"`
	Bitrate       int       `db:"bitrate"`
	Status        string    `db:"status"`
	Error         string    `db:"error"`
	OutputSeconds float64   `db:"output_seconds"`
	EnqueuedAt    time.Time `db:"enqueued_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Ledger is a transcode.Listener backed by sqlx.
type Ledger struct {
	db      *sqlx.DB
	logger  *zap.Logger
	timeout time.Duration
}

var _ transcode.Listener = (*Ledger)(nil)

// Open connects and creates the schema. driver is "sqlite3" or
// "postgres".
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Ledger, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}

	if driver == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(sqlitePath(dsn)), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_journal_mode=WAL"
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Ledger{
		db:      db,
		logger:  logging.Named(logger, "ledger"),
		timeout: 5 * time.Second,
	}, nil
}

func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

var schemas = map[string]string{
	"sqlite3": `
	CREATE TABLE IF NOT EXISTS transcodes (
		task_id        TEXT PRIMARY KEY,
		job_id         TEXT NOT NULL,
		stem           TEXT NOT NULL,
		raw_path       TEXT NOT NULL,
		output_path    TEXT NOT NULL,
		recorded_at    TIMESTAMP NOT NULL,
		clip_seconds   INTEGER NOT NULL DEFAULT 0,
		width          INTEGER NOT NULL DEFAULT 0,
		height         INTEGER NOT NULL DEFAULT 0,
		bitrate        INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL,
		error          TEXT NOT NULL DEFAULT '',
		output_seconds REAL NOT NULL DEFAULT 0,
		enqueued_at    TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcodes_status ON transcodes(status);
	CREATE INDEX IF NOT EXISTS idx_transcodes_enqueued ON transcodes(enqueued_at);`,

	"postgres": `
	CREATE TABLE IF NOT EXISTS transcodes (
		task_id        TEXT PRIMARY KEY,
		job_id         TEXT NOT NULL,
		stem           TEXT NOT NULL,
		raw_path       TEXT NOT NULL,
		output_path    TEXT NOT NULL,
		recorded_at    TIMESTAMPTZ NOT NULL,
		clip_seconds   INTEGER NOT NULL DEFAULT 0,
		width          INTEGER NOT NULL DEFAULT 0,
		height         INTEGER NOT NULL DEFAULT 0,
		bitrate        INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL,
		error          TEXT NOT NULL DEFAULT '',
		output_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		enqueued_at    TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcodes_status ON transcodes(status);
	CREATE INDEX IF NOT EXISTS idx_transcodes_enqueued ON transcodes(enqueued_at);`,
}

const upsertQuery = `
	INSERT INTO transcodes (
		task_id, job_id, stem, raw_path, output_path, recorded_at,
		clip_seconds, width, height, bitrate,
		status, error, output_seconds, enqueued_at, updated_at
	) VALUES (
		:task_id, :job_id, :stem, :raw_path, :output_path, :recorded_at,
		:clip_seconds, :width, :height, :bitrate,
		:status, :error, :output_seconds, :enqueued_at, :updated_at
	)
	ON CONFLICT (task_id) DO UPDATE SET
		status = excluded.status,
		error = excluded.error,
		output_seconds = excluded.output_seconds,
		updated_at = excluded.updated_at`

// EntryFromTask flattens a task snapshot into a row.
func EntryFromTask(t transcode.Task) Entry {
	e := Entry{
		TaskID:        t.ID,
		JobID:         t.Job.ID,
		Stem:          t.Job.Stem(),
		RawPath:       t.InputPath,
		OutputPath:    t.OutputPath,
		RecordedAt:    t.Job.StartedAt.UTC(),
		ClipSeconds:   int(t.Job.Duration / time.Second),
		Width:         t.Job.Resolution.Width,
		Height:        t.Job.Resolution.Height,
		Bitrate:       t.Job.Bitrate,
		Status:        string(t.Status),
		OutputSeconds: t.OutputDuration.Seconds(),
		EnqueuedAt:    t.EnqueuedAt.UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if t.Err != nil {
		e.Error = t.Err.Error()
	}
	return e
}

// Record inserts or updates the row for t.
func (l *Ledger) Record(ctx context.Context, t transcode.Task) error {
	if _, err := l.db.NamedExecContext(ctx, upsertQuery, EntryFromTask(t)); err != nil {
		return fmt.Errorf("failed to record task %s: %w", t.ID, err)
	}
	return nil
}

// TaskChanged implements transcode.Listener. Errors are logged; a
// ledger outage never stops transcoding.
func (l *Ledger) TaskChanged(t transcode.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	if err := l.Record(ctx, t); err != nil {
		l.logger.Warn("ledger write failed", zap.String("task_id", t.ID), zap.Error(err))
	}
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status string
	Limit  int
}

// List returns entries, newest first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT * FROM transcodes`
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY enqueued_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var entries []Entry
	if err := l.db.SelectContext(ctx, &entries, l.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list transcodes: %w", err)
	}
	return entries, nil
}

// Get returns the entry for one task.
func (l *Ledger) Get(ctx context.Context, taskID string) (Entry, error) {
	var e Entry
	if err := l.db.GetContext(ctx, &e, l.db.Rebind(`SELECT * FROM transcodes WHERE task_id = ?`), taskID); err != nil {
		return Entry{}, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return e, nil
}

// Counts returns the number of rows per status.
func (l *Ledger) Counts(ctx context.Context) (map[string]int, error) {
	rows := []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}{}
	if err := l.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM transcodes GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count transcodes: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
