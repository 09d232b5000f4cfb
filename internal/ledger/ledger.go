package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the outcome of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSent      Status = "sent"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded pipeline run.
type Run struct {
	ID         string
	Date       string
	Stage      string
	Status     Status
	CopyID     string
	CopyName   string
	CopyLink   string
	Path       string
	MessageID  string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Orphaned reports whether the run left a copy behind without finishing.
func (r Run) Orphaned() bool {
	return r.Status == StatusFailed && r.CopyID != ""
}

// Ledger records pipeline runs in SQLite.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger at path. ":memory:" gives a private
// in-memory ledger.
func Open(path string) (*Ledger, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create ledger directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS runs (
					id TEXT PRIMARY KEY,
					invoice_date TEXT NOT NULL,
					stage TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					copy_id TEXT NOT NULL DEFAULT '',
					copy_name TEXT NOT NULL DEFAULT '',
					copy_link TEXT NOT NULL DEFAULT '',
					path TEXT NOT NULL DEFAULT '',
					message_id TEXT NOT NULL DEFAULT '',
					error TEXT NOT NULL DEFAULT '',
					started_at TEXT NOT NULL,
					finished_at TEXT NOT NULL DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
				CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := tx.Exec(m.up); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.version, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}

func (l *Ledger) timestamp() string {
	return l.now().UTC().Format(time.RFC3339Nano)
}

// Begin records a new running run for the invoice dated isoDate and returns
// its id.
func (l *Ledger) Begin(ctx context.Context, isoDate string) (string, error) {
	id := uuid.New().String()
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO runs (id, invoice_date, status, started_at) VALUES (?, ?, ?, ?)",
		id, isoDate, StatusRunning, l.timestamp())
	if err != nil {
		return "", fmt.Errorf("failed to record run start: %w", err)
	}
	return id, nil
}

// Advance records the stage the run has reached.
func (l *Ledger) Advance(ctx context.Context, id, stage string) error {
	return l.update(ctx, id, "UPDATE runs SET stage = ? WHERE id = ?", stage, id)
}

// RecordCopy stores the generated copy so a failed run can point at it.
func (l *Ledger) RecordCopy(ctx context.Context, id, copyID, name, link string) error {
	return l.update(ctx, id,
		"UPDATE runs SET copy_id = ?, copy_name = ?, copy_link = ? WHERE id = ?",
		copyID, name, link, id)
}

// RecordPath stores where the invoice was written.
func (l *Ledger) RecordPath(ctx context.Context, id, path string) error {
	return l.update(ctx, id, "UPDATE runs SET path = ? WHERE id = ?", path, id)
}

// Finish closes the run as succeeded or, when runErr is set, failed.
func (l *Ledger) Finish(ctx context.Context, id string, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	return l.update(ctx, id,
		"UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?",
		status, msg, l.timestamp(), id)
}

// MarkSent records the id of the dispatched email.
func (l *Ledger) MarkSent(ctx context.Context, id, messageID string) error {
	return l.update(ctx, id,
		"UPDATE runs SET status = ?, message_id = ? WHERE id = ?",
		StatusSent, messageID, id)
}

func (l *Ledger) update(ctx context.Context, id, query string, args ...any) error {
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, invoice_date, stage, status, copy_id, copy_name, copy_link,
	path, message_id, error, started_at, finished_at`

// Get returns one run.
func (l *Ledger) Get(ctx context.Context, id string) (Run, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// List returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (l *Ledger) List(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, rowid DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run               Run
		status            string
		started, finished string
	)
	err := s.Scan(&run.ID, &run.Date, &run.Stage, &status, &run.CopyID, &run.CopyName, &run.CopyLink,
		&run.Path, &run.MessageID, &run.Error, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to read run: %w", err)
	}
	run.Status = Status(status)
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, err
	}
	return run, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
