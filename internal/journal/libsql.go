package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/drayhq/dray/pkg/schema"
)

// LibSQLJournal implements Journal using libSQL (embedded SQLite fork).
type LibSQLJournal struct {
	db *sql.DB
}

// Open opens a libSQL database at the given path. The path should be a file
// URI, e.g. "file:/path/to/dray.db".
func Open(dbPath string) (*LibSQLJournal, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLJournal{db: db}, nil
}

// Close closes the database.
func (j *LibSQLJournal) Close() error { return j.db.Close() }

// Migrate runs all pending database migrations.
func (j *LibSQLJournal) Migrate(ctx context.Context) error {
	return runMigrations(ctx, j.db)
}

// CreateRun inserts a new run record.
func (j *LibSQLJournal) CreateRun(ctx context.Context, run *Run) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, query, model, status, stage, artifact_path, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Query, run.Model, run.Status, run.Stage,
		nullStr(run.ArtifactPath), nullStr(run.Error),
		timeOrNow(run.StartedAt), nullTime(run.FinishedAt),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}
	return nil
}

// UpdateRun applies the non-nil fields of update to the run.
func (j *LibSQLJournal) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.Stage != nil {
		sets = append(sets, "stage = ?")
		args = append(args, *update.Stage)
	}
	if update.ArtifactPath != nil {
		sets = append(sets, "artifact_path = ?")
		args = append(args, *update.ArtifactPath)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := j.db.ExecContext(ctx,
		`UPDATE runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update run: %s", err.Error()).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return schema.NewErrorf(schema.ErrCodeStore, "run %s not found", id)
	}
	return nil
}

// GetRun returns a run by ID.
func (j *LibSQLJournal) GetRun(ctx context.Context, id string) (*Run, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT id, query, model, status, stage, artifact_path, error, started_at, finished_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "run %s not found", id)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get run: %s", err.Error()).WithCause(err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (j *LibSQLJournal) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, query, model, status, stage, artifact_path, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list runs: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan run: %s", err.Error()).WithCause(err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendEvent appends an event with a monotonically increasing per-run
// sequence, computed inside a transaction so writers cannot interleave.
func (j *LibSQLJournal) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin tx: %s", err.Error()).WithCause(err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "next sequence: %s", err.Error()).WithCause(err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var payload any
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, stage, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.Stage), event.Type, payload, event.Timestamp, seq,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "insert event: %s", err.Error()).WithCause(err)
	}

	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit event: %s", err.Error()).WithCause(err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (j *LibSQLJournal) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, stage, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`, runID, since)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get events: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stage, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &stage, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan event: %s", err.Error()).WithCause(err)
		}
		e.Stage = stage.String
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ Journal = (*LibSQLJournal)(nil)

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var artifact, errMsg sql.NullString
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &run.Query, &run.Model, &run.Status, &run.Stage,
		&artifact, &errMsg, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	run.ArtifactPath = artifact.String
	run.Error = errMsg.String
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return run, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
