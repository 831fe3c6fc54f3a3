// Package journal records run history for unattended operation: one row per
// pipeline invocation plus an append-only event log of stage and poll-phase
// transitions. The journal is write-mostly; it is never read back to resume
// a run.
package journal

import (
	"context"
	"encoding/json"
	"time"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is the persisted record of one pipeline invocation.
type Run struct {
	ID           string     `json:"id"`
	Query        string     `json:"query"`
	Model        string     `json:"model"`
	Status       string     `json:"status"`
	Stage        string     `json:"stage"` // last stage reached
	ArtifactPath string     `json:"artifact_path,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Event is an immutable entry in the run journal with a monotonically
// increasing per-run sequence.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Stage     string          `json:"stage,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status       *string    `json:"status,omitempty"`
	Stage        *string    `json:"stage,omitempty"`
	ArtifactPath *string    `json:"artifact_path,omitempty"`
	Error        *string    `json:"error,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Journal is the persistence contract. Implementations must be safe for
// concurrent use.
type Journal interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	Migrate(ctx context.Context) error
	Close() error
}

// EventAppender is the write-only slice of Journal the poller and pipeline
// need to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *Event) error
}
