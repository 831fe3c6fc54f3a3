// Package pipeline sequences the end-to-end run: acquire session, navigate,
// configure, submit, confirm, await completion, export, retrieve the
// artifact, deliver. Stages are strictly ordered and monotonic; each owns its
// timeout and failure classification, and session teardown is guaranteed
// regardless of outcome.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/drayhq/dray/internal/journal"
	"github.com/drayhq/dray/internal/logging"
	"github.com/drayhq/dray/internal/poll"
	"github.com/drayhq/dray/internal/surface"
	"github.com/drayhq/dray/pkg/schema"
)

// Session is the slice of the automation session the orchestrator needs.
// Satisfied by surface.Session; faked in tests.
type Session interface {
	ActiveSurface() (surface.Surface, error)
	Track(sf surface.Surface)
	Close() error
}

// OpenSessionFunc acquires the automation session for one run.
type OpenSessionFunc func(ctx context.Context) (Session, error)

// Params is the per-run input: the mission's resolved fields plus the poll
// policy derived from it.
type Params struct {
	Query       string
	Model       schema.Model
	ResearchURL string
	DeliverURL  string
	DownloadDir string
	ArtifactExt string // e.g. ".epub"
	Poll        poll.Config
}

// Options holds the orchestrator's stage timing policy.
type Options struct {
	NavigateTimeout time.Duration // per-navigation bound
	StrategyTimeout time.Duration // default per-strategy visibility bound

	ConfirmInterval time.Duration // confirmation retry cadence
	ConfirmWindow   time.Duration // total confirmation bound; expiry is soft

	ExportProbeInterval time.Duration // per-signal bound for export detection
	ExportWindow        time.Duration // total export detection bound; expiry is fatal
	DownloadWait        time.Duration // best-effort wait for the download event

	RetrieveWindow   time.Duration // artifact acceptance window
	RetrieveInterval time.Duration // artifact scan cadence
}

// DefaultOptions returns the tested stage timing policy.
func DefaultOptions() Options {
	return Options{
		NavigateTimeout:     30 * time.Second,
		StrategyTimeout:     5 * time.Second,
		ConfirmInterval:     2 * time.Second,
		ConfirmWindow:       60 * time.Second,
		ExportProbeInterval: 2 * time.Second,
		ExportWindow:        30 * time.Second,
		DownloadWait:        30 * time.Second,
		RetrieveWindow:      60 * time.Second,
		RetrieveInterval:    2 * time.Second,
	}
}

// Orchestrator drives one task through the fixed stage sequence. Exactly one
// task is in flight per orchestrator; the session and its active surface are
// owned handles, never ambient state, so multiple orchestrators can run in
// separate harnesses without interference.
type Orchestrator struct {
	params  Params
	opts    Options
	open    OpenSessionFunc
	journal journal.Journal // optional
	logger  *slog.Logger
}

// New creates an Orchestrator. jrnl may be nil to skip run recording.
func New(params Params, opts Options, open OpenSessionFunc, jrnl journal.Journal, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{params: params, opts: opts, open: open, journal: jrnl, logger: logger}
}

// runState is the orchestrator's working state for one task, threaded through
// the stage calls.
type runState struct {
	task    *schema.Task
	session Session
	sf      surface.Surface // active primary surface
	export  surface.Surface // secondary export surface, tracked for teardown
	feed    poll.Feed
	dlPath  string // download path reported by the surface event, if any
	art     *schema.Artifact
}

// stageDef binds one stage to its handler and failure policy. A degradable
// stage logs its failure and lets the pipeline continue; everything else is
// fatal to the remaining stages.
type stageDef struct {
	name       schema.Stage
	timeout    time.Duration
	degradable bool
	run        func(ctx context.Context, st *runState) error
}

func (o *Orchestrator) stages() []stageDef {
	return []stageDef{
		{name: schema.StageSession, timeout: 60 * time.Second, run: o.stageSession},
		{name: schema.StageNavigate, timeout: o.opts.NavigateTimeout + 5*time.Second, run: o.stageNavigate},
		{name: schema.StageConfigure, timeout: 30 * time.Second, degradable: true, run: o.stageConfigure},
		{name: schema.StageSubmit, timeout: 60 * time.Second, run: o.stageSubmit},
		{name: schema.StageConfirm, timeout: o.opts.ConfirmWindow + 10*time.Second, run: o.stageConfirm},
		{name: schema.StageAwait, run: o.stageAwait}, // bounded by the poll ceiling itself
		{name: schema.StageExport, timeout: o.opts.ExportWindow + o.opts.DownloadWait + 30*time.Second, run: o.stageExport},
		{name: schema.StageRetrieve, timeout: o.opts.RetrieveWindow + 10*time.Second, run: o.stageRetrieve},
		{name: schema.StageDeliver, timeout: 2 * time.Minute, run: o.stageDeliver},
	}
}

// Run executes the pipeline once: at most one orchestrated attempt, best-effort
// detection of success. A fatal stage failure aborts the remaining stages and
// propagates; session teardown always runs.
func (o *Orchestrator) Run(ctx context.Context) error {
	task := &schema.Task{
		ID:        uuid.NewString(),
		Query:     o.params.Query,
		Model:     o.params.Model,
		Stage:     schema.StagePending,
		StartedAt: time.Now(),
	}
	ctx = logging.WithRunID(ctx, task.ID)
	st := &runState{task: task}

	o.recordRunStart(ctx, task)
	o.logger.InfoContext(ctx, "run started", "query", task.Query, "model", string(task.Model))

	defer func() {
		if st.session != nil {
			if err := st.session.Close(); err != nil {
				o.logger.WarnContext(ctx, "session teardown", "error", err.Error())
			}
		}
	}()

	runErr := o.runStages(ctx, st)
	o.recordRunEnd(ctx, st, runErr)

	if runErr != nil {
		o.logger.ErrorContext(ctx, "run failed", "error", runErr.Error(), "stage", string(task.Stage))
		return runErr
	}
	o.logger.InfoContext(ctx, "run completed", "artifact", st.art.Path)
	return nil
}

func (o *Orchestrator) runStages(ctx context.Context, st *runState) error {
	for _, stage := range o.stages() {
		if err := o.advance(ctx, st.task, stage.name); err != nil {
			return err
		}
		sctx := logging.WithStage(ctx, string(stage.name))
		o.emit(sctx, st.task, schema.EventStageStarted, nil)

		err := o.runStage(sctx, st, stage)
		if err != nil {
			if stage.degradable {
				o.logger.WarnContext(sctx, "stage degraded, continuing with remote defaults",
					"error", err.Error())
				o.emit(sctx, st.task, schema.EventStageDegraded, map[string]any{"error": err.Error()})
				continue
			}
			o.emit(sctx, st.task, schema.EventStageFailed, map[string]any{"error": err.Error()})
			if derr, ok := err.(*schema.DrayError); ok && derr.Stage == "" {
				derr.WithStage(string(stage.name))
			}
			if terr := o.advance(ctx, st.task, schema.StageFailed); terr != nil {
				o.logger.WarnContext(sctx, "mark task failed", "error", terr.Error())
			}
			return err
		}
		o.emit(sctx, st.task, schema.EventStageDone, nil)
	}
	return o.advance(ctx, st.task, schema.StageDone)
}

func (o *Orchestrator) runStage(ctx context.Context, st *runState, stage stageDef) error {
	if stage.timeout > 0 {
		st.task.Deadline = time.Now().Add(stage.timeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, st.task.Deadline)
		defer cancel()
	} else {
		st.task.Deadline = time.Time{}
	}
	return stage.run(ctx, st)
}

// advance moves the task to the next stage, enforcing the forward-only order.
func (o *Orchestrator) advance(ctx context.Context, task *schema.Task, to schema.Stage) error {
	if !schema.ValidStageTransition(task.Stage, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid stage transition: %s -> %s", task.Stage, to)
	}
	task.Stage = to
	o.logger.InfoContext(ctx, "stage transition", "stage", string(to))
	o.updateRunStage(ctx, task)
	return nil
}

func (o *Orchestrator) recordRunStart(ctx context.Context, task *schema.Task) {
	if o.journal == nil {
		return
	}
	err := o.journal.CreateRun(ctx, &journal.Run{
		ID:        task.ID,
		Query:     task.Query,
		Model:     string(task.Model),
		Status:    journal.RunStatusRunning,
		Stage:     string(task.Stage),
		StartedAt: task.StartedAt,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "record run start", "error", err.Error())
	}
	o.emit(ctx, task, schema.EventRunStarted, map[string]any{"query": task.Query})
}

func (o *Orchestrator) recordRunEnd(ctx context.Context, st *runState, runErr error) {
	if o.journal == nil {
		return
	}
	now := time.Now()
	update := journal.RunUpdate{FinishedAt: &now}
	if runErr != nil {
		status, msg := journal.RunStatusFailed, runErr.Error()
		update.Status, update.Error = &status, &msg
		o.emit(ctx, st.task, schema.EventRunFailed, map[string]any{"error": msg})
	} else {
		status := journal.RunStatusCompleted
		update.Status = &status
		if st.art != nil {
			update.ArtifactPath = &st.art.Path
		}
		o.emit(ctx, st.task, schema.EventRunCompleted, nil)
	}
	if err := o.journal.UpdateRun(ctx, st.task.ID, update); err != nil {
		o.logger.WarnContext(ctx, "record run end", "error", err.Error())
	}
}

func (o *Orchestrator) updateRunStage(ctx context.Context, task *schema.Task) {
	if o.journal == nil {
		return
	}
	stage := string(task.Stage)
	if err := o.journal.UpdateRun(ctx, task.ID, journal.RunUpdate{Stage: &stage}); err != nil {
		o.logger.WarnContext(ctx, "record stage", "error", err.Error())
	}
}

// emit appends a journal event; journal failures never fail the run.
func (o *Orchestrator) emit(ctx context.Context, task *schema.Task, eventType string, payload map[string]any) {
	if o.journal == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	err := o.journal.AppendEvent(ctx, &journal.Event{
		RunID:   task.ID,
		Stage:   logging.Stage(ctx),
		Type:    eventType,
		Payload: raw,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "append journal event", "type", eventType, "error", err.Error())
	}
}
