package schema

import "time"

// Model selects the remote agent's research model tier.
type Model string

const (
	ModelFast     Model = "fast"
	ModelBalanced Model = "balanced" // default
	ModelThorough Model = "thorough"
)

// ValidModel reports whether m is a recognized model tier.
func ValidModel(m Model) bool {
	switch m {
	case ModelFast, ModelBalanced, ModelThorough:
		return true
	}
	return false
}

// Stage is one ordered, non-repeating step of the pipeline.
type Stage string

const (
	StagePending   Stage = "pending"
	StageSession   Stage = "session"
	StageNavigate  Stage = "navigate"
	StageConfigure Stage = "configure"
	StageSubmit    Stage = "submit"
	StageConfirm   Stage = "confirm"
	StageAwait     Stage = "await"
	StageExport    Stage = "export"
	StageRetrieve  Stage = "retrieve"
	StageDeliver   Stage = "deliver"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// StageOrder is the fixed pipeline sequence. Stages are strictly ordered and
// monotonic; no stage is re-entered once passed.
var StageOrder = []Stage{
	StageSession,
	StageNavigate,
	StageConfigure,
	StageSubmit,
	StageConfirm,
	StageAwait,
	StageExport,
	StageRetrieve,
	StageDeliver,
}

// stageRank maps a stage to its position in StageOrder. Terminal and pending
// stages sit outside the ordered run.
var stageRank = func() map[Stage]int {
	m := make(map[Stage]int, len(StageOrder))
	for i, s := range StageOrder {
		m[s] = i
	}
	return m
}()

// ValidStageTransition reports whether a task may move from one stage to the
// next. Forward-only: the successor in StageOrder, or a terminal stage.
func ValidStageTransition(from, to Stage) bool {
	if to == StageFailed {
		return from != StageDone && from != StageFailed
	}
	if from == StagePending {
		return to == StageOrder[0]
	}
	if to == StageDone {
		return from == StageOrder[len(StageOrder)-1]
	}
	fi, ok := stageRank[from]
	if !ok {
		return false
	}
	ti, ok := stageRank[to]
	if !ok {
		return false
	}
	return ti == fi+1
}

// Task is the unit of work: one orchestrated attempt per process invocation.
// Owned exclusively by the pipeline; never persisted across runs.
type Task struct {
	ID        string
	Query     string
	Model     Model
	Stage     Stage
	StartedAt time.Time
	Deadline  time.Time // derived per stage
}

// Artifact is the delivered output reference. Created when a retrieve stage
// succeeds; never mutated afterward.
type Artifact struct {
	Path        string
	SizeHint    int64
	SourceStage Stage
}
