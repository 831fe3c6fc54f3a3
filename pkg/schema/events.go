package schema

// Journal event types. Appended on every run, stage and poll-phase
// transition; never read back to resume a run.
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"

	EventStageStarted  = "stage.started"
	EventStageDegraded = "stage.degraded"
	EventStageDone     = "stage.done"
	EventStageFailed   = "stage.failed"

	EventPollStarted    = "poll.started"
	EventPollOptimistic = "poll.optimistic_start"
	EventPollCompleted  = "poll.completed"
	EventPollTimedOut   = "poll.timed_out"

	EventArtifactFound = "artifact.found"
	EventDelivered     = "artifact.delivered"
)
