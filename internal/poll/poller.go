// Package poll determines whether a long-running remote task has started and
// then completed, from noisy and inconsistent signals. The completion signal
// is inherently unreliable, so the poller is an explicit state machine with
// named phases and documented transition precedence rather than a chain of
// nested conditionals.
package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/drayhq/dray/internal/journal"
	"github.com/drayhq/dray/internal/logging"
	"github.com/drayhq/dray/internal/rules"
	"github.com/drayhq/dray/pkg/schema"
)

// Phase is a state of the poller's internal machine.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseStarted    Phase = "started"
	PhaseCompleted  Phase = "completed"
	PhaseTimedOut   Phase = "timed_out"
)

// ValidPhaseTransitions defines the allowed phase transitions.
var ValidPhaseTransitions = map[Phase][]Phase{
	PhaseNotStarted: {PhaseStarted, PhaseTimedOut},
	PhaseStarted:    {PhaseCompleted, PhaseTimedOut},
	PhaseCompleted:  {},
	PhaseTimedOut:   {},
}

// Detection heuristics, in evaluation priority order. Explicit status always
// takes precedence over a custom rule, which takes precedence over the
// content-length fallback.
const (
	DetectedByStatus        = "status"
	DetectedByRule          = "rule"
	DetectedByContentLength = "content-length"
)

// Config holds the poller's timing policy. The defaults are the tested
// values; changing them trades responsiveness against cost, not correctness.
type Config struct {
	DwellBeforeCheck  time.Duration // minimum dwell after entering Started before completion checks
	PollInterval      time.Duration // completion check cadence
	DiscoveryInterval time.Duration // start-detection cadence
	DiscoveryWindow   time.Duration // bound on start detection before optimistic advance
	HardCeiling       time.Duration // total elapsed bound since task start; terminal
	SettleDelay       time.Duration // post-detection pause to absorb rendering lag
	MinResultLength   int           // content-length completion threshold
	Rule              *rules.CompletionRule
}

// DefaultConfig returns the tested default timing policy.
func DefaultConfig() Config {
	return Config{
		DwellBeforeCheck:  60 * time.Second,
		PollInterval:      30 * time.Second,
		DiscoveryInterval: 5 * time.Second,
		DiscoveryWindow:   2 * time.Minute,
		HardCeiling:       15 * time.Minute,
		SettleDelay:       5 * time.Second,
		MinResultLength:   500,
	}
}

// Feed is the read-only signal set the poller samples. Probes must be cheap
// and side-effect-free; sampling twice with unchanged backing state yields
// the same result.
type Feed interface {
	// ReadStatus returns the remote status text, "" when no status is shown.
	ReadStatus(ctx context.Context) (string, error)
	// ActivityVisible reports whether an "in progress" indicator is shown.
	ActivityVisible(ctx context.Context) (bool, error)
	// ResultLength returns the extracted length of the designated result container.
	ResultLength(ctx context.Context) (int, error)
}

// State is the poller's working state for one task. One instance per task,
// mutated only by the poller's own loop.
type State struct {
	Phase              Phase
	StartTime          time.Time
	LastObservedStatus string
	Elapsed            time.Duration
	DetectedBy         string // which heuristic observed completion
	Optimistic         bool   // Started was entered by discovery-window expiry, not observation
}

// Poller drives the NotStarted → Started → {Completed | TimedOut} machine.
type Poller struct {
	cfg      Config
	feed     Feed
	logger   *slog.Logger
	appender journal.EventAppender // optional
}

// New creates a Poller. appender may be nil to skip journal events.
func New(cfg Config, feed Feed, logger *slog.Logger, appender journal.EventAppender) *Poller {
	return &Poller{cfg: cfg, feed: feed, logger: logger, appender: appender}
}

// Await blocks until the remote task completes or the hard ceiling elapses.
// taskStart anchors the ceiling; a zero value means "now". On completion the
// returned state is in PhaseCompleted; on ceiling expiry it is in
// PhaseTimedOut and the error carries code POLL_TIMEOUT.
func (p *Poller) Await(ctx context.Context, taskStart time.Time) (*State, error) {
	if taskStart.IsZero() {
		taskStart = time.Now()
	}
	st := &State{Phase: PhaseNotStarted, StartTime: taskStart}
	deadline := taskStart.Add(p.cfg.HardCeiling)

	p.emit(ctx, st, schema.EventPollStarted, nil)

	if err := p.awaitStart(ctx, st, deadline); err != nil {
		return st, err
	}
	return st, p.awaitCompletion(ctx, st, deadline)
}

// awaitStart drives NotStarted → Started: the first non-empty status read or
// activity sighting wins, checked on the discovery interval. When the
// discovery window elapses with nothing observed, the machine advances
// anyway on the optimistic assumption that the remote task is running.
func (p *Poller) awaitStart(ctx context.Context, st *State, deadline time.Time) error {
	windowEnd := time.Now().Add(p.cfg.DiscoveryWindow)

	for {
		if time.Now().After(deadline) {
			return p.timeOut(ctx, st)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		status, err := p.feed.ReadStatus(ctx)
		if err == nil && status != "" {
			st.LastObservedStatus = status
			return p.transition(ctx, st, PhaseStarted)
		}
		if active, err := p.feed.ActivityVisible(ctx); err == nil && active {
			return p.transition(ctx, st, PhaseStarted)
		}

		if time.Now().After(windowEnd) {
			st.Optimistic = true
			p.logger.WarnContext(ctx,
				"no start signal within discovery window, assuming task is running (degraded confidence)",
				"window", p.cfg.DiscoveryWindow.String())
			p.emit(ctx, st, schema.EventPollOptimistic, nil)
			return p.transition(ctx, st, PhaseStarted)
		}

		if err := p.sleepUntil(ctx, p.cfg.DiscoveryInterval, deadline); err != nil {
			return err
		}
	}
}

// awaitCompletion drives Started → {Completed | TimedOut}. After the minimum
// dwell it evaluates, on each cycle in priority order: the explicit done
// status, the custom completion rule when configured, then the
// content-length heuristic — the latter only in the absence of any explicit
// status.
func (p *Poller) awaitCompletion(ctx context.Context, st *State, deadline time.Time) error {
	enteredStarted := time.Now()
	checksFrom := enteredStarted.Add(p.cfg.DwellBeforeCheck)

	for {
		now := time.Now()
		st.Elapsed = now.Sub(st.StartTime)
		if now.After(deadline) {
			return p.timeOut(ctx, st)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if !now.Before(checksFrom) {
			detected, err := p.checkOnce(ctx, st)
			if err != nil {
				return err
			}
			if detected != "" {
				st.DetectedBy = detected
				// Settle delay: let the remote rendering catch up with
				// the just-observed signal before trusting it.
				if err := p.sleepUntil(ctx, p.cfg.SettleDelay, deadline.Add(p.cfg.SettleDelay)); err != nil {
					return err
				}
				st.Elapsed = time.Since(st.StartTime)
				return p.transition(ctx, st, PhaseCompleted)
			}
		}

		if err := p.sleepUntil(ctx, p.nextWait(now, checksFrom), deadline); err != nil {
			return err
		}
	}
}

// checkOnce samples the feed and returns the heuristic that detected
// completion, or "" when none did.
func (p *Poller) checkOnce(ctx context.Context, st *State) (string, error) {
	status, err := p.feed.ReadStatus(ctx)
	if err != nil {
		status = ""
	}
	if status != "" {
		st.LastObservedStatus = status
	}

	if IsDone(status) {
		return DetectedByStatus, nil
	}

	length, err := p.feed.ResultLength(ctx)
	if err != nil {
		length = 0
	}

	if p.cfg.Rule != nil {
		ok, err := p.cfg.Rule.Satisfied(ctx, map[string]any{
			rules.ScopeStatus:        Fold(status),
			rules.ScopeContentLength: length,
			rules.ScopeElapsedMs:     int(time.Since(st.StartTime).Milliseconds()),
		})
		if err != nil {
			return "", err
		}
		if ok {
			return DetectedByRule, nil
		}
	}

	if status == "" && length >= p.cfg.MinResultLength {
		return DetectedByContentLength, nil
	}
	return "", nil
}

// nextWait picks the wait for the current cycle: the discovery-grade interval
// while still inside the dwell, the full poll interval afterwards — but never
// sleeping past the moment checks become due.
func (p *Poller) nextWait(now, checksFrom time.Time) time.Duration {
	wait := p.cfg.PollInterval
	if now.Before(checksFrom) {
		if remaining := checksFrom.Sub(now); remaining < wait {
			wait = remaining
		}
	}
	return wait
}

// sleepUntil sleeps for d, clamped so the poller wakes exactly at the hard
// ceiling rather than after it. Returns early on context cancellation.
func (p *Poller) sleepUntil(ctx context.Context, d time.Duration, deadline time.Time) error {
	if remaining := time.Until(deadline); d > remaining {
		d = remaining
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) timeOut(ctx context.Context, st *State) error {
	st.Elapsed = time.Since(st.StartTime)
	if err := p.transition(ctx, st, PhaseTimedOut); err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodePollTimedOut,
		"remote task not complete after %s (last status %q)",
		p.cfg.HardCeiling, st.LastObservedStatus).
		WithDetails(map[string]any{
			"elapsed":     st.Elapsed.String(),
			"last_status": st.LastObservedStatus,
		})
}

// transition validates and executes a phase transition, emitting the
// corresponding journal event.
func (p *Poller) transition(ctx context.Context, st *State, to Phase) error {
	if !validPhaseTransition(st.Phase, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid poll transition: %s -> %s", st.Phase, to)
	}
	from := st.Phase
	st.Phase = to
	p.logger.InfoContext(ctx, "poll phase transition",
		"from", string(from), "to", string(to), "elapsed", st.Elapsed.String())

	switch to {
	case PhaseCompleted:
		p.emit(ctx, st, schema.EventPollCompleted, map[string]any{
			"detected_by": st.DetectedBy,
			"elapsed_ms":  st.Elapsed.Milliseconds(),
		})
	case PhaseTimedOut:
		p.emit(ctx, st, schema.EventPollTimedOut, map[string]any{
			"elapsed_ms": st.Elapsed.Milliseconds(),
		})
	}
	return nil
}

func validPhaseTransition(from, to Phase) bool {
	for _, allowed := range ValidPhaseTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// emit appends a journal event; journal failures are logged, never fatal to
// the poll itself.
func (p *Poller) emit(ctx context.Context, st *State, eventType string, payload map[string]any) {
	if p.appender == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	err := p.appender.AppendEvent(ctx, &journal.Event{
		RunID:   logging.RunID(ctx),
		Stage:   logging.Stage(ctx),
		Type:    eventType,
		Payload: raw,
	})
	if err != nil {
		p.logger.WarnContext(ctx, fmt.Sprintf("append %s event", eventType), "error", err)
	}
}
