package poll

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drayhq/dray/internal/journal"
	"github.com/drayhq/dray/internal/rules"
	"github.com/drayhq/dray/pkg/schema"
)

// scriptedFeed simulates the remote status surface as a function of elapsed
// time since the feed was armed.
type scriptedFeed struct {
	start    time.Time
	status   func(elapsed time.Duration) string
	activity func(elapsed time.Duration) bool
	length   func(elapsed time.Duration) int
}

func newScriptedFeed() *scriptedFeed {
	return &scriptedFeed{
		start:    time.Now(),
		status:   func(time.Duration) string { return "" },
		activity: func(time.Duration) bool { return false },
		length:   func(time.Duration) int { return 0 },
	}
}

func (f *scriptedFeed) ReadStatus(ctx context.Context) (string, error) {
	return f.status(time.Since(f.start)), nil
}

func (f *scriptedFeed) ActivityVisible(ctx context.Context) (bool, error) {
	return f.activity(time.Since(f.start)), nil
}

func (f *scriptedFeed) ResultLength(ctx context.Context) (int, error) {
	return f.length(time.Since(f.start)), nil
}

// recordingAppender captures journal events in memory.
type recordingAppender struct {
	mu     sync.Mutex
	events []*journal.Event
}

func (r *recordingAppender) AppendEvent(ctx context.Context, event *journal.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAppender) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fastConfig is the default policy scaled down for tests; correctness must
// not depend on the absolute values.
func fastConfig() Config {
	return Config{
		DwellBeforeCheck:  10 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		DiscoveryInterval: 2 * time.Millisecond,
		DiscoveryWindow:   50 * time.Millisecond,
		HardCeiling:       2 * time.Second,
		SettleDelay:       time.Millisecond,
		MinResultLength:   500,
	}
}

func TestAwait_ExplicitStatusCompletion(t *testing.T) {
	feed := newScriptedFeed()
	feed.status = func(elapsed time.Duration) string {
		if elapsed < 30*time.Millisecond {
			return "Pesquisando"
		}
		return "Concluído"
	}

	rec := &recordingAppender{}
	p := New(fastConfig(), feed, testLogger(), rec)
	st, err := p.Await(context.Background(), time.Time{})

	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, DetectedByStatus, st.DetectedBy)
	assert.Equal(t, "Concluído", st.LastObservedStatus)
	assert.False(t, st.Optimistic)
	assert.Contains(t, rec.types(), schema.EventPollCompleted)
}

func TestAwait_CompletionWindow(t *testing.T) {
	// Production timings at 1/100 scale: status reads "in progress" until t=900ms
	// then "completed". Detection must land no earlier than flip+settle and
	// no later than flip+pollInterval+settle (plus scheduler jitter).
	cfg := Config{
		DwellBeforeCheck:  600 * time.Millisecond,
		PollInterval:      300 * time.Millisecond,
		DiscoveryInterval: 50 * time.Millisecond,
		DiscoveryWindow:   1200 * time.Millisecond,
		HardCeiling:       9 * time.Second,
		SettleDelay:       50 * time.Millisecond,
		MinResultLength:   500,
	}
	flip := 900 * time.Millisecond

	feed := newScriptedFeed()
	feed.status = func(elapsed time.Duration) string {
		if elapsed < flip {
			return "in progress"
		}
		return "completed"
	}

	start := time.Now()
	feed.start = start
	p := New(cfg, feed, testLogger(), nil)
	st, err := p.Await(context.Background(), start)
	took := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.GreaterOrEqual(t, took, flip+cfg.SettleDelay)
	assert.LessOrEqual(t, took, flip+cfg.PollInterval+cfg.SettleDelay+300*time.Millisecond,
		"detection must land within one poll cycle of the flip")
}

func TestAwait_TimedOutAtCeilingNotBefore(t *testing.T) {
	cfg := Config{
		DwellBeforeCheck:  50 * time.Millisecond,
		PollInterval:      40 * time.Millisecond,
		DiscoveryInterval: 10 * time.Millisecond,
		DiscoveryWindow:   80 * time.Millisecond,
		HardCeiling:       500 * time.Millisecond,
		SettleDelay:       time.Millisecond,
		MinResultLength:   500,
	}

	// Never reports anything, never grows the result container.
	feed := newScriptedFeed()

	start := time.Now()
	p := New(cfg, feed, testLogger(), nil)
	st, err := p.Await(context.Background(), start)
	took := time.Since(start)

	var derr *schema.DrayError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodePollTimedOut, derr.Code)
	assert.Equal(t, PhaseTimedOut, st.Phase)
	assert.True(t, st.Optimistic, "discovery window expired without any signal")
	assert.GreaterOrEqual(t, took, cfg.HardCeiling, "never times out before the ceiling")
	assert.LessOrEqual(t, took, cfg.HardCeiling+300*time.Millisecond)
}

func TestAwait_OptimisticStartLogsEvent(t *testing.T) {
	cfg := fastConfig()
	cfg.DiscoveryWindow = 10 * time.Millisecond

	feed := newScriptedFeed()
	feed.length = func(time.Duration) int { return 1000 } // completes via content length

	rec := &recordingAppender{}
	p := New(cfg, feed, testLogger(), rec)
	st, err := p.Await(context.Background(), time.Time{})

	require.NoError(t, err)
	assert.True(t, st.Optimistic)
	assert.Equal(t, DetectedByContentLength, st.DetectedBy)
	assert.Contains(t, rec.types(), schema.EventPollOptimistic)
}

func TestAwait_ActivityIndicatorStartsPhase(t *testing.T) {
	feed := newScriptedFeed()
	feed.activity = func(time.Duration) bool { return true }
	feed.length = func(time.Duration) int { return 600 }

	p := New(fastConfig(), feed, testLogger(), nil)
	st, err := p.Await(context.Background(), time.Time{})

	require.NoError(t, err)
	assert.False(t, st.Optimistic)
	assert.Equal(t, PhaseCompleted, st.Phase)
}

func TestAwait_StatusPrecedesContentLength(t *testing.T) {
	// Both heuristics would fire in the same cycle; rule 1 wins.
	feed := newScriptedFeed()
	feed.status = func(time.Duration) string { return "Concluído" }
	feed.length = func(time.Duration) int { return 10000 }

	p := New(fastConfig(), feed, testLogger(), nil)
	st, err := p.Await(context.Background(), time.Time{})

	require.NoError(t, err)
	assert.Equal(t, DetectedByStatus, st.DetectedBy)
}

func TestAwait_ContentLengthRequiresAbsentStatus(t *testing.T) {
	// An explicit non-done status suppresses the content-length heuristic.
	cfg := fastConfig()
	cfg.HardCeiling = 150 * time.Millisecond

	feed := newScriptedFeed()
	feed.status = func(time.Duration) string { return "Pesquisando" }
	feed.length = func(time.Duration) int { return 10000 }

	p := New(cfg, feed, testLogger(), nil)
	st, err := p.Await(context.Background(), time.Time{})

	var derr *schema.DrayError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodePollTimedOut, derr.Code)
	assert.Equal(t, PhaseTimedOut, st.Phase)
}

func TestAwait_CustomRuleRanksAboveContentLength(t *testing.T) {
	rule, err := rules.Parse("content_length > 100")
	require.NoError(t, err)

	cfg := fastConfig()
	cfg.Rule = rule

	feed := newScriptedFeed()
	feed.length = func(time.Duration) int { return 600 } // satisfies both rule and threshold

	p := New(cfg, feed, testLogger(), nil)
	st, err := p.Await(context.Background(), time.Time{})

	require.NoError(t, err)
	assert.Equal(t, DetectedByRule, st.DetectedBy)
}

func TestAwait_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	cfg := fastConfig()
	cfg.HardCeiling = 10 * time.Second
	cfg.DiscoveryWindow = 5 * time.Second

	p := New(cfg, newScriptedFeed(), testLogger(), nil)
	_, err := p.Await(ctx, time.Time{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestValidPhaseTransitions(t *testing.T) {
	assert.True(t, validPhaseTransition(PhaseNotStarted, PhaseStarted))
	assert.True(t, validPhaseTransition(PhaseNotStarted, PhaseTimedOut))
	assert.True(t, validPhaseTransition(PhaseStarted, PhaseCompleted))
	assert.True(t, validPhaseTransition(PhaseStarted, PhaseTimedOut))

	assert.False(t, validPhaseTransition(PhaseNotStarted, PhaseCompleted))
	assert.False(t, validPhaseTransition(PhaseCompleted, PhaseStarted))
	assert.False(t, validPhaseTransition(PhaseTimedOut, PhaseStarted))
	assert.False(t, validPhaseTransition(PhaseStarted, PhaseNotStarted))
}
