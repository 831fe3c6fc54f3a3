package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	runs  int
	err   error
	block chan struct{} // when set, Run blocks until closed
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.mu.Lock()
	f.runs++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNewScheduler_RejectsBadExpression(t *testing.T) {
	_, err := NewScheduler("not a cron line", &fakeRunner{}, nil, testLogger())
	require.Error(t, err)
}

func TestTick_RunsWhenDue(t *testing.T) {
	runner := &fakeRunner{}
	s, err := NewScheduler("* * * * *", runner, nil, testLogger())
	require.NoError(t, err)

	s.nextRun = time.Now().Add(-time.Second)
	s.tick(context.Background())

	assert.Equal(t, 1, runner.count())
	assert.True(t, s.NextRun().After(time.Now()), "next run recomputed into the future")
}

func TestTick_SkipsWhenNotDue(t *testing.T) {
	runner := &fakeRunner{}
	s, err := NewScheduler("* * * * *", runner, nil, testLogger())
	require.NoError(t, err)

	s.nextRun = time.Now().Add(time.Hour)
	s.tick(context.Background())

	assert.Zero(t, runner.count())
}

func TestTick_OneRunInFlight(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, err := NewScheduler("* * * * *", runner, nil, testLogger())
	require.NoError(t, err)

	s.nextRun = time.Now().Add(-time.Second)
	go s.tick(context.Background())

	// Wait for the first run to be in flight, then tick again.
	require.Eventually(t, func() bool { return runner.count() == 1 },
		time.Second, 5*time.Millisecond)

	s.nextRun = time.Now().Add(-time.Second)
	s.tick(context.Background())
	assert.Equal(t, 1, runner.count(), "overlapping tick dropped")

	close(runner.block)
}

func TestTick_BreakerSkipsAfterFailures(t *testing.T) {
	runner := &fakeRunner{err: errors.New("surface unreachable")}
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour, HalfOpenMax: 1})
	s, err := NewScheduler("* * * * *", runner, breaker, testLogger())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s.nextRun = time.Now().Add(-time.Second)
		s.tick(context.Background())
	}

	// Third tick was due but the breaker was already open.
	assert.Equal(t, 2, runner.count())
	assert.Equal(t, BreakerOpen, breaker.State())
}

func TestStartStop(t *testing.T) {
	runner := &fakeRunner{}
	s, err := NewScheduler("* * * * *", runner, nil, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start rejected")
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}
