package schedule

import (
	"sync"
	"time"

	"github.com/drayhq/dray/pkg/schema"
)

// BreakerState represents the state of the run breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // failing, skipping runs
	BreakerHalfOpen                     // probing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the run breaker. A broken remote surface makes
// every scheduled run burn its full hard ceiling before failing, so after a
// streak of failures the scheduler stops launching runs for the cooldown.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed runs before opening.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe runs allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker policy.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Minute,
		HalfOpenMax:      1,
	}
}

// Breaker tracks consecutive run failures for one schedule.
type Breaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              BreakerConfig
}

// NewBreaker creates a Breaker in the closed state.
func NewBreaker(config BreakerConfig) *Breaker {
	return &Breaker{state: BreakerClosed, config: config}
}

// Allow reports whether the next scheduled run may launch. Returns nil when
// allowed, or a BREAKER_OPEN error when runs are being skipped.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if time.Since(b.lastFailureTime) >= b.config.Cooldown {
			b.state = BreakerHalfOpen
			b.halfOpenAttempts = 1 // this run is the first probe
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeBreakerOpen,
			"run breaker open: %d consecutive failures, cooldown remaining",
			b.consecutiveFailures).
			WithDetails(map[string]any{
				"consecutive_failures": b.consecutiveFailures,
				"state":                b.state.String(),
				"cooldown_remaining":   (b.config.Cooldown - time.Since(b.lastFailureTime)).String(),
			})

	case BreakerHalfOpen:
		if b.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewError(schema.ErrCodeBreakerOpen,
				"run breaker half-open: probe run already in flight")
		}
		b.halfOpenAttempts++
		return nil
	}

	return nil
}

// RecordSuccess resets the breaker after a successful run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.halfOpenAttempts = 0
	b.state = BreakerClosed
}

// RecordFailure records a failed run and returns the new state.
func (b *Breaker) RecordFailure() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureTime = time.Now()

	if b.state == BreakerHalfOpen {
		// A failed probe reopens immediately.
		b.state = BreakerOpen
		return BreakerOpen
	}

	if b.consecutiveFailures >= b.config.FailureThreshold {
		b.state = BreakerOpen
		return BreakerOpen
	}

	return b.state
}

// State returns the current state, applying the open → half-open cooldown
// transition if due.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && time.Since(b.lastFailureTime) >= b.config.Cooldown {
		b.state = BreakerHalfOpen
		b.halfOpenAttempts = 0
	}
	return b.state
}

// Stats returns diagnostic information about the breaker.
func (b *Breaker) Stats() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]any{
		"state":                b.state.String(),
		"consecutive_failures": b.consecutiveFailures,
		"failure_threshold":    b.config.FailureThreshold,
		"cooldown":             b.config.Cooldown.String(),
	}
}
