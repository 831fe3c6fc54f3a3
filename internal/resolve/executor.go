package resolve

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/drayhq/dray/internal/logging"
	"github.com/drayhq/dray/internal/surface"
	"github.com/drayhq/dray/pkg/schema"
)

// Strategy is an ordered candidate for locating a target element. Lower
// priority values are tried first. Strategies are immutable and declared per
// call site.
type Strategy struct {
	Name     string
	Priority int
	Locator  surface.Locator
	Timeout  time.Duration // per-strategy visibility bound; 0 uses the call's default
}

// Action is the operation performed against the first resolvable target.
type Action struct {
	Name string
	Do   func(ctx context.Context, sf surface.Surface, loc surface.Locator) error
}

// Click builds a click action.
func Click() Action {
	return Action{Name: "click", Do: func(ctx context.Context, sf surface.Surface, loc surface.Locator) error {
		return sf.Click(ctx, loc)
	}}
}

// Fill builds a set-value action.
func Fill(text string) Action {
	return Action{Name: "fill", Do: func(ctx context.Context, sf surface.Surface, loc surface.Locator) error {
		return sf.Fill(ctx, loc, text)
	}}
}

// Upload builds an initiate-upload action for the given local file.
func Upload(path string) Action {
	return Action{Name: "upload", Do: func(ctx context.Context, sf surface.Surface, loc surface.Locator) error {
		return sf.UploadFile(ctx, loc, path)
	}}
}

// ActionResult reports which strategy resolved the target.
type ActionResult struct {
	Strategy Strategy
	Action   string
}

// Executor resolves a ranked strategy list against a surface and performs an
// action on the first visible match.
type Executor struct {
	sf     surface.Surface
	logger *slog.Logger
}

// NewExecutor creates an Executor bound to one surface.
func NewExecutor(sf surface.Surface, logger *slog.Logger) *Executor {
	return &Executor{sf: sf, logger: logger}
}

// ResolveAndAct tries each strategy in ascending priority order, waiting up
// to perStrategyTimeout (or the strategy's own bound) for a visible target.
// On the first visible match it performs the action exactly once and returns
// immediately — clicks are not idempotent, so an action failure is returned
// as-is rather than retried against lower-ranked strategies. If no strategy
// yields a visible target the call fails with RESOLUTION_EXHAUSTED carrying
// the attempted strategies.
func (e *Executor) ResolveAndAct(ctx context.Context, strategies []Strategy, act Action, perStrategyTimeout time.Duration) (*ActionResult, error) {
	ordered := make([]Strategy, len(strategies))
	copy(ordered, strategies)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	attempted := make([]string, 0, len(ordered))
	for _, s := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = perStrategyTimeout
		}

		sctx := logging.WithStrategy(ctx, s.Name)
		visible, err := e.sf.IsVisible(sctx, s.Locator, timeout)
		if err != nil {
			return nil, err
		}
		if !visible {
			attempted = append(attempted, s.Name+" ("+s.Locator.String()+")")
			continue
		}

		e.logger.DebugContext(sctx, "target resolved", "action", act.Name, "locator", s.Locator.String())
		if err := act.Do(sctx, e.sf, s.Locator); err != nil {
			return nil, err
		}
		return &ActionResult{Strategy: s, Action: act.Name}, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeResolutionExhausted,
		"no visible target for %s after %d strategies", act.Name, len(ordered)).
		WithDetails(map[string]any{"attempted": attempted})
}
