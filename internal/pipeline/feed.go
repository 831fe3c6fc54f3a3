package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/drayhq/dray/internal/poll"
	"github.com/drayhq/dray/internal/surface"
)

// surfaceFeed adapts the active surface into the poller's read-only signal
// set. All three probes are side-effect-free page reads.
type surfaceFeed struct {
	sf surface.Surface
}

var _ poll.Feed = (*surfaceFeed)(nil)

func (f *surfaceFeed) ReadStatus(ctx context.Context) (string, error) {
	text, err := f.sf.InnerText(ctx, statusLocator)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (f *surfaceFeed) ActivityVisible(ctx context.Context) (bool, error) {
	// Short bound: this is a sighting check, not a wait.
	return f.sf.IsVisible(ctx, activityLocator, 500*time.Millisecond)
}

func (f *surfaceFeed) ResultLength(ctx context.Context) (int, error) {
	v, err := f.sf.Evaluate(ctx, resultLengthProbe)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, nil
	}
}
