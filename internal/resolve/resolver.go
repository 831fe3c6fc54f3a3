// Package resolve implements the ranked-fallback policy used at every
// boundary of the pipeline: try N candidate strategies in preference order,
// short-circuit on the first success, and fail with a typed error only when
// all are exhausted.
package resolve

import (
	"context"

	"github.com/drayhq/dray/pkg/schema"
)

// Probe is one ranked, read-only way of obtaining a value. A clean miss is
// (zero, false, nil). Probes used for detection must be side-effect-free so
// that re-evaluating them with unchanged backing state yields the same
// result.
type Probe[T any] struct {
	Name string
	Fn   func(ctx context.Context) (T, bool, error)
}

// Attempt records one probe evaluation for diagnostics.
type Attempt struct {
	Name string
	Err  error
}

// TryInOrder evaluates candidates strictly in order, stopping at the first
// non-empty result and never evaluating candidates beyond it. Probe errors
// are absorbed as misses and carried in the exhaustion error's details; they
// never surface on their own. If every candidate misses, the returned error
// has code NO_STRATEGY.
func TryInOrder[T any](ctx context.Context, candidates []Probe[T]) (T, string, error) {
	var zero T
	attempts := make([]Attempt, 0, len(candidates))

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		v, ok, err := c.Fn(ctx)
		if err != nil {
			attempts = append(attempts, Attempt{Name: c.Name, Err: err})
			continue
		}
		if ok {
			return v, c.Name, nil
		}
		attempts = append(attempts, Attempt{Name: c.Name})
	}

	names := make([]string, len(attempts))
	for i, a := range attempts {
		if a.Err != nil {
			names[i] = a.Name + ": " + a.Err.Error()
		} else {
			names[i] = a.Name
		}
	}
	return zero, "", schema.NewErrorf(schema.ErrCodeNoStrategySucceeded,
		"no strategy succeeded (%d tried)", len(candidates)).
		WithDetails(map[string]any{"attempted": names})
}
