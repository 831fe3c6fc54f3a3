package resolve

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drayhq/dray/pkg/schema"
)

func missProbe(name string, calls *int) Probe[string] {
	return Probe[string]{Name: name, Fn: func(ctx context.Context) (string, bool, error) {
		*calls++
		return "", false, nil
	}}
}

func hitProbe(name, value string, calls *int) Probe[string] {
	return Probe[string]{Name: name, Fn: func(ctx context.Context) (string, bool, error) {
		*calls++
		return value, true, nil
	}}
}

func TestTryInOrder_FirstHitShortCircuits(t *testing.T) {
	// First K empty, (K+1)-th non-empty: returns the (K+1)-th result and
	// never evaluates strategies beyond it.
	for k := 0; k < 4; k++ {
		var calls [5]int
		candidates := make([]Probe[string], 0, 5)
		for i := 0; i < k; i++ {
			candidates = append(candidates, missProbe(fmt.Sprintf("miss-%d", i), &calls[i]))
		}
		candidates = append(candidates, hitProbe("winner", "value", &calls[k]))
		for i := k + 1; i < 5; i++ {
			candidates = append(candidates, hitProbe(fmt.Sprintf("beyond-%d", i), "never", &calls[i]))
		}

		v, name, err := TryInOrder(context.Background(), candidates)
		require.NoError(t, err)
		assert.Equal(t, "value", v)
		assert.Equal(t, "winner", name)
		for i := 0; i <= k; i++ {
			assert.Equal(t, 1, calls[i], "candidate %d evaluated once", i)
		}
		for i := k + 1; i < 5; i++ {
			assert.Zero(t, calls[i], "candidate %d must not be evaluated", i)
		}
	}
}

func TestTryInOrder_AllEmpty(t *testing.T) {
	var a, b, c int
	_, _, err := TryInOrder(context.Background(), []Probe[string]{
		missProbe("a", &a), missProbe("b", &b), missProbe("c", &c),
	})
	require.Error(t, err)

	var derr *schema.DrayError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeNoStrategySucceeded, derr.Code)
	assert.Len(t, derr.Details["attempted"], 3)
}

func TestTryInOrder_ProbeErrorAbsorbedAsMiss(t *testing.T) {
	var hits int
	_, name, err := TryInOrder(context.Background(), []Probe[string]{
		{Name: "broken", Fn: func(ctx context.Context) (string, bool, error) {
			return "", false, errors.New("detached node")
		}},
		hitProbe("fallback", "ok", &hits),
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", name)
}

func TestTryInOrder_AllErrors_StillNoStrategy(t *testing.T) {
	_, _, err := TryInOrder(context.Background(), []Probe[int]{
		{Name: "x", Fn: func(ctx context.Context) (int, bool, error) { return 0, false, errors.New("boom") }},
	})
	var derr *schema.DrayError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeNoStrategySucceeded, derr.Code)
	attempted, ok := derr.Details["attempted"].([]string)
	require.True(t, ok)
	assert.Contains(t, attempted[0], "boom")
}

func TestTryInOrder_DetectionProbesAreIdempotent(t *testing.T) {
	// Re-running read-only probes with unchanged backing state yields the
	// same result both times.
	backing := "stable"
	probe := func() []Probe[string] {
		return []Probe[string]{
			{Name: "empty", Fn: func(ctx context.Context) (string, bool, error) { return "", false, nil }},
			{Name: "read", Fn: func(ctx context.Context) (string, bool, error) { return backing, true, nil }},
		}
	}

	v1, n1, err1 := TryInOrder(context.Background(), probe())
	v2, n2, err2 := TryInOrder(context.Background(), probe())
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, v1, v2)
	assert.Equal(t, n1, n2)
	assert.Equal(t, "stable", backing)
}

func TestTryInOrder_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	_, _, err := TryInOrder(ctx, []Probe[string]{hitProbe("never", "v", &calls)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}
