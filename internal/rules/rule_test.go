package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drayhq/dray/pkg/schema"
)

func scope(status string, length, elapsed int) map[string]any {
	return map[string]any{
		ScopeStatus:        status,
		ScopeContentLength: length,
		ScopeElapsedMs:     elapsed,
	}
}

func TestParse_DefaultEngineIsExpr(t *testing.T) {
	r, err := Parse("content_length > 500")
	require.NoError(t, err)
	assert.Equal(t, "expr", r.Engine())
}

func TestParse_EnginePrefixes(t *testing.T) {
	cases := map[string]string{
		"expr: content_length > 500": "expr",
		"cel: content_length > 500":  "cel",
		"jq: .content_length > 500":  "jq",
	}
	for rule, engine := range cases {
		r, err := Parse(rule)
		require.NoError(t, err, rule)
		assert.Equal(t, engine, r.Engine(), rule)
	}
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse("")
	var derr *schema.DrayError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeValidation, derr.Code)

	_, err = Parse("expr:   ")
	require.Error(t, err)
}

func TestExprRule(t *testing.T) {
	r, err := Parse(`status == "concluido" or content_length > 500`)
	require.NoError(t, err)

	ok, err := r.Satisfied(context.Background(), scope("pesquisando", 120, 30000))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Satisfied(context.Background(), scope("concluido", 120, 90000))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Satisfied(context.Background(), scope("", 800, 90000))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCELRule(t *testing.T) {
	r, err := Parse(`cel: status == "done" && elapsed_ms > 60000`)
	require.NoError(t, err)

	ok, err := r.Satisfied(context.Background(), scope("done", 0, 61000))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Satisfied(context.Background(), scope("done", 0, 1000))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCELRule_MissingScopeKeysDefault(t *testing.T) {
	r, err := Parse(`cel: status == ""`)
	require.NoError(t, err)

	ok, err := r.Satisfied(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJQRule(t *testing.T) {
	r, err := Parse(`jq: .content_length >= 500`)
	require.NoError(t, err)

	ok, err := r.Satisfied(context.Background(), scope("", 500, 0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Satisfied(context.Background(), scope("", 499, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRule_NonBooleanResult(t *testing.T) {
	r, err := Parse("content_length + 1")
	require.NoError(t, err)

	_, err = r.Satisfied(context.Background(), scope("", 10, 0))
	var derr *schema.DrayError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeValidation, derr.Code)
}

func TestRule_CompileErrorSurfacesOnce(t *testing.T) {
	r, err := Parse("cel: status ==")
	require.NoError(t, err)

	_, err = r.Satisfied(context.Background(), scope("", 0, 0))
	var derr *schema.DrayError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, schema.ErrCodeValidation, derr.Code)
}
