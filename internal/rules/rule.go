package rules

import (
	"context"
	"strings"

	"github.com/drayhq/dray/pkg/schema"
)

// CompletionRule is a parsed, engine-bound completion predicate.
type CompletionRule struct {
	engine     Engine
	expression string
}

// Parse builds a CompletionRule from its textual form. The engine is selected
// by prefix ("expr:", "cel:", "jq:"); a bare expression defaults to expr.
func Parse(rule string) (*CompletionRule, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty completion rule")
	}

	lang := "expr"
	expression := rule
	if i := strings.Index(rule, ":"); i > 0 {
		switch rule[:i] {
		case "expr", "cel", "jq":
			lang = rule[:i]
			expression = strings.TrimSpace(rule[i+1:])
		}
	}
	if expression == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "completion rule %q has no expression", rule)
	}

	var engine Engine
	switch lang {
	case "cel":
		celEngine, err := NewCELEngine()
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"init cel engine: %s", err.Error()).WithCause(err)
		}
		engine = celEngine
	case "jq":
		engine = NewGoJQEngine()
	default:
		engine = NewExprEngine()
	}

	return &CompletionRule{engine: engine, expression: expression}, nil
}

// Engine returns the name of the bound engine.
func (r *CompletionRule) Engine() string { return r.engine.Name() }

// Satisfied evaluates the predicate against the observation scope. Only a
// boolean true result satisfies the rule; any non-boolean result is a
// validation failure so a miswritten rule is caught loudly rather than
// silently never completing.
func (r *CompletionRule) Satisfied(ctx context.Context, scope map[string]any) (bool, error) {
	out, err := r.engine.Evaluate(ctx, r.expression, scope)
	if err != nil {
		return false, err
	}
	switch v := out.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"completion rule %q returned %T, want bool", r.expression, out)
	}
}
