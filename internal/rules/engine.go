// Package rules evaluates user-supplied completion predicates against the
// poller's latest observation. Three engines are available; a rule selects
// its engine with an "expr:", "cel:" or "jq:" prefix (default expr).
package rules

import "context"

// Engine evaluates one predicate expression against an observation scope.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Scope keys every engine exposes to rule expressions.
const (
	ScopeStatus        = "status"         // last observed status text (lowercased, diacritics folded)
	ScopeContentLength = "content_length" // extracted result text length
	ScopeElapsedMs     = "elapsed_ms"     // since the task started
)
