package rules

import "context"

// Rule evaluates one work item and reports what it found.
type Rule interface {
	ID() string
	Evaluate(ctx context.Context, item RuleWorkItem) RuleEvaluation
}

// RuleFunc lets a plain function satisfy Rule.
type RuleFunc func(ctx context.Context, item RuleWorkItem) RuleEvaluation

// Evaluate invokes the wrapped function, treating a nil RuleFunc as a no-op.
func (f RuleFunc) Evaluate(ctx context.Context, item RuleWorkItem) RuleEvaluation {
	if f == nil {
		return RuleEvaluation{}
	}
	return f(ctx, item)
}

// DefaultRuleEngine fans a work item out to a fixed set of rules and
// collects their evaluations.
type DefaultRuleEngine struct {
	rules []Rule
}

var _ RuleEngine = (*DefaultRuleEngine)(nil)

// NewRuleEngine builds an engine from rules, dropping any nil entries so
// callers can build the rule list conditionally without guarding each append.
func NewRuleEngine(rules []Rule) *DefaultRuleEngine {
	engine := &DefaultRuleEngine{rules: make([]Rule, 0, len(rules))}
	for _, r := range rules {
		if r != nil {
			engine.rules = append(engine.rules, r)
		}
	}
	return engine
}

// Evaluate runs every configured rule against item in order and returns one
// RuleEvaluation per rule. A rule that leaves RuleID unset is stamped with
// its own ID() so callers never see a blank evaluation source.
func (e *DefaultRuleEngine) Evaluate(ctx context.Context, item RuleWorkItem) []RuleEvaluation {
	if e == nil || len(e.rules) == 0 {
		return nil
	}

	out := make([]RuleEvaluation, 0, len(e.rules))
	for _, r := range e.rules {
		result := r.Evaluate(ctx, item)
		if result.RuleID == "" {
			result.RuleID = r.ID()
		}
		out = append(out, result)
	}
	return out
}
