// Package rules evaluates transactions against the four screening rules.
package rules

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Evaluator checks one transaction against one rule.
type Evaluator interface {
	// Name returns the rule section the evaluator implements.
	Name() string

	// Evaluate inspects the transaction at position pos of the index.
	Evaluate(idx *velocity.Index, pos int) (domain.Violation, bool)
}

// Engine runs the enabled evaluators of one configuration in fixed order:
// frequency, amount, travel, time.
type Engine struct {
	config     domain.RuleConfiguration
	evaluators []Evaluator
}

// NewEngine validates cfg and prepares its enabled evaluators. Disabled rules
// get no evaluator and cost nothing at evaluation time.
func NewEngine(cfg domain.RuleConfiguration) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{config: cfg}
	r := cfg.Rules
	if r.Frequency.Enabled {
		e.evaluators = append(e.evaluators, &frequencyEvaluator{rule: r.Frequency})
	}
	if r.Amount.Enabled {
		e.evaluators = append(e.evaluators, &amountEvaluator{rule: r.Amount})
	}
	if r.Travel.Enabled {
		e.evaluators = append(e.evaluators, &travelEvaluator{rule: r.Travel})
	}
	if r.Time.Enabled {
		e.evaluators = append(e.evaluators, &timeEvaluator{rule: r.Time})
	}

	return e, nil
}

// Evaluate returns the violations of the transaction at position pos,
// ordered by rule. The result is empty, never nil.
func (e *Engine) Evaluate(idx *velocity.Index, pos int) []domain.Violation {
	violations := make([]domain.Violation, 0, len(e.evaluators))
	for _, ev := range e.evaluators {
		if v, ok := ev.Evaluate(idx, pos); ok {
			violations = append(violations, v)
		}
	}
	return violations
}

// Rules returns the names of the enabled rules in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.evaluators))
	for i, ev := range e.evaluators {
		names[i] = ev.Name()
	}
	return names
}

// Configuration returns the configuration the engine was built from.
func (e *Engine) Configuration() domain.RuleConfiguration {
	return e.config
}
