// Package predict evaluates compound, multi-metric failure rules against a
// single reading. Rules are stateless and held in an ordered list; every rule
// runs on every reading.
package predict

import (
	"github.com/machineguard/machineguard/pkg/types"
)

// Rule produces at most one prediction for a reading.
type Rule interface {
	Name() string
	Predict(r types.Reading) (types.Prediction, bool)
}

// RuleFunc adapts a plain function into a Rule.
type RuleFunc struct {
	RuleName string
	Fn       func(types.Reading) (types.Prediction, bool)
}

func (f RuleFunc) Name() string { return f.RuleName }

func (f RuleFunc) Predict(r types.Reading) (types.Prediction, bool) { return f.Fn(r) }

// Predictor runs its rules in registration order.
type Predictor struct {
	rules []Rule
}

// New returns a Predictor running rules in the given order.
func New(rules ...Rule) *Predictor {
	return &Predictor{rules: rules}
}

// Default returns a Predictor with the built-in rules at default thresholds.
func Default() *Predictor {
	return New(BuiltinRules(DefaultThresholds())...)
}

// Append adds rules after the existing ones.
func (p *Predictor) Append(rules ...Rule) {
	p.rules = append(p.rules, rules...)
}

// Rules returns the registered rule names in order.
func (p *Predictor) Rules() []string {
	out := make([]string, len(p.rules))
	for i, r := range p.rules {
		out[i] = r.Name()
	}
	return out
}

// Predict evaluates every rule and returns the predictions that fired,
// in rule order.
func (p *Predictor) Predict(r types.Reading) []types.Prediction {
	var out []types.Prediction
	for _, rule := range p.rules {
		if pred, ok := rule.Predict(r); ok {
			out = append(out, pred)
		}
	}
	return out
}
