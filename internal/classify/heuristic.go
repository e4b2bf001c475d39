package classify

import "github.com/ayusman/signbridge/internal/feature"

// Rule assigns Token with Confidence when the mean fingertip to palm-centre
// distance is below Below.
type Rule struct {
	Below      float64
	Token      Token
	Confidence float64
}

// DefaultRules bins hand openness into three signs. Closed hands read as
// STOP, half-open as HELLO, mostly open as YES.
var DefaultRules = []Rule{
	{Below: 0.3, Token: Stop, Confidence: 0.85},
	{Below: 0.5, Token: Hello, Confidence: 0.82},
	{Below: 0.7, Token: Yes, Confidence: 0.78},
}

// Heuristic is a rule-based classifier over hand openness. It needs no
// training data and is the fallback when no prototypes exist.
type Heuristic struct {
	rules    []Rule
	fallback Result
}

// NewHeuristic creates a Heuristic with the given rules, evaluated in order.
// Nil rules means DefaultRules.
func NewHeuristic(rules []Rule) *Heuristic {
	if rules == nil {
		rules = DefaultRules
	}
	r := make([]Rule, len(rules))
	copy(r, rules)
	return &Heuristic{
		rules:    r,
		fallback: Result{Token: None, Confidence: 0.9},
	}
}

// Classify implements Classifier.
func (h *Heuristic) Classify(v feature.Vector) Result {
	if v.IsNone() {
		return NoSign
	}

	tips := v.TipPalmDistances()
	if len(tips) == 0 {
		return NoSign
	}

	var mean float64
	for _, d := range tips {
		mean += d
	}
	mean /= float64(len(tips))

	for _, r := range h.rules {
		if mean < r.Below {
			return Result{Token: r.Token, Confidence: clamp01(r.Confidence)}
		}
	}
	return h.fallback
}
