// Package classify maps feature vectors to vocabulary tokens.
//
// A Classifier is stateless with respect to prior frames and safe to share
// across sessions. Implementations differ in strategy (rule-based scoring,
// nearest-prototype matching) but honour the same contract: the
// no-features sentinel always classifies as {None, 1.0}.
package classify

import (
	"errors"

	"github.com/ayusman/signbridge/internal/feature"
)

var (
	// ErrNoPrototypes is returned when a prototype classifier would be built
	// from an empty prototype set.
	ErrNoPrototypes = errors.New("no prototypes loaded")

	// ErrDimension is returned when a prototype vector has the wrong length.
	ErrDimension = errors.New("prototype dimension mismatch")
)

// Result is one frame's classification.
type Result struct {
	Token      Token   `json:"token"`
	Confidence float64 `json:"confidence"`
}

// NoSign is the result for frames without usable features.
var NoSign = Result{Token: None, Confidence: 1.0}

// Classifier maps a feature vector to a token and confidence.
type Classifier interface {
	Classify(v feature.Vector) Result
}

// Func adapts a plain function to Classifier. The no-features sentinel is
// handled before fn is called.
type Func func(v feature.Vector) Result

// Classify implements Classifier.
func (f Func) Classify(v feature.Vector) Result {
	if v.IsNone() {
		return NoSign
	}
	return f(v)
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
