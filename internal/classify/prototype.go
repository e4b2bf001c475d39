package classify

import (
	"fmt"
	"math"
	"sort"

	"github.com/ayusman/signbridge/internal/feature"
)

// Metric selects the distance used by PrototypeMatcher.
type Metric string

const (
	// MetricEuclidean is the L2 distance between feature vectors.
	MetricEuclidean Metric = "euclidean"
	// MetricCosine is 1 - cosine similarity.
	MetricCosine Metric = "cosine"
)

// IsValid reports whether m is a recognised metric.
func (m Metric) IsValid() bool {
	return m == MetricEuclidean || m == MetricCosine
}

func (m Metric) distance(a, b feature.Vector) float64 {
	if m == MetricCosine {
		return feature.Cosine(a, b)
	}
	return feature.Euclidean(a, b)
}

// Prototype is the reference feature vector for one token, typically the
// mean over labeled samples.
type Prototype struct {
	Token  Token
	Vector feature.Vector
}

// Match is one prototype's distance to an input vector.
type Match struct {
	Token    Token
	Distance float64
	Score    float64 // 1/(1+Distance), higher is better
}

// PrototypeMatcher classifies by nearest prototype. It is immutable after
// construction and safe for concurrent use without locking.
type PrototypeMatcher struct {
	prototypes     []Prototype
	metric         Metric
	rejectDistance float64
}

// NewPrototypeMatcher builds a matcher over protos. Vectors are copied.
// Returns ErrNoPrototypes when protos is empty and ErrDimension when any
// vector is not feature.Dim long. A rejectDistance <= 0 disables rejection.
func NewPrototypeMatcher(protos []Prototype, metric Metric, rejectDistance float64) (*PrototypeMatcher, error) {
	if len(protos) == 0 {
		return nil, ErrNoPrototypes
	}
	if metric == "" {
		metric = MetricEuclidean
	}
	if !metric.IsValid() {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	owned := make([]Prototype, 0, len(protos))
	for _, p := range protos {
		if !p.Token.IsKeyword() {
			return nil, fmt.Errorf("prototype token %q is not a keyword", p.Token)
		}
		if len(p.Vector) != feature.Dim {
			return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrDimension, p.Token, len(p.Vector), feature.Dim)
		}
		v := make(feature.Vector, len(p.Vector))
		copy(v, p.Vector)
		owned = append(owned, Prototype{Token: p.Token, Vector: v})
	}

	return &PrototypeMatcher{
		prototypes:     owned,
		metric:         metric,
		rejectDistance: rejectDistance,
	}, nil
}

// Tokens lists the tokens the matcher can produce, in load order.
func (m *PrototypeMatcher) Tokens() []Token {
	out := make([]Token, len(m.prototypes))
	for i, p := range m.prototypes {
		out[i] = p.Token
	}
	return out
}

// Rank returns every prototype's distance to v, nearest first.
func (m *PrototypeMatcher) Rank(v feature.Vector) []Match {
	if v.IsNone() {
		return nil
	}

	matches := make([]Match, 0, len(m.prototypes))
	for _, p := range m.prototypes {
		d := m.metric.distance(v, p.Vector)
		matches = append(matches, Match{
			Token:    p.Token,
			Distance: d,
			Score:    1.0 / (1.0 + d),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	return matches
}

// Classify implements Classifier. Confidence is 1 - d/(1+d) for the nearest
// distance d; beyond the rejection distance the result is None with the
// same confidence formula.
func (m *PrototypeMatcher) Classify(v feature.Vector) Result {
	if v.IsNone() {
		return NoSign
	}

	matches := m.Rank(v)
	best := matches[0]
	if math.IsNaN(best.Distance) {
		return NoSign
	}

	confidence := clamp01(1 - normalizedDistance(best.Distance))
	if m.rejectDistance > 0 && best.Distance > m.rejectDistance {
		return Result{Token: None, Confidence: confidence}
	}
	return Result{Token: best.Token, Confidence: confidence}
}

// normalizedDistance maps [0, inf) onto [0, 1) monotonically.
func normalizedDistance(d float64) float64 {
	if math.IsInf(d, 1) {
		return 1
	}
	return d / (1 + d)
}
