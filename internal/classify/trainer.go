package classify

import (
	"encoding/json"
	"fmt"

	"github.com/ayusman/signbridge/internal/detector"
	"github.com/ayusman/signbridge/internal/feature"
)

// Trainer averages recorded landmark samples into a prototype vector.
type Trainer struct{}

// NewTrainer creates a new Trainer instance.
func NewTrainer() *Trainer {
	return &Trainer{}
}

// Sample is one recorded pose for a token.
type Sample struct {
	Landmarks []detector.Point3D `json:"landmarks"`
	Timestamp int64              `json:"timestamp"`
}

// ParseSample decodes and validates one stored sample payload.
func ParseSample(raw json.RawMessage) (*detector.HandLandmarks, error) {
	var s Sample
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse sample: %w", err)
	}
	if len(s.Landmarks) != detector.NumLandmarks {
		return nil, fmt.Errorf("sample has %d landmarks, expected %d", len(s.Landmarks), detector.NumLandmarks)
	}
	hand := &detector.HandLandmarks{}
	copy(hand.Points[:], s.Landmarks)
	return hand, nil
}

// Train extracts features from every sample and returns their mean as the
// prototype for token. Samples with degenerate geometry are rejected.
func (t *Trainer) Train(token Token, samples []json.RawMessage) (Prototype, error) {
	if !token.IsKeyword() {
		return Prototype{}, fmt.Errorf("cannot train %q", token)
	}
	if len(samples) == 0 {
		return Prototype{}, fmt.Errorf("no samples provided")
	}

	vectors := make([]feature.Vector, 0, len(samples))
	for i, raw := range samples {
		hand, err := ParseSample(raw)
		if err != nil {
			return Prototype{}, fmt.Errorf("sample %d: %w", i, err)
		}
		v := feature.Extract(hand)
		if v.IsNone() {
			return Prototype{}, fmt.Errorf("sample %d: degenerate hand geometry", i)
		}
		vectors = append(vectors, v)
	}

	return Prototype{Token: token, Vector: feature.Mean(vectors)}, nil
}
