// Package protocol defines the JSON messages exchanged over the recognition
// stream.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ayusman/signbridge/internal/detector"
)

// Message types.
const (
	TypeFrame      = "frame"
	TypePrediction = "prediction"
)

// ErrMalformed is returned for inbound messages that cannot be processed.
var ErrMalformed = errors.New("malformed message")

// Frame is one camera frame sent by the client.
type Frame struct {
	Type     string `json:"type"`
	TS       int64  `json:"ts"`
	ImageB64 string `json:"image_b64"`
	W        int    `json:"w"`
	H        int    `json:"h"`
}

// Validate checks the fields every frame must carry. Width and height are
// optional hints; zero means unknown.
func (f *Frame) Validate() error {
	switch {
	case f.Type != TypeFrame:
		return fmt.Errorf("%w: unexpected type %q", ErrMalformed, f.Type)
	case f.TS <= 0:
		return fmt.Errorf("%w: missing ts", ErrMalformed)
	case f.ImageB64 == "":
		return fmt.Errorf("%w: missing image_b64", ErrMalformed)
	case f.W < 0 || f.H < 0:
		return fmt.Errorf("%w: negative dimensions %dx%d", ErrMalformed, f.W, f.H)
	}
	return nil
}

// ParseFrame decodes and validates one inbound message.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Prediction is sent back for every processed frame.
type Prediction struct {
	Type       string             `json:"type"`
	TS         int64              `json:"ts"`
	Token      string             `json:"token"`
	Confidence float64            `json:"confidence"`
	StableMS   int64              `json:"stable_ms"`
	Commit     bool               `json:"commit"`
	Landmarks  []detector.Point3D `json:"landmarks,omitempty"`
}

// NewPrediction returns a Prediction with Type set.
func NewPrediction(ts int64) Prediction {
	return Prediction{Type: TypePrediction, TS: ts}
}
