package detector

import (
	"time"

	"gocv.io/x/gocv"
)

// Detector is the landmark provider contract consumed by the recognition
// pipeline. Implementations must be safe for concurrent use.
type Detector interface {
	// Detect analyzes a decoded frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// Script is the path to the MediaPipe service script. Empty means search
	// the default locations.
	Script string

	// Python is the interpreter used to run Script. Empty means look for a
	// virtualenv and fall back to python3.
	Python string

	// MaxHands is the maximum number of hands to detect (default: 1).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// IdleTimeout stops the subprocess after this long without frames.
	IdleTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        1,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
		IdleTimeout:     30 * time.Second,
	}
}
