package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/ayusman/signbridge/internal/classify"
	"github.com/ayusman/signbridge/internal/detector"
	"github.com/ayusman/signbridge/internal/feature"
	"github.com/ayusman/signbridge/internal/protocol"
	"gocv.io/x/gocv"
	"golang.org/x/sync/semaphore"
)

// ErrDecode is returned when a frame's image payload cannot be decoded.
var ErrDecode = errors.New("undecodable image")

// ImageDecoder turns a frame's image payload into a BGR Mat. The caller
// closes the returned Mat.
type ImageDecoder interface {
	Decode(f protocol.Frame) (gocv.Mat, error)
}

// GocvDecoder decodes base64 JPEG or PNG payloads with gocv.
type GocvDecoder struct {
	// StrictSize rejects images whose size differs from the frame's w/h.
	StrictSize bool
}

// Decode implements ImageDecoder. A data URL prefix is accepted.
func (d GocvDecoder) Decode(f protocol.Frame) (gocv.Mat, error) {
	payload := f.ImageB64
	if strings.HasPrefix(payload, "data:") {
		if i := strings.IndexByte(payload, ','); i >= 0 {
			payload = payload[i+1:]
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("%w: empty image", ErrDecode)
	}

	if d.StrictSize && f.W > 0 && f.H > 0 && (mat.Cols() != f.W || mat.Rows() != f.H) {
		cols, rows := mat.Cols(), mat.Rows()
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("%w: image is %dx%d, frame says %dx%d", ErrDecode, cols, rows, f.W, f.H)
	}
	return mat, nil
}

// Pipeline holds the read-only collaborators shared by every session:
// decoding, landmark detection, feature extraction and classification.
type Pipeline struct {
	decoder    ImageDecoder
	detector   detector.Detector
	classifier classify.Classifier
	sem        *semaphore.Weighted
}

// NewPipeline creates a Pipeline. At most workers detections run at once
// across all sessions; workers < 1 means 1.
func NewPipeline(dec ImageDecoder, det detector.Detector, c classify.Classifier, workers int) *Pipeline {
	if dec == nil {
		dec = GocvDecoder{}
	}
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		decoder:    dec,
		detector:   det,
		classifier: c,
		sem:        semaphore.NewWeighted(int64(workers)),
	}
}

// Analysis is the per-frame outcome before smoothing.
type Analysis struct {
	Result classify.Result
	// Hand is the dominant hand, nil when none was detected.
	Hand *detector.HandLandmarks
}

// Analyze runs one frame through decode, detect, extract and classify.
// A frame with no hand yields classify.NoSign. Blocks while the detector
// pool is saturated; returns ctx.Err() if ctx ends first.
func (p *Pipeline) Analyze(ctx context.Context, f protocol.Frame) (Analysis, error) {
	mat, err := p.decoder.Decode(f)
	if err != nil {
		return Analysis{}, err
	}
	defer mat.Close()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Analysis{}, err
	}
	hands, err := p.detector.Detect(&mat)
	p.sem.Release(1)
	if err != nil {
		return Analysis{}, fmt.Errorf("detect: %w", err)
	}

	hand := detector.Dominant(hands)
	if hand == nil {
		return Analysis{Result: classify.NoSign}, nil
	}

	return Analysis{
		Result: p.classifier.Classify(feature.Extract(hand)),
		Hand:   hand,
	}, nil
}
