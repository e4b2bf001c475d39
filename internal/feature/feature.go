// Package feature turns raw hand landmarks into translation- and
// scale-invariant feature vectors.
package feature

import (
	"math"

	"github.com/ayusman/signbridge/internal/detector"
)

// Vector layout.
const (
	// CoordDim is the number of wrist-relative, palm-scaled coordinates.
	CoordDim = detector.NumLandmarks * 3
	// TipPalmDim is the number of fingertip to palm-centre distances.
	TipPalmDim = len(detector.Fingertips)
	// TipPairDim is the number of pairwise fingertip distances.
	TipPairDim = TipPalmDim * (TipPalmDim - 1) / 2
	// Dim is the total feature vector length.
	Dim = CoordDim + TipPalmDim + TipPairDim

	// TipPalmOffset is the index of the first fingertip to palm-centre distance.
	TipPalmOffset = CoordDim
	// TipPairOffset is the index of the first pairwise fingertip distance.
	TipPairOffset = CoordDim + TipPalmDim
)

// minScale is the smallest wrist to middle-MCP distance treated as a real
// hand. Anything below it is a collapsed pose.
const minScale = 1e-6

// Vector is a fixed-length feature vector. The nil Vector is the
// "no-features" sentinel.
type Vector []float64

// None is the no-features sentinel: no hand in frame, or degenerate geometry.
var None Vector

// IsNone reports whether v is the no-features sentinel.
func (v Vector) IsNone() bool {
	return v == nil
}

// TipPalmDistances returns the five fingertip to palm-centre distances.
func (v Vector) TipPalmDistances() []float64 {
	if len(v) != Dim {
		return nil
	}
	return v[TipPalmOffset:TipPairOffset]
}

// Extract derives the feature vector for one hand. It returns None for a
// nil hand or when the palm scale reference is ~0.
//
// Layout: 63 coordinates translated so the wrist is the origin and divided
// by the wrist to middle-MCP distance, then the five fingertip to
// palm-centre distances (palm centre is the mean of wrist, index MCP and
// pinky MCP), then the ten pairwise fingertip distances.
func Extract(hand *detector.HandLandmarks) Vector {
	if hand == nil {
		return None
	}

	wrist := hand.Points[detector.Wrist]
	scale := hand.Points[detector.MiddleMCP].Distance(wrist)
	if scale < minScale || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return None
	}
	inv := 1 / scale

	var pts [detector.NumLandmarks]detector.Point3D
	for i, p := range hand.Points {
		pts[i] = p.Sub(wrist).Scale(inv)
	}

	v := make(Vector, Dim)
	for i, p := range pts {
		v[i*3] = p.X
		v[i*3+1] = p.Y
		v[i*3+2] = p.Z
	}

	palm := palmCentre(pts)
	for i, tip := range detector.Fingertips {
		v[TipPalmOffset+i] = pts[tip].Distance(palm)
	}

	k := TipPairOffset
	for i := 0; i < len(detector.Fingertips); i++ {
		for j := i + 1; j < len(detector.Fingertips); j++ {
			v[k] = pts[detector.Fingertips[i]].Distance(pts[detector.Fingertips[j]])
			k++
		}
	}

	return v
}

func palmCentre(pts [detector.NumLandmarks]detector.Point3D) detector.Point3D {
	a := pts[detector.Wrist]
	b := pts[detector.IndexMCP]
	c := pts[detector.PinkyMCP]
	return detector.Point3D{
		X: (a.X + b.X + c.X) / 3,
		Y: (a.Y + b.Y + c.Y) / 3,
		Z: (a.Z + b.Z + c.Z) / 3,
	}
}

// Euclidean returns the Euclidean distance between a and b over their
// common length.
func Euclidean(a, b Vector) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine distance 1 - cos(a, b), in [0, 2]. Zero-length
// inputs are at distance 1.
func Cosine(a, b Vector) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Mean averages vectors of equal length. It returns nil for no input or
// mismatched lengths.
func Mean(vs []Vector) Vector {
	if len(vs) == 0 {
		return nil
	}
	n := len(vs[0])
	out := make(Vector, n)
	for _, v := range vs {
		if len(v) != n {
			return nil
		}
		for i, x := range v {
			out[i] += x
		}
	}
	for i := range out {
		out[i] /= float64(len(vs))
	}
	return out
}
