// Package testdata builds synthetic camera frames for tests.
package testdata

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/color"

	"github.com/ayusman/signbridge/internal/protocol"
	"gocv.io/x/gocv"
)

// NewFrame returns a w x h BGR Mat filled with c. The caller closes it.
func NewFrame(w, h int, c color.RGBA) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0),
		h, w, gocv.MatTypeCV8UC3,
	)
}

// JPEG encodes a solid w x h frame.
func JPEG(w, h int, c color.RGBA) ([]byte, error) {
	mat := NewFrame(w, h, c)
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// FrameB64 returns a solid gray w x h JPEG as base64.
func FrameB64(w, h int) (string, error) {
	data, err := JPEG(w, h, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// FrameMessage returns the JSON text of a frame message at ts carrying a
// w x h image.
func FrameMessage(ts int64, w, h int) ([]byte, error) {
	img, err := FrameB64(w, h)
	if err != nil {
		return nil, err
	}
	return json.Marshal(protocol.Frame{
		Type:     protocol.TypeFrame,
		TS:       ts,
		ImageB64: img,
		W:        w,
		H:        h,
	})
}
