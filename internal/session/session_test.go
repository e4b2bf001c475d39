package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/signbridge/internal/classify"
	"github.com/ayusman/signbridge/internal/detector"
	"github.com/ayusman/signbridge/internal/feature"
	"github.com/ayusman/signbridge/internal/observe"
	"github.com/ayusman/signbridge/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"gocv.io/x/gocv"
)

// Image payloads understood by poseDecoder. The decoder encodes the pose in
// the Mat's row count so poseDetector can recover it.
const (
	imgOpenPalm = "open"
	imgFist     = "fist"
	imgEmpty    = "empty"
	imgBad      = "bad"
)

var poseRows = map[string]int{imgOpenPalm: 1, imgFist: 2, imgEmpty: 3}

type poseDecoder struct{}

func (poseDecoder) Decode(f protocol.Frame) (gocv.Mat, error) {
	rows, ok := poseRows[f.ImageB64]
	if !ok {
		return gocv.Mat{}, fmt.Errorf("%w: test payload %q", ErrDecode, f.ImageB64)
	}
	return gocv.NewMatWithSize(rows, 1, gocv.MatTypeCV8U), nil
}

// poseDetector returns a fixture hand chosen by frame height. When gate is
// set, every Detect call announces itself on entered and waits for gate.
type poseDetector struct {
	entered chan struct{}
	gate    chan struct{}
}

func (d *poseDetector) Detect(frame *gocv.Mat) ([]detector.HandLandmarks, error) {
	if d.gate != nil {
		d.entered <- struct{}{}
		<-d.gate
	}
	switch frame.Rows() {
	case 1:
		return []detector.HandLandmarks{detector.OpenPalmLandmarks()}, nil
	case 2:
		return []detector.HandLandmarks{detector.FistLandmarks()}, nil
	}
	return nil, nil
}

func (d *poseDetector) Close() error { return nil }

func newGatedDetector() *poseDetector {
	return &poseDetector{entered: make(chan struct{}, 16), gate: make(chan struct{})}
}

// recorder is a Sender that captures predictions.
type recorder struct {
	mu  sync.Mutex
	ch  chan protocol.Prediction
	err error
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan protocol.Prediction, 64)}
}

func (r *recorder) Send(_ context.Context, p protocol.Prediction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.ch <- p
	return nil
}

func (r *recorder) next(t *testing.T) protocol.Prediction {
	t.Helper()
	select {
	case p := <-r.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for prediction")
		return protocol.Prediction{}
	}
}

func (r *recorder) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case p := <-r.ch:
		t.Fatalf("unexpected prediction %+v", p)
	case <-time.After(wait):
	}
}

type harness struct {
	mgr     *Manager
	reader  *sdkmetric.ManualReader
	commits chan Commit
}

func newHarness(t *testing.T, cfg Config, det detector.Detector, workers int) *harness {
	t.Helper()

	extract := func(h detector.HandLandmarks) feature.Vector {
		return feature.Extract(&h)
	}
	matcher, err := classify.NewPrototypeMatcher([]classify.Prototype{
		{Token: classify.Hello, Vector: extract(detector.OpenPalmLandmarks())},
		{Token: classify.Stop, Vector: extract(detector.FistLandmarks())},
	}, classify.MetricEuclidean, 0)
	if err != nil {
		t.Fatalf("NewPrototypeMatcher() error = %v", err)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	h := &harness{reader: reader, commits: make(chan Commit, 16)}
	h.mgr = NewManager(cfg, NewPipeline(poseDecoder{}, det, matcher, workers),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(met),
		WithCommitHandler(func(_ context.Context, c Commit) { h.commits <- c }),
	)
	t.Cleanup(func() { _ = h.mgr.Shutdown(context.Background()) })
	return h
}

func (h *harness) dropped(t *testing.T, reason string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "signbridge.frames.dropped" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("reason")); ok && v.AsString() == reason {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func encodeB64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func frame(ts int64, img string) protocol.Frame {
	return protocol.Frame{Type: protocol.TypeFrame, TS: ts, ImageB64: img, W: 1, H: 1}
}

func TestSession_CommitsHeldSign(t *testing.T) {
	h := newHarness(t, Config{IncludeLandmarks: true}, &poseDetector{}, 2)
	rec := newRecorder()

	s, err := h.mgr.Open(context.Background(), "", rec)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.ID() == "" {
		t.Fatal("session id not generated")
	}

	var commitTS []int64
	for i := int64(0); i < 8; i++ {
		if err := s.Submit(frame(1000+i*100, imgOpenPalm)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		p := rec.next(t)

		if p.Type != protocol.TypePrediction || p.TS != 1000+i*100 {
			t.Fatalf("prediction %d = %+v", i, p)
		}
		if p.Token != string(classify.Hello) {
			t.Errorf("token = %s, want HELLO", p.Token)
		}
		if len(p.Landmarks) != detector.NumLandmarks {
			t.Errorf("landmarks = %d, want %d", len(p.Landmarks), detector.NumLandmarks)
		}
		if p.Commit {
			commitTS = append(commitTS, p.TS)
			if p.StableMS != 400 {
				t.Errorf("stable_ms at commit = %d, want 400", p.StableMS)
			}
		}
	}

	if len(commitTS) != 1 || commitTS[0] != 1400 {
		t.Fatalf("commits at %v, want [1400]", commitTS)
	}

	select {
	case c := <-h.commits:
		if c.Token != classify.Hello || c.SessionID != s.ID() || c.TS != 1400 {
			t.Errorf("commit = %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("commit handler not called")
	}
}

func TestSession_NoHandIsNone(t *testing.T) {
	h := newHarness(t, Config{IncludeLandmarks: true}, &poseDetector{}, 1)
	rec := newRecorder()
	s, err := h.mgr.Open(context.Background(), "nohand", rec)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for i := int64(1); i <= 10; i++ {
		_ = s.Submit(frame(i*100, imgEmpty))
		p := rec.next(t)
		if p.Token != string(classify.None) || p.Confidence != 1.0 {
			t.Fatalf("prediction = %+v, want NONE/1.0", p)
		}
		if p.Commit {
			t.Fatal("NONE must never commit")
		}
		if p.Landmarks != nil {
			t.Fatal("landmarks should be omitted without a hand")
		}
	}
}

func TestSession_DropsBadFrames(t *testing.T) {
	h := newHarness(t, Config{}, &poseDetector{}, 1)
	rec := newRecorder()
	s, err := h.mgr.Open(context.Background(), "bad", rec)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := s.HandleMessage([]byte(`{"type":"frame"`)); !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("HandleMessage() error = %v, want ErrMalformed", err)
	}
	if err := s.HandleMessage([]byte(`{"type":"frame","ts":500}`)); !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("HandleMessage() error = %v, want ErrMalformed", err)
	}
	_ = s.Submit(frame(600, imgBad))
	rec.expectNone(t, 100*time.Millisecond)

	if err := s.HandleMessage([]byte(`{"type":"frame","ts":1000,"image_b64":"fist"}`)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if p := rec.next(t); p.TS != 1000 || p.Token != string(classify.Stop) {
		t.Fatalf("prediction = %+v, want STOP at 1000", p)
	}

	// Stale and duplicate timestamps.
	_ = s.Submit(frame(900, imgFist))
	_ = s.Submit(frame(1000, imgFist))
	rec.expectNone(t, 100*time.Millisecond)

	_ = s.Submit(frame(1100, imgFist))
	if p := rec.next(t); p.TS != 1100 || p.StableMS != 100 {
		t.Fatalf("prediction = %+v, want stable_ms 100 at 1100", p)
	}

	if got := h.dropped(t, observe.DropMalformed); got != 2 {
		t.Errorf("malformed drops = %d, want 2", got)
	}
	if got := h.dropped(t, observe.DropDecode); got != 1 {
		t.Errorf("decode drops = %d, want 1", got)
	}
	if got := h.dropped(t, observe.DropOutOfOrder); got != 2 {
		t.Errorf("out-of-order drops = %d, want 2", got)
	}
}

func TestSession_DropsOldestWhenQueueFull(t *testing.T) {
	det := newGatedDetector()
	h := newHarness(t, Config{QueueSize: 4}, det, 1)
	rec := newRecorder()
	s, err := h.mgr.Open(context.Background(), "busy", rec)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	_ = s.Submit(frame(100, imgOpenPalm))
	<-det.entered // worker is now blocked inside Detect

	for ts := int64(200); ts <= 800; ts += 100 {
		_ = s.Submit(frame(ts, imgOpenPalm))
	}
	close(det.gate)

	var got []int64
	for i := 0; i < 5; i++ {
		got = append(got, rec.next(t).TS)
	}
	rec.expectNone(t, 100*time.Millisecond)

	want := []int64{100, 500, 600, 700, 800}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("processed %v, want %v", got, want)
	}
	if d := h.dropped(t, observe.DropBackpressure); d != 3 {
		t.Errorf("backpressure drops = %d, want 3", d)
	}
}

func TestSession_RateLimit(t *testing.T) {
	h := newHarness(t, Config{MaxFPS: 1}, &poseDetector{}, 1)
	rec := newRecorder()
	s, err := h.mgr.Open(context.Background(), "fast", rec)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := s.Submit(frame(100, imgOpenPalm)); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := s.Submit(frame(110, imgOpenPalm)); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second Submit() error = %v, want ErrRateLimited", err)
	}
	rec.next(t)
	rec.expectNone(t, 50*time.Millisecond)
}

func TestManager_SendFailureIsolated(t *testing.T) {
	h := newHarness(t, Config{}, &poseDetector{}, 2)

	broken := newRecorder()
	broken.err = errors.New("connection reset")
	healthy := newRecorder()

	bad, err := h.mgr.Open(context.Background(), "a", broken)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	good, err := h.mgr.Open(context.Background(), "b", healthy)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	_ = bad.Submit(frame(100, imgOpenPalm))
	select {
	case <-bad.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("failing session was not torn down")
	}
	if bad.Err() == nil || errors.Is(bad.Err(), ErrClosed) {
		t.Errorf("Err() = %v, want send failure", bad.Err())
	}
	if err := bad.Submit(frame(200, imgOpenPalm)); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after teardown = %v, want ErrClosed", err)
	}

	_ = good.Submit(frame(100, imgOpenPalm))
	healthy.next(t)

	if n := h.mgr.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
	if h.mgr.Get("b") != good {
		t.Error("healthy session missing")
	}
	if err := h.mgr.Close("a"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Close() of torn down session = %v, want ErrUnknownSession", err)
	}
}

func TestManager_CloseCancelsWaitingFrame(t *testing.T) {
	det := newGatedDetector()
	h := newHarness(t, Config{}, det, 1)

	holder, err := h.mgr.Open(context.Background(), "holder", newRecorder())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	waiter, err := h.mgr.Open(context.Background(), "waiter", newRecorder())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	_ = holder.Submit(frame(100, imgOpenPalm))
	<-det.entered // holder owns the only detector slot

	_ = waiter.Submit(frame(100, imgOpenPalm))
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- h.mgr.Close("waiter") }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close() blocked on a frame waiting for the detector")
	}

	close(det.gate)
	if err := h.mgr.Close("holder"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestManager_Shutdown(t *testing.T) {
	h := newHarness(t, Config{}, &poseDetector{}, 1)

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := h.mgr.Open(context.Background(), "", newRecorder())
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		sessions = append(sessions, s)
	}

	if _, err := h.mgr.Open(context.Background(), sessions[0].ID(), newRecorder()); err == nil {
		t.Error("expected error for duplicate id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		default:
			t.Errorf("session %s still running", s.ID())
		}
	}
	if h.mgr.Len() != 0 {
		t.Errorf("Len() = %d after shutdown", h.mgr.Len())
	}
	if _, err := h.mgr.Open(context.Background(), "", newRecorder()); !errors.Is(err, ErrClosed) {
		t.Errorf("Open() after shutdown = %v, want ErrClosed", err)
	}
}

func TestGocvDecoder(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 80, 120, 0), 48, 64, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		t.Fatalf("IMEncode() error = %v", err)
	}
	defer buf.Close()
	b64 := encodeB64(buf.GetBytes())

	tests := []struct {
		name    string
		dec     GocvDecoder
		frame   protocol.Frame
		wantErr bool
	}{
		{"jpeg", GocvDecoder{}, protocol.Frame{ImageB64: b64}, false},
		{"data url", GocvDecoder{}, protocol.Frame{ImageB64: "data:image/jpeg;base64," + b64}, false},
		{"size matches", GocvDecoder{StrictSize: true}, protocol.Frame{ImageB64: b64, W: 64, H: 48}, false},
		{"size mismatch", GocvDecoder{StrictSize: true}, protocol.Frame{ImageB64: b64, W: 320, H: 240}, true},
		{"bad base64", GocvDecoder{}, protocol.Frame{ImageB64: "!!!"}, true},
		{"not an image", GocvDecoder{}, protocol.Frame{ImageB64: encodeB64([]byte("hello"))}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mat, err := tt.dec.Decode(tt.frame)
			if tt.wantErr {
				if !errors.Is(err, ErrDecode) {
					t.Fatalf("error = %v, want ErrDecode", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			defer mat.Close()
			if mat.Cols() != 64 || mat.Rows() != 48 {
				t.Errorf("size = %dx%d, want 64x48", mat.Cols(), mat.Rows())
			}
		})
	}
}
