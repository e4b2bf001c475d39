package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ayusman/signbridge/internal/classify"
	"github.com/ayusman/signbridge/internal/detector"
	"github.com/ayusman/signbridge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestMux(t *testing.T) (*http.ServeMux, *store.Store) {
	t.Helper()
	s := newTestStore(t)
	mux := http.NewServeMux()
	NewSignsHandler(s, nil).Register(mux)
	NewTranscriptHandler(s).Register(mux)
	return mux, s
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func sampleJSON(t *testing.T, hand detector.HandLandmarks) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(classify.Sample{Landmarks: hand.Points[:], Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestSigns_List(t *testing.T) {
	mux, s := newTestMux(t)
	if _, err := s.Samples().Create("HELLO", []json.RawMessage{sampleJSON(t, detector.OpenPalmLandmarks())}); err != nil {
		t.Fatal(err)
	}
	if err := s.Prototypes().Upsert(&store.Prototype{Token: "YES", Vector: []float64{1}, Samples: 1}); err != nil {
		t.Fatal(err)
	}

	rec := do(t, mux, http.MethodGet, "/api/signs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[listSignsResponse](t, rec)

	if len(resp.Signs) != len(classify.Vocabulary)-1 {
		t.Fatalf("got %d signs, want every keyword", len(resp.Signs))
	}
	for _, sr := range resp.Signs {
		switch sr.Token {
		case "HELLO":
			if sr.Samples != 1 || sr.Trained {
				t.Errorf("HELLO = %+v", sr)
			}
		case "YES":
			if !sr.Trained {
				t.Errorf("YES should be trained")
			}
		case "NONE":
			t.Error("NONE listed as a sign")
		}
	}
	if resp.RestartRequired {
		t.Error("restart_required set without a change")
	}
}

func TestSigns_UnknownToken(t *testing.T) {
	mux, _ := newTestMux(t)

	for _, path := range []string{"/api/signs/BANANA", "/api/signs/none", "/api/signs/NONE/samples"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, mux, http.MethodGet, path, nil)
			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", rec.Code)
			}
		})
	}
}

func TestSigns_CreateAndListSamples(t *testing.T) {
	mux, _ := newTestMux(t)

	body := createSamplesRequest{Samples: []json.RawMessage{
		sampleJSON(t, detector.OpenPalmLandmarks()),
		sampleJSON(t, detector.Transform(detector.OpenPalmLandmarks(), 1.2, detector.Point3D{X: 0.05})),
	}}
	rec := do(t, mux, http.MethodPost, "/api/signs/hello/samples", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	created := decode[createSamplesResponse](t, rec)
	if created.Token != "HELLO" || created.Added != 2 || created.Total != 2 {
		t.Errorf("unexpected response %+v", created)
	}

	rec = do(t, mux, http.MethodGet, "/api/signs/HELLO/samples", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	listed := decode[listSamplesResponse](t, rec)
	if len(listed.Samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(listed.Samples))
	}
	if listed.Samples[0].SampleIndex != 0 || listed.Samples[1].SampleIndex != 1 {
		t.Errorf("unexpected sample indexes")
	}
}

func TestSigns_CreateSamplesRejectsBadInput(t *testing.T) {
	mux, s := newTestMux(t)

	short, _ := json.Marshal(classify.Sample{Landmarks: make([]detector.Point3D, 5)})
	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{not json"},
		{"no samples", createSamplesRequest{}},
		{"short landmarks", createSamplesRequest{Samples: []json.RawMessage{sampleJSON(t, detector.FistLandmarks()), short}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodPost, "/api/signs/STOP/samples", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if decode[errorResponse](t, rec).Error == "" {
				t.Error("expected error message")
			}
		})
	}

	counts, err := s.Samples().CountByToken()
	if err != nil {
		t.Fatal(err)
	}
	if counts["STOP"] != 0 {
		t.Errorf("rejected batch stored %d samples", counts["STOP"])
	}
}

func TestSigns_Train(t *testing.T) {
	mux, s := newTestMux(t)

	rec := do(t, mux, http.MethodPost, "/api/signs/STOP/train", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("training without samples: status = %d, want 409", rec.Code)
	}

	fist := detector.FistLandmarks()
	body := createSamplesRequest{Samples: []json.RawMessage{sampleJSON(t, fist), sampleJSON(t, fist)}}
	if rec := do(t, mux, http.MethodPost, "/api/signs/STOP/samples", body); rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	rec = do(t, mux, http.MethodPost, "/api/signs/STOP/train", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	trained := decode[trainResponse](t, rec)
	if trained.Samples != 2 || !trained.RestartRequired || len(trained.Vector) == 0 {
		t.Errorf("unexpected response %+v", trained)
	}

	p, err := s.Prototypes().Get("STOP")
	if err != nil {
		t.Fatalf("prototype not stored: %v", err)
	}
	if p.Samples != 2 || len(p.Vector) != len(trained.Vector) {
		t.Errorf("stored prototype = %+v", p)
	}
	if !s.Settings().Bool(store.SettingPrototypesChanged) {
		t.Error("prototype change not flagged")
	}

	rec = do(t, mux, http.MethodGet, "/api/signs/STOP", nil)
	got := decode[signResponse](t, rec)
	if !got.Trained || got.Samples != 2 || len(got.Vector) == 0 {
		t.Errorf("GET after train = %+v", got)
	}
}

func TestSigns_Delete(t *testing.T) {
	mux, s := newTestMux(t)
	if _, err := s.Samples().Create("WATER", []json.RawMessage{sampleJSON(t, detector.OpenPalmLandmarks())}); err != nil {
		t.Fatal(err)
	}
	if err := s.Prototypes().Upsert(&store.Prototype{Token: "WATER", Vector: []float64{1, 2}, Samples: 1}); err != nil {
		t.Fatal(err)
	}

	rec := do(t, mux, http.MethodDelete, "/api/signs/WATER", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	got := decode[signResponse](t, do(t, mux, http.MethodGet, "/api/signs/WATER", nil))
	if got.Trained || got.Samples != 0 {
		t.Errorf("sign not cleared: %+v", got)
	}
	if !s.Settings().Bool(store.SettingPrototypesChanged) {
		t.Error("prototype removal not flagged")
	}

	// Deleting again is harmless.
	if rec := do(t, mux, http.MethodDelete, "/api/signs/WATER", nil); rec.Code != http.StatusNoContent {
		t.Errorf("second delete status = %d, want 204", rec.Code)
	}
}

func TestTranscript(t *testing.T) {
	mux, s := newTestMux(t)
	for _, c := range []store.Commit{
		{SessionID: "abc", Token: "YES", TS: 2000, StableMS: 400},
		{SessionID: "abc", Token: "HELLO", TS: 400, StableMS: 400},
		{SessionID: "other", Token: "NO", TS: 900, StableMS: 400},
	} {
		c := c
		if err := s.Commits().Create(&c); err != nil {
			t.Fatal(err)
		}
	}

	rec := do(t, mux, http.MethodGet, "/api/sessions/abc/transcript", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[transcriptResponse](t, rec)
	if resp.Text != "HELLO YES" {
		t.Errorf("text = %q, want %q", resp.Text, "HELLO YES")
	}
	if len(resp.Commits) != 2 || resp.Commits[0].TS != 400 {
		t.Errorf("unexpected commits %+v", resp.Commits)
	}

	empty := decode[transcriptResponse](t, do(t, mux, http.MethodGet, "/api/sessions/missing/transcript", nil))
	if empty.Text != "" || len(empty.Commits) != 0 {
		t.Errorf("unknown session transcript = %+v", empty)
	}
}

func TestRecentCommits(t *testing.T) {
	mux, s := newTestMux(t)
	for i, tok := range []string{"HELLO", "YES", "NO"} {
		c := store.Commit{SessionID: "s", Token: tok, TS: int64(i+1) * 1000}
		if err := s.Commits().Create(&c); err != nil {
			t.Fatal(err)
		}
	}

	resp := decode[recentResponse](t, do(t, mux, http.MethodGet, "/api/commits?limit=2", nil))
	if len(resp.Commits) != 2 || resp.Commits[0].Token != "NO" {
		t.Errorf("unexpected recent commits %+v", resp.Commits)
	}

	if rec := do(t, mux, http.MethodGet, "/api/commits?limit=zero", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
