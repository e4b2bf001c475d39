package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/signbridge/internal/store"
)

// TranscriptHandler serves committed words per session.
type TranscriptHandler struct {
	store *store.Store
}

// NewTranscriptHandler creates a new TranscriptHandler with the given store.
func NewTranscriptHandler(s *store.Store) *TranscriptHandler {
	return &TranscriptHandler{store: s}
}

// Register mounts the handler's routes on mux.
func (h *TranscriptHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/{id}/transcript", h.transcript)
	mux.HandleFunc("GET /api/commits", h.recent)
}

type commitResponse struct {
	SessionID  string  `json:"session_id"`
	Token      string  `json:"token"`
	Confidence float64 `json:"confidence"`
	TS         int64   `json:"ts"`
	StableMS   int64   `json:"stable_ms"`
	CreatedAt  string  `json:"created_at"`
}

type transcriptResponse struct {
	SessionID string           `json:"session_id"`
	Text      string           `json:"text"`
	Commits   []commitResponse `json:"commits"`
}

type recentResponse struct {
	Commits []commitResponse `json:"commits"`
}

func toCommitResponses(commits []store.Commit) []commitResponse {
	out := make([]commitResponse, 0, len(commits))
	for _, c := range commits {
		out = append(out, commitResponse{
			SessionID:  c.SessionID,
			Token:      c.Token,
			Confidence: c.Confidence,
			TS:         c.TS,
			StableMS:   c.StableMS,
			CreatedAt:  formatTime(c.CreatedAt),
		})
	}
	return out
}

// transcript handles GET /api/sessions/{id}/transcript. An unknown session
// has an empty transcript.
func (h *TranscriptHandler) transcript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	commits, err := h.store.Commits().ListBySession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transcript")
		return
	}

	words := make([]string, len(commits))
	for i, c := range commits {
		words[i] = c.Token
	}

	writeJSON(w, http.StatusOK, transcriptResponse{
		SessionID: id,
		Text:      strings.Join(words, " "),
		Commits:   toCommitResponses(commits),
	})
}

// recent handles GET /api/commits?limit=N.
func (h *TranscriptHandler) recent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	commits, err := h.store.Commits().Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list commits")
		return
	}

	writeJSON(w, http.StatusOK, recentResponse{Commits: toCommitResponses(commits)})
}
