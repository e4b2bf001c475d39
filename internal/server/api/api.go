// Package api provides the REST handlers for recorded samples, trained
// prototypes and session transcripts.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/signbridge/internal/classify"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// keywordFromPath resolves the {token} path value to a trainable keyword,
// writing a 404 when it is not one.
func keywordFromPath(w http.ResponseWriter, r *http.Request) (classify.Token, bool) {
	tok, err := classify.ParseToken(r.PathValue("token"))
	if err != nil || !tok.IsKeyword() {
		writeError(w, http.StatusNotFound, "Unknown sign")
		return "", false
	}
	return tok, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
