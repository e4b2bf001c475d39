package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ayusman/signbridge/internal/classify"
	"github.com/ayusman/signbridge/internal/store"
)

// maxSamplesBody caps one sample upload.
const maxSamplesBody = 8 << 20

// SignsHandler serves /api/signs: per-keyword samples and prototypes.
type SignsHandler struct {
	store   *store.Store
	trainer *classify.Trainer
	logger  *slog.Logger
}

// NewSignsHandler creates a new SignsHandler with the given store.
func NewSignsHandler(s *store.Store, logger *slog.Logger) *SignsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignsHandler{
		store:   s,
		trainer: classify.NewTrainer(),
		logger:  logger.With("component", "api"),
	}
}

// Register mounts the handler's routes on mux.
func (h *SignsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/signs", h.list)
	mux.HandleFunc("GET /api/signs/{token}", h.get)
	mux.HandleFunc("DELETE /api/signs/{token}", h.delete)
	mux.HandleFunc("GET /api/signs/{token}/samples", h.listSamples)
	mux.HandleFunc("POST /api/signs/{token}/samples", h.createSamples)
	mux.HandleFunc("POST /api/signs/{token}/train", h.train)
}

type signResponse struct {
	Token     string    `json:"token"`
	Samples   int       `json:"samples"`
	Trained   bool      `json:"trained"`
	Vector    []float64 `json:"vector,omitempty"`
	UpdatedAt string    `json:"updated_at,omitempty"`
}

type listSignsResponse struct {
	Signs           []signResponse `json:"signs"`
	RestartRequired bool           `json:"restart_required"`
}

type createSamplesRequest struct {
	Samples []json.RawMessage `json:"samples"`
}

type createSamplesResponse struct {
	Token string `json:"token"`
	Added int    `json:"added"`
	Total int    `json:"total"`
}

type sampleResponse struct {
	ID          int64           `json:"id"`
	SampleIndex int             `json:"sample_index"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   string          `json:"created_at"`
}

type listSamplesResponse struct {
	Token   string           `json:"token"`
	Samples []sampleResponse `json:"samples"`
}

type trainResponse struct {
	Token           string    `json:"token"`
	Samples         int       `json:"samples"`
	Vector          []float64 `json:"vector"`
	RestartRequired bool      `json:"restart_required"`
}

// list handles GET /api/signs and reports every keyword with its sample
// count and training state.
func (h *SignsHandler) list(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.Samples().CountByToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count samples")
		return
	}
	protos, err := h.store.Prototypes().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list prototypes")
		return
	}
	byToken := make(map[string]*store.Prototype, len(protos))
	for _, p := range protos {
		byToken[p.Token] = p
	}

	resp := listSignsResponse{
		Signs:           make([]signResponse, 0, len(classify.Vocabulary)),
		RestartRequired: h.store.Settings().Bool(store.SettingPrototypesChanged),
	}
	for _, tok := range classify.Vocabulary {
		if !tok.IsKeyword() {
			continue
		}
		sr := signResponse{Token: string(tok), Samples: counts[string(tok)]}
		if p, ok := byToken[string(tok)]; ok {
			sr.Trained = true
			sr.UpdatedAt = formatTime(p.UpdatedAt)
		}
		resp.Signs = append(resp.Signs, sr)
	}

	writeJSON(w, http.StatusOK, resp)
}

// get handles GET /api/signs/{token}.
func (h *SignsHandler) get(w http.ResponseWriter, r *http.Request) {
	tok, ok := keywordFromPath(w, r)
	if !ok {
		return
	}

	counts, err := h.store.Samples().CountByToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count samples")
		return
	}
	resp := signResponse{Token: string(tok), Samples: counts[string(tok)]}

	p, err := h.store.Prototypes().Get(string(tok))
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to get prototype")
		return
	default:
		resp.Trained = true
		resp.Vector = p.Vector
		resp.UpdatedAt = formatTime(p.UpdatedAt)
	}

	writeJSON(w, http.StatusOK, resp)
}

// delete handles DELETE /api/signs/{token}: drops the prototype and every
// recorded sample.
func (h *SignsHandler) delete(w http.ResponseWriter, r *http.Request) {
	tok, ok := keywordFromPath(w, r)
	if !ok {
		return
	}

	if err := h.store.Samples().DeleteByToken(string(tok)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete samples")
		return
	}
	err := h.store.Prototypes().Delete(string(tok))
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to delete prototype")
		return
	default:
		h.markChanged()
	}

	w.WriteHeader(http.StatusNoContent)
}

// listSamples handles GET /api/signs/{token}/samples.
func (h *SignsHandler) listSamples(w http.ResponseWriter, r *http.Request) {
	tok, ok := keywordFromPath(w, r)
	if !ok {
		return
	}

	samples, err := h.store.Samples().ListByToken(string(tok))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list samples")
		return
	}

	resp := listSamplesResponse{
		Token:   string(tok),
		Samples: make([]sampleResponse, 0, len(samples)),
	}
	for _, s := range samples {
		resp.Samples = append(resp.Samples, sampleResponse{
			ID:          s.ID,
			SampleIndex: s.SampleIndex,
			Data:        s.Data,
			CreatedAt:   formatTime(s.CreatedAt),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// createSamples handles POST /api/signs/{token}/samples. Every sample must
// carry a full landmark set; a bad one rejects the whole batch.
func (h *SignsHandler) createSamples(w http.ResponseWriter, r *http.Request) {
	tok, ok := keywordFromPath(w, r)
	if !ok {
		return
	}

	var req createSamplesRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSamplesBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(req.Samples) == 0 {
		writeError(w, http.StatusBadRequest, "At least one sample is required")
		return
	}
	for i, raw := range req.Samples {
		if _, err := classify.ParseSample(raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Sample %d: %v", i, err))
			return
		}
	}

	total, err := h.store.Samples().Create(string(tok), req.Samples)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save samples")
		return
	}

	writeJSON(w, http.StatusCreated, createSamplesResponse{
		Token: string(tok),
		Added: len(req.Samples),
		Total: total,
	})
}

// train handles POST /api/signs/{token}/train. The new prototype is stored
// for the next start; the running classifier is unchanged.
func (h *SignsHandler) train(w http.ResponseWriter, r *http.Request) {
	tok, ok := keywordFromPath(w, r)
	if !ok {
		return
	}

	samples, err := h.store.Samples().ListByToken(string(tok))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list samples")
		return
	}
	if len(samples) == 0 {
		writeError(w, http.StatusConflict, "No samples recorded for "+string(tok))
		return
	}

	raws := make([]json.RawMessage, len(samples))
	for i, s := range samples {
		raws[i] = s.Data
	}
	proto, err := h.trainer.Train(tok, raws)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.store.Prototypes().Upsert(&store.Prototype{
		Token:   string(tok),
		Vector:  proto.Vector,
		Samples: len(samples),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save prototype")
		return
	}
	h.markChanged()
	h.logger.Info("prototype trained", "token", tok, "samples", len(samples))

	writeJSON(w, http.StatusOK, trainResponse{
		Token:           string(tok),
		Samples:         len(samples),
		Vector:          proto.Vector,
		RestartRequired: true,
	})
}

func (h *SignsHandler) markChanged() {
	if err := h.store.Settings().Set(store.SettingPrototypesChanged, "true"); err != nil {
		h.logger.Warn("failed to flag prototype change", "error", err)
	}
}
