package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"hls-player/internal/manifest"
	"hls-player/internal/quality"

	"github.com/go-chi/chi/v5"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// Handler exposes the player control API using go-chi.
// Request counting is left to metrics.RequestMiddleware.
type Handler struct {
	orch *Orchestrator
	log  *slog.Logger
}

// NewHandler returns a Handler for orch.
func NewHandler(orch *Orchestrator, log *slog.Logger) *Handler {
	return &Handler{orch: orch, log: log}
}

// Routes registers the control endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/bandwidth", h.PostBandwidth)
	r.Put("/tier", h.PutTier)
	r.Post("/low-resource", h.PostLowResource)
	r.Get("/status", h.GetStatus)
	r.Get("/playlist.m3u8", h.GetPlaylist)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Get("/{session_id}", h.GetSession)
	})
}

type bandwidthRequest struct {
	Bandwidth *float64 `json:"bandwidth"`
}

type tierRequest struct {
	Index *int `json:"index"`
}

type levelRequest struct {
	Level *float64 `json:"level"`
}

type tierResponse struct {
	Tier     int  `json:"tier"`
	Switched bool `json:"switched"`
}

// PostBandwidth handles POST /bandwidth.
// Body: { "bandwidth": 1200 }.
func (h *Handler) PostBandwidth(w http.ResponseWriter, r *http.Request) {
	var req bandwidthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Bandwidth == nil || *req.Bandwidth < 0 {
		h.log.Debug("invalid bandwidth body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	tier, switched := h.orch.OnBandwidth(*req.Bandwidth)
	h.log.Debug("bandwidth sample",
		slog.Float64("bandwidth", *req.Bandwidth),
		slog.Int("tier", tier),
		slog.Bool("switched", switched))
	writeJSON(w, http.StatusAccepted, tierResponse{Tier: tier, Switched: switched})
}

// PutTier handles PUT /tier.
// Body: { "index": 1 }.
func (h *Handler) PutTier(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		h.log.Debug("invalid tier body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switched, err := h.orch.SetTier(*req.Index)
	if err != nil {
		if errors.Is(err, quality.ErrOutOfRange) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.log.Error("set tier failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, tierResponse{Tier: *req.Index, Switched: switched})
}

// PostLowResource handles POST /low-resource.
// Body: { "level": 0.1 }.
func (h *Handler) PostLowResource(w http.ResponseWriter, r *http.Request) {
	var req levelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Level == nil {
		h.log.Debug("invalid low-resource body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	tier, lowered := h.orch.OnLowResource(*req.Level)
	writeJSON(w, http.StatusAccepted, tierResponse{Tier: tier, Switched: lowered})
}

// GetStatus handles GET /status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Status())
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Sessions())
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s, ok := h.orch.Session(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetPlaylist handles GET /playlist.m3u8: the segments resolved for the
// current session, ended once that session has finished.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	s, ok := h.orch.CurrentSession()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	m3u8 := manifest.Build(s.Segments, h.orch.SegmentDuration(), s.Ended())
	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m3u8))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
