package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/synchronie/cotation/internal/domain"
	"github.com/synchronie/cotation/internal/repository"
	"github.com/synchronie/cotation/internal/session"
)

// GridInvalidator drops a cached grid schema.
type GridInvalidator interface {
	Invalidate(ctx context.Context, gridID int64) error
}

// Deps are the collaborators of the HTTP handlers. Only Registry is required.
type Deps struct {
	Registry *session.Registry
	Ledger   domain.Repository
	Grids    domain.SchemaLoader
	Cache    domain.Cache
	Bus      domain.EventBus
}

// Handler holds dependencies for API handlers.
type Handler struct {
	registry *session.Registry
	ledger   domain.Repository
	grids    domain.SchemaLoader
	cache    domain.Cache
	bus      domain.EventBus
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	return &Handler{
		registry: deps.Registry,
		ledger:   deps.Ledger,
		grids:    deps.Grids,
		cache:    deps.Cache,
		bus:      deps.Bus,
		version:  version,
	}
}

// OpenSessionRequest is the request body for POST /sessions.
type OpenSessionRequest struct {
	SeanceID int64 `json:"seance_id"`
	GrilleID int64 `json:"grille_id"`
}

// OpenSessionResponse is the response for POST /sessions.
// ResumedFrom names the save record a previous cotation was reloaded from.
type OpenSessionResponse struct {
	SessionID   string          `json:"session_id"`
	ResumedFrom string          `json:"resumed_from,omitempty"`
	Grid        *domain.Grid    `json:"grid"`
	Summary     *domain.Summary `json:"summary"`
}

// RatingRequest is the request body for PUT /sessions/{id}/ratings.
type RatingRequest struct {
	DomainID    domain.ID `json:"domaine_id"`
	IndicatorID domain.ID `json:"indicateur_id"`
	Value       *int      `json:"value"`
	Weight      *float64  `json:"poids,omitempty"`
}

// SaveRequest is the request body for POST /sessions/{id}/save.
type SaveRequest struct {
	Observations string `json:"observations"`
}

// SaveResponse mirrors the upstream save answer with the session summary.
type SaveResponse struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message,omitempty"`
	RecordID string          `json:"record_id,omitempty"`
	Summary  *domain.Summary `json:"summary,omitempty"`
}

// OpenSession handles POST /sessions.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.SeanceID <= 0 || req.GrilleID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "seance_id and grille_id are required",
		})
		return
	}

	s, err := h.registry.Open(ctx, GetPractitionerID(ctx), req.SeanceID, req.GrilleID)
	if err != nil {
		if _, known := statusFor(err); !known {
			// anything else comes from talking to the web application
			slog.Error("failed to load grid", "grille_id", req.GrilleID, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error": "grid could not be loaded",
			})
			return
		}
		writeError(w, err)
		return
	}

	sum, err := h.registry.Summary(s.PractitionerID, s.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, OpenSessionResponse{
		SessionID:   s.ID,
		ResumedFrom: s.ResumedFrom,
		Grid:        s.Grid,
		Summary:     sum,
	})
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sums, err := h.registry.List(GetPractitionerID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sums,
		"count":    len(sums),
	})
}

// GetSession handles GET /sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sum, err := h.registry.Summary(GetPractitionerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// RecordRating handles PUT /sessions/{id}/ratings.
func (h *Handler) RecordRating(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.DomainID == "" || req.IndicatorID == "" || req.Value == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "domaine_id, indicateur_id and value are required",
		})
		return
	}

	sum, err := h.registry.Rate(ctx, GetPractitionerID(ctx), chi.URLParam(r, "id"),
		req.DomainID.String(), req.IndicatorID.String(), *req.Value, req.Weight)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ResetSession handles POST /sessions/{id}/reset.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sum, err := h.registry.Reset(ctx, GetPractitionerID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// PreviewSave handles GET /sessions/{id}/preview.
func (h *Handler) PreviewSave(w http.ResponseWriter, r *http.Request) {
	preview, err := h.registry.Preview(GetPractitionerID(r.Context()), chi.URLParam(r, "id"),
		r.URL.Query().Get("observations"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// SaveSession handles POST /sessions/{id}/save.
func (h *Handler) SaveSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// an empty body saves without observations
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	res, err := h.registry.Save(ctx, GetPractitionerID(ctx), chi.URLParam(r, "id"), req.Observations)
	if err != nil {
		var perr *domain.PersistenceError
		if errors.As(err, &perr) && res != nil {
			resp := SaveResponse{Success: false, Message: perr.Message, Summary: res.Summary}
			if resp.Message == "" {
				resp.Message = perr.Error()
			}
			if res.Record != nil {
				resp.RecordID = res.Record.ID
			}
			writeJSON(w, http.StatusBadGateway, resp)
			return
		}
		writeError(w, err)
		return
	}

	resp := SaveResponse{Success: true, Summary: res.Summary}
	if res.Response != nil {
		resp.Message = res.Response.Reason()
	}
	if res.Record != nil {
		resp.RecordID = res.Record.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// DiscardSession handles DELETE /sessions/{id}.
func (h *Handler) DiscardSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.Discard(GetPractitionerID(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "session discarded",
		"session_id": id,
	})
}

// ListSaves handles GET /saves?seance_id=. Only the caller's attempts are listed.
func (h *Handler) ListSaves(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "ledger not available",
		})
		return
	}

	seanceID, err := strconv.ParseInt(r.URL.Query().Get("seance_id"), 10, 64)
	if err != nil || seanceID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "seance_id query parameter is required",
		})
		return
	}

	records, err := h.ledger.ListAttempts(ctx, seanceID)
	if err != nil {
		slog.Error("failed to list save attempts", "seance_id", seanceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list save attempts",
		})
		return
	}

	practitionerID := GetPractitionerID(ctx)
	owned := make([]*domain.SaveRecord, 0, len(records))
	for _, rec := range records {
		if rec.PractitionerID == practitionerID {
			owned = append(owned, rec)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"saves": owned,
		"count": len(owned),
	})
}

// GetSave handles GET /saves/{id}. Records of other practitioners are not found.
func (h *Handler) GetSave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "ledger not available",
		})
		return
	}

	rec, err := h.ledger.GetAttempt(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.PractitionerID != GetPractitionerID(ctx) {
		writeError(w, repository.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetGrid handles GET /grids/{id}.
func (h *Handler) GetGrid(w http.ResponseWriter, r *http.Request) {
	if h.grids == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "grid loader not available",
		})
		return
	}

	gridID, ok := gridIDParam(w, r)
	if !ok {
		return
	}

	grid, err := h.grids.LoadGrid(r.Context(), gridID)
	if err != nil {
		if _, known := statusFor(err); !known {
			slog.Error("failed to load grid", "grille_id", gridID, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error": "grid could not be loaded",
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

// InvalidateGrid handles DELETE /grids/{id}/cache.
func (h *Handler) InvalidateGrid(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.grids.(GridInvalidator)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "grid cache not available",
		})
		return
	}

	gridID, ok := gridIDParam(w, r)
	if !ok {
		return
	}

	if err := inv.Invalidate(r.Context(), gridID); err != nil {
		slog.Error("failed to invalidate grid", "grille_id", gridID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to invalidate grid",
		})
		return
	}

	slog.Info("grid cache invalidated", "grille_id", gridID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "grid cache invalidated",
		"grille_id": gridID,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"

	if h.ledger != nil {
		if err := h.ledger.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"version":  h.version,
		"sessions": h.registry.Len(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func gridIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	gridID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || gridID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "grid id must be a positive integer",
		})
		return 0, false
	}
	return gridID, true
}

// statusFor maps service errors to HTTP statuses. The boolean is false for
// errors outside the known taxonomy.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, session.ErrPractitionerRequired), errors.Is(err, domain.ErrRange):
		return http.StatusBadRequest, true
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, domain.ErrSaveInFlight), errors.Is(err, domain.ErrSessionState):
		return http.StatusConflict, true
	case errors.Is(err, domain.ErrSchema), errors.Is(err, domain.ErrEmptyScore):
		return http.StatusUnprocessableEntity, true
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusBadGateway, true
	case errors.Is(err, session.ErrRegistryFull):
		return http.StatusServiceUnavailable, true
	}
	return http.StatusInternalServerError, false
}

func writeError(w http.ResponseWriter, err error) {
	status, known := statusFor(err)
	if !known {
		slog.Error("unhandled error", "error", err)
		writeJSON(w, status, map[string]string{
			"error": "internal server error",
		})
		return
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
