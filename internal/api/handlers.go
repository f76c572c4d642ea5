package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/bobarin/montage/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Runs is the run service the handlers drive.
type Runs interface {
	Start(ctx context.Context, prod models.Production) (*models.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Run, error)
	Events(ctx context.Context, id uuid.UUID) ([]models.TaskEvent, error)
	StartRegenerate(ctx context.Context, id uuid.UUID, sceneID string) error
}

// RegenerateQueue hands regenerate requests to the feedback consumer.
type RegenerateQueue interface {
	EnqueueRegenerate(ctx context.Context, runID uuid.UUID, sceneID, reason string) (uuid.UUID, error)
}

type Handler struct {
	// baseCtx outlives requests; background work started by a handler runs under it
	baseCtx context.Context
	runs    Runs
	queue   RegenerateQueue
}

// NewHandler wires the handlers. q may be nil, in which case regenerate
// requests run in-process.
func NewHandler(baseCtx context.Context, runs Runs, q RegenerateQueue) *Handler {
	return &Handler{
		baseCtx: baseCtx,
		runs:    runs,
		queue:   q,
	}
}

// CreateRun handles POST /v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var prod models.Production
	if err := json.NewDecoder(r.Body).Decode(&prod); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Validate
	if len(prod.Scenes) == 0 {
		respondError(w, http.StatusBadRequest, "At least one scene is required")
		return
	}

	run, err := h.runs.Start(h.baseCtx, prod)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateRunResponse{
		RunID:  run.ID,
		Status: run.Status,
	})
}

// GetRun handles GET /v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// GetPlan handles GET /v1/runs/{id}/plan
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	if run.Plan == nil {
		if run.Status == models.RunFailed {
			respondError(w, http.StatusUnprocessableEntity, run.Error)
			return
		}
		respondError(w, http.StatusConflict, "Plan not ready, run is "+string(run.Status))
		return
	}
	respondJSON(w, http.StatusOK, run.Plan)
}

// GetEvents handles GET /v1/runs/{id}/events
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	events, err := h.runs.Events(r.Context(), run.ID)
	if err != nil {
		log.Printf("[API] Failed to read events of run %s: %v", run.ID, err)
		respondError(w, http.StatusInternalServerError, "Failed to read events")
		return
	}
	if events == nil {
		events = []models.TaskEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

// RegenerateScene handles POST /v1/runs/{id}/scenes/{sceneId}/regenerate
// Body (optional): {"reason": "..."}
func (h *Handler) RegenerateScene(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	sceneID := chi.URLParam(r, "sceneId")

	var req models.RegenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	found := false
	for _, sc := range run.Production.Scenes {
		if sc.ID == sceneID {
			found = true
			break
		}
	}
	if !found {
		respondError(w, http.StatusNotFound, "Scene not found")
		return
	}
	if run.Status == models.RunGenerating || run.Status == models.RunAssembling {
		respondError(w, http.StatusConflict, "Run is still in progress")
		return
	}

	resp := models.RegenerateResponse{RunID: run.ID, SceneID: sceneID}

	if h.queue != nil {
		jobID, err := h.queue.EnqueueRegenerate(r.Context(), run.ID, sceneID, req.Reason)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to enqueue regenerate request")
			return
		}
		resp.JobID = &jobID
		resp.Status = "queued"
		respondJSON(w, http.StatusAccepted, resp)
		return
	}

	if err := h.runs.StartRegenerate(h.baseCtx, run.ID, sceneID); err != nil {
		switch {
		case errors.Is(err, models.ErrRunBusy):
			respondError(w, http.StatusConflict, "Run is still in progress")
		case errors.Is(err, models.ErrSceneNotFound):
			respondError(w, http.StatusNotFound, "Scene not found")
		default:
			log.Printf("[API] Regenerate %s of run %s failed: %v", sceneID, run.ID, err)
			respondError(w, http.StatusInternalServerError, "Failed to start regenerate")
		}
		return
	}
	resp.Status = "regenerating"
	respondJSON(w, http.StatusAccepted, resp)
}

// Helper methods
func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*models.Run, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run ID")
		return nil, false
	}

	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	return run, true
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrRunNotFound):
		respondError(w, http.StatusNotFound, "Run not found")
	case errors.Is(err, models.ErrSceneNotFound):
		respondError(w, http.StatusNotFound, "Scene not found")
	case errors.Is(err, models.ErrRunBusy):
		respondError(w, http.StatusConflict, "Run is still in progress")
	case errors.Is(err, models.ErrConfiguration):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("[API] Internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
