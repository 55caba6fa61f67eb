package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/queue"
)

type createJobRequest struct {
	Variant             bool     `json:"variant"`
	RefImagePaths       []string `json:"ref_image_paths"`
	TargetImagePath     string   `json:"target_image_path"`
	Quantity            int      `json:"quantity"`
	UseAIPrompt         bool     `json:"use_ai_prompt"`
	PreserveComposition bool     `json:"preserve_composition"`
	Priority            int      `json:"priority"`
}

// CreateJob queues generation jobs for a row and fires a dispatch trigger.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	rowID := chi.URLParam(r, "row_id")
	if rowID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "row_id required")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	ref := domain.RowRef{RowID: rowID}
	if req.Variant {
		ref = domain.RowRef{VariantRowID: rowID}
	}
	result, err := a.Service.CreateJob(r.Context(), queue.CreateJobRequest{
		Row:                 ref,
		UserID:              userID,
		RefImagePaths:       req.RefImagePaths,
		TargetImagePath:     req.TargetImagePath,
		Quantity:            req.Quantity,
		UseAIPrompt:         req.UseAIPrompt,
		PreserveComposition: req.PreserveComposition,
		Priority:            req.Priority,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, result)
}

type dispatchRequest struct {
	ModelID      string `json:"model_id"`
	VariantRowID string `json:"variant_row_id"`
}

// TriggerDispatch fires a dispatch pass; the response never waits for it.
func (a *App) TriggerDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if r.Body != nil {
		// An empty body means an unscoped dispatch.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	a.Service.TriggerDispatch(r.Context(), domain.JobScope{
		ModelID:      req.ModelID,
		VariantRowID: req.VariantRowID,
	})
	a.json(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// RunCleanup runs one scheduled-mode reaper sweep and returns its summary.
func (a *App) RunCleanup(w http.ResponseWriter, r *http.Request) {
	summary, err := a.Reaper.Cleanup(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, summary)
}

// RunReset runs the aggressive manual-mode sweep for incident recovery.
func (a *App) RunReset(w http.ResponseWriter, r *http.Request) {
	summary, err := a.Reaper.Reset(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, summary)
}
