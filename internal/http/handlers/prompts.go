package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/queue"
)

type enqueuePromptRequest struct {
	RowID     string   `json:"row_id"`
	ModelID   string   `json:"model_id"`
	RefURLs   []string `json:"ref_urls"`
	TargetURL string   `json:"target_url"`
	Priority  int      `json:"priority"`
	Mode      string   `json:"mode"`
}

// EnqueuePrompt queues a prompt-generation job.
func (a *App) EnqueuePrompt(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req enqueuePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	id, err := a.Service.EnqueuePrompt(r.Context(), queue.EnqueuePromptRequest{
		RowID:     req.RowID,
		ModelID:   req.ModelID,
		UserID:    userID,
		RefURLs:   req.RefURLs,
		TargetURL: req.TargetURL,
		Priority:  req.Priority,
		Mode:      req.Mode,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"prompt_job_id": id})
}

type enqueueEnhancementRequest struct {
	RowID          string   `json:"row_id"`
	ModelID        string   `json:"model_id"`
	ExistingPrompt string   `json:"existing_prompt"`
	Instructions   string   `json:"instructions"`
	RefURLs        []string `json:"ref_urls"`
	TargetURL      string   `json:"target_url"`
	Priority       int      `json:"priority"`
	Mode           string   `json:"mode"`
}

// EnqueuePromptEnhancement queues a prompt-enhancement job.
func (a *App) EnqueuePromptEnhancement(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req enqueueEnhancementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	id, err := a.Service.EnqueuePromptEnhancement(r.Context(), queue.EnqueueEnhancementRequest{
		RowID:          req.RowID,
		ModelID:        req.ModelID,
		UserID:         userID,
		ExistingPrompt: req.ExistingPrompt,
		Instructions:   req.Instructions,
		RefURLs:        req.RefURLs,
		TargetURL:      req.TargetURL,
		Priority:       req.Priority,
		Mode:           req.Mode,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"prompt_job_id": id})
}

// PromptStatus returns the current prompt job record.
func (a *App) PromptStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prompt_job_id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt_job_id required")
		return
	}
	job, err := a.Service.GetPromptStatus(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, promptJobView(job))
}

// CancelPrompt cancels a prompt job while it is queued or processing.
func (a *App) CancelPrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "prompt_job_id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt_job_id required")
		return
	}
	if err := a.Service.CancelPromptJob(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// QueueStats returns queue counters and wait estimates.
func (a *App) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Service.GetQueueStats(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"total_queued":           stats.TotalQueued,
		"total_processing":       stats.TotalProcessing,
		"total_completed":        stats.TotalCompleted,
		"total_failed":           stats.TotalFailed,
		"average_wait_seconds":   stats.AverageWaitTime.Seconds(),
		"estimated_wait_seconds": stats.EstimatedWaitTime.Seconds(),
	})
}

func promptJobView(job *domain.PromptGenerationJob) map[string]any {
	view := map[string]any{
		"id":          job.ID,
		"row_id":      job.RowID,
		"model_id":    job.ModelID,
		"user_id":     job.UserID,
		"operation":   job.Operation,
		"status":      job.Status,
		"retry_count": job.RetryCount,
		"max_retries": job.MaxRetries,
		"priority":    job.Priority,
		"created_at":  job.CreatedAt.Format(time.RFC3339),
	}
	if result := job.Result(); result != "" {
		view["result"] = result
	}
	if job.Error != "" {
		view["error"] = job.Error
	}
	if job.StartedAt != nil {
		view["started_at"] = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		view["completed_at"] = job.CompletedAt.Format(time.RFC3339)
	}
	return view
}
