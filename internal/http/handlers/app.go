package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/queue"
)

// QueueService is the slice of *queue.Service the handlers depend on,
// narrowed to an interface so tests can stub it.
type QueueService interface {
	CreateJob(ctx context.Context, req queue.CreateJobRequest) (*queue.CreateJobResult, error)
	EnqueuePrompt(ctx context.Context, req queue.EnqueuePromptRequest) (string, error)
	EnqueuePromptEnhancement(ctx context.Context, req queue.EnqueueEnhancementRequest) (string, error)
	GetPromptStatus(ctx context.Context, promptJobID string) (*domain.PromptGenerationJob, error)
	CancelPromptJob(ctx context.Context, promptJobID string) error
	GetQueueStats(ctx context.Context) (*domain.QueueStats, error)
	TriggerDispatch(ctx context.Context, scope domain.JobScope)
}

// Cleaner is the reaper surface the handlers depend on.
type Cleaner interface {
	Cleanup(ctx context.Context) (queue.CleanupSummary, error)
	Reset(ctx context.Context) (queue.CleanupSummary, error)
}

// App aggregates handler dependencies.
type App struct {
	Service QueueService
	Reaper  Cleaner
	Logger  infra.Logger
	Health  HealthChecker
}

// HealthChecker pings the app's backing services.
type HealthChecker func(ctx context.Context) error

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]string{"error": slug, "message": message})
}

// fail maps domain errors onto HTTP codes.
func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrAccessDenied):
		a.error(w, http.StatusForbidden, "access_denied", err.Error())
	case errors.Is(err, domain.ErrNotCancellable):
		a.error(w, http.StatusConflict, "not_cancellable", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handler: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// currentUserID reads the identity the upstream auth layer attached.
func (a *App) currentUserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}
