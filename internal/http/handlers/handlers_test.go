package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/queue"
)

type stubService struct {
	createJob        func(context.Context, queue.CreateJobRequest) (*queue.CreateJobResult, error)
	enqueuePrompt    func(context.Context, queue.EnqueuePromptRequest) (string, error)
	enqueueEnhance   func(context.Context, queue.EnqueueEnhancementRequest) (string, error)
	getPromptStatus  func(context.Context, string) (*domain.PromptGenerationJob, error)
	cancelPromptJob  func(context.Context, string) error
	getQueueStats    func(context.Context) (*domain.QueueStats, error)
	dispatchedScopes []domain.JobScope
}

func (s *stubService) CreateJob(ctx context.Context, req queue.CreateJobRequest) (*queue.CreateJobResult, error) {
	return s.createJob(ctx, req)
}

func (s *stubService) EnqueuePrompt(ctx context.Context, req queue.EnqueuePromptRequest) (string, error) {
	return s.enqueuePrompt(ctx, req)
}

func (s *stubService) EnqueuePromptEnhancement(ctx context.Context, req queue.EnqueueEnhancementRequest) (string, error) {
	return s.enqueueEnhance(ctx, req)
}

func (s *stubService) GetPromptStatus(ctx context.Context, promptJobID string) (*domain.PromptGenerationJob, error) {
	return s.getPromptStatus(ctx, promptJobID)
}

func (s *stubService) CancelPromptJob(ctx context.Context, promptJobID string) error {
	return s.cancelPromptJob(ctx, promptJobID)
}

func (s *stubService) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	return s.getQueueStats(ctx)
}

func (s *stubService) TriggerDispatch(ctx context.Context, scope domain.JobScope) {
	s.dispatchedScopes = append(s.dispatchedScopes, scope)
}

type stubCleaner struct {
	cleanup func(context.Context) (queue.CleanupSummary, error)
	reset   func(context.Context) (queue.CleanupSummary, error)
}

func (s *stubCleaner) Cleanup(ctx context.Context) (queue.CleanupSummary, error) {
	return s.cleanup(ctx)
}

func (s *stubCleaner) Reset(ctx context.Context) (queue.CleanupSummary, error) {
	return s.reset(ctx)
}

func testRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/rows/{row_id}/jobs", app.CreateJob)
	r.Post("/v1/dispatch", app.TriggerDispatch)
	r.Post("/v1/cleanup", app.RunCleanup)
	r.Post("/v1/cleanup/reset", app.RunReset)
	r.Post("/v1/prompt-jobs", app.EnqueuePrompt)
	r.Post("/v1/prompt-jobs/enhance", app.EnqueuePromptEnhancement)
	r.Get("/v1/prompt-jobs/stats", app.QueueStats)
	r.Get("/v1/prompt-jobs/{prompt_job_id}", app.PromptStatus)
	r.Delete("/v1/prompt-jobs/{prompt_job_id}", app.CancelPrompt)
	r.Get("/healthz", app.Healthz)
	return r
}

func newTestApp(service QueueService, cleaner Cleaner) *App {
	return &App{
		Service: service,
		Reaper:  cleaner,
		Logger:  zerolog.Nop(),
	}
}

func TestCreateJobHandler(t *testing.T) {
	var captured queue.CreateJobRequest
	service := &stubService{
		createJob: func(ctx context.Context, req queue.CreateJobRequest) (*queue.CreateJobResult, error) {
			captured = req
			return &queue.CreateJobResult{JobIDs: []string{"j1", "j2"}}, nil
		},
	}
	router := testRouter(newTestApp(service, nil))

	body := `{"ref_image_paths":["refs/a.png"],"target_image_path":"targets/t.png","quantity":2}`
	req := httptest.NewRequest(http.MethodPost, "/v1/rows/r1/jobs", strings.NewReader(body))
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if captured.Row.RowID != "r1" || captured.Row.VariantRowID != "" {
		t.Fatalf("row ref = %+v, want row r1", captured.Row)
	}
	if captured.UserID != "u1" || captured.Quantity != 2 {
		t.Fatalf("request = %+v", captured)
	}
	var result queue.CreateJobResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(result.JobIDs) != 2 {
		t.Fatalf("job ids = %v, want 2", result.JobIDs)
	}
}

func TestCreateJobHandlerVariantRef(t *testing.T) {
	var captured queue.CreateJobRequest
	service := &stubService{
		createJob: func(ctx context.Context, req queue.CreateJobRequest) (*queue.CreateJobResult, error) {
			captured = req
			return &queue.CreateJobResult{JobIDs: []string{"j1"}}, nil
		},
	}
	router := testRouter(newTestApp(service, nil))

	body := `{"variant":true,"target_image_path":"targets/t.png"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/rows/v1/jobs", strings.NewReader(body))
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if captured.Row.VariantRowID != "v1" || captured.Row.RowID != "" {
		t.Fatalf("row ref = %+v, want variant v1", captured.Row)
	}
}

func TestCreateJobHandlerRequiresUser(t *testing.T) {
	router := testRouter(newTestApp(&stubService{}, nil))
	req := httptest.NewRequest(http.MethodPost, "/v1/rows/r1/jobs", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestCreateJobHandlerMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: domain.ErrNotFound, want: http.StatusNotFound},
		{name: "validation", err: domain.ErrValidation, want: http.StatusBadRequest},
		{name: "access denied", err: domain.ErrAccessDenied, want: http.StatusForbidden},
		{name: "internal", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubService{
				createJob: func(ctx context.Context, req queue.CreateJobRequest) (*queue.CreateJobResult, error) {
					return nil, tc.err
				},
			}
			router := testRouter(newTestApp(service, nil))
			req := httptest.NewRequest(http.MethodPost, "/v1/rows/r1/jobs", strings.NewReader(`{"target_image_path":"t.png"}`))
			req.Header.Set("X-User-ID", "u1")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestTriggerDispatchHandler(t *testing.T) {
	service := &stubService{}
	router := testRouter(newTestApp(service, nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", strings.NewReader(`{"model_id":"m1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if len(service.dispatchedScopes) != 1 || service.dispatchedScopes[0].ModelID != "m1" {
		t.Fatalf("dispatched scopes = %+v", service.dispatchedScopes)
	}
}

func TestCleanupHandlers(t *testing.T) {
	cleaner := &stubCleaner{
		cleanup: func(ctx context.Context) (queue.CleanupSummary, error) {
			return queue.CleanupSummary{StuckQueued: 2}, nil
		},
		reset: func(ctx context.Context) (queue.CleanupSummary, error) {
			return queue.CleanupSummary{Stale: 5}, nil
		},
	}
	router := testRouter(newTestApp(&stubService{}, cleaner))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cleanup", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d, want %d", rec.Code, http.StatusOK)
	}
	var summary queue.CleanupSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.StuckQueued != 2 {
		t.Fatalf("StuckQueued = %d, want 2", summary.StuckQueued)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cleanup/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want %d", rec.Code, http.StatusOK)
	}
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Stale != 5 {
		t.Fatalf("Stale = %d, want 5", summary.Stale)
	}
}

func TestEnqueuePromptHandler(t *testing.T) {
	var captured queue.EnqueuePromptRequest
	service := &stubService{
		enqueuePrompt: func(ctx context.Context, req queue.EnqueuePromptRequest) (string, error) {
			captured = req
			return "p1", nil
		},
	}
	router := testRouter(newTestApp(service, nil))

	body := `{"row_id":"r1","model_id":"m1","target_url":"https://signed.test/t.png","priority":7,"mode":"lifestyle"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/prompt-jobs", strings.NewReader(body))
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if captured.RowID != "r1" || captured.UserID != "u1" || captured.Priority != 7 || captured.Mode != "lifestyle" {
		t.Fatalf("request = %+v", captured)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["prompt_job_id"] != "p1" {
		t.Fatalf("prompt_job_id = %q, want p1", resp["prompt_job_id"])
	}
}

func TestPromptStatusHandler(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	service := &stubService{
		getPromptStatus: func(ctx context.Context, id string) (*domain.PromptGenerationJob, error) {
			if id != "p1" {
				return nil, domain.ErrNotFound
			}
			return &domain.PromptGenerationJob{
				ID:              "p1",
				RowID:           "r1",
				ModelID:         "m1",
				UserID:          "u1",
				Operation:       domain.PromptOperationGenerate,
				Status:          domain.PromptJobStatusProcessing,
				GeneratedPrompt: "",
				MaxRetries:      domain.DefaultMaxRetries,
				Priority:        domain.DefaultPriority,
				CreatedAt:       started.Add(-time.Minute),
				StartedAt:       &started,
			}, nil
		},
	}
	router := testRouter(newTestApp(service, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/prompt-jobs/p1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var view map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view["status"] != "processing" {
		t.Fatalf("status field = %v, want processing", view["status"])
	}
	if _, ok := view["result"]; ok {
		t.Fatal("result present for an unfinished job")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/prompt-jobs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCancelPromptHandler(t *testing.T) {
	var cancelled string
	service := &stubService{
		cancelPromptJob: func(ctx context.Context, id string) error {
			cancelled = id
			return nil
		},
	}
	router := testRouter(newTestApp(service, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/prompt-jobs/p1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if cancelled != "p1" {
		t.Fatalf("cancelled = %q, want p1", cancelled)
	}
}

func TestCancelPromptHandlerConflict(t *testing.T) {
	service := &stubService{
		cancelPromptJob: func(ctx context.Context, id string) error {
			return domain.ErrNotCancellable
		},
	}
	router := testRouter(newTestApp(service, nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/prompt-jobs/p1", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestQueueStatsHandler(t *testing.T) {
	service := &stubService{
		getQueueStats: func(ctx context.Context) (*domain.QueueStats, error) {
			return &domain.QueueStats{
				TotalQueued:       3,
				TotalProcessing:   1,
				AverageWaitTime:   30 * time.Second,
				EstimatedWaitTime: 90 * time.Second,
			}, nil
		},
	}
	router := testRouter(newTestApp(service, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/prompt-jobs/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var stats map[string]float64
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats["total_queued"] != 3 {
		t.Fatalf("total_queued = %v, want 3", stats["total_queued"])
	}
	if stats["estimated_wait_seconds"] != 90 {
		t.Fatalf("estimated_wait_seconds = %v, want 90", stats["estimated_wait_seconds"])
	}
}

func TestHealthzHandler(t *testing.T) {
	app := newTestApp(&stubService{}, nil)
	app.Health = func(ctx context.Context) error { return nil }
	router := testRouter(app)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	app.Health = func(ctx context.Context) error { return errors.New("db unreachable") }
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
