package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/signing"
	"server/internal/usage"
)

// Service exposes the job and prompt queue operations consumed by the
// surrounding application.
type Service struct {
	jobs       domain.JobRepository
	promptJobs domain.PromptJobRepository
	rows       domain.RowRepository
	models     domain.ModelRepository
	signer     signing.Signer
	trigger    Trigger
	usage      usage.Counter
	aggregator *RowStatusAggregator
	logger     zerolog.Logger
	signedTTL  time.Duration
}

// ServiceOptions wires a Service.
type ServiceOptions struct {
	Jobs       domain.JobRepository
	PromptJobs domain.PromptJobRepository
	Rows       domain.RowRepository
	Models     domain.ModelRepository
	Signer     signing.Signer
	Trigger    Trigger
	Usage      usage.Counter
	Logger     zerolog.Logger
	SignedTTL  time.Duration
}

// NewService creates the queue service.
func NewService(opts ServiceOptions) *Service {
	ttl := opts.SignedTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	counter := opts.Usage
	if counter == nil {
		counter = usage.NopCounter{}
	}
	return &Service{
		jobs:       opts.Jobs,
		promptJobs: opts.PromptJobs,
		rows:       opts.Rows,
		models:     opts.Models,
		signer:     opts.Signer,
		trigger:    opts.Trigger,
		usage:      counter,
		aggregator: NewRowStatusAggregator(opts.Jobs, opts.Rows, opts.Logger),
		logger:     opts.Logger,
		signedTTL:  ttl,
	}
}

// CreateJobRequest describes one job-create call.
type CreateJobRequest struct {
	Row                 domain.RowRef
	UserID              string
	RefImagePaths       []string
	TargetImagePath     string
	Quantity            int
	UseAIPrompt         bool
	PreserveComposition bool
	Priority            int
}

// CreateJobResult reports what was created.
type CreateJobResult struct {
	JobIDs      []string `json:"job_ids"`
	PromptJobID string   `json:"prompt_job_id,omitempty"`
}

// CreateJob writes the queued generation jobs for a row, optionally gated
// on a new prompt-generation job, then fires a dispatch trigger and counts
// usage. The trigger is fire-and-forget; callers poll for progress.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*CreateJobResult, error) {
	if err := req.Row.Validate(); err != nil {
		return nil, err
	}
	row, err := s.rows.GetRow(ctx, req.Row)
	if err != nil {
		return nil, fmt.Errorf("load row: %w", err)
	}
	model, err := s.models.GetModel(ctx, row.ModelID)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	result := &CreateJobResult{}
	promptStatus := domain.PromptStatusCompleted
	if req.UseAIPrompt {
		promptJob, err := s.buildPromptJob(ctx, req, row, model)
		if err != nil {
			return nil, err
		}
		if err := s.promptJobs.Create(ctx, promptJob); err != nil {
			return nil, fmt.Errorf("create prompt job: %w", err)
		}
		result.PromptJobID = promptJob.ID
		promptStatus = domain.PromptStatusPending
	}

	for i := 0; i < quantity; i++ {
		job := &domain.GenerationJob{
			ID:           uuid.NewString(),
			RowID:        req.Row.RowID,
			VariantRowID: req.Row.VariantRowID,
			ModelID:      model.ID,
			TeamID:       model.TeamID,
			UserID:       req.UserID,
			Status:       domain.JobStatusQueued,
			PromptJobID:  result.PromptJobID,
			PromptStatus: promptStatus,
			Payload: domain.GenerationPayload{
				RefImagePaths:       req.RefImagePaths,
				TargetImagePath:     req.TargetImagePath,
				Prompt:              model.DefaultPrompt,
				Width:               model.OutputWidth,
				Height:              model.OutputHeight,
				ProviderModel:       model.ProviderModel,
				PreserveComposition: req.PreserveComposition,
			},
		}
		if err := s.jobs.Create(ctx, job); err != nil {
			// Jobs already written stay queued; the dispatcher and reaper
			// own them from here.
			return nil, fmt.Errorf("create generation job: %w", err)
		}
		result.JobIDs = append(result.JobIDs, job.ID)
	}

	if err := s.rows.UpdateRowStatus(ctx, req.Row, domain.RowStatusQueued); err != nil {
		s.logger.Warn().Err(err).Str("row_id", req.Row.ID()).Msg("service: row status not updated")
	}

	if s.trigger != nil && !req.UseAIPrompt {
		// Prompt-gated jobs are not dispatchable yet; the prompt processor
		// fires the trigger once the prompt completes.
		s.trigger.Enqueue(ctx, domain.JobScope{ModelID: model.ID, VariantRowID: req.Row.VariantRowID})
	}
	s.usage.Increment(ctx, req.UserID, quantity)

	s.logger.Info().
		Str("row_id", req.Row.ID()).
		Int("jobs", len(result.JobIDs)).
		Bool("ai_prompt", req.UseAIPrompt).
		Msg("service: jobs created")
	return result, nil
}

func (s *Service) buildPromptJob(ctx context.Context, req CreateJobRequest, row *domain.Row, model *domain.Model) (*domain.PromptGenerationJob, error) {
	targetURL, err := s.signer.Sign(ctx, req.TargetImagePath, s.signedTTL)
	if err != nil {
		if errors.Is(err, signing.ErrObjectMissing) {
			return nil, fmt.Errorf("%w: target image not found", domain.ErrValidation)
		}
		return nil, fmt.Errorf("sign target image: %w", err)
	}
	refURLs := make([]string, 0, len(req.RefImagePaths))
	for _, path := range req.RefImagePaths {
		url, err := s.signer.Sign(ctx, path, s.signedTTL)
		if err != nil {
			if errors.Is(err, signing.ErrObjectMissing) {
				continue
			}
			return nil, fmt.Errorf("sign reference image: %w", err)
		}
		refURLs = append(refURLs, url)
	}
	return &domain.PromptGenerationJob{
		ID:         uuid.NewString(),
		RowID:      row.ID,
		ModelID:    model.ID,
		UserID:     req.UserID,
		Operation:  domain.PromptOperationGenerate,
		RefURLs:    refURLs,
		TargetURL:  targetURL,
		Status:     domain.PromptJobStatusQueued,
		MaxRetries: domain.DefaultMaxRetries,
		Priority:   domain.ClampPriority(req.Priority),
	}, nil
}

// EnqueuePromptRequest describes a standalone prompt-generation enqueue.
type EnqueuePromptRequest struct {
	RowID     string
	ModelID   string
	UserID    string
	RefURLs   []string
	TargetURL string
	Priority  int
	Mode      string
}

// EnqueuePrompt queues a prompt-generation job and returns its id.
func (s *Service) EnqueuePrompt(ctx context.Context, req EnqueuePromptRequest) (string, error) {
	job := &domain.PromptGenerationJob{
		ID:         uuid.NewString(),
		RowID:      req.RowID,
		ModelID:    req.ModelID,
		UserID:     req.UserID,
		Operation:  domain.PromptOperationGenerate,
		RefURLs:    req.RefURLs,
		TargetURL:  req.TargetURL,
		Mode:       req.Mode,
		Status:     domain.PromptJobStatusQueued,
		MaxRetries: domain.DefaultMaxRetries,
		Priority:   domain.ClampPriority(req.Priority),
	}
	if err := s.promptJobs.Create(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// EnqueueEnhancementRequest describes a prompt-enhancement enqueue.
type EnqueueEnhancementRequest struct {
	RowID          string
	ModelID        string
	UserID         string
	ExistingPrompt string
	Instructions   string
	RefURLs        []string
	TargetURL      string
	Priority       int
	Mode           string
}

// EnqueuePromptEnhancement queues a prompt-enhancement job and returns its id.
func (s *Service) EnqueuePromptEnhancement(ctx context.Context, req EnqueueEnhancementRequest) (string, error) {
	job := &domain.PromptGenerationJob{
		ID:               uuid.NewString(),
		RowID:            req.RowID,
		ModelID:          req.ModelID,
		UserID:           req.UserID,
		Operation:        domain.PromptOperationEnhance,
		RefURLs:          req.RefURLs,
		TargetURL:        req.TargetURL,
		ExistingPrompt:   req.ExistingPrompt,
		UserInstructions: req.Instructions,
		Mode:             req.Mode,
		Status:           domain.PromptJobStatusQueued,
		MaxRetries:       domain.DefaultMaxRetries,
		Priority:         domain.ClampPriority(req.Priority),
	}
	if err := s.promptJobs.Create(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// GetPromptStatus returns the current prompt job record.
func (s *Service) GetPromptStatus(ctx context.Context, promptJobID string) (*domain.PromptGenerationJob, error) {
	return s.promptJobs.GetByID(ctx, promptJobID)
}

// CancelPromptJob cancels a prompt job while it is queued or processing.
func (s *Service) CancelPromptJob(ctx context.Context, promptJobID string) error {
	if err := s.promptJobs.Cancel(ctx, promptJobID); err != nil {
		return err
	}
	// Cancellation is a prompt failure as far as dependents are concerned.
	deps, rows := cascadePromptFailure(ctx, s.jobs, s.aggregator, s.logger, promptJobID, "cancelled by user", false)
	s.logger.Info().
		Str("prompt_job_id", promptJobID).
		Int("dependents_failed", deps).
		Int("rows_updated", rows).
		Msg("service: prompt job cancelled")
	return nil
}

// GetQueueStats aggregates queue counters for operators.
func (s *Service) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	return s.promptJobs.Stats(ctx)
}

// TriggerDispatch fires a dispatch trigger; it never blocks or fails.
func (s *Service) TriggerDispatch(ctx context.Context, scope domain.JobScope) {
	if s.trigger == nil {
		return
	}
	s.trigger.Enqueue(ctx, scope)
}
