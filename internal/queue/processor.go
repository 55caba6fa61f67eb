package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/prompt"
)

// PromptProcessor claims queued prompt-generation jobs in priority order,
// calls the LLM provider, writes the result back, and unblocks the
// generation jobs waiting on it.
type PromptProcessor struct {
	promptJobs domain.PromptJobRepository
	jobs       domain.JobRepository
	provider   prompt.Provider
	aggregator *RowStatusAggregator
	trigger    Trigger
	logger     zerolog.Logger
}

// NewPromptProcessor wires a processor. The trigger is optional: when set,
// completing a prompt enqueues a dispatch pass for the unblocked jobs.
func NewPromptProcessor(
	promptJobs domain.PromptJobRepository,
	jobs domain.JobRepository,
	provider prompt.Provider,
	aggregator *RowStatusAggregator,
	trigger Trigger,
	logger zerolog.Logger,
) *PromptProcessor {
	return &PromptProcessor{
		promptJobs: promptJobs,
		jobs:       jobs,
		provider:   provider,
		aggregator: aggregator,
		trigger:    trigger,
		logger:     logger,
	}
}

// ProcessNext claims and services one prompt job. It reports whether a job
// was claimed; an empty queue is not an error.
func (p *PromptProcessor) ProcessNext(ctx context.Context) (bool, error) {
	job, err := p.promptJobs.ClaimNext(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("claim prompt job: %w", err)
	}
	p.logger.Info().
		Str("prompt_job_id", job.ID).
		Str("operation", string(job.Operation)).
		Int("priority", job.Priority).
		Msg("prompt processor: claimed job")

	if _, err := p.jobs.MarkPromptGenerating(ctx, job.ID); err != nil {
		// Dependents stay pending; completion accepts both states.
		p.logger.Warn().Err(err).Str("prompt_job_id", job.ID).Msg("prompt processor: dependents not marked")
	}

	text, err := p.invoke(ctx, job)
	if err != nil {
		p.handleFailure(ctx, job, err)
		return true, nil
	}
	p.complete(ctx, job, text)
	return true, nil
}

// Run polls the queue until the context ends, sleeping between empty polls.
func (p *PromptProcessor) Run(ctx context.Context, pollInterval time.Duration) error {
	p.logger.Info().Msg("prompt processor: started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		claimed, err := p.ProcessNext(ctx)
		if err != nil {
			p.logger.Error().Err(err).Msg("prompt processor: pass failed")
		}
		if !claimed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	}
}

func (p *PromptProcessor) invoke(ctx context.Context, job *domain.PromptGenerationJob) (string, error) {
	switch job.Operation {
	case domain.PromptOperationEnhance:
		return p.provider.Enhance(ctx, prompt.EnhanceRequest{
			ExistingPrompt: job.ExistingPrompt,
			Instructions:   job.UserInstructions,
			RefURLs:        job.RefURLs,
			TargetURL:      job.TargetURL,
			Mode:           job.Mode,
		})
	default:
		return p.provider.Generate(ctx, prompt.GenerateRequest{
			RefURLs:   job.RefURLs,
			TargetURL: job.TargetURL,
			Mode:      job.Mode,
		})
	}
}

func (p *PromptProcessor) complete(ctx context.Context, job *domain.PromptGenerationJob, text string) {
	if err := p.promptJobs.Complete(ctx, job.ID, text); err != nil {
		// Lost to a concurrent reaper reset; the result will be recomputed
		// on the next claim.
		p.logger.Warn().Err(err).Str("prompt_job_id", job.ID).Msg("prompt processor: completion not recorded")
		return
	}
	unblocked, err := p.jobs.CompletePrompt(ctx, job.ID, text)
	if err != nil {
		p.logger.Error().Err(err).Str("prompt_job_id", job.ID).Msg("prompt processor: dependent update failed")
		return
	}
	p.logger.Info().
		Str("prompt_job_id", job.ID).
		Int("unblocked", unblocked).
		Msg("prompt processor: job completed")
	if unblocked > 0 && p.trigger != nil {
		p.trigger.Enqueue(ctx, domain.JobScope{})
	}
}

// handleFailure spends a retry when the budget allows, otherwise the job is
// terminal and its dependents are cascaded.
func (p *PromptProcessor) handleFailure(ctx context.Context, job *domain.PromptGenerationJob, cause error) {
	p.logger.Error().Err(cause).Str("prompt_job_id", job.ID).Msg("prompt processor: provider call failed")
	if !job.RetriesExhausted() {
		if err := p.promptJobs.Requeue(ctx, job.ID); err != nil {
			p.logger.Warn().Err(err).Str("prompt_job_id", job.ID).Msg("prompt processor: requeue failed")
		}
		return
	}
	errMsg := fmt.Sprintf("prompt generation failed: %v", cause)
	if err := p.promptJobs.Fail(ctx, job.ID, errMsg); err != nil {
		p.logger.Warn().Err(err).Str("prompt_job_id", job.ID).Msg("prompt processor: failure not recorded")
		return
	}
	deps, rows := cascadePromptFailure(ctx, p.jobs, p.aggregator, p.logger, job.ID, errMsg, false)
	p.logger.Info().
		Str("prompt_job_id", job.ID).
		Int("dependents_failed", deps).
		Int("rows_updated", rows).
		Msg("prompt processor: job failed terminally")
}

// cascadePromptFailure fails every generation job still waiting on a failed
// prompt job and recomputes their rows. Full sweeps include running jobs.
func cascadePromptFailure(
	ctx context.Context,
	jobs domain.JobRepository,
	aggregator *RowStatusAggregator,
	logger zerolog.Logger,
	promptJobID, errMsg string,
	includeRunning bool,
) (int, int) {
	states := []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusSubmitted}
	if includeRunning {
		states = append(states, domain.JobStatusRunning)
	}
	dependents, err := jobs.FailDependents(ctx, promptJobID, states, "prompt job failed: "+errMsg)
	if err != nil {
		logger.Error().Err(err).Str("prompt_job_id", promptJobID).Msg("prompt failure cascade failed")
		return 0, 0
	}
	if len(dependents) == 0 {
		return 0, 0
	}
	rows := aggregator.RecomputeAll(ctx, dependents)
	return len(dependents), rows
}
