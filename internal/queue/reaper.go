package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
)

// CleanupSummary reports what one reaper pass repaired, per category.
type CleanupSummary struct {
	StuckQueued           int `json:"stuck_queued"`
	StuckSubmitted        int `json:"stuck_submitted"`
	StuckRunning          int `json:"stuck_running"`
	StuckSaving           int `json:"stuck_saving"`
	Stale                 int `json:"stale"`
	PromptProcessingReset int `json:"prompt_processing_reset"`
	PromptQueuedBoosted   int `json:"prompt_queued_boosted"`
	PromptFailed          int `json:"prompt_failed"`
	DependentJobsUpdated  int `json:"dependent_jobs_updated"`
	RowsUpdated           int `json:"rows_updated"`
}

// Reaper finds jobs stuck in a non-terminal state past a state-specific age
// threshold, forces a terminal or retry transition, cascades prompt
// failures to dependents, and recomputes the rows of every affected job.
//
// Every mutation is conditional on current status plus age, so the reaper
// is safe to run concurrently with the dispatcher and prompt processor, and
// redundantly with itself: a job already terminal is untouched.
type Reaper struct {
	jobs       domain.JobRepository
	promptJobs domain.PromptJobRepository
	aggregator *RowStatusAggregator
	timeouts   infra.TimeoutConfig
	logger     zerolog.Logger
}

// NewReaper wires a reaper with the canonical threshold table.
func NewReaper(
	jobs domain.JobRepository,
	promptJobs domain.PromptJobRepository,
	aggregator *RowStatusAggregator,
	timeouts infra.TimeoutConfig,
	logger zerolog.Logger,
) *Reaper {
	return &Reaper{
		jobs:       jobs,
		promptJobs: promptJobs,
		aggregator: aggregator,
		timeouts:   timeouts,
		logger:     logger,
	}
}

// Cleanup is the scheduled, age-gated sweep using the production
// threshold table.
func (r *Reaper) Cleanup(ctx context.Context) (CleanupSummary, error) {
	return r.sweep(ctx, r.timeouts, "timeout", false)
}

// Reset is the manual incident sweep: the same transition rules with the
// generation-job age gates collapsed to one minute, so an entire wedged
// queue can be unstuck without waiting out the conservative thresholds.
// Prompt abandonment keeps its 24 hour gate; a reset is not a reason to
// fail recent queued prompts.
func (r *Reaper) Reset(ctx context.Context) (CleanupSummary, error) {
	aggressive := r.timeouts
	aggressive.QueuedJob = time.Minute
	aggressive.SubmittedNoRef = time.Minute
	aggressive.RunningNoRef = time.Minute
	aggressive.SavingJob = time.Minute
	aggressive.StaleJob = time.Minute
	aggressive.PromptProcessing = time.Minute
	aggressive.PromptQueued = time.Minute
	return r.sweep(ctx, aggressive, "reset", true)
}

func (r *Reaper) sweep(ctx context.Context, t infra.TimeoutConfig, prefix string, full bool) (CleanupSummary, error) {
	var summary CleanupSummary
	var affected []domain.GenerationJob

	stuckQueued, err := r.jobs.FailStuck(ctx, domain.JobStatusQueued, t.QueuedJob, false, prefix+": stuck in queue")
	if err != nil {
		return summary, err
	}
	summary.StuckQueued = len(stuckQueued)
	affected = append(affected, stuckQueued...)

	stuckSubmitted, err := r.jobs.FailStuck(ctx, domain.JobStatusSubmitted, t.SubmittedNoRef, true, prefix+": stuck in submitted state with no provider request")
	if err != nil {
		return summary, err
	}
	summary.StuckSubmitted = len(stuckSubmitted)
	affected = append(affected, stuckSubmitted...)

	stuckRunning, err := r.jobs.FailStuck(ctx, domain.JobStatusRunning, t.RunningNoRef, true, prefix+": stuck in running state with no provider request")
	if err != nil {
		return summary, err
	}
	summary.StuckRunning = len(stuckRunning)
	affected = append(affected, stuckRunning...)

	stuckSaving, err := r.jobs.FailStuck(ctx, domain.JobStatusSaving, t.SavingJob, false, prefix+": stuck in saving state")
	if err != nil {
		return summary, err
	}
	summary.StuckSaving = len(stuckSaving)
	affected = append(affected, stuckSaving...)

	stale, err := r.jobs.FailStale(ctx, t.StaleJob, prefix+": stale job")
	if err != nil {
		return summary, err
	}
	summary.Stale = len(stale)
	affected = append(affected, stale...)

	reset, err := r.promptJobs.ResetStuckProcessing(ctx, t.PromptProcessing)
	if err != nil {
		return summary, err
	}
	summary.PromptProcessingReset = len(reset)

	failedProcessing, err := r.promptJobs.FailStuckProcessing(ctx, t.PromptProcessing, prefix+": stuck in processing state")
	if err != nil {
		return summary, err
	}

	boosted, err := r.promptJobs.BoostStuckQueued(ctx, t.PromptQueued, 2)
	if err != nil {
		return summary, err
	}
	summary.PromptQueuedBoosted = boosted

	abandoned, err := r.promptJobs.FailStuckQueued(ctx, t.PromptAbandoned, prefix+": stuck in queue for 24+ hours")
	if err != nil {
		return summary, err
	}

	failedPrompts := append(failedProcessing, abandoned...)
	summary.PromptFailed = len(failedPrompts)
	for i := range failedPrompts {
		pj := failedPrompts[i]
		deps, rows := cascadePromptFailure(ctx, r.jobs, r.aggregator, r.logger, pj.ID, pj.Error, full)
		summary.DependentJobsUpdated += deps
		summary.RowsUpdated += rows
	}

	summary.RowsUpdated += r.aggregator.RecomputeAll(ctx, affected)

	r.logger.Info().
		Int("stuck_queued", summary.StuckQueued).
		Int("stuck_submitted", summary.StuckSubmitted).
		Int("stuck_running", summary.StuckRunning).
		Int("stuck_saving", summary.StuckSaving).
		Int("stale", summary.Stale).
		Int("prompt_processing_reset", summary.PromptProcessingReset).
		Int("prompt_queued_boosted", summary.PromptQueuedBoosted).
		Int("prompt_failed", summary.PromptFailed).
		Int("dependent_jobs_updated", summary.DependentJobsUpdated).
		Int("rows_updated", summary.RowsUpdated).
		Msg("reaper: sweep finished")
	return summary, nil
}

// RunPeriodic runs Cleanup on a fixed interval until the context ends.
func (r *Reaper) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Cleanup(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reaper: scheduled cleanup failed")
			}
		}
	}
}
