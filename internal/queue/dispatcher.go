package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"server/internal/domain"
	"server/internal/providers/image"
	"server/internal/signing"
)

// Dispatcher claims queued generation jobs, submits them to the image
// provider, and advances in-flight jobs as the provider reports progress.
// Dispatch is best-effort, idempotent, and safe to call redundantly and
// concurrently: claiming is a conditional queued->submitted update, so two
// racing invocations never double-submit the same job.
type Dispatcher struct {
	jobs        domain.JobRepository
	provider    image.Provider
	signer      signing.Signer
	aggregator  *RowStatusAggregator
	logger      zerolog.Logger
	batchSize   int
	concurrency int
	signedTTL   time.Duration
}

// DispatcherOptions wires a Dispatcher.
type DispatcherOptions struct {
	Jobs        domain.JobRepository
	Provider    image.Provider
	Signer      signing.Signer
	Aggregator  *RowStatusAggregator
	Logger      zerolog.Logger
	BatchSize   int
	Concurrency int
	SignedTTL   time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 10
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	ttl := opts.SignedTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Dispatcher{
		jobs:        opts.Jobs,
		provider:    opts.Provider,
		signer:      opts.Signer,
		aggregator:  opts.Aggregator,
		logger:      opts.Logger,
		batchSize:   batch,
		concurrency: concurrency,
		signedTTL:   ttl,
	}
}

// Dispatch claims at most one batch of eligible queued jobs matching scope
// and submits each to the provider. A single submission failure fails only
// that job, never the batch. Callers treat the call as fire-and-forget; the
// error covers store-level problems only.
func (d *Dispatcher) Dispatch(ctx context.Context, scope domain.JobScope) error {
	claimed, err := d.jobs.ClaimQueued(ctx, scope, d.batchSize)
	if err != nil {
		return fmt.Errorf("claim queued jobs: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}
	d.logger.Info().Int("count", len(claimed)).Msg("dispatcher: claimed jobs")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i := range claimed {
		job := claimed[i]
		g.Go(func() error {
			d.submit(gctx, job)
			return nil
		})
	}
	// Goroutines never return errors; per-job failures are recorded on the
	// job rows.
	_ = g.Wait()
	return nil
}

// submit sends one claimed job to the provider and records the outcome.
func (d *Dispatcher) submit(ctx context.Context, job domain.GenerationJob) {
	req, err := d.buildSubmitRequest(ctx, &job)
	if err != nil {
		d.failSubmitted(ctx, job, fmt.Sprintf("submit preparation failed: %v", err))
		return
	}
	providerRequestID, err := d.provider.Submit(ctx, *req)
	if err != nil {
		d.failSubmitted(ctx, job, fmt.Sprintf("provider submit failed: %v", err))
		return
	}
	if err := d.jobs.SetProviderRequestID(ctx, job.ID, providerRequestID); err != nil {
		// The job advanced or failed underneath us (reaper, concurrent
		// sweep); the provider id is lost and the reaper will fail the job
		// on its no-provider-id threshold.
		d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("dispatcher: provider id not recorded")
		return
	}
	d.logger.Info().
		Str("job_id", job.ID).
		Str("provider_request_id", providerRequestID).
		Msg("dispatcher: job submitted")
}

func (d *Dispatcher) buildSubmitRequest(ctx context.Context, job *domain.GenerationJob) (*image.SubmitRequest, error) {
	targetURL, err := d.signer.Sign(ctx, job.Payload.TargetImagePath, d.signedTTL)
	if err != nil {
		return nil, fmt.Errorf("sign target image: %w", err)
	}
	refURLs := make([]string, 0, len(job.Payload.RefImagePaths))
	for _, path := range job.Payload.RefImagePaths {
		url, err := d.signer.Sign(ctx, path, d.signedTTL)
		if err != nil {
			if errors.Is(err, signing.ErrObjectMissing) {
				// A missing reference degrades the result but does not
				// block the generation.
				d.logger.Warn().Str("job_id", job.ID).Str("path", path).Msg("dispatcher: reference image missing")
				continue
			}
			return nil, fmt.Errorf("sign reference image: %w", err)
		}
		refURLs = append(refURLs, url)
	}
	return &image.SubmitRequest{
		RefImageURLs:        refURLs,
		TargetImageURL:      targetURL,
		Prompt:              job.Payload.Prompt,
		Width:               job.Payload.Width,
		Height:              job.Payload.Height,
		ProviderModel:       job.Payload.ProviderModel,
		PreserveComposition: job.Payload.PreserveComposition,
		RequestTag:          job.ID,
	}, nil
}

// failSubmitted fails a job that was claimed but never reached the provider.
func (d *Dispatcher) failSubmitted(ctx context.Context, job domain.GenerationJob, errMsg string) {
	d.logger.Error().Str("job_id", job.ID).Str("error", errMsg).Msg("dispatcher: submission failed")
	if err := d.jobs.Advance(ctx, job.ID, domain.JobStatusSubmitted, domain.JobStatusFailed, errMsg); err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatcher: failed to record submission failure")
		return
	}
	d.aggregator.RecomputeAll(ctx, []domain.GenerationJob{job})
}

// Progress polls every in-flight job matching scope once and advances its
// status to mirror the provider's stage. Terminal transitions trigger the
// row aggregator.
func (d *Dispatcher) Progress(ctx context.Context, scope domain.JobScope) error {
	inflight, err := d.jobs.ListInFlight(ctx, scope, d.batchSize*4)
	if err != nil {
		return fmt.Errorf("list in-flight jobs: %w", err)
	}
	for i := range inflight {
		job := inflight[i]
		result, err := d.provider.Poll(ctx, job.ProviderRequestID)
		if err != nil {
			// An unreachable provider leaves the job for the next poll or
			// the reaper; guessing at its state would be worse.
			d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("dispatcher: poll failed")
			continue
		}
		d.apply(ctx, job, result)
	}
	return nil
}

// apply walks the job forward until its status mirrors the polled stage.
func (d *Dispatcher) apply(ctx context.Context, job domain.GenerationJob, result *image.PollResult) {
	target, failed := stageTarget(result)
	if target == job.Status && !failed {
		return
	}
	if failed {
		errMsg := result.Error
		if errMsg == "" {
			errMsg = "provider reported failure"
		}
		if err := d.jobs.Advance(ctx, job.ID, job.Status, domain.JobStatusFailed, errMsg); err != nil {
			d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("dispatcher: failure not recorded")
			return
		}
		d.aggregator.RecomputeAll(ctx, []domain.GenerationJob{job})
		return
	}

	current := job.Status
	for current != target {
		next := nextStatus(current)
		if next == "" {
			return
		}
		if err := d.jobs.Advance(ctx, job.ID, current, next, ""); err != nil {
			// Lost the race with another invocation; it owns the rest of
			// the walk.
			return
		}
		current = next
	}
	d.logger.Info().Str("job_id", job.ID).Str("status", string(current)).Msg("dispatcher: job progressed")
	if current.Terminal() {
		d.aggregator.RecomputeAll(ctx, []domain.GenerationJob{job})
	}
}

// stageTarget maps a provider stage to the job status that mirrors it.
func stageTarget(result *image.PollResult) (domain.JobStatus, bool) {
	switch result.Stage {
	case image.StageRunning:
		return domain.JobStatusRunning, false
	case image.StageSaving:
		return domain.JobStatusSaving, false
	case image.StageSucceeded:
		return domain.JobStatusSucceeded, false
	case image.StageFailed:
		return domain.JobStatusFailed, true
	default:
		return domain.JobStatusSubmitted, false
	}
}

func nextStatus(current domain.JobStatus) domain.JobStatus {
	switch current {
	case domain.JobStatusSubmitted:
		return domain.JobStatusRunning
	case domain.JobStatusRunning:
		return domain.JobStatusSaving
	case domain.JobStatusSaving:
		return domain.JobStatusSucceeded
	default:
		return ""
	}
}
