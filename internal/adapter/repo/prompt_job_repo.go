package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// PromptJobRepositoryPG implements domain.PromptJobRepository on PostgreSQL.
type PromptJobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewPromptJobRepository creates a new prompt job repository.
func NewPromptJobRepository(sql infra.SQLExecutor) *PromptJobRepositoryPG {
	return &PromptJobRepositoryPG{sql: sql}
}

// Create inserts a new prompt generation job after validating it.
func (r *PromptJobRepositoryPG) Create(ctx context.Context, job *domain.PromptGenerationJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertPromptJob,
		job.ID,
		job.RowID,
		job.ModelID,
		job.UserID,
		string(job.Operation),
		job.RefURLs,
		job.TargetURL,
		job.ExistingPrompt,
		job.UserInstructions,
		job.Mode,
		job.MaxRetries,
		job.Priority,
	)
	return err
}

// GetByID fetches a prompt job by its identifier.
func (r *PromptJobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.PromptGenerationJob, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectPromptJob, jobID)
	job, err := scanPromptJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ClaimNext claims the highest-priority queued job, FIFO within a tier.
func (r *PromptJobRepositoryPG) ClaimNext(ctx context.Context) (*domain.PromptGenerationJob, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QClaimNextPromptJob)
	job, err := scanPromptJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Complete finishes a processing job with its result text.
func (r *PromptJobRepositoryPG) Complete(ctx context.Context, jobID, resultText string) error {
	return r.conditional(ctx, sqlinline.QCompletePromptJob, jobID, resultText)
}

// Fail terminates a non-terminal job with an error message.
func (r *PromptJobRepositoryPG) Fail(ctx context.Context, jobID, errMsg string) error {
	return r.conditional(ctx, sqlinline.QFailPromptJob, jobID, errMsg)
}

// Requeue puts a processing job back in the queue, spending one retry.
func (r *PromptJobRepositoryPG) Requeue(ctx context.Context, jobID string) error {
	return r.conditional(ctx, sqlinline.QRequeuePromptJob, jobID)
}

// Cancel fails a job only while it is queued or processing.
func (r *PromptJobRepositoryPG) Cancel(ctx context.Context, jobID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QCancelPromptJob, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotCancellable
	}
	return nil
}

// ResetStuckProcessing requeues stuck processing jobs with retry budget left.
func (r *PromptJobRepositoryPG) ResetStuckProcessing(ctx context.Context, olderThan time.Duration) ([]domain.PromptGenerationJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QResetStuckProcessingPromptJobs, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPromptJobs(rows)
}

// FailStuckProcessing fails stuck processing jobs whose budget is spent.
func (r *PromptJobRepositoryPG) FailStuckProcessing(ctx context.Context, olderThan time.Duration, errMsg string) ([]domain.PromptGenerationJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QFailStuckProcessingPromptJobs, olderThan, errMsg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPromptJobs(rows)
}

// BoostStuckQueued raises priority on long-queued jobs, capped at the max.
func (r *PromptJobRepositoryPG) BoostStuckQueued(ctx context.Context, olderThan time.Duration, step int) (int, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QBoostStuckQueuedPromptJobs, olderThan, step)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// FailStuckQueued fails queued jobs past the abandonment threshold.
func (r *PromptJobRepositoryPG) FailStuckQueued(ctx context.Context, olderThan time.Duration, errMsg string) ([]domain.PromptGenerationJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QFailAbandonedPromptJobs, olderThan, errMsg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPromptJobs(rows)
}

// Stats aggregates queue counters and wait estimates. The estimated wait
// multiplies the queue depth by the recent average processing time.
func (r *PromptJobRepositoryPG) Stats(ctx context.Context) (*domain.QueueStats, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QPromptQueueStats)
	var stats domain.QueueStats
	var avgWaitSecs, avgProcSecs float64
	if err := row.Scan(
		&stats.TotalQueued,
		&stats.TotalProcessing,
		&stats.TotalCompleted,
		&stats.TotalFailed,
		&avgWaitSecs,
		&avgProcSecs,
	); err != nil {
		return nil, err
	}
	stats.AverageWaitTime = time.Duration(avgWaitSecs * float64(time.Second))
	stats.EstimatedWaitTime = time.Duration(float64(stats.TotalQueued) * avgProcSecs * float64(time.Second))
	return &stats, nil
}

func (r *PromptJobRepositoryPG) conditional(ctx context.Context, query string, args ...any) error {
	tag, err := r.sql.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIllegalTransition
	}
	return nil
}

func scanPromptJob(row pgx.Row) (*domain.PromptGenerationJob, error) {
	var job domain.PromptGenerationJob
	var operation, status string
	if err := row.Scan(
		&job.ID,
		&job.RowID,
		&job.ModelID,
		&job.UserID,
		&operation,
		&job.RefURLs,
		&job.TargetURL,
		&job.ExistingPrompt,
		&job.UserInstructions,
		&job.Mode,
		&status,
		&job.GeneratedPrompt,
		&job.EnhancedPrompt,
		&job.Error,
		&job.RetryCount,
		&job.MaxRetries,
		&job.Priority,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.Operation = domain.PromptOperation(operation)
	job.Status = domain.PromptJobStatus(status)
	return &job, nil
}

func collectPromptJobs(rows pgx.Rows) ([]domain.PromptGenerationJob, error) {
	var jobs []domain.PromptGenerationJob
	for rows.Next() {
		job, err := scanPromptJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

var _ domain.PromptJobRepository = (*PromptJobRepositoryPG)(nil)
