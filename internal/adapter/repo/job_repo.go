package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. Every
// status mutation is a conditional update keyed on the expected pre-state;
// that compare-and-swap discipline is the only concurrency control the
// subsystem uses.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new generation job repository.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new generation job after validating its invariants.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertGenerationJob,
		job.ID,
		job.RowID,
		job.VariantRowID,
		job.ModelID,
		job.TeamID,
		job.UserID,
		string(job.Status),
		payload,
		job.PromptJobID,
		string(job.PromptStatus),
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectGenerationJob, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ClaimQueued atomically moves up to limit queued jobs matching scope to
// submitted. FOR UPDATE SKIP LOCKED plus the status guard makes concurrent
// claims disjoint.
func (r *JobRepositoryPG) ClaimQueued(ctx context.Context, scope domain.JobScope, limit int) ([]domain.GenerationJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QClaimQueuedJobs, scope.ModelID, scope.VariantRowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// SetProviderRequestID records the provider id on a submitted job. The
// update is a no-op once the job has left submitted or already carries an
// id; that case is surfaced as ErrIllegalTransition.
func (r *JobRepositoryPG) SetProviderRequestID(ctx context.Context, jobID, providerRequestID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QSetProviderRequestID, jobID, providerRequestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIllegalTransition
	}
	return nil
}

// Advance applies a forward transition only if the job is still in from.
func (r *JobRepositoryPG) Advance(ctx context.Context, jobID string, from, to domain.JobStatus, errMsg string) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QAdvanceJobStatus, jobID, string(from), string(to), errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIllegalTransition
	}
	return nil
}

// ListInFlight returns submitted/running/saving jobs carrying a provider
// request id, oldest progress first.
func (r *JobRepositoryPG) ListInFlight(ctx context.Context, scope domain.JobScope, limit int) ([]domain.GenerationJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListInFlightJobs, scope.ModelID, scope.VariantRowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// FailStuck force-fails jobs stuck in status past olderThan.
func (r *JobRepositoryPG) FailStuck(ctx context.Context, status domain.JobStatus, olderThan time.Duration, requireNoProviderID bool, errMsg string) ([]domain.GenerationJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QFailStuckJobs, string(status), olderThan, requireNoProviderID, errMsg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// FailStale force-fails any non-terminal job older than olderThan.
func (r *JobRepositoryPG) FailStale(ctx context.Context, olderThan time.Duration, errMsg string) ([]domain.GenerationJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QFailStaleJobs, olderThan, errMsg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// FailDependents fails every job gated on promptJobID still in states.
func (r *JobRepositoryPG) FailDependents(ctx context.Context, promptJobID string, states []domain.JobStatus, errMsg string) ([]domain.GenerationJob, error) {
	raw := make([]string, 0, len(states))
	for _, s := range states {
		raw = append(raw, string(s))
	}
	rows, err := r.sql.Query(ctx, sqlinline.QFailDependentJobs, promptJobID, raw, errMsg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// MarkPromptGenerating flags pending dependents of a claimed prompt job.
func (r *JobRepositoryPG) MarkPromptGenerating(ctx context.Context, promptJobID string) (int, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkPromptGeneratingOnJobs, promptJobID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CompletePrompt writes the prompt text into every dependent payload and
// marks their prompt status completed.
func (r *JobRepositoryPG) CompletePrompt(ctx context.Context, promptJobID, promptText string) (int, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QCompletePromptOnJobs, promptJobID, promptText)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CountByRow returns the status multiset of a row's children.
func (r *JobRepositoryPG) CountByRow(ctx context.Context, ref domain.RowRef) (domain.JobStatusCounts, error) {
	if err := ref.Validate(); err != nil {
		return domain.JobStatusCounts{}, err
	}
	row := r.sql.QueryRow(ctx, sqlinline.QCountJobsByRow, ref.RowID, ref.VariantRowID)
	var c domain.JobStatusCounts
	if err := row.Scan(&c.Queued, &c.Submitted, &c.Running, &c.Saving, &c.Succeeded, &c.Failed); err != nil {
		return domain.JobStatusCounts{}, err
	}
	return c, nil
}

func scanJob(row pgx.Row) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	var payload []byte
	var status, promptStatus string
	if err := row.Scan(
		&job.ID,
		&job.RowID,
		&job.VariantRowID,
		&job.ModelID,
		&job.TeamID,
		&job.UserID,
		&status,
		&payload,
		&job.ProviderRequestID,
		&job.PromptJobID,
		&promptStatus,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.PromptStatus = domain.PromptStatus(promptStatus)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.GenerationJob, error) {
	var jobs []domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
