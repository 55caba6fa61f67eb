package domain

import (
	"context"
	"time"
)

// Model carries the settings a job inherits from its parent model.
type Model struct {
	ID            string
	TeamID        string
	OutputWidth   int
	OutputHeight  int
	DefaultPrompt string
	ProviderModel string
}

// JobRepository defines persistence for generation jobs. All status
// mutations are conditional on the current status still matching the
// expected pre-state; a mutation that finds a different status reports
// ErrIllegalTransition (single-job forms) or simply skips the row
// (set-based forms).
type JobRepository interface {
	Create(ctx context.Context, job *GenerationJob) error
	GetByID(ctx context.Context, jobID string) (*GenerationJob, error)

	// ClaimQueued atomically moves up to limit queued jobs matching scope
	// to submitted and returns them. Concurrent callers never receive the
	// same job.
	ClaimQueued(ctx context.Context, scope JobScope, limit int) ([]GenerationJob, error)

	// SetProviderRequestID records the provider's id on a submitted job.
	SetProviderRequestID(ctx context.Context, jobID, providerRequestID string) error

	// Advance applies a forward transition only if the job is still in
	// from; errMsg is recorded when non-empty.
	Advance(ctx context.Context, jobID string, from, to JobStatus, errMsg string) error

	// ListInFlight returns submitted/running/saving jobs that carry a
	// provider request id, for poll-driven progress.
	ListInFlight(ctx context.Context, scope JobScope, limit int) ([]GenerationJob, error)

	// FailStuck force-fails jobs still in status older than olderThan and
	// returns the affected jobs. requireNoProviderID additionally gates on
	// the provider request id being absent.
	FailStuck(ctx context.Context, status JobStatus, olderThan time.Duration, requireNoProviderID bool, errMsg string) ([]GenerationJob, error)

	// FailStale force-fails any non-terminal job older than olderThan.
	FailStale(ctx context.Context, olderThan time.Duration, errMsg string) ([]GenerationJob, error)

	// FailDependents fails every job referencing promptJobID that is still
	// in one of states, setting promptStatus to failed, and returns them.
	FailDependents(ctx context.Context, promptJobID string, states []JobStatus, errMsg string) ([]GenerationJob, error)

	// MarkPromptGenerating moves pending dependents of promptJobID to the
	// generating prompt status and reports how many were marked. Jobs
	// already terminal are left untouched.
	MarkPromptGenerating(ctx context.Context, promptJobID string) (int, error)

	// CompletePrompt writes the generated prompt into the payload of every
	// live job gated on promptJobID and marks their prompt status
	// completed. Dependents that already reached a terminal status keep
	// their state and are not counted.
	CompletePrompt(ctx context.Context, promptJobID, promptText string) (int, error)

	// CountByRow returns the status multiset of a row's children.
	CountByRow(ctx context.Context, ref RowRef) (JobStatusCounts, error)
}

// JobScope restricts dispatch to one model or one variant row. The zero
// value means unscoped.
type JobScope struct {
	ModelID      string `json:"model_id,omitempty"`
	VariantRowID string `json:"variant_row_id,omitempty"`
}

// IsZero reports whether the scope restricts nothing.
func (s JobScope) IsZero() bool {
	return s.ModelID == "" && s.VariantRowID == ""
}

// PromptJobRepository defines persistence for prompt-generation jobs.
type PromptJobRepository interface {
	Create(ctx context.Context, job *PromptGenerationJob) error
	GetByID(ctx context.Context, jobID string) (*PromptGenerationJob, error)

	// ClaimNext atomically moves the highest-priority queued job (FIFO
	// within a tier) to processing with startedAt set, or returns
	// ErrNotFound when the queue is empty.
	ClaimNext(ctx context.Context) (*PromptGenerationJob, error)

	// Complete moves a processing job to completed with its result text.
	Complete(ctx context.Context, jobID, resultText string) error

	// Fail moves a job to failed with the given error message.
	Fail(ctx context.Context, jobID, errMsg string) error

	// Requeue moves a processing job back to queued, clearing startedAt
	// and incrementing retryCount, only while retryCount < maxRetries.
	Requeue(ctx context.Context, jobID string) error

	// Cancel fails a job only while it is queued or processing.
	Cancel(ctx context.Context, jobID string) error

	// ResetStuckProcessing requeues processing jobs whose startedAt is
	// older than olderThan and that still have retry budget; jobs without
	// budget are left for FailStuckProcessing.
	ResetStuckProcessing(ctx context.Context, olderThan time.Duration) ([]PromptGenerationJob, error)

	// FailStuckProcessing fails processing jobs older than olderThan whose
	// retry budget is exhausted, and returns them for dependent cascade.
	FailStuckProcessing(ctx context.Context, olderThan time.Duration, errMsg string) ([]PromptGenerationJob, error)

	// BoostStuckQueued raises priority (capped) on queued jobs older than
	// olderThan and reports how many were boosted.
	BoostStuckQueued(ctx context.Context, olderThan time.Duration, step int) (int, error)

	// FailStuckQueued fails queued jobs older than olderThan regardless of
	// retry budget and returns them for dependent cascade.
	FailStuckQueued(ctx context.Context, olderThan time.Duration, errMsg string) ([]PromptGenerationJob, error)

	// Stats aggregates queue counters and wait estimates.
	Stats(ctx context.Context) (*QueueStats, error)
}

// QueueStats summarizes the prompt queue for operators.
type QueueStats struct {
	TotalQueued       int           `json:"total_queued"`
	TotalProcessing   int           `json:"total_processing"`
	TotalCompleted    int           `json:"total_completed"`
	TotalFailed       int           `json:"total_failed"`
	AverageWaitTime   time.Duration `json:"average_wait_ms"`
	EstimatedWaitTime time.Duration `json:"estimated_wait_ms"`
}

// RowRepository is the row store collaborator: rows are owned by the
// surrounding application, this subsystem only reads them and writes the
// derived status.
type RowRepository interface {
	GetRow(ctx context.Context, ref RowRef) (*Row, error)
	UpdateRowStatus(ctx context.Context, ref RowRef, status RowStatus) error
}

// ModelRepository is the model store collaborator.
type ModelRepository interface {
	GetModel(ctx context.Context, modelID string) (*Model, error)
}
