package domain

import (
	"fmt"
	"strings"
	"time"
)

// PromptJobStatus enumerates the prompt-generation job lifecycle states.
type PromptJobStatus string

const (
	PromptJobStatusQueued     PromptJobStatus = "queued"
	PromptJobStatusProcessing PromptJobStatus = "processing"
	PromptJobStatusCompleted  PromptJobStatus = "completed"
	PromptJobStatusFailed     PromptJobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions. The
// reaper may still move a retry-eligible processing job back to queued; that
// is a reset, not a forward transition.
func (s PromptJobStatus) Terminal() bool {
	return s == PromptJobStatusCompleted || s == PromptJobStatusFailed
}

// PromptOperation selects what the LLM provider is asked to do.
type PromptOperation string

const (
	PromptOperationGenerate PromptOperation = "generate"
	PromptOperationEnhance  PromptOperation = "enhance"
)

const (
	// DefaultMaxRetries bounds reaper-driven requeues of a stuck prompt job.
	DefaultMaxRetries = 3

	// PriorityMin and PriorityMax bound the service-order priority; higher
	// is serviced sooner, FIFO within a tier.
	PriorityMin = 1
	PriorityMax = 10

	// DefaultPriority is used when the caller does not ask for one.
	DefaultPriority = 5
)

// PromptGenerationJob is one request to the LLM provider to produce or
// refine prompt text, optionally gating one or more generation jobs.
type PromptGenerationJob struct {
	ID               string
	RowID            string
	ModelID          string
	UserID           string
	Operation        PromptOperation
	RefURLs          []string
	TargetURL        string
	ExistingPrompt   string
	UserInstructions string
	Mode             string
	Status           PromptJobStatus
	GeneratedPrompt  string
	EnhancedPrompt   string
	Error            string
	RetryCount       int
	MaxRetries       int
	Priority         int
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// Validate checks construction-time invariants.
func (p *PromptGenerationJob) Validate() error {
	if p.RowID == "" {
		return fmt.Errorf("%w: row id is required", ErrValidation)
	}
	if p.ModelID == "" {
		return fmt.Errorf("%w: model id is required", ErrValidation)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	switch p.Operation {
	case PromptOperationGenerate:
		if strings.TrimSpace(p.TargetURL) == "" {
			return fmt.Errorf("%w: target url is required for generate", ErrValidation)
		}
	case PromptOperationEnhance:
		if strings.TrimSpace(p.ExistingPrompt) == "" {
			return fmt.Errorf("%w: existing prompt is required for enhance", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown prompt operation %q", ErrValidation, p.Operation)
	}
	if p.Priority < PriorityMin || p.Priority > PriorityMax {
		return fmt.Errorf("%w: priority must be between %d and %d", ErrValidation, PriorityMin, PriorityMax)
	}
	return nil
}

// Result returns whichever prompt text the operation produced.
func (p *PromptGenerationJob) Result() string {
	if p.Operation == PromptOperationEnhance {
		return p.EnhancedPrompt
	}
	return p.GeneratedPrompt
}

// RetriesExhausted reports whether another failure must be terminal.
func (p *PromptGenerationJob) RetriesExhausted() bool {
	return p.RetryCount >= p.MaxRetries
}

// ClampPriority folds an arbitrary requested priority into the legal range.
func ClampPriority(priority int) int {
	if priority < PriorityMin {
		return DefaultPriority
	}
	if priority > PriorityMax {
		return PriorityMax
	}
	return priority
}
