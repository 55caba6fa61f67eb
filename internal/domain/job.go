package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus enumerates the generation job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusRunning   JobStatus = "running"
	JobStatusSaving    JobStatus = "saving"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// PromptStatus tracks the prompt dependency of a generation job.
type PromptStatus string

const (
	PromptStatusPending    PromptStatus = "pending"
	PromptStatusGenerating PromptStatus = "generating"
	PromptStatusCompleted  PromptStatus = "completed"
	PromptStatusFailed     PromptStatus = "failed"
)

// jobTransitions is the single source of truth for forward progress. The
// corrective path (force any non-terminal status to failed) lives in
// CanTransition so the normal path stays readable.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:    {JobStatusSubmitted},
	JobStatusSubmitted: {JobStatusRunning},
	JobStatusRunning:   {JobStatusSaving},
	JobStatusSaving:    {JobStatusSucceeded},
}

// CanTransition reports whether a generation job may move from one status to
// another. Any non-terminal status may fail; a terminal status never changes.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == JobStatusFailed {
		return true
	}
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GenerationPayload is the typed request payload submitted to the image
// provider. It is validated at construction; loose maps never reach storage.
type GenerationPayload struct {
	RefImagePaths       []string `json:"ref_image_paths"`
	TargetImagePath     string   `json:"target_image_path"`
	Prompt              string   `json:"prompt"`
	Width               int      `json:"width"`
	Height              int      `json:"height"`
	ProviderModel       string   `json:"provider_model"`
	PreserveComposition bool     `json:"preserve_composition"`
}

// Validate rejects payloads that could never be submitted.
func (p *GenerationPayload) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if strings.TrimSpace(p.TargetImagePath) == "" {
		return fmt.Errorf("%w: target image path is required", ErrValidation)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: output dimensions must be positive", ErrValidation)
	}
	if strings.TrimSpace(p.ProviderModel) == "" {
		return fmt.Errorf("%w: provider model is required", ErrValidation)
	}
	return nil
}

// GenerationJob is one request to the external image-generation provider,
// owned by exactly one model row or variant row. It is never retried
// automatically; another attempt means a new job.
type GenerationJob struct {
	ID                string
	RowID             string
	VariantRowID      string
	ModelID           string
	TeamID            string
	UserID            string
	Status            JobStatus
	Payload           GenerationPayload
	ProviderRequestID string
	PromptJobID       string
	PromptStatus      PromptStatus
	Error             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate checks construction-time invariants: exactly one owning row
// reference, a known model, and a well formed payload.
func (j *GenerationJob) Validate() error {
	if j.RowID == "" && j.VariantRowID == "" {
		return fmt.Errorf("%w: job must reference a row or a variant row", ErrValidation)
	}
	if j.RowID != "" && j.VariantRowID != "" {
		return fmt.Errorf("%w: job cannot reference both a row and a variant row", ErrValidation)
	}
	if j.ModelID == "" {
		return fmt.Errorf("%w: model id is required", ErrValidation)
	}
	if j.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return j.Payload.Validate()
}

// Owner returns the owning row reference regardless of which kind it is.
func (j *GenerationJob) Owner() RowRef {
	if j.VariantRowID != "" {
		return RowRef{VariantRowID: j.VariantRowID}
	}
	return RowRef{RowID: j.RowID}
}

// ErrIllegalTransition is returned by stores when a conditional update finds
// the job no longer in the expected pre-state.
var ErrIllegalTransition = errors.New("illegal status transition")
