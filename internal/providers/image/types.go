package image

import (
	"context"
	"strings"
)

// Stage is the provider-side progress of a generation request.
type Stage string

const (
	StagePending   Stage = "pending"
	StageRunning   Stage = "running"
	StageSaving    Stage = "saving"
	StageSucceeded Stage = "succeeded"
	StageFailed    Stage = "failed"
)

// NormalizeStage folds provider spellings into the supported set.
func NormalizeStage(stage string) Stage {
	switch strings.ToLower(strings.TrimSpace(stage)) {
	case "running", "processing", "generating":
		return StageRunning
	case "saving", "uploading", "finalizing":
		return StageSaving
	case "succeeded", "completed", "done":
		return StageSucceeded
	case "failed", "error", "cancelled":
		return StageFailed
	default:
		return StagePending
	}
}

// SubmitRequest is the normalized payload sent to the provider. URLs are
// already signed; the provider never sees raw storage paths.
type SubmitRequest struct {
	RefImageURLs        []string
	TargetImageURL      string
	Prompt              string
	Width               int
	Height              int
	ProviderModel       string
	PreserveComposition bool
	RequestTag          string
}

// PollResult is one observation of an in-flight request.
type PollResult struct {
	Stage     Stage
	OutputURL string
	Error     string
}

// Provider is the contract for the external image-generation service. Submit
// returns the provider's request id; progress is observed by polling, so
// the caller never blocks for the lifetime of a generation.
type Provider interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, providerRequestID string) (*PollResult, error)
}
