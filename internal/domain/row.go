package domain

import (
	"fmt"
	"time"
)

// RowStatus is the derived status of a model row or variant row.
type RowStatus string

const (
	RowStatusIdle    RowStatus = "idle"
	RowStatusQueued  RowStatus = "queued"
	RowStatusRunning RowStatus = "running"
	RowStatusPartial RowStatus = "partial"
	RowStatusDone    RowStatus = "done"
	RowStatusError   RowStatus = "error"
)

// RowRef identifies the owner of a set of generation jobs: exactly one of
// RowID or VariantRowID is set.
type RowRef struct {
	RowID        string
	VariantRowID string
}

// Validate rejects refs that name both kinds or neither.
func (r RowRef) Validate() error {
	if r.RowID == "" && r.VariantRowID == "" {
		return fmt.Errorf("%w: row reference is empty", ErrValidation)
	}
	if r.RowID != "" && r.VariantRowID != "" {
		return fmt.Errorf("%w: row reference names both a row and a variant", ErrValidation)
	}
	return nil
}

// IsVariant reports whether the ref points at a variant row.
func (r RowRef) IsVariant() bool { return r.VariantRowID != "" }

// ID returns whichever identifier is set.
func (r RowRef) ID() string {
	if r.VariantRowID != "" {
		return r.VariantRowID
	}
	return r.RowID
}

// Row is a user-facing unit of work owning zero or more generation jobs.
type Row struct {
	ID        string
	ModelID   string
	Variant   bool
	Status    RowStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobStatusCounts is the multiset of child job statuses the row status is
// derived from.
type JobStatusCounts struct {
	Queued    int
	Submitted int
	Running   int
	Saving    int
	Succeeded int
	Failed    int
}

// Remaining counts children that still have forward progress ahead of them.
func (c JobStatusCounts) Remaining() int {
	return c.Queued + c.Submitted + c.Running + c.Saving
}

// Total counts all children.
func (c JobStatusCounts) Total() int {
	return c.Remaining() + c.Succeeded + c.Failed
}

// ComputeRowStatus maps child job statuses to the row status. It is pure:
// two calls with the same counts always agree.
func ComputeRowStatus(c JobStatusCounts) RowStatus {
	if c.Remaining() > 0 {
		return RowStatusPartial
	}
	if c.Succeeded > 0 {
		return RowStatusDone
	}
	return RowStatusError
}
