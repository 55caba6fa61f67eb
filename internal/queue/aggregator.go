package queue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// RowStatusAggregator recomputes a row's derived status from the multiset
// of its children's statuses. The computation itself is the pure
// domain.ComputeRowStatus; this type only fetches counts and persists the
// result. It is invoked for rows whose children actually changed, never
// speculatively.
type RowStatusAggregator struct {
	jobs   domain.JobRepository
	rows   domain.RowRepository
	logger zerolog.Logger
}

// NewRowStatusAggregator wires the aggregator.
func NewRowStatusAggregator(jobs domain.JobRepository, rows domain.RowRepository, logger zerolog.Logger) *RowStatusAggregator {
	return &RowStatusAggregator{jobs: jobs, rows: rows, logger: logger}
}

// Recompute derives and persists the status of one row.
func (a *RowStatusAggregator) Recompute(ctx context.Context, ref domain.RowRef) error {
	counts, err := a.jobs.CountByRow(ctx, ref)
	if err != nil {
		return fmt.Errorf("count jobs for row %s: %w", ref.ID(), err)
	}
	status := domain.ComputeRowStatus(counts)
	if err := a.rows.UpdateRowStatus(ctx, ref, status); err != nil {
		return fmt.Errorf("update row %s status: %w", ref.ID(), err)
	}
	a.logger.Debug().
		Str("row_id", ref.ID()).
		Str("status", string(status)).
		Int("remaining", counts.Remaining()).
		Int("succeeded", counts.Succeeded).
		Msg("row status recomputed")
	return nil
}

// RecomputeAll recomputes every distinct row owning one of the given jobs
// and returns how many rows were updated. Individual row failures are
// logged and do not abort the rest.
func (a *RowStatusAggregator) RecomputeAll(ctx context.Context, jobs []domain.GenerationJob) int {
	seen := make(map[domain.RowRef]struct{}, len(jobs))
	updated := 0
	for i := range jobs {
		ref := jobs[i].Owner()
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		if err := a.Recompute(ctx, ref); err != nil {
			a.logger.Error().Err(err).Str("row_id", ref.ID()).Msg("row status recompute failed")
			continue
		}
		updated++
	}
	return updated
}
