package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// RowRepositoryPG implements domain.RowRepository over the model_rows and
// variant_rows tables owned by the surrounding application.
type RowRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewRowRepository creates a new row repository.
func NewRowRepository(sql infra.SQLExecutor) *RowRepositoryPG {
	return &RowRepositoryPG{sql: sql}
}

// GetRow fetches a model row or variant row by reference.
func (r *RowRepositoryPG) GetRow(ctx context.Context, ref domain.RowRef) (*domain.Row, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	query := sqlinline.QSelectModelRow
	if ref.IsVariant() {
		query = sqlinline.QSelectVariantRow
	}
	row := r.sql.QueryRow(ctx, query, ref.ID())
	var out domain.Row
	var status string
	if err := row.Scan(&out.ID, &out.ModelID, &status, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	out.Status = domain.RowStatus(status)
	out.Variant = ref.IsVariant()
	return &out, nil
}

// UpdateRowStatus writes the derived status back onto the row.
func (r *RowRepositoryPG) UpdateRowStatus(ctx context.Context, ref domain.RowRef, status domain.RowStatus) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	query := sqlinline.QUpdateModelRowStatus
	if ref.IsVariant() {
		query = sqlinline.QUpdateVariantRowStatus
	}
	tag, err := r.sql.Exec(ctx, query, ref.ID(), string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.RowRepository = (*RowRepositoryPG)(nil)

// ModelRepositoryPG implements domain.ModelRepository.
type ModelRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewModelRepository creates a new model repository.
func NewModelRepository(sql infra.SQLExecutor) *ModelRepositoryPG {
	return &ModelRepositoryPG{sql: sql}
}

// GetModel fetches the settings a job inherits from its model.
func (r *ModelRepositoryPG) GetModel(ctx context.Context, modelID string) (*domain.Model, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectModel, modelID)
	var m domain.Model
	if err := row.Scan(&m.ID, &m.TeamID, &m.OutputWidth, &m.OutputHeight, &m.DefaultPrompt, &m.ProviderModel); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

var _ domain.ModelRepository = (*ModelRepositoryPG)(nil)
