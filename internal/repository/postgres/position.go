package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"debtloop/internal/domain"
	"debtloop/pkg/errors"
)

type PositionRepository struct {
	db *sqlx.DB
}

func NewPositionRepository(db *sqlx.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func (r *PositionRepository) Create(ctx context.Context, position *domain.Position) error {
	query := `
		INSERT INTO netting.positions (
			id, owner_id, counterparty_id, role, amount, currency, due_date,
			description, is_settled, created_at, updated_at
		) VALUES (
			:id, :owner_id, :counterparty_id, :role, :amount, :currency, :due_date,
			:description, :is_settled, :created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, position)
	return errors.Wrap(err, "failed to create position")
}

// Update persists amount and settlement state. Owner, counterparty and role
// never change after creation.
func (r *PositionRepository) Update(ctx context.Context, position *domain.Position) error {
	position.UpdatedAt = time.Now()
	query := `
		UPDATE netting.positions SET
			amount = :amount,
			is_settled = :is_settled,
			updated_at = :updated_at
		WHERE id = :id
	`
	_, err := r.db.NamedExecContext(ctx, query, position)
	return errors.Wrap(err, "failed to update position")
}

func (r *PositionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Position, error) {
	position := &domain.Position{}
	query := `SELECT * FROM netting.positions WHERE id = $1`
	err := r.db.GetContext(ctx, position, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrPositionNotFound
		}
		return nil, errors.Wrap(err, "failed to find position by id")
	}
	return position, nil
}

func (r *PositionRepository) FindByOwner(ctx context.Context, ownerID string) ([]*domain.Position, error) {
	var positions []*domain.Position
	query := `SELECT * FROM netting.positions WHERE owner_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &positions, query, ownerID); err != nil {
		return nil, errors.Wrap(err, "failed to find positions by owner")
	}
	return positions, nil
}

// FindOpenEdge returns the unsettled positions that make up the obligation
// edge debtor→creditor in currency, oldest first: debts owned by the debtor
// and credits owned by the creditor.
func (r *PositionRepository) FindOpenEdge(ctx context.Context, debtor, creditor string, currency domain.Currency) ([]*domain.Position, error) {
	var positions []*domain.Position
	query := `
		SELECT * FROM netting.positions
		WHERE NOT is_settled AND currency = $3 AND (
			(role = 'debt' AND owner_id = $1 AND counterparty_id = $2) OR
			(role = 'credit' AND owner_id = $2 AND counterparty_id = $1)
		)
		ORDER BY created_at, id
	`
	if err := r.db.SelectContext(ctx, &positions, query, debtor, creditor, currency); err != nil {
		return nil, errors.Wrap(err, "failed to find open edge positions")
	}
	return positions, nil
}
