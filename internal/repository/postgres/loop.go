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

type LoopRepository struct {
	db *sqlx.DB
}

func NewLoopRepository(db *sqlx.DB) *LoopRepository {
	return &LoopRepository{db: db}
}

// Create stores the loop and its participants in one transaction.
func (r *LoopRepository) Create(ctx context.Context, loop *domain.Loop, participants []*domain.LoopParticipant) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin loop transaction")
	}
	defer tx.Rollback()

	loopQuery := `
		INSERT INTO netting.loops (
			id, reference, status, participant_ids, settlements, total_value, efficiency,
			currency, fee, created_by, metadata, expires_at, completed_at, created_at, updated_at
		) VALUES (
			:id, :reference, :status, :participant_ids, :settlements, :total_value, :efficiency,
			:currency, :fee, :created_by, :metadata, :expires_at, :completed_at, :created_at, :updated_at
		)
	`
	if _, err := tx.NamedExecContext(ctx, loopQuery, loop); err != nil {
		return errors.Wrap(err, "failed to create loop")
	}

	participantQuery := `
		INSERT INTO netting.loop_participants (
			id, loop_id, company_id, settlement_amount, decision, responded_at, execution_ref, created_at
		) VALUES (
			:id, :loop_id, :company_id, :settlement_amount, :decision, :responded_at, :execution_ref, :created_at
		)
	`
	for _, p := range participants {
		if _, err := tx.NamedExecContext(ctx, participantQuery, p); err != nil {
			return errors.Wrap(err, "failed to create loop participant")
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit loop")
}

func (r *LoopRepository) Update(ctx context.Context, loop *domain.Loop) error {
	loop.UpdatedAt = time.Now()
	query := `
		UPDATE netting.loops SET
			status = :status,
			metadata = :metadata,
			completed_at = :completed_at,
			updated_at = :updated_at
		WHERE id = :id
	`
	_, err := r.db.NamedExecContext(ctx, query, loop)
	return errors.Wrap(err, "failed to update loop")
}

func (r *LoopRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Loop, error) {
	loop := &domain.Loop{}
	query := `SELECT * FROM netting.loops WHERE id = $1`
	err := r.db.GetContext(ctx, loop, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrLoopNotFound
		}
		return nil, errors.Wrap(err, "failed to find loop by id")
	}
	return loop, nil
}

// List returns loops newest first. An empty status returns every loop.
func (r *LoopRepository) List(ctx context.Context, status domain.LoopStatus) ([]*domain.Loop, error) {
	var loops []*domain.Loop
	query := `
		SELECT * FROM netting.loops
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &loops, query, string(status)); err != nil {
		return nil, errors.Wrap(err, "failed to list loops")
	}
	return loops, nil
}

func (r *LoopRepository) FindByParticipant(ctx context.Context, companyID string, status domain.LoopStatus) ([]*domain.Loop, error) {
	var loops []*domain.Loop
	query := `
		SELECT * FROM netting.loops
		WHERE $1 = ANY(participant_ids) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &loops, query, companyID, string(status)); err != nil {
		return nil, errors.Wrap(err, "failed to find loops by participant")
	}
	return loops, nil
}

func (r *LoopRepository) FindExpired(ctx context.Context, now time.Time) ([]*domain.Loop, error) {
	var loops []*domain.Loop
	query := `SELECT * FROM netting.loops WHERE status = 'pending' AND expires_at <= $1`
	if err := r.db.SelectContext(ctx, &loops, query, now); err != nil {
		return nil, errors.Wrap(err, "failed to find expired loops")
	}
	return loops, nil
}

func (r *LoopRepository) FindParticipants(ctx context.Context, loopID uuid.UUID) ([]*domain.LoopParticipant, error) {
	var participants []*domain.LoopParticipant
	query := `SELECT * FROM netting.loop_participants WHERE loop_id = $1 ORDER BY created_at, company_id`
	if err := r.db.SelectContext(ctx, &participants, query, loopID); err != nil {
		return nil, errors.Wrap(err, "failed to find loop participants")
	}
	return participants, nil
}

func (r *LoopRepository) UpdateParticipant(ctx context.Context, participant *domain.LoopParticipant) error {
	query := `
		UPDATE netting.loop_participants SET
			decision = :decision,
			responded_at = :responded_at,
			execution_ref = :execution_ref
		WHERE id = :id
	`
	_, err := r.db.NamedExecContext(ctx, query, participant)
	return errors.Wrap(err, "failed to update loop participant")
}
