package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"debtloop/internal/domain"
	"debtloop/pkg/errors"
)

// SnapshotReader reads companies and open positions in one repeatable-read
// transaction so a detection run never sees a half-applied write.
type SnapshotReader struct {
	db *sqlx.DB
}

func NewSnapshotReader(db *sqlx.DB) *SnapshotReader {
	return &SnapshotReader{db: db}
}

func (r *SnapshotReader) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin snapshot")
	}
	defer tx.Rollback()

	snap := &domain.Snapshot{TakenAt: time.Now().UTC()}

	if err := tx.SelectContext(ctx, &snap.Companies,
		`SELECT * FROM netting.companies ORDER BY created_at, anonymous_id`); err != nil {
		return nil, errors.Wrap(err, "failed to read companies")
	}
	if err := tx.SelectContext(ctx, &snap.Positions,
		`SELECT * FROM netting.positions WHERE NOT is_settled ORDER BY created_at, id`); err != nil {
		return nil, errors.Wrap(err, "failed to read open positions")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to close snapshot")
	}
	return snap, nil
}
