package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"debtloop/internal/domain"
	"debtloop/pkg/errors"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

type CompanyRepository struct {
	db *sqlx.DB
}

func NewCompanyRepository(db *sqlx.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

func (r *CompanyRepository) Create(ctx context.Context, company *domain.Company) error {
	query := `
		INSERT INTO netting.companies (
			id, name, anonymous_id, token_balance, payment_handle, created_at, updated_at
		) VALUES (
			:id, :name, :anonymous_id, :token_balance, :payment_handle, :created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, company)
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.ErrCompanyAlreadyExists
	}
	return errors.Wrap(err, "failed to create company")
}

func (r *CompanyRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Company, error) {
	company := &domain.Company{}
	query := `SELECT * FROM netting.companies WHERE id = $1`
	err := r.db.GetContext(ctx, company, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrCompanyNotFound
		}
		return nil, errors.Wrap(err, "failed to find company by id")
	}
	return company, nil
}

func (r *CompanyRepository) FindByAnonymousID(ctx context.Context, anonymousID string) (*domain.Company, error) {
	company := &domain.Company{}
	query := `SELECT * FROM netting.companies WHERE anonymous_id = $1`
	err := r.db.GetContext(ctx, company, query, anonymousID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrCompanyNotFound
		}
		return nil, errors.Wrap(err, "failed to find company by anonymous id")
	}
	return company, nil
}

func (r *CompanyRepository) List(ctx context.Context) ([]*domain.Company, error) {
	var companies []*domain.Company
	query := `SELECT * FROM netting.companies ORDER BY created_at, anonymous_id`
	if err := r.db.SelectContext(ctx, &companies, query); err != nil {
		return nil, errors.Wrap(err, "failed to list companies")
	}
	return companies, nil
}

// AdjustTokenBalance adds delta to the company's token balance, refusing to
// take it below zero.
func (r *CompanyRepository) AdjustTokenBalance(ctx context.Context, anonymousID string, delta int64) error {
	query := `
		UPDATE netting.companies
		SET token_balance = token_balance + $1, updated_at = $2
		WHERE anonymous_id = $3 AND token_balance + $1 >= 0
	`
	res, err := r.db.ExecContext(ctx, query, delta, time.Now(), anonymousID)
	if err != nil {
		return errors.Wrap(err, "failed to adjust token balance")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to adjust token balance")
	}
	if rows == 0 {
		if _, err := r.FindByAnonymousID(ctx, anonymousID); err != nil {
			return err
		}
		return errors.ErrInsufficientTokens
	}
	return nil
}
