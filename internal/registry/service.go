// ==============================================================================
// REGISTRY SERVICE - internal/registry/service.go
// ==============================================================================
// Companies and their bilateral positions. Every position write bumps the
// detection generation so cached loop candidates are recomputed.
package registry

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"

	"debtloop/internal/domain"
	"debtloop/internal/netting"
	"debtloop/pkg/cache"
	"debtloop/pkg/errors"
	"debtloop/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	companies   CompanyRepository
	positions   PositionRepository
	invalidator Invalidator
	defaultCurr domain.Currency
	logger      logger.Logger
}

func NewService(companies CompanyRepository, positions PositionRepository, invalidator Invalidator, defaultCurrency domain.Currency, log logger.Logger) *Service {
	if defaultCurrency == "" {
		defaultCurrency = domain.USD
	}
	return &Service{
		companies:   companies,
		positions:   positions,
		invalidator: invalidator,
		defaultCurr: defaultCurrency,
		logger:      log,
	}
}

type CreateCompanyRequest struct {
	Name          string  `json:"name" validate:"required,min=2,max=120"`
	AnonymousID   string  `json:"anonymous_id" validate:"omitempty,anonymous_id"`
	PaymentHandle *string `json:"payment_handle,omitempty" validate:"omitempty,max=128"`
}

// CreateCompany registers a company with the default token allowance. When
// no anonymous ID is given one is derived from the name.
func (s *Service) CreateCompany(ctx context.Context, req *CreateCompanyRequest) (*domain.Company, error) {
	anonymousID := strings.ToUpper(strings.TrimSpace(req.AnonymousID))
	if anonymousID == "" {
		generated, err := generateAnonymousID(req.Name)
		if err != nil {
			return nil, err
		}
		anonymousID = generated
	}

	now := time.Now()
	company := &domain.Company{
		ID:            uuid.New(),
		Name:          strings.TrimSpace(req.Name),
		AnonymousID:   anonymousID,
		TokenBalance:  domain.DefaultTokenBalance,
		PaymentHandle: req.PaymentHandle,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.companies.Create(ctx, company); err != nil {
		return nil, err
	}

	s.logger.Info("Company registered", map[string]interface{}{
		"company_id":   company.ID,
		"anonymous_id": company.AnonymousID,
	})

	return company, nil
}

func (s *Service) GetCompany(ctx context.Context, anonymousID string) (*domain.Company, error) {
	return s.companies.FindByAnonymousID(ctx, anonymousID)
}

func (s *Service) ListCompanies(ctx context.Context) ([]*domain.Company, error) {
	return s.companies.List(ctx)
}

type CreatePositionRequest struct {
	CounterpartyID string              `json:"counterparty_id" validate:"required"`
	Role           domain.PositionRole `json:"role" validate:"required,position_role"`
	Amount         decimal.Decimal     `json:"amount" validate:"required,gt=0"`
	Currency       domain.Currency     `json:"currency" validate:"omitempty,currency_code"`
	DueDate        *time.Time          `json:"due_date,omitempty"`
	Description    *string             `json:"description,omitempty" validate:"omitempty,max=500"`
}

// CreatePosition records an obligation owned by ownerID.
func (s *Service) CreatePosition(ctx context.Context, ownerID string, req *CreatePositionRequest) (*domain.Position, error) {
	if _, err := s.companies.FindByAnonymousID(ctx, ownerID); err != nil {
		return nil, err
	}
	if req.CounterpartyID == ownerID {
		return nil, errors.ErrSelfObligation
	}
	if _, err := s.companies.FindByAnonymousID(ctx, req.CounterpartyID); err != nil {
		if stderrors.Is(err, errors.ErrCompanyNotFound) {
			return nil, errors.ErrCounterpartyNotFound
		}
		return nil, err
	}
	amount := req.Amount.Round(2)
	if !req.Role.Valid() || !amount.IsPositive() {
		return nil, errors.ErrMalformedPosition
	}

	currency := req.Currency
	if currency == "" {
		currency = s.defaultCurr
	}

	now := time.Now()
	due := now.AddDate(0, 0, 30)
	if req.DueDate != nil {
		due = *req.DueDate
	}

	position := &domain.Position{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		CounterpartyID: req.CounterpartyID,
		Role:           req.Role,
		Amount:         amount,
		Currency:       currency,
		DueDate:        due,
		Description:    req.Description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.positions.Create(ctx, position); err != nil {
		return nil, err
	}

	s.invalidate(ctx)

	s.logger.Info("Position recorded", map[string]interface{}{
		"position_id":  position.ID,
		"owner":        ownerID,
		"counterparty": req.CounterpartyID,
		"role":         position.Role,
		"amount":       position.Amount.String(),
		"currency":     currency,
	})

	return position, nil
}

func (s *Service) ListPositions(ctx context.Context, ownerID string) ([]*domain.Position, error) {
	if _, err := s.companies.FindByAnonymousID(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.positions.FindByOwner(ctx, ownerID)
}

type NetPositionResponse struct {
	CompanyID string          `json:"company_id"`
	Currency  domain.Currency `json:"currency"`
	Net       decimal.Decimal `json:"net"`
}

// NetPosition sums credits minus debts over the company's open positions in
// currency.
func (s *Service) NetPosition(ctx context.Context, ownerID string, currency domain.Currency) (*NetPositionResponse, error) {
	positions, err := s.ListPositions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if currency == "" {
		currency = s.defaultCurr
	}

	open := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		if p.Currency == currency {
			open = append(open, *p)
		}
	}

	return &NetPositionResponse{
		CompanyID: ownerID,
		Currency:  currency,
		Net:       netting.NetPosition(open, ownerID),
	}, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if _, err := s.invalidator.Increment(ctx, cache.DetectionGenerationKey); err != nil {
		s.logger.Warn("Failed to invalidate detection cache", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// generateAnonymousID builds an identifier like "BTA-5791" from the name's
// first three letters.
func generateAnonymousID(name string) (string, error) {
	prefix := make([]rune, 0, 3)
	for _, r := range strings.ToUpper(name) {
		if unicode.IsLetter(r) && r < unicode.MaxASCII {
			prefix = append(prefix, r)
		}
		if len(prefix) == 3 {
			break
		}
	}
	for len(prefix) < 3 {
		prefix = append(prefix, 'X')
	}

	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", errors.Wrap(err, "generate anonymous id")
	}
	return fmt.Sprintf("%s-%04d", string(prefix), n.Int64()+1000), nil
}

type CompanyRepository interface {
	Create(ctx context.Context, company *domain.Company) error
	FindByAnonymousID(ctx context.Context, anonymousID string) (*domain.Company, error)
	List(ctx context.Context) ([]*domain.Company, error)
}

type PositionRepository interface {
	Create(ctx context.Context, position *domain.Position) error
	FindByOwner(ctx context.Context, ownerID string) ([]*domain.Position, error)
}

// Invalidator bumps a counter key; the Redis cache satisfies it.
type Invalidator interface {
	Increment(ctx context.Context, key string) (int64, error)
}
