// ==============================================================================
// SETTLEMENT EXECUTOR - internal/settlement/service.go
// ==============================================================================
// The executor moves value for an accepted loop. Participants with a
// negative settlement pay into the clearing account first; once every
// payment has landed, participants with a positive settlement are paid out.
// Failures are reported per participant and never retried here.
package settlement

import (
	"context"
	stderrors "errors"
	"fmt"

	"debtloop/internal/domain"
	"debtloop/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingHandle     = stderrors.New("participant has no payment handle")
	ErrEmptyPlan         = stderrors.New("settlement plan has no legs")
	ErrCollectionFailed  = stderrors.New("payout skipped: collection incomplete")
	ErrInsufficientFunds = stderrors.New("insufficient funds")
	ErrTransferRejected  = stderrors.New("transfer rejected by connector")
	ErrUnknownAccount    = stderrors.New("unknown account")
	ErrNonPositiveAmount = stderrors.New("transfer amount must be positive")
)

// Leg is one participant's part of a plan. Amount is signed like the loop
// settlement: negative pays in, positive is paid out.
type Leg struct {
	CompanyID string          `json:"company_id"`
	Handle    string          `json:"handle"`
	Amount    decimal.Decimal `json:"amount"`
}

// Plan is a finalized loop ready to move value.
type Plan struct {
	LoopID    uuid.UUID       `json:"loop_id"`
	Reference string          `json:"reference"`
	Currency  domain.Currency `json:"currency"`
	Legs      []Leg           `json:"legs"`
}

// Outcome reports what happened to one leg.
type Outcome struct {
	CompanyID string          `json:"company_id"`
	Amount    decimal.Decimal `json:"amount"`
	Success   bool            `json:"success"`
	Reference string          `json:"reference,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// AllSucceeded reports whether every outcome succeeded.
func AllSucceeded(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Success {
			return false
		}
	}
	return len(outcomes) > 0
}

type Executor struct {
	connector       Connector
	clearingAccount string
	logger          logger.Logger
}

func NewExecutor(connector Connector, clearingAccount string, log logger.Logger) *Executor {
	return &Executor{
		connector:       connector,
		clearingAccount: clearingAccount,
		logger:          log,
	}
}

// Execute runs plan and returns one outcome per leg in plan order. The error
// is non-nil only when the plan itself is unusable; transfer failures are
// reported in the outcomes.
func (e *Executor) Execute(ctx context.Context, plan Plan) ([]Outcome, error) {
	if len(plan.Legs) == 0 {
		return nil, ErrEmptyPlan
	}
	for _, leg := range plan.Legs {
		if !leg.Amount.IsZero() && leg.Handle == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingHandle, leg.CompanyID)
		}
	}

	outcomes := make([]Outcome, len(plan.Legs))
	collected := true

	for i, leg := range plan.Legs {
		outcomes[i] = Outcome{CompanyID: leg.CompanyID, Amount: leg.Amount}
		if leg.Amount.IsZero() {
			outcomes[i].Success = true
			continue
		}
		if leg.Amount.IsPositive() {
			continue
		}

		ref, err := e.connector.Transfer(ctx, leg.Handle, e.clearingAccount, leg.Amount.Abs(), plan.Currency)
		if err != nil {
			collected = false
			outcomes[i].Error = err.Error()
			e.logger.Error("Loop collection failed", map[string]interface{}{
				"loop":    plan.Reference,
				"company": leg.CompanyID,
				"amount":  leg.Amount.String(),
				"error":   err.Error(),
			})
			continue
		}
		outcomes[i].Success = true
		outcomes[i].Reference = ref
	}

	for i, leg := range plan.Legs {
		if !leg.Amount.IsPositive() {
			continue
		}
		if !collected {
			outcomes[i].Error = ErrCollectionFailed.Error()
			continue
		}

		ref, err := e.connector.Transfer(ctx, e.clearingAccount, leg.Handle, leg.Amount, plan.Currency)
		if err != nil {
			outcomes[i].Error = err.Error()
			e.logger.Error("Loop payout failed", map[string]interface{}{
				"loop":    plan.Reference,
				"company": leg.CompanyID,
				"amount":  leg.Amount.String(),
				"error":   err.Error(),
			})
			continue
		}
		outcomes[i].Success = true
		outcomes[i].Reference = ref
	}

	e.logger.Info("Loop settlement executed", map[string]interface{}{
		"loop":      plan.Reference,
		"legs":      len(plan.Legs),
		"succeeded": AllSucceeded(outcomes),
	})

	return outcomes, nil
}

// Connector moves value between two payment handles.
type Connector interface {
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal, currency domain.Currency) (string, error)
}
