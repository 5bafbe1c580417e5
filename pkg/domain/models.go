package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Currency represents ISO 4217 currency codes
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

// DefaultTokenBalance is the utility-token allowance granted to new companies.
const DefaultTokenBalance int64 = 2500

// Company is a participant in the obligation network. AnonymousID is the
// identifier other companies see and the node key used for netting.
type Company struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	AnonymousID   string    `json:"anonymous_id" db:"anonymous_id"`
	TokenBalance  int64     `json:"token_balance" db:"token_balance"`
	PaymentHandle *string   `json:"payment_handle,omitempty" db:"payment_handle"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// PositionRole says which side of a bilateral obligation the owner is on.
type PositionRole string

const (
	// PositionRoleCredit means the owning company is owed.
	PositionRoleCredit PositionRole = "credit"
	// PositionRoleDebt means the owning company owes.
	PositionRoleDebt PositionRole = "debt"
)

// Valid reports whether r is a known role.
func (r PositionRole) Valid() bool {
	return r == PositionRoleCredit || r == PositionRoleDebt
}

// Position is a bilateral obligation recorded by OwnerID against
// CounterpartyID. Both are company anonymous IDs.
type Position struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	OwnerID        string          `json:"owner_id" db:"owner_id"`
	CounterpartyID string          `json:"counterparty_id" db:"counterparty_id"`
	Role           PositionRole    `json:"role" db:"role"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       Currency        `json:"currency" db:"currency"`
	DueDate        time.Time       `json:"due_date" db:"due_date"`
	Description    *string         `json:"description,omitempty" db:"description"`
	IsSettled      bool            `json:"is_settled" db:"is_settled"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Metadata holds arbitrary key-value metadata
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, &m)
}

// SettlementMap maps a company anonymous ID to its signed settlement amount.
// Negative amounts pay into the loop, positive amounts receive.
type SettlementMap map[string]decimal.Decimal

func (s SettlementMap) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SettlementMap) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, s)
}

// Loop is a proposed multilateral settlement persisted for acceptance.
type Loop struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Reference      string          `json:"reference" db:"reference"`
	Status         LoopStatus      `json:"status" db:"status"`
	ParticipantIDs pq.StringArray  `json:"participant_ids" db:"participant_ids"`
	Settlements    SettlementMap   `json:"settlements" db:"settlements"`
	TotalValue     decimal.Decimal `json:"total_value" db:"total_value"`
	Efficiency     decimal.Decimal `json:"efficiency" db:"efficiency"`
	Currency       Currency        `json:"currency" db:"currency"`
	Fee            int64           `json:"fee" db:"fee"`
	CreatedBy      string          `json:"created_by" db:"created_by"`
	Metadata       Metadata        `json:"metadata" db:"metadata"`
	ExpiresAt      time.Time       `json:"expires_at" db:"expires_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// HasParticipant reports whether companyID is part of the loop.
func (l *Loop) HasParticipant(companyID string) bool {
	for _, id := range l.ParticipantIDs {
		if id == companyID {
			return true
		}
	}
	return false
}

type LoopStatus string

const (
	LoopStatusPending   LoopStatus = "pending"
	LoopStatusVerified  LoopStatus = "verified"
	LoopStatusCompleted LoopStatus = "completed"
	LoopStatusRejected  LoopStatus = "rejected"
	LoopStatusExpired   LoopStatus = "expired"
	LoopStatusFailed    LoopStatus = "failed"
)

// ParticipantDecision records a participant's answer to a proposal.
type ParticipantDecision string

const (
	DecisionPending  ParticipantDecision = "pending"
	DecisionAccepted ParticipantDecision = "accepted"
	DecisionRejected ParticipantDecision = "rejected"
)

// LoopParticipant is one company's stake in a proposed loop.
type LoopParticipant struct {
	ID               uuid.UUID           `json:"id" db:"id"`
	LoopID           uuid.UUID           `json:"loop_id" db:"loop_id"`
	CompanyID        string              `json:"company_id" db:"company_id"`
	SettlementAmount decimal.Decimal     `json:"settlement_amount" db:"settlement_amount"`
	Decision         ParticipantDecision `json:"decision" db:"decision"`
	RespondedAt      *time.Time          `json:"responded_at,omitempty" db:"responded_at"`
	ExecutionRef     *string             `json:"execution_ref,omitempty" db:"execution_ref"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
}

// Snapshot is a consistent read of every company and every unsettled
// position, taken at the start of a detection run.
type Snapshot struct {
	Companies []Company  `json:"companies"`
	Positions []Position `json:"positions"`
	TakenAt   time.Time  `json:"taken_at"`
}

// CompanyIDs returns the anonymous IDs of the snapshot's companies in order.
func (s *Snapshot) CompanyIDs() []string {
	ids := make([]string, len(s.Companies))
	for i, c := range s.Companies {
		ids[i] = c.AnonymousID
	}
	return ids
}

// PositionsIn returns the positions denominated in currency.
func (s *Snapshot) PositionsIn(currency Currency) []Position {
	out := make([]Position, 0, len(s.Positions))
	for _, p := range s.Positions {
		if p.Currency == currency {
			out = append(out, p)
		}
	}
	return out
}
