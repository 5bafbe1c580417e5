// Package domain re-exports core domain types so internal code can import
// `debtloop/internal/domain` while using definitions from `debtloop/pkg/domain`.
package domain

import pkg "debtloop/pkg/domain"

// Currency represents a currency code.
type Currency = pkg.Currency

// Company represents a netting participant.
type Company = pkg.Company

// Position represents a bilateral obligation.
type Position = pkg.Position

// PositionRole is credit or debt.
type PositionRole = pkg.PositionRole

// Metadata holds arbitrary key-value metadata.
type Metadata = pkg.Metadata

// SettlementMap holds signed per-company settlement amounts.
type SettlementMap = pkg.SettlementMap

// Loop represents a proposed multilateral settlement.
type Loop = pkg.Loop

// LoopStatus represents loop lifecycle states.
type LoopStatus = pkg.LoopStatus

// LoopParticipant represents one company's stake in a loop.
type LoopParticipant = pkg.LoopParticipant

// ParticipantDecision represents a participant's response.
type ParticipantDecision = pkg.ParticipantDecision

// Snapshot is a consistent read of companies and unsettled positions.
type Snapshot = pkg.Snapshot

// Re-exported currency codes.
const (
	USD = pkg.USD
	EUR = pkg.EUR
	GBP = pkg.GBP
)

// DefaultTokenBalance is the allowance granted to new companies.
const DefaultTokenBalance = pkg.DefaultTokenBalance

// Re-exported position roles.
const (
	PositionRoleCredit = pkg.PositionRoleCredit
	PositionRoleDebt   = pkg.PositionRoleDebt
)

// Re-exported loop statuses.
const (
	LoopStatusPending   = pkg.LoopStatusPending
	LoopStatusVerified  = pkg.LoopStatusVerified
	LoopStatusCompleted = pkg.LoopStatusCompleted
	LoopStatusRejected  = pkg.LoopStatusRejected
	LoopStatusExpired   = pkg.LoopStatusExpired
	LoopStatusFailed    = pkg.LoopStatusFailed
)

// Re-exported participant decisions.
const (
	DecisionPending  = pkg.DecisionPending
	DecisionAccepted = pkg.DecisionAccepted
	DecisionRejected = pkg.DecisionRejected
)
