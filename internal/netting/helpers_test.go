package netting

import (
	"time"

	"debtloop/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func debt(owner, counterparty, amount string) domain.Position {
	return position(owner, counterparty, domain.PositionRoleDebt, amount)
}

func credit(owner, counterparty, amount string) domain.Position {
	return position(owner, counterparty, domain.PositionRoleCredit, amount)
}

func position(owner, counterparty string, role domain.PositionRole, amount string) domain.Position {
	return domain.Position{
		ID:             uuid.New(),
		OwnerID:        owner,
		CounterpartyID: counterparty,
		Role:           role,
		Amount:         dec(amount),
		Currency:       domain.USD,
		DueDate:        time.Now().Add(30 * 24 * time.Hour),
	}
}

// graphOf builds a graph from "from>to:amount" debt edges.
func graphOf(companies []string, edges ...[3]string) *Graph {
	positions := make([]domain.Position, 0, len(edges))
	for _, e := range edges {
		positions = append(positions, debt(e[0], e[1], e[2]))
	}
	g, _, _ := BuildGraph(companies, positions, SkipMalformed)
	return g
}
