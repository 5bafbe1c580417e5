package netting

import (
	"github.com/shopspring/decimal"
)

// settlementPlaces is cent precision.
const settlementPlaces = 2

var (
	halfCent = decimal.New(5, -3)
	cent     = decimal.New(1, -2)
)

// Loop is a netting opportunity over a simple cycle.
//
// Settlements are signed: negative means the company pays into the loop,
// positive means it receives. They sum to zero within one cent. TotalValue
// is the bottleneck edge weight and Efficiency is TotalValue divided by the
// sum of the raw cycle edge weights.
type Loop struct {
	Participants []string                   `json:"participants"`
	Settlements  map[string]decimal.Decimal `json:"settlements"`
	TotalValue   decimal.Decimal            `json:"total_value"`
	Efficiency   decimal.Decimal            `json:"efficiency"`
}

// Size returns the number of participants.
func (l Loop) Size() int {
	return len(l.Participants)
}

// SettlementSum returns the sum of all settlement amounts.
func (l Loop) SettlementSum() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range l.Settlements {
		sum = sum.Add(v)
	}
	return sum
}

// CalculateSettlement nets the cycle given by participants (in cycle order,
// closing back to the first). It returns false when the sequence is not a
// valid cycle in g: fewer than three companies, a repeated company, or any
// edge between consecutive companies that is missing or not positive.
func CalculateSettlement(g *Graph, participants []string) (*Loop, bool) {
	if !isSimple(participants) {
		return nil, false
	}

	raw := make(map[string]decimal.Decimal, len(participants))
	total := decimal.Zero
	var bottleneck decimal.Decimal

	for i, current := range participants {
		next := participants[(i+1)%len(participants)]
		w := g.Weight(current, next)
		if !w.IsPositive() {
			return nil, false
		}

		raw[current] = raw[current].Sub(w)
		raw[next] = raw[next].Add(w)
		total = total.Add(w)

		if i == 0 || w.LessThan(bottleneck) {
			bottleneck = w
		}
	}

	if !total.IsPositive() || !bottleneck.IsPositive() {
		return nil, false
	}

	settlements := make(map[string]decimal.Decimal, len(participants))
	for _, id := range participants {
		settlements[id] = roundCents(raw[id].Mul(bottleneck).Div(total))
	}
	rebalance(settlements, participants)

	cycle := make([]string, len(participants))
	copy(cycle, participants)

	return &Loop{
		Participants: cycle,
		Settlements:  settlements,
		TotalValue:   bottleneck,
		Efficiency:   bottleneck.Div(total),
	}, true
}

// roundCents rounds to cents with exact halves going toward +infinity, so
// -0.125 becomes -0.12 and 0.125 becomes 0.13.
func roundCents(d decimal.Decimal) decimal.Decimal {
	return d.Add(halfCent).RoundFloor(settlementPlaces)
}

// rebalance moves any rounding residual larger than one cent onto the leg
// with the largest magnitude (first in cycle order on ties). Residuals of a
// cent or less are left for the clearing account.
func rebalance(settlements map[string]decimal.Decimal, participants []string) {
	sum := decimal.Zero
	for _, v := range settlements {
		sum = sum.Add(v)
	}
	if sum.Abs().LessThanOrEqual(cent) {
		return
	}

	largest := participants[0]
	for _, id := range participants[1:] {
		if settlements[id].Abs().GreaterThan(settlements[largest].Abs()) {
			largest = id
		}
	}
	settlements[largest] = settlements[largest].Sub(sum)
}

// ValidateLoop reports whether participants still form a valid cycle in g.
func ValidateLoop(g *Graph, participants []string) bool {
	if !isSimple(participants) {
		return false
	}
	for i, current := range participants {
		next := participants[(i+1)%len(participants)]
		if !g.Weight(current, next).IsPositive() {
			return false
		}
	}
	return true
}

func isSimple(participants []string) bool {
	if len(participants) < minLoopSize {
		return false
	}
	seen := make(map[string]struct{}, len(participants))
	for _, id := range participants {
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}
