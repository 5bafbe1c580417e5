// ==============================================================================
// OBLIGATION GRAPH - internal/netting/graph.go
// ==============================================================================
// A Graph maps each company to the companies it owes and how much. Nodes and
// edges iterate in insertion order so detection runs are reproducible.
// A Graph is built once per detection run and must not be mutated while a
// search is running over it.
package netting

import (
	"fmt"
	"strings"

	"debtloop/internal/domain"
	"debtloop/pkg/errors"

	"github.com/shopspring/decimal"
)

// Edge is an outgoing obligation: the owning node owes To an amount of Weight.
type Edge struct {
	To     string          `json:"to"`
	Weight decimal.Decimal `json:"weight"`
}

type adjacency struct {
	order   []string
	weights map[string]decimal.Decimal
}

// Graph is a weighted directed obligation graph.
type Graph struct {
	nodes []string
	adj   map[string]*adjacency
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{adj: make(map[string]*adjacency)}
}

// AddNode registers id with no outgoing edges. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	if _, ok := g.adj[id]; ok {
		return
	}
	g.nodes = append(g.nodes, id)
	g.adj[id] = &adjacency{weights: make(map[string]decimal.Decimal)}
}

// AddDebt accumulates amount onto the edge from→to, creating both nodes if
// needed. Self obligations are ignored and reported as false.
func (g *Graph) AddDebt(from, to string, amount decimal.Decimal) bool {
	if from == to {
		return false
	}
	g.AddNode(from)
	g.AddNode(to)

	a := g.adj[from]
	current, ok := a.weights[to]
	if !ok {
		a.order = append(a.order, to)
	}
	a.weights[to] = current.Add(amount)
	return true
}

// Weight returns the accumulated weight of from→to, zero if absent.
func (g *Graph) Weight(from, to string) decimal.Decimal {
	a, ok := g.adj[from]
	if !ok {
		return decimal.Zero
	}
	return a.weights[to]
}

// HasNode reports whether id is a node.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.adj[id]
	return ok
}

// Nodes returns node identifiers in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the outgoing edges of from in insertion order, including
// edges whose weight is not positive.
func (g *Graph) Edges(from string) []Edge {
	a, ok := g.adj[from]
	if !ok {
		return nil
	}
	out := make([]Edge, 0, len(a.order))
	for _, to := range a.order {
		out = append(out, Edge{To: to, Weight: a.weights[to]})
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges with positive weight.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, a := range g.adj {
		for _, w := range a.weights {
			if w.IsPositive() {
				n++
			}
		}
	}
	return n
}

// MalformedPolicy decides what BuildGraph does with positions that violate
// the position invariants.
type MalformedPolicy int

const (
	// SkipMalformed drops bad positions and counts them in BuildStats.
	SkipMalformed MalformedPolicy = iota
	// FailOnMalformed aborts the build on the first bad position.
	FailOnMalformed
)

// ParseMalformedPolicy maps the configuration value to a policy.
func ParseMalformedPolicy(s string) (MalformedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return SkipMalformed, nil
	case "fail":
		return FailOnMalformed, nil
	}
	return SkipMalformed, fmt.Errorf("unknown malformed position policy %q", s)
}

// BuildStats summarises what BuildGraph did with its input.
type BuildStats struct {
	Positions        int `json:"positions"`
	Included         int `json:"included"`
	SkippedSettled   int `json:"skipped_settled"`
	SkippedMalformed int `json:"skipped_malformed"`
}

// BuildGraph folds unsettled positions into an obligation graph. Every
// company becomes a node even without positions. A debt position adds its
// amount to owner→counterparty; a credit position adds it to
// counterparty→owner.
func BuildGraph(companies []string, positions []domain.Position, policy MalformedPolicy) (*Graph, BuildStats, error) {
	g := NewGraph()
	stats := BuildStats{Positions: len(positions)}

	for _, id := range companies {
		if id == "" {
			continue
		}
		g.AddNode(id)
	}

	for i := range positions {
		p := &positions[i]
		if p.IsSettled {
			stats.SkippedSettled++
			continue
		}

		if err := checkPosition(p); err != nil {
			if policy == FailOnMalformed {
				return nil, stats, err
			}
			stats.SkippedMalformed++
			continue
		}

		if p.Role == domain.PositionRoleDebt {
			g.AddDebt(p.OwnerID, p.CounterpartyID, p.Amount)
		} else {
			g.AddDebt(p.CounterpartyID, p.OwnerID, p.Amount)
		}
		stats.Included++
	}

	return g, stats, nil
}

func checkPosition(p *domain.Position) error {
	switch {
	case p.OwnerID == "" || p.CounterpartyID == "":
		return errors.Wrap(errors.ErrMalformedPosition, fmt.Sprintf("position %s: missing company identifier", p.ID))
	case p.OwnerID == p.CounterpartyID:
		return errors.Wrap(errors.ErrMalformedPosition, fmt.Sprintf("position %s: self obligation", p.ID))
	case !p.Role.Valid():
		return errors.Wrap(errors.ErrMalformedPosition, fmt.Sprintf("position %s: unknown role %q", p.ID, p.Role))
	case p.Amount.IsNegative():
		return errors.Wrap(errors.ErrMalformedPosition, fmt.Sprintf("position %s: negative amount %s", p.ID, p.Amount))
	}
	return nil
}
