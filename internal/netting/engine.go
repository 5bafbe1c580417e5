// ==============================================================================
// LOOP DETECTION ENGINE - internal/netting/engine.go
// ==============================================================================
// Engine ties the cycle finder, settlement calculator, ranker and fee
// schedule together. It is synchronous and holds no state between runs, so
// one Engine may serve concurrent callers as long as each passes its own
// Graph snapshot.

package netting

import (
	"context"

	"debtloop/internal/domain"
	"debtloop/pkg/logger"

	"github.com/shopspring/decimal"
)

// Options configures an Engine.
type Options struct {
	MaxDepth       int
	MaxResults     int
	StrictDisjoint bool
}

// DefaultOptions returns depth 4, ten results and strict disjointness.
func DefaultOptions() Options {
	return Options{
		MaxDepth:       DefaultMaxDepth,
		MaxResults:     DefaultMaxResults,
		StrictDisjoint: true,
	}
}

// Engine detects, settles, ranks and prices loops.
type Engine struct {
	opts   Options
	fees   FeeSchedule
	logger logger.Logger
}

// NewEngine creates an Engine. Zero option values fall back to defaults.
func NewEngine(opts Options, fees FeeSchedule, log logger.Logger) *Engine {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{opts: opts, fees: fees, logger: log}
}

// Options returns the engine's effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Detect finds cycles in g up to maxDepth edges (the engine default when
// maxDepth <= 0), nets each one and returns the ranked loops. Cycles that
// fail to settle are dropped silently. An empty result is not an error.
func (e *Engine) Detect(ctx context.Context, g *Graph, maxDepth int) ([]Loop, error) {
	if maxDepth <= 0 {
		maxDepth = e.opts.MaxDepth
	}

	cycles, err := FindCycles(ctx, g, maxDepth)
	if err != nil {
		return nil, err
	}

	loops := make([]Loop, 0, len(cycles))
	rejected := 0
	for _, c := range cycles {
		loop, ok := CalculateSettlement(g, c)
		if !ok {
			rejected++
			continue
		}
		loops = append(loops, *loop)
	}

	ranked := RankLoops(loops, RankOptions{
		MaxResults:     e.opts.MaxResults,
		StrictDisjoint: e.opts.StrictDisjoint,
	})

	e.logger.Debug("Loop detection finished", map[string]interface{}{
		"nodes":     g.Len(),
		"edges":     g.EdgeCount(),
		"max_depth": maxDepth,
		"cycles":    len(cycles),
		"rejected":  rejected,
		"ranked":    len(ranked),
	})

	return ranked, nil
}

// CalculateFee prices loop with the engine's fee schedule.
func (e *Engine) CalculateFee(loop Loop) int64 {
	return e.fees.Calculate(loop)
}

// FeeSchedule returns the schedule the engine prices loops with.
func (e *Engine) FeeSchedule() FeeSchedule {
	return e.fees
}

// ValidateLoop reports whether participants still form a valid cycle in g.
func (e *Engine) ValidateLoop(g *Graph, participants []string) bool {
	return ValidateLoop(g, participants)
}

// NetPosition returns credits minus debts across the unsettled positions
// owned by companyID.
func NetPosition(positions []domain.Position, companyID string) decimal.Decimal {
	net := decimal.Zero
	for _, p := range positions {
		if p.IsSettled || p.OwnerID != companyID {
			continue
		}
		switch p.Role {
		case domain.PositionRoleCredit:
			net = net.Add(p.Amount)
		case domain.PositionRoleDebt:
			net = net.Sub(p.Amount)
		}
	}
	return net
}
