package netting

import (
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultMaxResults caps how many loops one detection run surfaces.
const DefaultMaxResults = 10

// valueTieTolerance treats total values this close as equal.
var valueTieTolerance = decimal.New(1, -2)

// RankOptions controls RankLoops.
type RankOptions struct {
	MaxResults int
	// StrictDisjoint drops any loop sharing a company with a higher-ranked
	// loop already selected.
	StrictDisjoint bool
}

// RankLoops orders loops by total value descending, breaking ties within one
// cent by efficiency descending, and truncates to MaxResults. Loops without
// positive value are discarded. The input slice is not modified.
func RankLoops(loops []Loop, opts RankOptions) []Loop {
	limit := opts.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	ranked := make([]Loop, 0, len(loops))
	for _, l := range loops {
		if l.TotalValue.IsPositive() {
			ranked = append(ranked, l)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranksBefore(ranked[i], ranked[j])
	})

	out := make([]Loop, 0, min(limit, len(ranked)))
	taken := make(map[string]bool)

	for _, l := range ranked {
		if len(out) == limit {
			break
		}
		if opts.StrictDisjoint && sharesAny(l.Participants, taken) {
			continue
		}
		for _, id := range l.Participants {
			taken[id] = true
		}
		out = append(out, l)
	}

	return out
}

func ranksBefore(a, b Loop) bool {
	if a.TotalValue.Sub(b.TotalValue).Abs().GreaterThan(valueTieTolerance) {
		return a.TotalValue.GreaterThan(b.TotalValue)
	}
	return a.Efficiency.GreaterThan(b.Efficiency)
}

func sharesAny(ids []string, taken map[string]bool) bool {
	for _, id := range ids {
		if taken[id] {
			return true
		}
	}
	return false
}
