package netting

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopOf(value, efficiency string, participants ...string) Loop {
	return Loop{
		Participants: participants,
		TotalValue:   dec(value),
		Efficiency:   dec(efficiency),
	}
}

func values(loops []Loop) []string {
	out := make([]string, len(loops))
	for i, l := range loops {
		out[i] = l.TotalValue.String()
	}
	return out
}

func TestRankLoops_OrdersByValue(t *testing.T) {
	ranked := RankLoops([]Loop{
		loopOf("50", "1", "A", "B", "C"),
		loopOf("300", "1", "D", "E", "F"),
		loopOf("120", "1", "G", "H", "I"),
	}, RankOptions{MaxResults: 10})

	assert.Equal(t, []string{"300", "120", "50"}, values(ranked))
}

func TestRankLoops_TieBreaksOnEfficiency(t *testing.T) {
	ranked := RankLoops([]Loop{
		loopOf("100.00", "0.25", "A", "B", "C"),
		loopOf("100.01", "0.20", "D", "E", "F"),
		loopOf("100.005", "0.90", "G", "H", "I"),
	}, RankOptions{MaxResults: 10})

	require.Len(t, ranked, 3)
	assert.Equal(t, "0.9", ranked[0].Efficiency.String())
	assert.Equal(t, "0.25", ranked[1].Efficiency.String())
	assert.Equal(t, "0.2", ranked[2].Efficiency.String())
}

func TestRankLoops_DropsNonPositive(t *testing.T) {
	ranked := RankLoops([]Loop{
		loopOf("0", "1", "A", "B", "C"),
		loopOf("-5", "1", "D", "E", "F"),
		loopOf("1", "1", "G", "H", "I"),
	}, RankOptions{})

	assert.Equal(t, []string{"1"}, values(ranked))
}

func TestRankLoops_Truncates(t *testing.T) {
	var loops []Loop
	for i := 1; i <= 15; i++ {
		loops = append(loops, loopOf(fmt.Sprint(i), "1",
			fmt.Sprintf("A%d", i), fmt.Sprintf("B%d", i), fmt.Sprintf("C%d", i)))
	}

	assert.Len(t, RankLoops(loops, RankOptions{}), DefaultMaxResults)
	assert.Len(t, RankLoops(loops, RankOptions{MaxResults: 3}), 3)
	assert.Equal(t, []string{"15", "14", "13"}, values(RankLoops(loops, RankOptions{MaxResults: 3})))
}

func TestRankLoops_StrictDisjoint(t *testing.T) {
	loops := []Loop{
		loopOf("10", "1", "A", "B", "C"),
		loopOf("40", "1", "C", "D", "E"),
		loopOf("30", "1", "F", "G", "H"),
	}

	loose := RankLoops(loops, RankOptions{MaxResults: 10})
	assert.Equal(t, []string{"40", "30", "10"}, values(loose))

	strict := RankLoops(loops, RankOptions{MaxResults: 10, StrictDisjoint: true})
	assert.Equal(t, []string{"40", "30"}, values(strict))
}

func TestRankLoops_DoesNotMutateInput(t *testing.T) {
	loops := []Loop{loopOf("1", "1", "A", "B", "C"), loopOf("2", "1", "D", "E", "F")}
	RankLoops(loops, RankOptions{})

	assert.Equal(t, []string{"1", "2"}, values(loops))
}
