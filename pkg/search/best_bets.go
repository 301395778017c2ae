package search

import (
	"slices"
	"sort"
)

const bestBetBoost = 1000000

// Bets are the curated overrides for one query: links to force to the top,
// grouped by position, and links to exclude.
type Bets struct {
	Best  map[int][]string
	Worst []string
}

func (b Bets) Empty() bool {
	return len(b.Best) == 0 && len(b.Worst) == 0
}

// Positions returns the best bet positions in ascending order.
func (b Bets) Positions() []int {
	out := make([]int, 0, len(b.Best))
	for pos := range b.Best {
		out = append(out, pos)
	}
	sort.Ints(out)
	return out
}

// BestBets boosts best bet links above everything else and removes worst
// bet links from the results.
type BestBets struct {
	params Parameters
	bets   Bets
}

func NewBestBets(params Parameters, bets Bets) BestBets {
	return BestBets{params: params, bets: bets}
}

func (b BestBets) Wrap(query M) M {
	if b.params.Debug.DisableBestBets || b.bets.Empty() {
		return query
	}

	should := []M{query}
	positions := b.bets.Positions()
	if len(positions) > 0 {
		maxPos := slices.Max(positions)
		for _, pos := range positions {
			should = append(should, M{
				"function_score": M{
					"query":        M{"ids": M{"values": b.bets.Best[pos]}},
					"boost_factor": bestBetBoost * (maxPos - pos + 1),
				},
			})
		}
	}

	boolQuery := M{"should": should}
	if len(b.bets.Worst) > 0 {
		boolQuery["must_not"] = []M{{"ids": M{"values": b.bets.Worst}}}
	}
	return M{"bool": boolQuery}
}
