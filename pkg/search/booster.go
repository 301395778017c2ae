package search

import (
	"sort"
	"time"

	"github.com/moonwalker/searchindex/pkg/config"
)

// freshness curve for announcements, roughly two months wide
const timeBoostScript = "((0.05 / ((3.16*Math.pow(10,-11)) * Math.abs(params.now - doc['public_timestamp'].date.getMillis()) + 0.05)) + 0.12)"

// Booster multiplies scores by configured per-property weights and favours
// recent announcements.
type Booster struct {
	params Parameters
	boosts map[string]config.BoostSet
	now    func() time.Time
}

func NewBooster(params Parameters, boosts map[string]config.BoostSet) Booster {
	return Booster{params: params, boosts: boosts, now: time.Now}
}

func (b Booster) Wrap(query M) M {
	if b.params.Debug.DisableBoosting {
		return query
	}
	return M{
		"function_score": M{
			"boost_mode": "multiply",
			"score_mode": "multiply",
			"query": M{
				"bool": M{"should": []M{query}},
			},
			"functions": append(b.propertyBoosts(), b.timeBoost()),
		},
	}
}

// propertyBoosts is ordered by property then value so payloads are stable.
func (b Booster) propertyBoosts() []M {
	properties := make([]string, 0, len(b.boosts))
	for p := range b.boosts {
		properties = append(properties, p)
	}
	sort.Strings(properties)

	var out []M
	for _, property := range properties {
		set := b.boosts[property]
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Strings(values)
		for _, value := range values {
			out = append(out, M{
				"filter": M{"term": M{property: value}},
				"weight": set[value],
			})
		}
	}
	return out
}

func (b Booster) timeBoost() M {
	return M{
		"filter": M{"term": M{"search_format_types": "announcement"}},
		"script_score": M{
			"script": M{
				"lang":   "painless",
				"source": timeBoostScript,
				"params": M{"now": b.now().Truncate(time.Minute).UnixMilli()},
			},
		},
	}
}
