package search

// Popularity multiplies the score by the document's popularity plus a small
// offset, so documents without traffic data still score.
type Popularity struct {
	params Parameters
	offset float64
}

func NewPopularity(params Parameters, offset float64) Popularity {
	return Popularity{params: params, offset: offset}
}

func (p Popularity) Wrap(query M) M {
	if p.params.Debug.DisablePopularity {
		return query
	}
	return M{
		"function_score": M{
			"query":      query,
			"boost_mode": "multiply",
			"score_mode": "sum",
			"functions": []M{
				{"field_value_factor": M{"field": "popularity", "modifier": "none", "missing": 0}},
				{"weight": p.offset},
			},
		},
	}
}
