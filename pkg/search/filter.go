package search

import "time"

// FilterQuery turns request filters into a post_filter clause.
type FilterQuery struct {
	filters []Filter
}

func NewFilterQuery(params Parameters) FilterQuery {
	return FilterQuery{filters: params.Filters}
}

func (f FilterQuery) Payload() M {
	var must, mustNot []M
	for _, filter := range f.filters {
		clause := filterClause(filter)
		if clause == nil {
			continue
		}
		if filter.Reject {
			mustNot = append(mustNot, clause)
		} else {
			must = append(must, clause)
		}
	}

	switch {
	case len(must) == 0 && len(mustNot) == 0:
		return nil
	case len(mustNot) == 0:
		return combine(must, "must")
	}
	b := M{"must_not": mustNot}
	if len(must) > 0 {
		b["must"] = must
	}
	return M{"bool": b}
}

// combine joins clauses with a bool occurrence type; one clause is returned
// on its own.
func combine(clauses []M, occur string) M {
	if len(clauses) == 1 {
		return clauses[0]
	}
	return M{"bool": M{occur: clauses}}
}

func filterClause(f Filter) M {
	var clauses []M
	if f.IncludeMissing {
		clauses = append(clauses, M{
			"bool": M{"must_not": M{"exists": M{"field": f.Field}}},
		})
	}
	if f.IsDate() {
		if r := dateRange(f); r != nil {
			clauses = append(clauses, r)
		}
	} else if len(f.Values) > 0 {
		clauses = append(clauses, M{"terms": M{f.Field: f.Values}})
	}
	if len(clauses) == 0 {
		return nil
	}
	return combine(clauses, "should")
}

func dateRange(f Filter) M {
	bounds := M{}
	if f.From != nil {
		bounds["gte"] = f.From.Format(time.DateOnly)
	}
	if f.To != nil {
		bounds["lte"] = f.To.Format(time.DateOnly)
	}
	if len(bounds) == 0 {
		return nil
	}
	bounds["format"] = "yyyy-MM-dd"
	return M{"range": M{f.Field: bounds}}
}
