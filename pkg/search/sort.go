package search

// Sort emits the requested ordering. Without one, popularity orders
// query-less listings.
type Sort struct {
	params Parameters
}

func NewSort(params Parameters) Sort {
	return Sort{params: params}
}

func (s Sort) Payload() []M {
	switch {
	case s.params.SimilarTo != "":
		return nil
	case s.params.Order != nil:
		return []M{{
			s.params.Order.Field: M{
				"order":   s.params.Order.Direction,
				"missing": "_last",
			},
		}}
	case !s.params.HasQuery() && !s.params.Debug.DisablePopularity:
		return []M{{"popularity": M{"order": "desc"}}}
	}
	return nil
}
