package search

// M is a fragment of query DSL.
type M = map[string]interface{}

type fieldBoost struct {
	name  string
	boost float64
}

// fields matched individually, with their boosts
var matchFields = []fieldBoost{
	{"title", 5},
	{"acronym", 5},
	{"description", 2},
	{"indexable_content", 1},
}

// With 3-5 terms one may be missing, with 6-7 terms two may be missing, with
// 8 or more 75% must be present.
const minimumShouldMatch = "2<-1 5<-2 7<75%"

type matchOptions struct {
	phrase             bool
	boost              float64
	minimumShouldMatch string
	operator           string
}

func defaultMatch() matchOptions {
	return matchOptions{boost: 1.0, minimumShouldMatch: minimumShouldMatch, operator: "or"}
}

// matchQuery is a match, or a match_phrase when opts.phrase is set. Phrase
// queries take no operator or minimum_should_match.
func matchQuery(field, query string, opts matchOptions) M {
	if opts.phrase {
		return M{
			"match_phrase": M{
				field: M{
					"boost": opts.boost,
					"query": query,
				},
			},
		}
	}
	return M{
		"match": M{
			field: M{
				"boost":                opts.boost,
				"query":                query,
				"minimum_should_match": opts.minimumShouldMatch,
				"operator":             opts.operator,
			},
		},
	}
}

// disMax scores by the best matching query plus tieBreaker times the others.
// A single query is returned as is.
func disMax(queries []M, tieBreaker float64) M {
	if len(queries) == 1 {
		return queries[0]
	}
	return M{
		"dis_max": M{
			"queries":     queries,
			"tie_breaker": tieBreaker,
			"boost":       1.0,
		},
	}
}

// TextQuery is the core relevance query over the searchable text fields.
type TextQuery struct {
	params Parameters
}

func NewTextQuery(params Parameters) TextQuery {
	return TextQuery{params: params}
}

func (t TextQuery) Payload() M {
	if t.params.Quoted() {
		return disMax(t.fieldGroup(".no_stop", func(o *matchOptions) { o.phrase = true }), 0)
	}
	return M{
		"bool": M{
			"must":   []M{t.allSearchableText()},
			"should": t.shouldConditions(),
		},
	}
}

func (t TextQuery) allSearchableText() M {
	q := t.params.Query
	queries := []M{matchQuery("all_searchable_text", q, defaultMatch())}
	if !t.params.Debug.DisableSynonyms {
		queries = append(queries, matchQuery("all_searchable_text.synonym", q, defaultMatch()))
	}
	idCodes := defaultMatch()
	idCodes.minimumShouldMatch = "1"
	queries = append(queries, matchQuery("all_searchable_text.id_codes", q, idCodes))
	return disMax(queries, 0.1)
}

func (t TextQuery) shouldConditions() []M {
	groups := [][]M{
		t.fieldGroup(".no_stop", nil),
		t.fieldGroup(".no_stop", func(o *matchOptions) { o.phrase = true }),
		t.fieldGroup(".no_stop", func(o *matchOptions) { o.operator = "and" }),
	}
	if !t.params.Debug.DisableSynonyms {
		groups = append(groups, t.fieldGroup(".synonym", nil))
	}
	if t.params.UseShingles() {
		groups = append(groups, t.fieldGroup(".shingles", nil))
	}
	groups = append(groups, t.fieldGroup(".id_codes", func(o *matchOptions) { o.minimumShouldMatch = "1" }))

	out := make([]M, 0, len(groups))
	for _, g := range groups {
		out = append(out, disMax(g, 0))
	}
	return out
}

// fieldGroup matches the query against one sub-field of every match field.
func (t TextQuery) fieldGroup(suffix string, configure func(*matchOptions)) []M {
	out := make([]M, 0, len(matchFields))
	for _, f := range matchFields {
		opts := defaultMatch()
		opts.boost = f.boost
		if configure != nil {
			configure(&opts)
		}
		out = append(out, matchQuery(f.name+suffix, t.params.Query, opts))
	}
	return out
}
