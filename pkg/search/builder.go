package search

import (
	"context"
	"log/slog"

	"github.com/moonwalker/searchindex/pkg/config"
)

// fields always fetched so presented results can be filled in, whether or
// not they were asked for
var defaultSourceFields = []string{
	"document_type",
	"title",
	"description",
	"organisation_content_ids",
	"topic_content_ids",
	"mainstream_browse_page_content_ids",
	"popularity",
	"format",
	"link",
	"public_timestamp",
	"updated_at",
	"indexable_content",
}

// BetLookup finds the curated bets for a query.
type BetLookup interface {
	Lookup(ctx context.Context, query string) (Bets, error)
}

// Builder assembles the full search request for a set of parameters.
type Builder struct {
	Params           Parameters
	ContentIndices   []string
	Boosting         map[string]config.BoostSet
	PopularityOffset float64
	Bets             BetLookup
}

func (b Builder) Payload(ctx context.Context) (M, error) {
	query, err := b.Query(ctx)
	if err != nil {
		return nil, err
	}

	var explain interface{}
	if b.Params.Debug.Explain {
		explain = true
	}

	payload := M{
		"from":        b.Params.Start,
		"size":        b.Params.Count,
		"_source":     M{"includes": b.sourceFields()},
		"query":       query,
		"post_filter": NewFilterQuery(b.Params).Payload(),
		"sort":        NewSort(b.Params).Payload(),
		"highlight":   NewHighlight(b.Params).Payload(),
		"explain":     explain,
	}
	return withoutBlankValues(payload), nil
}

// Query picks the main query: similar documents, everything, or the ranked
// text query.
func (b Builder) Query(ctx context.Context) (M, error) {
	if b.Params.SimilarTo != "" {
		return b.moreLikeThis(), nil
	}
	if !b.Params.HasQuery() {
		return M{"match_all": M{}}, nil
	}

	var bets Bets
	if !b.Params.Debug.DisableBestBets && b.Bets != nil {
		var err error
		bets, err = b.Bets.Lookup(ctx, b.Params.Query)
		if err != nil {
			return nil, err
		}
	}

	core := NewTextQuery(b.Params).Payload()
	boosted := NewBooster(b.Params, b.Boosting).Wrap(core)
	popular := NewPopularity(b.Params, b.PopularityOffset).Wrap(boosted)
	return NewBestBets(b.Params, bets).Wrap(popular), nil
}

func (b Builder) moreLikeThis() M {
	like := make([]M, 0, len(b.ContentIndices))
	for _, index := range b.ContentIndices {
		like = append(like, M{"_id": b.Params.SimilarTo, "_index": index})
	}
	slog.Debug("more like this", "id", b.Params.SimilarTo)
	return M{
		"more_like_this": M{
			"like":         like,
			"min_doc_freq": 0,
		},
	}
}

func (b Builder) sourceFields() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range append(append([]string(nil), b.Params.ReturnFields...), defaultSourceFields...) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// withoutBlankValues drops nil values and empty maps and slices.
func withoutBlankValues(payload M) M {
	out := M{}
	for k, v := range payload {
		switch t := v.(type) {
		case nil:
			continue
		case M:
			if len(t) == 0 {
				continue
			}
		case []M:
			if len(t) == 0 {
				continue
			}
		case []string:
			if len(t) == 0 {
				continue
			}
		}
		out[k] = v
	}
	return out
}
