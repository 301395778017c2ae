package search

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/moonwalker/searchindex/pkg/config"
	"github.com/moonwalker/searchindex/pkg/elastic"
)

// Index is the read side of an index client.
type Index interface {
	Get(ctx context.Context, body []byte) (*elastic.SearchResult, error)
	GetFrom(ctx context.Context, clusterKey string, body []byte) (*elastic.SearchResult, error)
}

type Result struct {
	Index     string                 `json:"index"`
	ID        string                 `json:"_id"`
	Link      string                 `json:"link,omitempty"`
	Score     float64                `json:"es_score"`
	Fields    map[string]interface{} `json:"fields"`
	Highlight map[string][]string    `json:"-"`
}

type ResultSet struct {
	Total            int          `json:"total"`
	Start            int          `json:"start"`
	Results          []Result     `json:"results"`
	SuggestedQueries []Suggestion `json:"suggested_queries"`
	Cluster          string       `json:"es_cluster,omitempty"`
}

// Searcher runs searches across the content indices.
type Searcher struct {
	Content          Index
	Spelling         Index
	ContentIndices   []string
	Bets             BetLookup
	Boosting         map[string]config.BoostSet
	PopularityOffset float64
	SpellingConfig   config.SpellingConfig
}

func NewSearcher(cfg config.Config, pool *elastic.Pool, bets BetLookup) *Searcher {
	s := &Searcher{
		Content:          elastic.NewIndexClient(strings.Join(cfg.Indices.Content, ","), pool),
		ContentIndices:   cfg.Indices.Content,
		Bets:             bets,
		Boosting:         cfg.Boosting,
		PopularityOffset: cfg.Elasticsearch.PopularityOffset,
		SpellingConfig:   cfg.Spelling,
	}
	if len(cfg.Indices.Spelling) > 0 {
		s.Spelling = elastic.NewIndexClient(strings.Join(cfg.Indices.Spelling, ","), pool)
	}
	return s
}

func (s *Searcher) Builder(params Parameters) Builder {
	return Builder{
		Params:           params,
		ContentIndices:   s.ContentIndices,
		Boosting:         s.Boosting,
		PopularityOffset: s.PopularityOffset,
		Bets:             s.Bets,
	}
}

func (s *Searcher) Run(ctx context.Context, params Parameters) (*ResultSet, error) {
	payload, err := s.Builder(params).Payload(ctx)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	slog.Debug("search payload", "payload", string(body))

	res, err := s.get(ctx, s.Content, params.Cluster, body)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	set := &ResultSet{
		Total:   res.Hits.Total.Value,
		Start:   params.Start,
		Results: present(res.Hits.Hits, params),
		Cluster: params.Cluster,
	}
	if params.SuggestSpelling() {
		set.SuggestedQueries = s.suggest(ctx, params)
	}
	return set, nil
}

func (s *Searcher) get(ctx context.Context, index Index, clusterKey string, body []byte) (*elastic.SearchResult, error) {
	if clusterKey != "" {
		return index.GetFrom(ctx, clusterKey, body)
	}
	return index.Get(ctx, body)
}

// suggest failures only cost the suggestions.
func (s *Searcher) suggest(ctx context.Context, params Parameters) []Suggestion {
	check := NewSpellCheck(params, s.SpellingConfig)
	if s.Spelling == nil || check.Blocked() {
		return nil
	}
	body, err := json.Marshal(check.Payload())
	if err != nil {
		return nil
	}
	res, err := s.get(ctx, s.Spelling, params.Cluster, body)
	if err != nil {
		slog.Warn("spelling suggestion failed", "err", err.Error())
		return nil
	}
	return Suggestions(res.Suggest)
}

func present(hits []elastic.SearchHit, params Parameters) []Result {
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		source := map[string]interface{}{}
		if len(hit.Source) > 0 {
			if err := json.Unmarshal(hit.Source, &source); err != nil {
				slog.Warn("skipping undecodable hit", "id", hit.ID, "err", err.Error())
				continue
			}
		}
		link, _ := source["link"].(string)
		out = append(out, Result{
			Index:     hit.Index,
			ID:        hit.ID,
			Link:      link,
			Score:     hit.Score,
			Fields:    selectFields(source, hit.Highlight, params),
			Highlight: hit.Highlight,
		})
	}
	return out
}

// selectFields keeps the requested return fields, filling the highlighted
// variants from the highlight response or the escaped plain field.
func selectFields(source map[string]interface{}, highlight map[string][]string, params Parameters) map[string]interface{} {
	if len(params.ReturnFields) == 0 {
		return source
	}
	out := make(map[string]interface{}, len(params.ReturnFields))
	for _, name := range params.ReturnFields {
		field, ok := HighlightedField(name)
		if !ok {
			if v, found := source[name]; found {
				out[name] = v
			}
			continue
		}
		if fragments := highlightFragments(highlight, field); len(fragments) > 0 {
			out[name] = strings.Join(fragments, "…")
		} else if v, found := source[field].(string); found {
			out[name] = html.EscapeString(v)
		}
	}
	return out
}

func highlightFragments(highlight map[string][]string, field string) []string {
	if f := highlight[field+".synonym"]; len(f) > 0 {
		return f
	}
	return highlight[field]
}
