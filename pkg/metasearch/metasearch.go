// Package metasearch stores best bet definitions and serves the lookups the
// query builder makes against them.
package metasearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/errtrack"
	"github.com/moonwalker/searchindex/pkg/index"
	"github.com/moonwalker/searchindex/pkg/metrics"
)

const (
	DocumentType = "best_bet"
	Namespace    = "metasearch"

	// analyzer applied to both the stored and the user's query
	stemmedMatchAnalyzer = "best_bet_stemmed_match"
)

var ErrMissingArgument = errors.New("missing argument")

// BestBet is one curated query entry. Its id conventionally ends in
// "-exact" or "-stemmed".
type BestBet struct {
	ID       string
	document map[string]interface{}
}

var documentFields = []string{"exact_query", "stemmed_query", "stemmed_query_as_term", "details"}

func NewBestBet(id string, doc map[string]interface{}) (BestBet, error) {
	if strings.TrimSpace(id) == "" {
		return BestBet{}, fmt.Errorf("%w: id must be supplied", ErrMissingArgument)
	}
	if len(doc) == 0 {
		return BestBet{}, fmt.Errorf("%w: no record provided", ErrMissingArgument)
	}
	return BestBet{ID: id, document: doc}, nil
}

func (b BestBet) Identifier() index.Identifier {
	return index.Identifier{Type: DocumentType, ID: b.ID}
}

// Document keeps only the fields the best bet mapping knows about.
func (b BestBet) Document() map[string]interface{} {
	out := make(map[string]interface{}, len(documentFields))
	for _, f := range documentFields {
		out[f] = b.document[f]
	}
	return out
}

// Client is the metasearch index across clusters.
type Client interface {
	index.BulkClient
	Get(ctx context.Context, body []byte) (*elastic.SearchResult, error)
	Analyze(ctx context.Context, analyzer, text string) ([]string, error)
}

type Index struct {
	client    Client
	validator index.Validator
	notifier  errtrack.Notifier
}

func New(client Client, sink metrics.Sink, notifier errtrack.Notifier) *Index {
	return &Index{
		client:    client,
		validator: index.Validator{Namespace: Namespace, Metrics: sink, Notifier: notifier},
		notifier:  notifier,
	}
}

func (i *Index) Insert(ctx context.Context, id string, doc map[string]interface{}) error {
	bet, err := NewBestBet(id, doc)
	if err != nil {
		return err
	}
	p := index.NewProcessor(i.client)
	p.Save(bet)
	return i.commit(ctx, p)
}

// Delete removes a best bet. Deleting a missing one returns index.ErrNotFound.
func (i *Index) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id must be supplied", ErrMissingArgument)
	}
	p := index.NewProcessor(i.client)
	p.Delete(BestBet{ID: id})
	return i.commit(ctx, p)
}

// commit validates the single item of every cluster's response strictly.
func (i *Index) commit(ctx context.Context, p *index.Processor) error {
	responses, err := p.Commit(ctx)
	if err != nil {
		return err
	}
	if err := index.CheckCounts(responses, p.Len()); err != nil {
		return err
	}

	for _, res := range responses {
		item := res.Items[0]
		_, err := i.validator.Validate(item)
		if err == nil {
			continue
		}
		if !errors.Is(err, index.ErrNotFound) {
			slog.Error("Best bet not processed",
				"err", err.Error(),
				"cluster", res.Cluster,
				"id", item.ID,
			)
			if i.notifier != nil {
				i.notifier.Notify(err, errtrack.Extra{
					"action_type": item.ActionType,
					"details":     string(item.Details),
				})
			}
		}
		return err
	}
	return nil
}

func (i *Index) RawSearch(ctx context.Context, payload []byte) (*elastic.SearchResult, error) {
	return i.client.Get(ctx, payload)
}

// AnalyzedBestBetQuery runs the query through the best bet analyzer and
// joins the resulting tokens.
func (i *Index) AnalyzedBestBetQuery(ctx context.Context, query string) (string, error) {
	tokens, err := i.client.Analyze(ctx, stemmedMatchAnalyzer, query)
	if err != nil {
		return "", err
	}
	return strings.Join(tokens, " "), nil
}
