package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/moonwalker/searchindex/pkg/elastic"
	"github.com/moonwalker/searchindex/pkg/index"
	"github.com/moonwalker/searchindex/pkg/worker"
)

const (
	QueuePopularity = "popularity"

	DefaultPopularityBatch = 25

	defaultDocumentType = "generic-document"
)

// Reader searches one index on the default cluster.
type Reader interface {
	Get(ctx context.Context, body []byte) (*elastic.SearchResult, error)
}

// DocumentIndex reads documents from the default cluster and writes them to
// every active one.
type DocumentIndex interface {
	GetDocument(ctx context.Context, id string) (*elastic.GetResult, error)
	Bulk(ctx context.Context, body []byte) ([]*elastic.BulkResponse, error)
}

// Popularity of one link derived from its page traffic rank.
type Popularity struct {
	Score     float64
	Rank      int64
	ViewCount int64
}

// PopularityLookup ranks links by their 14 day traffic. Links without
// traffic get the rank of the last page.
type PopularityLookup struct {
	Traffic Reader
	Offset  float64
}

func (l *PopularityLookup) size(ctx context.Context) (int64, error) {
	res, err := l.Traffic.Get(ctx, []byte(`{"query":{"match_all":{}},"size":0}`))
	if err != nil {
		return 0, err
	}
	return int64(res.Hits.Total.Value), nil
}

// Lookup returns the popularity of every link. A lookup without a traffic
// index returns an empty map.
func (l *PopularityLookup) Lookup(ctx context.Context, links []string) (map[string]Popularity, error) {
	out := make(map[string]Popularity, len(links))
	if l == nil || l.Traffic == nil || len(links) == 0 {
		return out, nil
	}

	total, err := l.size(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]interface{}{
		"query":   map[string]interface{}{"terms": map[string]interface{}{"path_components": links}},
		"_source": map[string]interface{}{"includes": []string{"rank_14", "vc_14"}},
		"sort":    []interface{}{map[string]interface{}{"rank_14": map[string]string{"order": "asc"}}},
		"size":    10 * len(links),
	})
	if err != nil {
		return nil, err
	}
	res, err := l.Traffic.Get(ctx, body)
	if err != nil {
		return nil, err
	}

	type traffic struct{ rank, views int64 }
	ranks := make(map[string]traffic, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		src := gjson.ParseBytes(hit.Source)
		rank := src.Get("rank_14")
		if rank.IsArray() {
			rank = rank.Get("0")
		}
		if !rank.Exists() || rank.Type == gjson.Null {
			continue
		}
		views := int64(1)
		if vc := src.Get("vc_14"); vc.Exists() && vc.Type != gjson.Null {
			views = vc.Int()
		}
		ranks[hit.ID] = traffic{rank: rank.Int(), views: views}
	}

	for _, link := range links {
		t, ok := ranks[link]
		if !ok {
			t = traffic{rank: total, views: 1}
		}
		p := Popularity{ViewCount: t.views}
		if t.rank == 0 {
			p.Rank = 1
		} else {
			p.Score = 1.0 / (float64(t.rank) + l.Offset)
			p.Rank = total - t.rank
		}
		out[link] = p
	}
	return out, nil
}

// QueuePopularityUpdates pages through every document id of the index in
// id order and queues one popularity job per batch. It returns the number of
// queued jobs.
func QueuePopularityUpdates(ctx context.Context, docs Reader, q worker.Enqueuer, indexName string, batch int) (int, error) {
	if batch <= 0 {
		batch = DefaultPopularityBatch
	}

	jobs := 0
	last := ""
	for {
		query := map[string]interface{}{
			"query":   map[string]interface{}{"match_all": map[string]interface{}{}},
			"_source": false,
			"size":    batch,
			"sort":    []interface{}{map[string]string{"_id": "asc"}},
		}
		if last != "" {
			query["search_after"] = []string{last}
		}
		body, err := json.Marshal(query)
		if err != nil {
			return jobs, err
		}
		res, err := docs.Get(ctx, body)
		if err != nil {
			return jobs, err
		}

		hits := res.Hits.Hits
		if len(hits) == 0 {
			return jobs, nil
		}
		ids := make([]string, 0, len(hits))
		for _, h := range hits {
			ids = append(ids, h.ID)
		}
		if err := q.EnqueueJob(PopularityJob(indexName, ids)); err != nil {
			return jobs, err
		}
		jobs++
		last = ids[len(ids)-1]

		if len(hits) < batch {
			return jobs, nil
		}
	}
}

type popularityArgs struct {
	Index string   `json:"index"`
	IDs   []string `json:"ids"`
}

// PopularityJob refreshes the popularity fields of documents already in the
// index.
func PopularityJob(indexName string, ids []string) *worker.Job {
	return worker.NewJob(QueuePopularity, worker.Args{"index": indexName, "ids": ids})
}

// Popularity rewrites each document with fresh popularity fields. The saved
// version equals the read one with external_gte, so a newer publish wins
// over the refresh. Documents missing from the index are skipped.
func (w *Workers) Popularity(ctx context.Context, job worker.Job) error {
	var a popularityArgs
	if err := worker.DecodeArgs(job.Args, &a); err != nil {
		return err
	}
	if w.Documents == nil {
		return fmt.Errorf("no document index for %s", a.Index)
	}
	docs := w.Documents(a.Index)

	popularities, err := w.Popularities.Lookup(ctx, a.IDs)
	if err != nil {
		return err
	}

	p := index.NewProcessor(docs)
	for _, id := range a.IDs {
		doc, err := docs.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		if !doc.Found {
			slog.Warn("Skipping document not in the index",
				"index", a.Index,
				"id", id,
			)
			continue
		}
		source, err := withPopularity(doc, popularities)
		if err != nil {
			return err
		}
		version := doc.Version
		docType := doc.Type
		if docType == "" {
			docType = defaultDocumentType
		}
		p.Raw(index.Identifier{
			Type:        docType,
			ID:          doc.ID,
			Version:     &version,
			VersionType: index.VersionTypeExternalGTE,
		}, source)
	}

	slog.Info("Updating popularity",
		"index", a.Index,
		"documents", p.Len(),
	)

	responses, err := p.Commit(ctx)
	if err != nil {
		return w.lockRetry(job, err)
	}

	v := index.Validator{Namespace: "popularity", Metrics: w.Metrics, Notifier: w.Notifier}
	failed := 0
	for _, res := range responses {
		for _, item := range res.Items {
			if !v.Valid(item) {
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d popularity updates failed on %s", ErrFailedJob, failed, a.Index)
	}
	return nil
}

func withPopularity(doc *elastic.GetResult, popularities map[string]Popularity) (map[string]interface{}, error) {
	source := map[string]interface{}{}
	if len(doc.Source) > 0 {
		if err := json.Unmarshal(doc.Source, &source); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", doc.ID, err)
		}
	}

	pop, ok := popularities[doc.ID]
	if !ok {
		source["popularity"] = nil
		source["popularity_b"] = nil
		source["view_count"] = nil
		source["autocomplete"] = map[string]interface{}{"input": source["title"], "weight": nil}
		return source, nil
	}
	source["popularity"] = pop.Score
	source["popularity_b"] = pop.Rank
	source["view_count"] = pop.ViewCount
	source["autocomplete"] = map[string]interface{}{"input": source["title"], "weight": pop.Rank}
	return source, nil
}
