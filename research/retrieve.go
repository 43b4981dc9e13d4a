package research

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/curiohq/curio/llm"
	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
)

// Searcher runs one sub-query against one source. Implementations must be
// safe for concurrent use; the retriever fans out all sub-query/source
// pairs at once.
type Searcher interface {
	Search(ctx context.Context, source Source, query string) ([]Doc, error)
}

// BackendSearcher implements Searcher against the REST backend: the keyword
// index through the search proxy and the vector index through
// search-by-vector with a query embedding.
type BackendSearcher struct {
	Backend *rest.Client
	LLM     *llm.Client
	// Limit bounds results per sub-query. Defaults to 10.
	Limit int
	// Threshold is the vector similarity-distance cutoff. Defaults to 0.8.
	Threshold float64
}

// Search dispatches to the keyword or vector path.
func (s *BackendSearcher) Search(ctx context.Context, source Source, query string) ([]Doc, error) {
	switch source {
	case SourceKeyword:
		return s.keyword(ctx, query)
	case SourceVector:
		return s.vector(ctx, query)
	default:
		return nil, fmt.Errorf("research: unknown source %q", source)
	}
}

func (s *BackendSearcher) keyword(ctx context.Context, query string) ([]Doc, error) {
	hits, err := s.Backend.Search(ctx, rest.SearchRequest{Query: query, Limit: s.limit()})
	if err != nil {
		return nil, err
	}
	docs := make([]Doc, 0, len(hits))
	for _, h := range hits {
		score := h.Score
		docs = append(docs, Doc{
			Source:    SourceKeyword,
			ID:        h.ID,
			Title:     h.Title,
			Content:   h.Excerpt,
			URL:       h.URL,
			Relevance: &score,
		})
	}
	return docs, nil
}

// vector embeds the query and searches by similarity. Hits carry a distance
// in [0,1]; relevance is 1 − distance, and results are ordered by
// descending relevance with the document id as the deterministic tie-break.
func (s *BackendSearcher) vector(ctx context.Context, query string) ([]Doc, error) {
	vectors, err := s.LLM.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	hits, err := s.Backend.SearchByVector(ctx, rest.VectorSearchRequest{
		Embedding: vectors[0],
		Limit:     s.limit(),
		Threshold: s.threshold(),
	})
	if err != nil {
		return nil, err
	}
	docs := make([]Doc, 0, len(hits))
	for _, h := range hits {
		relevance := 1 - h.SimilarityScore
		docs = append(docs, Doc{
			Source:    SourceVector,
			ID:        h.ID,
			Title:     h.Title,
			Content:   h.Excerpt,
			URL:       h.URL,
			Relevance: &relevance,
		})
	}
	sort.SliceStable(docs, func(i, j int) bool {
		ri, rj := *docs[i].Relevance, *docs[j].Relevance
		if ri != rj {
			return ri > rj
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (s *BackendSearcher) limit() int {
	if s.Limit > 0 {
		return s.Limit
	}
	return 10
}

func (s *BackendSearcher) threshold() float64 {
	if s.Threshold > 0 {
		return s.Threshold
	}
	return 0.8
}

// resolveSources maps the search mode onto the set of sources to query.
// Planner mode follows the plan, falling back to keyword when the plan
// names no sources.
func resolveSources(mode SearchMode, plan *Plan) []Source {
	switch mode {
	case ModeKeyword:
		return []Source{SourceKeyword}
	case ModeVector:
		return []Source{SourceVector}
	case ModeHybrid:
		return []Source{SourceKeyword, SourceVector}
	default:
		if plan != nil && len(plan.Sources) > 0 {
			return plan.Sources
		}
		return []Source{SourceKeyword}
	}
}

// retrieve fans out every sub-query against every resolved source, collects
// per-task failures without aborting, and merges results in task
// registration order so the dedup below is deterministic.
func retrieve(ctx context.Context, searcher Searcher, logger telemetry.Logger, sources []Source, subQueries []string) []Doc {
	type task struct {
		source Source
		query  string
	}
	tasks := make([]task, 0, len(sources)*len(subQueries))
	for _, src := range sources {
		for _, q := range subQueries {
			tasks = append(tasks, task{source: src, query: q})
		}
	}

	results := make([][]Doc, len(tasks))
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()
			docs, err := searcher.Search(ctx, t.source, t.query)
			results[i], errs[i] = docs, err
		}(i, t)
	}
	wg.Wait()

	var merged []Doc
	for i, t := range tasks {
		if errs[i] != nil {
			logger.Warn(ctx, "search failed", "source", string(t.source), "query", t.query, "err", errs[i])
			continue
		}
		merged = append(merged, results[i]...)
	}
	return merged
}

// dedupeDocs removes duplicate documents by id, keeping the first
// occurrence, so re-running identical sub-queries is idempotent.
func dedupeDocs(docs []Doc) []Doc {
	seen := make(map[string]struct{}, len(docs))
	out := make([]Doc, 0, len(docs))
	for _, d := range docs {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}
