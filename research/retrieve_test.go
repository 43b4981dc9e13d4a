package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiohq/curio/llm"
	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
)

func TestParseSearchMode(t *testing.T) {
	cases := map[string]SearchMode{
		"keyword":  ModeKeyword,
		"Vector":   ModeVector,
		" hybrid ": ModeHybrid,
		"planner":  ModePlanner,
		"":         ModePlanner,
		"garbage":  ModePlanner,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseSearchMode(in), "input %q", in)
	}
}

func TestResolveSources(t *testing.T) {
	plan := &Plan{Sources: []Source{SourceVector}}

	assert.Equal(t, []Source{SourceKeyword}, resolveSources(ModeKeyword, plan))
	assert.Equal(t, []Source{SourceVector}, resolveSources(ModeVector, nil))
	assert.Equal(t, []Source{SourceKeyword, SourceVector}, resolveSources(ModeHybrid, nil))
	assert.Equal(t, []Source{SourceVector}, resolveSources(ModePlanner, plan))
	// Planner mode with an empty plan falls back to keyword.
	assert.Equal(t, []Source{SourceKeyword}, resolveSources(ModePlanner, &Plan{}))
	assert.Equal(t, []Source{SourceKeyword}, resolveSources(ModePlanner, nil))
}

func TestDedupeDocsKeepsFirstOccurrence(t *testing.T) {
	docs := []Doc{
		{ID: "a", Source: SourceKeyword, Title: "first a"},
		{ID: "b", Source: SourceKeyword},
		{ID: "a", Source: SourceVector, Title: "second a"},
		{ID: "c", Source: SourceVector},
		{ID: "b", Source: SourceVector},
	}
	out := dedupeDocs(docs)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "first a", out[0].Title)
	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, "c", out[2].ID)
}

type stubSearcher struct {
	docs map[string][]Doc
	errs map[string]error
}

func (s *stubSearcher) Search(_ context.Context, source Source, query string) ([]Doc, error) {
	key := string(source) + "/" + query
	if err := s.errs[key]; err != nil {
		return nil, err
	}
	return s.docs[key], nil
}

func TestRetrieveMergesInTaskOrderAndSkipsFailures(t *testing.T) {
	s := &stubSearcher{
		docs: map[string][]Doc{
			"keyword/q1": {{ID: "k1"}},
			"keyword/q2": {{ID: "k2"}},
			"vector/q1":  {{ID: "v1"}},
		},
		errs: map[string]error{
			"vector/q2": fmt.Errorf("timeout"),
		},
	}
	docs := retrieve(context.Background(), s, telemetry.NewNoopLogger(),
		[]Source{SourceKeyword, SourceVector}, []string{"q1", "q2"})

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	// Source-major, sub-query-minor order; the failed task contributes nothing.
	assert.Equal(t, []string{"k1", "k2", "v1"}, ids)
}

func TestRetrieveDropsCrossSourceDuplicates(t *testing.T) {
	s := &stubSearcher{
		docs: map[string][]Doc{
			"keyword/a": {{ID: "1"}, {ID: "2"}},
			"keyword/b": {{ID: "1"}, {ID: "2"}},
			"vector/a":  {{ID: "2"}, {ID: "3"}},
			"vector/b":  {{ID: "2"}, {ID: "3"}},
		},
	}
	sources := []Source{SourceKeyword, SourceVector}
	queries := []string{"a", "b"}

	docs := retrieve(context.Background(), s, telemetry.NewNoopLogger(), sources, queries)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	// Retrieval over identical sub-queries is idempotent.
	again := retrieve(context.Background(), s, telemetry.NewNoopLogger(), sources, queries)
	require.Len(t, again, len(docs))
	for i := range docs {
		assert.Equal(t, docs[i].ID, again[i].ID)
	}
}

// vectorTransport serves a scripted search-by-vector response.
type vectorTransport struct {
	body string
}

func (tr *vectorTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body := tr.body
	if req.URL.Path != "/api/entries/search-by-vector" {
		body = "[]"
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func TestVectorSearchRelevanceOrdering(t *testing.T) {
	backend, err := rest.New(rest.Options{
		BaseURL: "http://backend",
		Transport: &vectorTransport{body: `[
			{"id": "far", "title": "far", "similarityScore": 0.9},
			{"id": "near-b", "title": "near b", "similarityScore": 0.1},
			{"id": "near-a", "title": "near a", "similarityScore": 0.1},
			{"id": "mid", "title": "mid", "similarityScore": 0.5}
		]`},
	})
	require.NoError(t, err)

	s := &BackendSearcher{
		Backend: backend,
		LLM:     llm.NewWithAPI(&fakeAPI{}, "", "embed-model"),
	}
	docs, err := s.Search(context.Background(), SourceVector, "query")
	require.NoError(t, err)
	require.Len(t, docs, 4)

	// Relevance is one minus the similarity distance; ties break on id.
	assert.Equal(t, "near-a", docs[0].ID)
	assert.Equal(t, "near-b", docs[1].ID)
	assert.Equal(t, "mid", docs[2].ID)
	assert.Equal(t, "far", docs[3].ID)
	assert.InDelta(t, 0.9, *docs[0].Relevance, 1e-9)
	assert.InDelta(t, 0.1, *docs[3].Relevance, 1e-9)
}
