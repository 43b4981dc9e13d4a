package activities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

type graphAdd struct {
	graphID string
	docID   string
	text    string
}

type recordingGraph struct {
	mu     sync.Mutex
	adds   []graphAdd
	resets []string
}

func (g *recordingGraph) AddDocument(_ context.Context, graphID, docID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adds = append(g.adds, graphAdd{graphID: graphID, docID: docID, text: text})
	return nil
}

func (g *recordingGraph) ResetGraph(_ context.Context, graphID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resets = append(g.resets, graphID)
	return nil
}

func TestAddToGlobalGraphStreamsDistilledEntries(t *testing.T) {
	backend := &apiTransport{responses: map[string]apiResponse{
		"GET /api/entries/ready": {status: http.StatusOK, body: `{"id":"ready","filteredContent":"distilled"}`},
		"GET /api/entries/raw":   {status: http.StatusOK, body: `{"id":"raw"}`},
	}}
	graph := &recordingGraph{}
	a := New(Activities{Backend: newBackendClient(t, backend), Graph: graph})

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.AddToGlobalGraph, GraphAddInput{EntryIDs: []string{"ready", "raw"}})
	require.NoError(t, err)
	var out GraphAddOutput
	require.NoError(t, val.Get(&out))
	assert.Equal(t, 1, out.Added)
	assert.Equal(t, 1, out.Skipped)

	require.Len(t, graph.adds, 1)
	assert.Equal(t, graphAdd{graphID: "global", docID: "ready", text: "distilled"}, graph.adds[0])
}

func TestAddToGlobalGraphWithoutBackendIsANoOp(t *testing.T) {
	a := New(Activities{})

	out, err := a.AddToGlobalGraph(context.Background(), GraphAddInput{EntryIDs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Skipped)
}

func TestSessionGraphsAreNamedPerEntry(t *testing.T) {
	graph := &recordingGraph{}
	a := New(Activities{Graph: graph})

	require.NoError(t, a.AddToGraphRAGSession(context.Background(), GraphSessionInput{EntryID: "e1", Text: "ctx"}))
	require.NoError(t, a.ResetGraphRAGSession(context.Background(), GraphSessionInput{EntryID: "e1"}))
	require.NoError(t, a.ResetGlobalGraph(context.Background()))

	require.Len(t, graph.adds, 1)
	assert.Equal(t, "session-e1", graph.adds[0].graphID)
	assert.Equal(t, "e1", graph.adds[0].docID)
	assert.Equal(t, []string{"session-e1", "global"}, graph.resets)
}

func TestHTTPGraphClientRequests(t *testing.T) {
	type got struct {
		method string
		path   string
		auth   string
		body   map[string]string
	}
	var calls []got
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g := got{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&g.body)
		}
		calls = append(calls, g)
	}))
	defer srv.Close()

	g := &HTTPGraphClient{BaseURL: srv.URL + "/", Token: "tok"}
	require.NoError(t, g.AddDocument(context.Background(), "global", "e1", "text"))
	require.NoError(t, g.ResetGraph(context.Background(), "session-e1"))

	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodPost, calls[0].method)
	assert.Equal(t, "/graphs/global/documents", calls[0].path)
	assert.Equal(t, "Bearer tok", calls[0].auth)
	assert.Equal(t, map[string]string{"id": "e1", "text": "text"}, calls[0].body)
	assert.Equal(t, http.MethodDelete, calls[1].method)
	assert.Equal(t, "/graphs/session-e1", calls[1].path)
}

func TestHTTPGraphClientDeleteAbsentGraphIsANoOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := &HTTPGraphClient{BaseURL: srv.URL}
	assert.NoError(t, g.ResetGraph(context.Background(), "never-existed"))

	// The same 404 on an add is a real failure.
	err := g.AddDocument(context.Background(), "global", "e1", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
