package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func TestIndexEntriesBatchOnlyCarriesDistilledEntries(t *testing.T) {
	backend := &apiTransport{responses: map[string]apiResponse{
		"GET /api/entries/ready":   {status: http.StatusOK, body: `{"id":"ready","title":"Ready","url":"https://x/1","filteredContent":"distilled body"}`},
		"GET /api/entries/raw":     {status: http.StatusOK, body: `{"id":"raw","title":"Raw only","rawContent":"unprocessed"}`},
		"GET /api/entries/missing": {status: http.StatusNotFound},
	}}
	a := New(Activities{Backend: newBackendClient(t, backend)})

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.IndexEntriesBatch, IndexEntriesInput{
		EntryIDs: []string{"ready", "raw", "missing"},
	})
	require.NoError(t, err)
	var out IndexEntriesOutput
	require.NoError(t, val.Get(&out))
	assert.Equal(t, 1, out.Indexed)
	assert.Equal(t, 2, out.Skipped)

	upserts := backend.callsTo(http.MethodPost, "/api/search/index")
	require.Len(t, upserts, 1)
	var docs []map[string]string
	require.NoError(t, json.Unmarshal([]byte(upserts[0].body), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "ready", docs[0]["id"])
	assert.Equal(t, "distilled body", docs[0]["content"])
	assert.Equal(t, "https://x/1", docs[0]["url"])
}

func TestIndexEntriesBatchEmptySelectionTouchesNothing(t *testing.T) {
	backend := &apiTransport{}
	a := New(Activities{Backend: newBackendClient(t, backend)})

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.IndexEntriesBatch, IndexEntriesInput{})
	require.NoError(t, err)
	var out IndexEntriesOutput
	require.NoError(t, val.Get(&out))
	assert.Zero(t, out.Indexed)
	assert.Zero(t, backend.callCount())
}

func TestRemoveDocumentsBatchesByThousand(t *testing.T) {
	ids := make([]string, 2500)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%04d", i)
	}
	backend := &apiTransport{}
	a := New(Activities{Backend: newBackendClient(t, backend)})

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.RemoveDocumentsFromIndex, RemoveDocumentsInput{IDs: ids})
	require.NoError(t, err)
	var out RemoveDocumentsOutput
	require.NoError(t, val.Get(&out))
	assert.Equal(t, 2500, out.Removed)

	removes := backend.callsTo(http.MethodPost, "/api/search/remove")
	require.Len(t, removes, 3)
	sizes := make([]int, len(removes))
	for i, call := range removes {
		var body map[string][]string
		require.NoError(t, json.Unmarshal([]byte(call.body), &body))
		sizes[i] = len(body["ids"])
	}
	assert.Equal(t, []int{1000, 1000, 500}, sizes)
	assert.Contains(t, removes[0].body, "id-0000")
	assert.Contains(t, removes[2].body, "id-2499")
}

func TestOrphanedDocumentIDsAreTheSortedSetDifference(t *testing.T) {
	backend := &apiTransport{responses: map[string]apiResponse{
		"GET /api/search/ids":  {status: http.StatusOK, body: `["zeta","alpha","beta","gamma"]`},
		"GET /api/entries/ids": {status: http.StatusOK, body: `["alpha","gamma"]`},
	}}
	a := New(Activities{Backend: newBackendClient(t, backend)})

	out, err := a.GetOrphanedDocumentIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "zeta"}, out.IDs)
}

func TestOrphanedDocumentIDsCleanIndex(t *testing.T) {
	backend := &apiTransport{responses: map[string]apiResponse{
		"GET /api/search/ids":  {status: http.StatusOK, body: `["alpha"]`},
		"GET /api/entries/ids": {status: http.StatusOK, body: `["alpha","beta"]`},
	}}
	a := New(Activities{Backend: newBackendClient(t, backend)})

	out, err := a.GetOrphanedDocumentIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.IDs)
}
