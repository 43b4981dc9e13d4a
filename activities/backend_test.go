package activities

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEntryPageCursorAdvancesOnFullPages(t *testing.T) {
	backend := &apiTransport{responses: map[string]apiResponse{
		"GET /api/entries": {status: http.StatusOK, body: `[{"id":"e1"},{"id":"e2"},{"id":"e3"}]`},
	}}
	a := New(Activities{Backend: newBackendClient(t, backend)})

	hasContent := true
	out, err := a.ListEntryPage(context.Background(), ListEntryPageInput{
		Limit:              3,
		HasFilteredContent: &hasContent,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "e3"}, out.EntryIDs)
	assert.Equal(t, "e3", out.NextAfterID, "a full page means there may be more")

	// The filter rides along as query parameters.
	lists := backend.callsTo(http.MethodGet, "/api/entries")
	require.Len(t, lists, 1)
	assert.Equal(t, "3", lists[0].query.Get("limit"))
	assert.Equal(t, "true", lists[0].query.Get("hasFilteredContent"))
}

func TestListEntryPageShortPageEndsTheWalk(t *testing.T) {
	backend := &apiTransport{responses: map[string]apiResponse{
		"GET /api/entries": {status: http.StatusOK, body: `[{"id":"e9"}]`},
	}}
	a := New(Activities{Backend: newBackendClient(t, backend)})

	out, err := a.ListEntryPage(context.Background(), ListEntryPageInput{AfterID: "e8", Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"e9"}, out.EntryIDs)
	assert.Empty(t, out.NextAfterID)

	lists := backend.callsTo(http.MethodGet, "/api/entries")
	require.Len(t, lists, 1)
	assert.Equal(t, "e8", lists[0].query.Get("afterId"))
}

func TestGetEntryByIDMissingIsNilNotError(t *testing.T) {
	backend := &apiTransport{responses: map[string]apiResponse{
		"GET /api/entries/gone": {status: http.StatusNotFound},
		"GET /api/entries/here": {status: http.StatusOK, body: `{"id":"here","title":"t"}`},
	}}
	a := New(Activities{Backend: newBackendClient(t, backend)})

	entry, err := a.GetEntryByID(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = a.GetEntryByID(context.Background(), "here")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "t", entry.Title)
}

func TestCleanupEntriesPassesThePredicate(t *testing.T) {
	backend := &apiTransport{responses: map[string]apiResponse{
		"POST /api/entries/cleanup": {status: http.StatusOK, body: `{"deletedIds":["e1","e2"]}`},
	}}
	a := New(Activities{Backend: newBackendClient(t, backend)})

	out, err := a.CleanupEntries(context.Background(), CleanupInput{OlderThanDays: 30, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, out.DeletedIDs)

	calls := backend.callsTo(http.MethodPost, "/api/entries/cleanup")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].body, `"olderThanDays":30`)
	assert.Contains(t, calls[0].body, `"dryRun":true`)
}

func TestListFeedsWrapsBackendErrors(t *testing.T) {
	backend := &apiTransport{responses: map[string]apiResponse{
		"GET /api/feeds": {status: http.StatusInternalServerError, body: "boom"},
	}}
	a := New(Activities{Backend: newBackendClient(t, backend)})

	_, err := a.ListFeeds(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list feeds")
}

func TestGetSettings(t *testing.T) {
	backend := &apiTransport{responses: map[string]apiResponse{
		"GET /api/settings": {status: http.StatusOK, body: `{"targetLanguage":"de","evaluationEnabled":true,"blockedDomains":["x.example"]}`},
	}}
	a := New(Activities{Backend: newBackendClient(t, backend)})

	settings, err := a.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "de", settings.TargetLanguage)
	assert.True(t, settings.EvaluationEnabled)
	assert.Equal(t, []string{"x.example"}, settings.BlockedDomains)
}
