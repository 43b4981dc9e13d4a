package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/curiohq/curio/activities"
)

// newTestEnv prepares a workflow test environment with progress notification
// stubbed out.
func newTestEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *activities.Activities) {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	a := activities.New(activities.Activities{})
	acts = a
	env.RegisterActivity(a)
	env.OnActivity(a.NotifyProgress, mock.Anything, mock.Anything).
		Return(activities.NotifyOutput{Success: true}, nil)
	return env, a
}

func TestEntriesCleanupDryRunLeavesIndexAlone(t *testing.T) {
	env, a := newTestEnv(t)
	env.RegisterWorkflow(EntriesCleanup)

	env.OnActivity(a.CleanupEntries, mock.Anything, activities.CleanupInput{OlderThanDays: 30, DryRun: true}).
		Return(activities.CleanupOutput{DeletedIDs: []string{"e1", "e2", "e3"}}, nil)

	env.ExecuteWorkflow(EntriesCleanup, EntriesCleanupInput{OlderThanDays: 30, DryRun: true})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result EntriesCleanupResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 3, result.DeletedCount)
	assert.True(t, result.DryRun)
	env.AssertNotCalled(t, "RemoveDocumentsFromIndex", mock.Anything, mock.Anything)
}

func TestEntriesCleanupRemovesDeletedDocuments(t *testing.T) {
	env, a := newTestEnv(t)
	env.RegisterWorkflow(EntriesCleanup)

	env.OnActivity(a.CleanupEntries, mock.Anything, mock.Anything).
		Return(activities.CleanupOutput{DeletedIDs: []string{"e1", "e2"}}, nil)
	env.OnActivity(a.RemoveDocumentsFromIndex, mock.Anything, activities.RemoveDocumentsInput{IDs: []string{"e1", "e2"}}).
		Return(activities.RemoveDocumentsOutput{Removed: 2}, nil)

	env.ExecuteWorkflow(EntriesCleanup, EntriesCleanupInput{OlderThanDays: 30})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result EntriesCleanupResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 2, result.DeletedCount)
	env.AssertExpectations(t)
}

func TestSearchPruneRemovesOrphans(t *testing.T) {
	env, a := newTestEnv(t)
	env.RegisterWorkflow(SearchPrune)

	env.OnActivity(a.GetOrphanedDocumentIDs, mock.Anything).
		Return(activities.OrphanedDocumentsOutput{IDs: []string{"gone-1", "gone-2"}}, nil)
	env.OnActivity(a.RemoveDocumentsFromIndex, mock.Anything, activities.RemoveDocumentsInput{IDs: []string{"gone-1", "gone-2"}}).
		Return(activities.RemoveDocumentsOutput{Removed: 2}, nil)

	env.ExecuteWorkflow(SearchPrune)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SearchPruneResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 2, result.Orphans)
}

func TestSearchPruneWithCleanIndexSkipsRemoval(t *testing.T) {
	env, a := newTestEnv(t)
	env.RegisterWorkflow(SearchPrune)

	env.OnActivity(a.GetOrphanedDocumentIDs, mock.Anything).
		Return(activities.OrphanedDocumentsOutput{}, nil)

	env.ExecuteWorkflow(SearchPrune)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertNotCalled(t, "RemoveDocumentsFromIndex", mock.Anything, mock.Anything)
}

func TestSearchReindexWalksAllPages(t *testing.T) {
	env, a := newTestEnv(t)
	env.RegisterWorkflow(SearchReindex)

	hasFiltered := true
	env.OnActivity(a.ListEntryPage, mock.Anything, activities.ListEntryPageInput{
		Limit:              2,
		HasFilteredContent: &hasFiltered,
	}).Return(activities.ListEntryPageOutput{EntryIDs: []string{"e1", "e2"}, NextAfterID: "e2"}, nil)
	env.OnActivity(a.ListEntryPage, mock.Anything, activities.ListEntryPageInput{
		Limit:              2,
		AfterID:            "e2",
		HasFilteredContent: &hasFiltered,
	}).Return(activities.ListEntryPageOutput{EntryIDs: []string{"e3"}}, nil)
	env.OnActivity(a.IndexEntriesBatch, mock.Anything, activities.IndexEntriesInput{EntryIDs: []string{"e1", "e2"}}).
		Return(activities.IndexEntriesOutput{Indexed: 2}, nil)
	env.OnActivity(a.IndexEntriesBatch, mock.Anything, activities.IndexEntriesInput{EntryIDs: []string{"e3"}}).
		Return(activities.IndexEntriesOutput{Indexed: 1}, nil)

	env.ExecuteWorkflow(SearchReindex, ReindexInput{BatchSize: 2})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ReindexResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 3, result.Indexed)
	env.AssertExpectations(t)
}

func TestSearchReindexSubsetSkipsTheWalk(t *testing.T) {
	env, a := newTestEnv(t)
	env.RegisterWorkflow(SearchReindex)

	env.OnActivity(a.IndexEntriesBatch, mock.Anything, activities.IndexEntriesInput{EntryIDs: []string{"e9"}}).
		Return(activities.IndexEntriesOutput{Indexed: 1}, nil)

	env.ExecuteWorkflow(SearchReindex, ReindexInput{EntryIDs: []string{"e9"}})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ReindexResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, result.Indexed)
	env.AssertNotCalled(t, "ListEntryPage", mock.Anything, mock.Anything)
}

func TestGraphRebuildCleanResetsFirst(t *testing.T) {
	env, a := newTestEnv(t)
	env.RegisterWorkflow(GraphRebuild)

	env.OnActivity(a.ResetGlobalGraph, mock.Anything).Return(nil)
	env.OnActivity(a.ListEntryPage, mock.Anything, mock.Anything).
		Return(activities.ListEntryPageOutput{EntryIDs: []string{"e1"}}, nil)
	env.OnActivity(a.AddToGlobalGraph, mock.Anything, mock.Anything).
		Return(activities.GraphAddOutput{Added: 1}, nil)

	env.ExecuteWorkflow(GraphRebuild, GraphRebuildInput{Clean: true})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result GraphRebuildResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, result.Added)
	env.AssertExpectations(t)
}

func TestEmbeddingBackfillSubset(t *testing.T) {
	env, a := newTestEnv(t)
	env.RegisterWorkflow(EmbeddingBackfill)

	env.OnActivity(a.ComputeEmbeddings, mock.Anything, mock.MatchedBy(func(in activities.ComputeEmbeddingsInput) bool {
		return len(in.EntryIDs) == 2 && in.BatchTraceID != ""
	})).Return(activities.ComputeEmbeddingsOutput{Embedded: 2}, nil)

	env.ExecuteWorkflow(EmbeddingBackfill, EmbeddingBackfillInput{EntryIDs: []string{"e1", "e2"}})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result EmbeddingBackfillResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 2, result.Embedded)
}

func TestBatchOrDefault(t *testing.T) {
	assert.Equal(t, defaultMaintenanceBatch, batchOrDefault(0))
	assert.Equal(t, defaultMaintenanceBatch, batchOrDefault(-5))
	assert.Equal(t, 25, batchOrDefault(25))
}
