package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/curiohq/curio/activities"
)

type (
	// EntriesCleanupInput selects entries for deletion: read, unstarred,
	// unkept and older than the cutoff. DryRun reports without deleting.
	EntriesCleanupInput struct {
		OlderThanDays int  `json:"olderThanDays"`
		DryRun        bool `json:"dryRun"`
	}

	// EntriesCleanupResult reports how many entries matched. With DryRun
	// nothing was deleted and the index is untouched.
	EntriesCleanupResult struct {
		DeletedCount int  `json:"deletedCount"`
		DryRun       bool `json:"dryRun"`
	}

	// SearchPruneResult counts the orphaned index documents removed.
	SearchPruneResult struct {
		Orphans int `json:"orphans"`
	}

	// ReindexInput bounds a reindex run. EntryIDs narrows the run to those
	// entries; empty walks the whole corpus in BatchSize pages.
	ReindexInput struct {
		EntryIDs  []string `json:"entryIds,omitempty"`
		BatchSize int      `json:"batchSize,omitempty"`
	}

	// ReindexResult counts the documents upserted.
	ReindexResult struct {
		Indexed int `json:"indexed"`
	}

	// GraphRebuildInput controls the rebuild. Clean resets the graph first.
	GraphRebuildInput struct {
		Clean     bool `json:"clean"`
		BatchSize int  `json:"batchSize,omitempty"`
	}

	// GraphRebuildResult counts the documents added.
	GraphRebuildResult struct {
		Added int `json:"added"`
	}

	// EmbeddingBackfillInput bounds a backfill run. EntryIDs narrows the run;
	// empty walks every entry missing an embedding.
	EmbeddingBackfillInput struct {
		EntryIDs  []string `json:"entryIds,omitempty"`
		BatchSize int      `json:"batchSize,omitempty"`
		TraceID   string   `json:"traceId,omitempty"`
	}

	// EmbeddingBackfillResult counts the vectors computed.
	EmbeddingBackfillResult struct {
		Embedded int `json:"embedded"`
	}
)

const defaultMaintenanceBatch = 100

// EntriesCleanup deletes entries matching the retention predicate and
// removes their search-index documents. A dry run reports the matching
// count and touches nothing.
func EntriesCleanup(ctx workflow.Context, in EntriesCleanupInput) (EntriesCleanupResult, error) {
	t, err := newTracker(ctx, "cleanup")
	if err != nil {
		return EntriesCleanupResult{}, err
	}
	t.step(ctx, "cleanup", fmt.Sprintf("matching entries older than %d days", in.OlderThanDays))

	var cleaned activities.CleanupOutput
	cleanIn := activities.CleanupInput{OlderThanDays: in.OlderThanDays, DryRun: in.DryRun}
	if err := workflow.ExecuteActivity(withShortActivity(ctx), acts.CleanupEntries, cleanIn).Get(ctx, &cleaned); err != nil {
		t.fail(ctx, "cleanup failed")
		return EntriesCleanupResult{}, fmt.Errorf("cleanup: %w", err)
	}

	if !in.DryRun && len(cleaned.DeletedIDs) > 0 {
		t.step(ctx, "remove_from_index", fmt.Sprintf("removing %d documents", len(cleaned.DeletedIDs)))
		removeIn := activities.RemoveDocumentsInput{IDs: cleaned.DeletedIDs}
		var removed activities.RemoveDocumentsOutput
		if err := workflow.ExecuteActivity(withDistillActivity(ctx), acts.RemoveDocumentsFromIndex, removeIn).Get(ctx, &removed); err != nil {
			t.fail(ctx, "index removal failed")
			return EntriesCleanupResult{}, fmt.Errorf("cleanup: remove from index: %w", err)
		}
	}

	t.complete(ctx, fmt.Sprintf("%d entries matched", len(cleaned.DeletedIDs)))
	return EntriesCleanupResult{DeletedCount: len(cleaned.DeletedIDs), DryRun: in.DryRun}, nil
}

// SearchPrune removes index documents whose entry no longer exists.
func SearchPrune(ctx workflow.Context) (SearchPruneResult, error) {
	t, err := newTracker(ctx, "find_orphans")
	if err != nil {
		return SearchPruneResult{}, err
	}
	t.step(ctx, "find_orphans", "scanning the index for orphans")

	var orphans activities.OrphanedDocumentsOutput
	if err := workflow.ExecuteActivity(withShortActivity(ctx), acts.GetOrphanedDocumentIDs).Get(ctx, &orphans); err != nil {
		t.fail(ctx, "orphan scan failed")
		return SearchPruneResult{}, fmt.Errorf("search prune: %w", err)
	}
	if len(orphans.IDs) == 0 {
		t.complete(ctx, "index is clean")
		return SearchPruneResult{}, nil
	}

	t.step(ctx, "remove_orphans", fmt.Sprintf("removing %d orphans", len(orphans.IDs)))
	removeIn := activities.RemoveDocumentsInput{IDs: orphans.IDs}
	var removed activities.RemoveDocumentsOutput
	if err := workflow.ExecuteActivity(withDistillActivity(ctx), acts.RemoveDocumentsFromIndex, removeIn).Get(ctx, &removed); err != nil {
		t.fail(ctx, "orphan removal failed")
		return SearchPruneResult{}, fmt.Errorf("search prune: remove: %w", err)
	}
	t.complete(ctx, fmt.Sprintf("removed %d orphans", len(orphans.IDs)))
	return SearchPruneResult{Orphans: len(orphans.IDs)}, nil
}

// SearchReindex upserts the search projection for every distilled entry, or
// for the given subset when the input names ids.
func SearchReindex(ctx workflow.Context, in ReindexInput) (ReindexResult, error) {
	t, err := newTracker(ctx, "reindex")
	if err != nil {
		return ReindexResult{}, err
	}
	t.step(ctx, "reindex", "upserting search documents")

	var total int
	indexPage := func(ids []string) error {
		var out activities.IndexEntriesOutput
		err := workflow.ExecuteActivity(withShortActivity(ctx), acts.IndexEntriesBatch, activities.IndexEntriesInput{EntryIDs: ids}).Get(ctx, &out)
		if err != nil {
			return err
		}
		total += out.Indexed
		t.count(ctx, total, 0)
		return nil
	}

	if len(in.EntryIDs) > 0 {
		if err := indexPage(in.EntryIDs); err != nil {
			t.fail(ctx, "reindex failed")
			return ReindexResult{}, fmt.Errorf("reindex: %w", err)
		}
	} else {
		hasFiltered := true
		err := walkEntryPages(ctx, activities.ListEntryPageInput{
			Limit:              batchOrDefault(in.BatchSize),
			HasFilteredContent: &hasFiltered,
		}, indexPage)
		if err != nil {
			t.fail(ctx, "reindex failed")
			return ReindexResult{}, fmt.Errorf("reindex: %w", err)
		}
	}
	t.complete(ctx, fmt.Sprintf("indexed %d entries", total))
	return ReindexResult{Indexed: total}, nil
}

// GraphRebuild streams every distilled entry into the knowledge graph,
// optionally after resetting it.
func GraphRebuild(ctx workflow.Context, in GraphRebuildInput) (GraphRebuildResult, error) {
	t, err := newTracker(ctx, "graph_rebuild")
	if err != nil {
		return GraphRebuildResult{}, err
	}
	traceID := workflow.GetInfo(ctx).OriginalRunID
	t.step(ctx, "graph_rebuild", "streaming entries into the graph")

	if in.Clean {
		t.step(ctx, "reset_graph", "resetting global graph")
		if err := workflow.ExecuteActivity(withShortActivity(ctx), acts.ResetGlobalGraph).Get(ctx, nil); err != nil {
			t.fail(ctx, "graph reset failed")
			return GraphRebuildResult{}, fmt.Errorf("graph rebuild: reset: %w", err)
		}
	}

	var total int
	hasFiltered := true
	err = walkEntryPages(ctx, activities.ListEntryPageInput{
		Limit:              batchOrDefault(in.BatchSize),
		HasFilteredContent: &hasFiltered,
	}, func(ids []string) error {
		var out activities.GraphAddOutput
		graphIn := activities.GraphAddInput{EntryIDs: ids, BatchTraceID: traceID}
		if err := workflow.ExecuteActivity(withGraphActivity(ctx), acts.AddToGlobalGraph, graphIn).Get(ctx, &out); err != nil {
			return err
		}
		total += out.Added
		t.count(ctx, total, 0)
		return nil
	})
	if err != nil {
		t.fail(ctx, "graph rebuild failed")
		return GraphRebuildResult{}, fmt.Errorf("graph rebuild: %w", err)
	}
	t.complete(ctx, fmt.Sprintf("added %d entries", total))
	return GraphRebuildResult{Added: total}, nil
}

// EmbeddingBackfill computes embeddings for entries that lack one, or for
// the given subset when the input names ids.
func EmbeddingBackfill(ctx workflow.Context, in EmbeddingBackfillInput) (EmbeddingBackfillResult, error) {
	t, err := newTracker(ctx, "embedding_backfill")
	if err != nil {
		return EmbeddingBackfillResult{}, err
	}
	traceID := in.TraceID
	if traceID == "" {
		traceID = workflow.GetInfo(ctx).OriginalRunID
	}
	t.step(ctx, "embedding_backfill", "computing missing embeddings")

	var total int
	embedPage := func(ids []string) error {
		var out activities.ComputeEmbeddingsOutput
		embedIn := activities.ComputeEmbeddingsInput{EntryIDs: ids, BatchTraceID: traceID}
		if err := workflow.ExecuteActivity(withDistillActivity(ctx), acts.ComputeEmbeddings, embedIn).Get(ctx, &out); err != nil {
			return err
		}
		total += out.Embedded
		t.count(ctx, total, 0)
		return nil
	}

	if len(in.EntryIDs) > 0 {
		if err := embedPage(in.EntryIDs); err != nil {
			t.fail(ctx, "backfill failed")
			return EmbeddingBackfillResult{}, fmt.Errorf("embedding backfill: %w", err)
		}
	} else {
		missing := true
		err := walkEntryPages(ctx, activities.ListEntryPageInput{
			Limit:            batchOrDefault(in.BatchSize),
			MissingEmbedding: &missing,
		}, embedPage)
		if err != nil {
			t.fail(ctx, "backfill failed")
			return EmbeddingBackfillResult{}, fmt.Errorf("embedding backfill: %w", err)
		}
	}
	t.complete(ctx, fmt.Sprintf("embedded %d entries", total))
	return EmbeddingBackfillResult{Embedded: total}, nil
}

// walkEntryPages drives a cursor walk over the entry listing, invoking fn
// per page of ids. The cursor is the last id of the previous page, so a
// walk observed mid-write never repeats an id.
func walkEntryPages(ctx workflow.Context, page activities.ListEntryPageInput, fn func(ids []string) error) error {
	for {
		var out activities.ListEntryPageOutput
		if err := workflow.ExecuteActivity(withShortActivity(ctx), acts.ListEntryPage, page).Get(ctx, &out); err != nil {
			return err
		}
		if len(out.EntryIDs) == 0 {
			return nil
		}
		if err := fn(out.EntryIDs); err != nil {
			return err
		}
		if out.NextAfterID == "" {
			return nil
		}
		page.AfterID = out.NextAfterID
	}
}

func batchOrDefault(n int) int {
	if n <= 0 {
		return defaultMaintenanceBatch
	}
	return n
}
