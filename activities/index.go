package activities

import (
	"context"
	"fmt"
	"sort"

	"go.temporal.io/sdk/activity"

	"github.com/curiohq/curio/rest"
)

// indexRemoveBatch bounds one remove request against the search index.
const indexRemoveBatch = 1000

type (
	// IndexEntriesInput lists the entries to upsert into the search index.
	IndexEntriesInput struct {
		EntryIDs []string `json:"entryIds"`
	}

	// IndexEntriesOutput counts the documents upserted.
	IndexEntriesOutput struct {
		Indexed int            `json:"indexed"`
		Skipped int            `json:"skipped"`
		Error   *ActivityError `json:"error,omitempty"`
	}

	// RemoveDocumentsInput lists index document ids to delete.
	RemoveDocumentsInput struct {
		IDs []string `json:"ids"`
	}

	// RemoveDocumentsOutput reports how many ids were submitted for
	// deletion.
	RemoveDocumentsOutput struct {
		Removed int `json:"removed"`
	}

	// OrphanedDocumentsOutput lists index documents whose entry no longer
	// exists in the database.
	OrphanedDocumentsOutput struct {
		IDs []string `json:"ids"`
	}
)

// IndexEntriesBatch reads each entry and upserts its search-index projection.
// Entries without filtered content are skipped: the index only carries
// distilled articles. Upserts are idempotent by document id.
func (a *Activities) IndexEntriesBatch(ctx context.Context, in IndexEntriesInput) (IndexEntriesOutput, error) {
	var out IndexEntriesOutput
	docs := make([]rest.IndexDocument, 0, len(in.EntryIDs))
	for i, id := range in.EntryIDs {
		entry, ok, err := a.Backend.GetEntry(ctx, id)
		if err != nil {
			if actErr, passthrough := fromAPIError(err); passthrough == nil {
				out.Error = actErr
				out.Skipped++
				continue
			}
			return out, fmt.Errorf("index: load entry %s: %w", id, err)
		}
		if !ok || entry.FilteredContent == "" {
			out.Skipped++
			continue
		}
		docs = append(docs, rest.IndexDocument{
			ID:      entry.ID,
			Title:   entry.Title,
			Content: entry.FilteredContent,
			URL:     entry.URL,
		})
		activity.RecordHeartbeat(ctx, i+1)
	}
	if len(docs) > 0 {
		if err := a.Backend.IndexDocuments(ctx, docs); err != nil {
			if actErr, passthrough := fromAPIError(err); passthrough == nil {
				return IndexEntriesOutput{Skipped: len(in.EntryIDs), Error: actErr}, nil
			}
			return out, fmt.Errorf("index: upsert %d documents: %w", len(docs), err)
		}
	}
	out.Indexed = len(docs)
	a.Metrics.IncCounter("search_documents_indexed", float64(out.Indexed))
	return out, nil
}

// RemoveDocumentsFromIndex deletes index documents in batches of 1000,
// heartbeating between batches. Deleting an absent id is a no-op on the
// index side, so retries are safe.
func (a *Activities) RemoveDocumentsFromIndex(ctx context.Context, in RemoveDocumentsInput) (RemoveDocumentsOutput, error) {
	for start := 0; start < len(in.IDs); start += indexRemoveBatch {
		end := start + indexRemoveBatch
		if end > len(in.IDs) {
			end = len(in.IDs)
		}
		if err := a.Backend.RemoveDocuments(ctx, in.IDs[start:end]); err != nil {
			return RemoveDocumentsOutput{Removed: start}, fmt.Errorf("index: remove documents [%d:%d]: %w", start, end, err)
		}
		activity.RecordHeartbeat(ctx, end)
	}
	return RemoveDocumentsOutput{Removed: len(in.IDs)}, nil
}

// GetOrphanedDocumentIDs returns index document ids with no matching entry,
// sorted so the caller's batching is deterministic.
func (a *Activities) GetOrphanedDocumentIDs(ctx context.Context) (OrphanedDocumentsOutput, error) {
	indexIDs, err := a.Backend.ListIndexIDs(ctx)
	if err != nil {
		return OrphanedDocumentsOutput{}, fmt.Errorf("index: list index ids: %w", err)
	}
	entryIDs, err := a.Backend.ListEntryIDs(ctx)
	if err != nil {
		return OrphanedDocumentsOutput{}, fmt.Errorf("index: list entry ids: %w", err)
	}

	known := make(map[string]struct{}, len(entryIDs))
	for _, id := range entryIDs {
		known[id] = struct{}{}
	}
	var orphans []string
	for _, id := range indexIDs {
		if _, ok := known[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	return OrphanedDocumentsOutput{IDs: orphans}, nil
}
