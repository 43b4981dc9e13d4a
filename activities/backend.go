package activities

import (
	"context"
	"fmt"

	"github.com/curiohq/curio/rest"
)

type (
	// ListEntryPageInput requests one page of entry ids matching a filter.
	// AfterID is the cursor; the zero value starts at the beginning.
	ListEntryPageInput struct {
		AfterID            string `json:"afterId,omitempty"`
		Limit              int    `json:"limit"`
		HasFilteredContent *bool  `json:"hasFilteredContent,omitempty"`
		MissingEmbedding   *bool  `json:"missingEmbedding,omitempty"`
	}

	// ListEntryPageOutput is one page of ids plus the cursor for the next.
	// An empty NextAfterID means the walk is done.
	ListEntryPageOutput struct {
		EntryIDs    []string `json:"entryIds"`
		NextAfterID string   `json:"nextAfterId,omitempty"`
	}

	// CleanupInput mirrors the backend cleanup predicate: read, unstarred,
	// unkept entries older than the cutoff.
	CleanupInput struct {
		OlderThanDays int  `json:"olderThanDays"`
		DryRun        bool `json:"dryRun"`
	}

	// CleanupOutput lists the entries the predicate matched. With DryRun
	// nothing was deleted.
	CleanupOutput struct {
		DeletedIDs []string `json:"deletedIds"`
	}
)

// ListFeeds returns all subscribed feeds.
func (a *Activities) ListFeeds(ctx context.Context) ([]rest.Feed, error) {
	feeds, err := a.Backend.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return feeds, nil
}

// GetSettings reads the backend settings the pipeline branches on.
func (a *Activities) GetSettings(ctx context.Context) (rest.Settings, error) {
	settings, err := a.Backend.GetSettings(ctx)
	if err != nil {
		return rest.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

// GetEntryByID fetches one entry. A missing entry returns nil, not an
// error: callers decide whether absence is a failure.
func (a *Activities) GetEntryByID(ctx context.Context, entryID string) (*rest.Entry, error) {
	entry, ok, err := a.Backend.GetEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", entryID, err)
	}
	if !ok {
		return nil, nil
	}
	return entry, nil
}

// ListEntryPage pages through entry ids for the maintenance walks. Paging
// is cursor-based on the sortable entry id so a retried page is identical.
func (a *Activities) ListEntryPage(ctx context.Context, in ListEntryPageInput) (ListEntryPageOutput, error) {
	entries, err := a.Backend.ListEntries(ctx, rest.ListEntriesRequest{
		AfterID:            in.AfterID,
		Limit:              in.Limit,
		HasFilteredContent: in.HasFilteredContent,
		MissingEmbedding:   in.MissingEmbedding,
	})
	if err != nil {
		return ListEntryPageOutput{}, fmt.Errorf("list entry page after %q: %w", in.AfterID, err)
	}
	out := ListEntryPageOutput{EntryIDs: make([]string, 0, len(entries))}
	for _, e := range entries {
		out.EntryIDs = append(out.EntryIDs, e.ID)
	}
	if in.Limit > 0 && len(entries) == in.Limit {
		out.NextAfterID = entries[len(entries)-1].ID
	}
	return out, nil
}

// CleanupEntries deletes (or with DryRun only reports) entries matching the
// cleanup predicate and returns the affected ids for index removal.
func (a *Activities) CleanupEntries(ctx context.Context, in CleanupInput) (CleanupOutput, error) {
	result, err := a.Backend.Cleanup(ctx, rest.CleanupRequest{
		OlderThanDays: in.OlderThanDays,
		DryRun:        in.DryRun,
	})
	if err != nil {
		return CleanupOutput{}, fmt.Errorf("cleanup entries: %w", err)
	}
	return CleanupOutput{DeletedIDs: result.DeletedIDs}, nil
}
