package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/curiohq/curio/activities"
)

type (
	// ExtractEntryContextInput names the entry whose context to rebuild.
	ExtractEntryContextInput struct {
		EntryID string `json:"entryId"`
		TraceID string `json:"traceId,omitempty"`
	}

	// ExtractEntryContextResult carries the rendered context text.
	ExtractEntryContextResult struct {
		Context string `json:"context,omitempty"`
		Skipped bool   `json:"skipped"`
	}

	// DeleteEnrichmentInput selects one enrichment kind to remove from an
	// entry. Source empty removes all enrichments of the type.
	DeleteEnrichmentInput struct {
		EntryID string `json:"entryId"`
		Type    string `json:"type"`
		Source  string `json:"source,omitempty"`
	}
)

// ExtractEntryContext extracts an entry's structured context, stores it and
// rebuilds the entry's GraphRAG session from it: reset first, then load, so
// the session never mixes context generations.
func ExtractEntryContext(ctx workflow.Context, in ExtractEntryContextInput) (ExtractEntryContextResult, error) {
	t, err := newTracker(ctx, "extract_context")
	if err != nil {
		return ExtractEntryContextResult{}, err
	}
	t.entities(in.EntryID)
	traceID := in.TraceID
	if traceID == "" {
		traceID = workflow.GetInfo(ctx).OriginalRunID
	}
	t.step(ctx, "extract_context", "extracting entry context")

	var extracted activities.EntryContextOutput
	extractIn := activities.EntryContextInput{EntryID: in.EntryID, TraceID: traceID}
	if err := workflow.ExecuteActivity(withDistillActivity(ctx), acts.ExtractEntryContext, extractIn).Get(ctx, &extracted); err != nil {
		t.fail(ctx, "context extraction failed")
		return ExtractEntryContextResult{}, fmt.Errorf("extract context %s: %w", in.EntryID, err)
	}
	if extracted.Error != nil {
		t.fail(ctx, extracted.Error.Message)
		return ExtractEntryContextResult{}, fmt.Errorf("extract context %s: %s", in.EntryID, extracted.Error.Message)
	}
	if extracted.Skipped || extracted.Context == "" {
		t.complete(ctx, "nothing to extract")
		return ExtractEntryContextResult{Skipped: true}, nil
	}

	t.step(ctx, "rebuild_session", "rebuilding graph session")
	session := activities.GraphSessionInput{EntryID: in.EntryID, TraceID: traceID}
	if err := workflow.ExecuteActivity(withShortActivity(ctx), acts.ResetGraphRAGSession, session).Get(ctx, nil); err != nil {
		t.fail(ctx, "session reset failed")
		return ExtractEntryContextResult{}, fmt.Errorf("extract context %s: reset session: %w", in.EntryID, err)
	}
	session.Text = extracted.Context
	if err := workflow.ExecuteActivity(withGraphActivity(ctx), acts.AddToGraphRAGSession, session).Get(ctx, nil); err != nil {
		t.fail(ctx, "session load failed")
		return ExtractEntryContextResult{}, fmt.Errorf("extract context %s: load session: %w", in.EntryID, err)
	}

	t.complete(ctx, "context extracted")
	return ExtractEntryContextResult{Context: extracted.Context}, nil
}

// DeleteEnrichment removes one enrichment kind from an entry.
func DeleteEnrichment(ctx workflow.Context, in DeleteEnrichmentInput) error {
	t, err := newTracker(ctx, "delete_enrichment")
	if err != nil {
		return err
	}
	t.entities(in.EntryID)
	t.step(ctx, "delete_enrichment", "removing "+in.Type+" enrichment")

	deleteIn := activities.DeleteEnrichmentInput{EntryID: in.EntryID, Type: in.Type, Source: in.Source}
	if err := workflow.ExecuteActivity(withShortActivity(ctx), acts.DeleteEnrichment, deleteIn).Get(ctx, nil); err != nil {
		t.fail(ctx, "enrichment removal failed")
		return fmt.Errorf("delete enrichment %s/%s: %w", in.EntryID, in.Type, err)
	}
	t.complete(ctx, "enrichment removed")
	return nil
}
