package agui

import (
	"context"
	"fmt"

	"github.com/curiohq/curio/ids"
	"github.com/curiohq/curio/research"
)

// researchEvents adapts graph progress callbacks into advisory CUSTOM wire
// events. Emission failures are dropped; the graph never blocks on the
// client connection.
type researchEvents struct {
	emit Emitter
}

func (e researchEvents) PlanReady(_ context.Context, iteration int, plan research.Plan) {
	_ = e.emit.Emit(Custom("research_plan", map[string]any{
		"iteration":  iteration,
		"subQueries": plan.SubQueries,
		"sources":    plan.Sources,
	}))
}

func (e researchEvents) DocsRetrieved(_ context.Context, total int) {
	_ = e.emit.Emit(Custom("research_docs", map[string]any{"count": total}))
}

// runResearch executes the bounded planner, retriever and writer loop and
// streams the synthesized answer. The answer is produced whole by the
// writer, so it is framed as a single content delta between the text
// brackets; plan and retrieval progress arrive as CUSTOM events while the
// loop runs.
func (s *Server) runResearch(ctx context.Context, rn *run, req RunRequest) error {
	if s.Research == nil {
		return fmt.Errorf("agui: research mode is not configured")
	}
	query := req.Query()
	if query == "" {
		return fmt.Errorf("agui: research request has no user message")
	}
	entryContext := s.entryContext(ctx, req.ForwardedProps.EntryID)

	sessionID := req.ForwardedProps.SessionID
	if sessionID == "" {
		sessionID = rn.runID
	}
	mode := s.DefaultSearchMode
	if requested := req.ForwardedProps.SearchMode; requested != "" {
		mode = research.ParseSearchMode(requested)
	}
	initial := research.State{
		Query:        query,
		EntryContext: entryContext,
		Mode:         mode,
		NeedsMore:    true,
		TraceID:      rn.traceID,
		SessionID:    sessionID,
	}

	final, err := s.Research.Run(ctx, initial, researchEvents{emit: rn.emit})
	if err != nil {
		return fmt.Errorf("agui: research run: %w", err)
	}
	if final.Answer == nil {
		return fmt.Errorf("agui: research run produced no answer")
	}

	messageID := ids.NewRunID()
	if err := rn.emit.Emit(TextStart(messageID)); err != nil {
		return err
	}
	if err := rn.emit.Emit(TextContent(messageID, final.Answer.Markdown)); err != nil {
		return err
	}
	if err := rn.emit.Emit(TextEnd(messageID)); err != nil {
		return err
	}

	s.submitEvaluation(ctx, rn, ModeResearch, query, research.FormatDocs(final.Docs), final.Answer.Markdown)
	return nil
}
