package agui

import (
	"context"
	"net/http"

	"github.com/curiohq/curio/engine"
	"github.com/curiohq/curio/ids"
	"github.com/curiohq/curio/llm"
	"github.com/curiohq/curio/research"
	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
	"github.com/curiohq/curio/workflows"
)

type (
	// Server handles the AG-UI endpoint. One instance serves all runs.
	Server struct {
		LLM      *llm.Client
		Backend  *rest.Client
		Engine   WorkflowStarter
		Research *research.Graph
		Logger   telemetry.Logger

		// DefaultSearchMode applies when a research request does not name
		// one.
		DefaultSearchMode research.SearchMode

		// EvaluationEnabled gates the fire-and-forget scoring runs.
		EvaluationEnabled bool

		// Mirror optionally receives a copy of every wire event, for the
		// Redis event stream.
		Mirror RunMirror
	}

	// WorkflowStarter submits fire-and-forget workflows to the durable
	// engine. Satisfied by *engine.Client.
	WorkflowStarter interface {
		StartWorkflow(ctx context.Context, req engine.StartRequest) error
	}

	// RunMirror produces a per-run emitter copy of the wire stream.
	RunMirror interface {
		ForRun(runID string) Emitter
	}

	// run bundles the identifiers and emitter for one request.
	run struct {
		threadID string
		runID    string
		traceID  string
		emit     Emitter
	}
)

// Handler returns the http handler for POST /ag-ui.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := DecodeRunRequest(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runID := ids.NewRunID()
	threadID := req.ThreadID
	if threadID == "" {
		threadID = runID
	}
	rn := &run{
		threadID: threadID,
		runID:    runID,
		traceID:  ids.NewTraceID(),
		emit:     withMirrors(NewSSEEmitter(w), s.mirrors(runID)...),
	}
	ctx := telemetry.WithTraceID(r.Context(), rn.traceID)

	// The run is always bracketed: RUN_STARTED first, RUN_FINISHED last,
	// even when the handler fails in between.
	if err := rn.emit.Emit(RunStarted(rn.threadID, rn.runID)); err != nil {
		return
	}
	defer func() {
		_ = rn.emit.Emit(RunFinished(rn.threadID, rn.runID))
	}()

	switch req.ForwardedProps.Mode {
	case ModeResearch:
		err = s.runResearch(ctx, rn, req)
	default:
		err = s.runDialogue(ctx, rn, req)
	}
	if err != nil {
		s.Logger.Error(ctx, "agui run failed", "mode", req.ForwardedProps.Mode, "run_id", rn.runID, "err", err)
		_ = rn.emit.Emit(Custom("error", map[string]string{"message": err.Error()}))
	}
}

func (s *Server) mirrors(runID string) []Emitter {
	if s.Mirror == nil {
		return nil
	}
	return []Emitter{s.Mirror.ForRun(runID)}
}

// entryContext loads the rendered context for an entry referenced by the
// request, preferring the stored context enrichment's source material:
// filtered content, then summary. Missing entries yield an empty context.
func (s *Server) entryContext(ctx context.Context, entryID string) string {
	if entryID == "" {
		return ""
	}
	entry, ok, err := s.Backend.GetEntry(ctx, entryID)
	if err != nil {
		s.Logger.Warn(ctx, "entry context lookup failed", "entry_id", entryID, "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	if entry.FilteredContent != "" {
		return "# " + entry.Title + "\n\n" + entry.FilteredContent
	}
	if entry.Summary != "" {
		return "# " + entry.Title + "\n\n" + entry.Summary
	}
	return ""
}

// submitEvaluation starts the fire-and-forget scoring workflow. Failures are
// logged and swallowed: scoring never affects the user-facing run.
func (s *Server) submitEvaluation(ctx context.Context, rn *run, mode, question, entryContext, answer string) {
	if !s.EvaluationEnabled || s.Engine == nil {
		return
	}
	if question == "" || entryContext == "" {
		return
	}
	err := s.Engine.StartWorkflow(ctx, engine.StartRequest{
		Workflow: workflows.TypeEvaluation,
		ID:       "eval-" + rn.runID,
		Input: workflows.EvaluationInput{
			Mode:     mode,
			Question: question,
			Context:  entryContext,
			Answer:   answer,
			TraceID:  rn.traceID,
		},
	})
	if err != nil {
		s.Logger.Warn(ctx, "evaluation submission failed", "run_id", rn.runID, "err", err)
	}
}
