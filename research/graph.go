package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/curiohq/curio/llm"
	"github.com/curiohq/curio/telemetry"
)

// nodeID names a node of the research graph.
type nodeID string

const (
	nodePlanner   nodeID = "planner"
	nodeRetriever nodeID = "retriever"
	nodeWriter    nodeID = "writer"
	nodeDone      nodeID = "done"
)

type (
	// Events receives advisory progress callbacks while the graph runs.
	// Callbacks must not block; the agent adapts them into CUSTOM wire
	// events. All methods are optional via NoopEvents.
	Events interface {
		// PlanReady fires after each planner pass.
		PlanReady(ctx context.Context, iteration int, plan Plan)
		// DocsRetrieved fires after each retriever pass with the cumulative
		// unique document count.
		DocsRetrieved(ctx context.Context, total int)
	}

	// NoopEvents discards all callbacks.
	NoopEvents struct{}

	// Graph wires the planner, retriever and writer nodes over shared
	// collaborators. Construct once and reuse across requests; Run is safe
	// for concurrent use.
	Graph struct {
		llm      *llm.Client
		searcher Searcher
		logger   telemetry.Logger
		model    string
	}

	// Options configures a Graph.
	Options struct {
		// LLM serves the planner and writer structured-output calls.
		LLM *llm.Client
		// Searcher serves retriever sub-queries.
		Searcher Searcher
		// Logger receives node-level records. Defaults to a noop logger.
		Logger telemetry.Logger
		// Model optionally overrides the LLM's configured chat model for
		// research calls (RESEARCH_MODEL). Empty keeps the client default.
		Model string
	}
)

// PlanReady implements Events.
func (NoopEvents) PlanReady(context.Context, int, Plan) {}

// DocsRetrieved implements Events.
func (NoopEvents) DocsRetrieved(context.Context, int) {}

// New constructs a research graph.
func New(opts Options) (*Graph, error) {
	if opts.LLM == nil {
		return nil, errors.New("research: llm client is required")
	}
	if opts.Searcher == nil {
		return nil, errors.New("research: searcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Graph{llm: opts.LLM, searcher: opts.Searcher, logger: logger, model: opts.Model}, nil
}

// Run drives the planner→retriever→writer loop until the writer is
// satisfied or MaxIterations planner passes have run, then returns the
// final state. Per-search failures are logged and skipped; the loop aborts
// only when the planner or writer fails outright.
func (g *Graph) Run(ctx context.Context, initial State, events Events) (State, error) {
	if events == nil {
		events = NoopEvents{}
	}
	state := initial
	node := nodePlanner
	for node != nodeDone {
		var err error
		switch node {
		case nodePlanner:
			state, err = g.plan(ctx, state)
			if err != nil {
				return state, err
			}
			events.PlanReady(ctx, state.Iteration, *state.Plan)
			node = nodeRetriever
		case nodeRetriever:
			state = g.retrieveNode(ctx, state)
			events.DocsRetrieved(ctx, len(state.Docs))
			node = nodeWriter
		case nodeWriter:
			state, err = g.write(ctx, state)
			if err != nil {
				return state, err
			}
			node = g.decide(state)
		}
	}
	return state, nil
}

// decide is the conditional edge out of the writer: loop back to the
// planner while more information is needed and the iteration budget holds.
func (g *Graph) decide(state State) nodeID {
	if state.NeedsMore && state.Iteration < MaxIterations {
		return nodePlanner
	}
	return nodeDone
}

// plan invokes the planner LLM with structured output. When no research
// model is configured the node degrades to a single-query keyword plan so
// research stays usable against the keyword index alone.
func (g *Graph) plan(ctx context.Context, state State) (State, error) {
	state.Iteration++

	if !g.llm.ChatEnabled() && g.model == "" {
		state.Plan = &Plan{
			SubQueries: []string{state.Query},
			Sources:    []Source{SourceKeyword},
			Rationale:  "research model disabled; using the raw query against the keyword index",
		}
		return state, nil
	}

	var sb strings.Builder
	sb.WriteString("Plan a search for the user's research question.\n")
	sb.WriteString("Question: " + state.Query + "\n")
	if state.EntryContext != "" {
		sb.WriteString("Context:\n" + state.EntryContext + "\n")
	}
	if state.Answer != nil && state.NeedsMore {
		sb.WriteString("The previous pass was insufficient. Previous answer:\n")
		sb.WriteString(state.Answer.Markdown + "\n")
		sb.WriteString("Plan follow-up queries that close the gaps.\n")
	}

	var plan Plan
	err := g.llm.Structured(ctx, llm.StructuredRequest{
		Messages: []llm.Message{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		SchemaName: "search_plan",
		Schema:     planSchema,
		Model:      g.model,
	}, &plan)
	if err != nil {
		return state, fmt.Errorf("research: planner pass %d: %w", state.Iteration, err)
	}
	if err := plan.Validate(); err != nil {
		return state, err
	}
	state.Plan = &plan
	return state, nil
}

// retrieveNode extends state.Docs with deduplicated results for the current
// plan. Retrieval never fails the run: partial results are kept and
// failures logged.
func (g *Graph) retrieveNode(ctx context.Context, state State) State {
	if state.Plan == nil {
		return state
	}
	sources := resolveSources(state.Mode, state.Plan)
	docs := retrieve(ctx, g.searcher, g.logger, sources, state.Plan.SubQueries)
	state.Docs = dedupeDocs(append(state.Docs, docs...))
	return state
}

const writerMaxDocChars = 500

// write synthesizes the answer from the accumulated documents.
func (g *Graph) write(ctx context.Context, state State) (State, error) {
	var sb strings.Builder
	sb.WriteString("Question: " + state.Query + "\n")
	if state.EntryContext != "" {
		sb.WriteString("Context:\n" + state.EntryContext + "\n")
	}
	sb.WriteString("Retrieved documents:\n")
	sb.WriteString(FormatDocs(state.Docs))

	var answer Answer
	err := g.llm.Structured(ctx, llm.StructuredRequest{
		Messages: []llm.Message{
			{Role: "system", Content: writerSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		SchemaName:  "research_answer",
		Schema:      answerSchema,
		Temperature: 0.3,
		Model:       g.model,
	}, &answer)
	if err != nil {
		return state, fmt.Errorf("research: writer pass %d: %w", state.Iteration, err)
	}
	if err := answer.Validate(); err != nil {
		return state, err
	}
	state.Answer = &answer
	state.NeedsMore = answer.NeedsMoreInfo
	return state, nil
}

// FormatDocs renders documents as the numbered list fed to the writer, with
// content truncated at 500 characters.
func FormatDocs(docs []Doc) string {
	if len(docs) == 0 {
		return "(no documents retrieved)\n"
	}
	var sb strings.Builder
	for i, d := range docs {
		content := d.Content
		if len(content) > writerMaxDocChars {
			content = content[:writerMaxDocChars]
		}
		fmt.Fprintf(&sb, "[%d] %s (%s)\n%s\n", i+1, d.Title, d.Source, content)
	}
	return sb.String()
}

const (
	plannerSystemPrompt = "You are the planning stage of a research assistant working over a curated " +
		"article corpus. Break the question into focused sub-queries and choose the " +
		"retrieval sources to run them against: \"keyword\" for exact-term matches, " +
		"\"vector\" for semantic similarity. Keep the rationale to one sentence."

	writerSystemPrompt = "You are the writing stage of a research assistant. Answer the question in " +
		"Markdown using only the retrieved documents, cite them by their [n] markers, " +
		"classify the answer type, estimate your confidence, and set needsMoreInfo " +
		"when the documents do not support a complete answer."
)
