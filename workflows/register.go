// Package workflows holds the durable workflow library: ingestion pipelines,
// scheduled maintenance walks, single-entry operations and fire-and-forget
// evaluation runs. Workflow code is deterministic; every side effect goes
// through the activities package.
package workflows

import (
	"go.temporal.io/sdk/worker"

	"github.com/curiohq/curio/activities"
)

// Workflow type names as scheduled and started by external callers.
const (
	TypeAllFeedsIngestion   = "AllFeedsIngestion"
	TypeSingleFeedIngestion = "SingleFeedIngestion"
	TypeDomainFetch         = "DomainFetch"
	TypeEntriesCleanup      = "EntriesCleanup"
	TypeSearchPrune         = "SearchPrune"
	TypeSearchReindex       = "SearchReindex"
	TypeGraphRebuild        = "GraphRebuild"
	TypeEmbeddingBackfill   = "EmbeddingBackfill"
	TypeExtractEntryContext = "ExtractEntryContext"
	TypeDeleteEnrichment    = "DeleteEnrichment"
	TypeEvaluation          = "EvaluationWorkflow"
	TypeSummarizationEval   = "SummarizationEvaluationWorkflow"
)

// Register wires every workflow and the activity set into a worker. The
// instance is also installed as the dispatch target for local activities,
// which execute the bound method directly instead of resolving it by name.
func Register(w worker.Worker, a *activities.Activities) {
	acts = a
	w.RegisterWorkflow(AllFeedsIngestion)
	w.RegisterWorkflow(SingleFeedIngestion)
	w.RegisterWorkflow(DomainFetch)
	w.RegisterWorkflow(EntriesCleanup)
	w.RegisterWorkflow(SearchPrune)
	w.RegisterWorkflow(SearchReindex)
	w.RegisterWorkflow(GraphRebuild)
	w.RegisterWorkflow(EmbeddingBackfill)
	w.RegisterWorkflow(ExtractEntryContext)
	w.RegisterWorkflow(DeleteEnrichment)
	w.RegisterWorkflow(EvaluationWorkflow)
	w.RegisterWorkflow(SummarizationEvaluationWorkflow)
	w.RegisterActivity(a)
}
