package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/curiohq/curio/activities"
)

// EvaluationInput is the question/context/answer triple to score.
type EvaluationInput struct {
	Mode     string `json:"mode"`
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
	Answer   string `json:"answer"`
	TraceID  string `json:"traceId,omitempty"`
}

// EvaluationWorkflow scores a dialogue or research answer and writes the
// scores to the tracing store. Started fire-and-forget by the agent after
// the user-facing stream has finished.
func EvaluationWorkflow(ctx workflow.Context, in EvaluationInput) (activities.EvaluationScores, error) {
	return runEvaluation(ctx, in)
}

// SummarizationEvaluationWorkflow scores a distilled summary against its
// source article. The question slot carries the source text.
func SummarizationEvaluationWorkflow(ctx workflow.Context, in EvaluationInput) (activities.EvaluationScores, error) {
	in.Mode = "summarization"
	return runEvaluation(ctx, in)
}

func runEvaluation(ctx workflow.Context, in EvaluationInput) (activities.EvaluationScores, error) {
	t, err := newTracker(ctx, "evaluate")
	if err != nil {
		return activities.EvaluationScores{}, err
	}
	t.step(ctx, "evaluate", "scoring "+in.Mode+" answer")

	evalIn := activities.EvaluationInput{
		Mode:     in.Mode,
		Question: in.Question,
		Context:  in.Context,
		Answer:   in.Answer,
		TraceID:  in.TraceID,
	}
	var out activities.EvaluationOutput
	if err := workflow.ExecuteActivity(withDistillActivity(ctx), acts.RecordEvaluation, evalIn).Get(ctx, &out); err != nil {
		t.fail(ctx, "evaluation failed")
		return activities.EvaluationScores{}, fmt.Errorf("evaluation %s: %w", in.Mode, err)
	}
	t.complete(ctx, "scores recorded")
	return out.Scores, nil
}
