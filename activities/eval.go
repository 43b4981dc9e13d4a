package activities

import (
	"context"
	"fmt"

	"github.com/curiohq/curio/llm"
	"github.com/curiohq/curio/telemetry"
)

type (
	// ScoreSink receives evaluation scores. The production sink writes spans
	// to the tracing store; tests record in memory.
	ScoreSink interface {
		RecordScores(ctx context.Context, s EvaluationScores) error
	}

	// EvaluationInput carries one question/context/answer triple to score.
	// Mode labels the producing surface (dialogue, research, summarization).
	EvaluationInput struct {
		Mode     string `json:"mode"`
		Question string `json:"question"`
		Context  string `json:"context,omitempty"`
		Answer   string `json:"answer"`
		TraceID  string `json:"traceId,omitempty"`
	}

	// EvaluationScores is the scored result, faithfulness and relevancy in
	// [0,1] with a short model rationale.
	EvaluationScores struct {
		Mode         string  `json:"mode"`
		TraceID      string  `json:"traceId,omitempty"`
		Faithfulness float64 `json:"faithfulness"`
		Relevancy    float64 `json:"relevancy"`
		Rationale    string  `json:"rationale,omitempty"`
	}

	// EvaluationOutput reports the recorded scores. Skipped is set when no
	// evaluator model is configured.
	EvaluationOutput struct {
		Scores  EvaluationScores `json:"scores"`
		Skipped bool             `json:"skipped"`
	}

	evaluationVerdict struct {
		Faithfulness float64 `json:"faithfulness"`
		Relevancy    float64 `json:"relevancy"`
		Rationale    string  `json:"rationale"`
	}
)

var evaluationSchema = []byte(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["faithfulness", "relevancy", "rationale"],
  "properties": {
    "faithfulness": {"type": "number", "minimum": 0, "maximum": 1},
    "relevancy": {"type": "number", "minimum": 0, "maximum": 1},
    "rationale": {"type": "string"}
  }
}`)

const evaluatorSystemPrompt = "You grade question answering. Faithfulness measures " +
	"whether the answer is supported by the context; relevancy measures whether it " +
	"addresses the question. Score both in [0,1] and explain briefly."

// RecordEvaluation scores an answer against its question and context and
// writes the scores to the sink. Scoring runs after the user-facing stream
// has finished, so failures here never reach a client; they only fail the
// fire-and-forget workflow.
func (a *Activities) RecordEvaluation(ctx context.Context, in EvaluationInput) (EvaluationOutput, error) {
	ctx = telemetry.WithTraceID(ctx, in.TraceID)

	if !a.LLM.ChatEnabled() || a.Scores == nil {
		return EvaluationOutput{Skipped: true}, nil
	}

	prompt := fmt.Sprintf("Question:\n%s\n\nContext:\n%s\n\nAnswer:\n%s", in.Question, in.Context, in.Answer)
	var verdict evaluationVerdict
	err := a.LLM.Structured(ctx, llm.StructuredRequest{
		Messages: []llm.Message{
			{Role: "system", Content: evaluatorSystemPrompt},
			{Role: "user", Content: prompt},
		},
		SchemaName: "evaluation",
		Schema:     evaluationSchema,
	}, &verdict)
	if err != nil {
		return EvaluationOutput{}, fmt.Errorf("evaluate %s: %w", in.Mode, err)
	}

	scores := EvaluationScores{
		Mode:         in.Mode,
		TraceID:      in.TraceID,
		Faithfulness: verdict.Faithfulness,
		Relevancy:    verdict.Relevancy,
		Rationale:    verdict.Rationale,
	}
	if err := a.Scores.RecordScores(ctx, scores); err != nil {
		return EvaluationOutput{}, fmt.Errorf("evaluate %s: record scores: %w", in.Mode, err)
	}
	a.Metrics.RecordGauge("evaluation_faithfulness", scores.Faithfulness, "mode", in.Mode)
	a.Metrics.RecordGauge("evaluation_relevancy", scores.Relevancy, "mode", in.Mode)
	return EvaluationOutput{Scores: scores}, nil
}

// SpanScoreSink emits evaluation scores as tracing spans with score
// attributes, the write-back path the dashboards read.
type SpanScoreSink struct {
	Tracer telemetry.Tracer
}

// RecordScores opens a short span carrying the scores as attributes.
func (s *SpanScoreSink) RecordScores(ctx context.Context, scores EvaluationScores) error {
	_, span := s.Tracer.Start(ctx, "evaluation."+scores.Mode)
	defer span.End()
	span.SetAttributes(
		"evaluation.faithfulness", fmt.Sprintf("%.3f", scores.Faithfulness),
		"evaluation.relevancy", fmt.Sprintf("%.3f", scores.Relevancy),
		"evaluation.trace_id", scores.TraceID,
	)
	return nil
}
