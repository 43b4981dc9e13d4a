package activities

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/curiohq/curio/ids"
	"github.com/curiohq/curio/llm"
	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
)

type (
	// DistillInput asks for one entry's Markdown to be distilled: the model
	// picks the main-content line range and writes a short summary.
	DistillInput struct {
		EntryID  string `json:"entryId"`
		Markdown string `json:"markdown"`
		// Language is the summary target language; empty falls back to the
		// worker's configured summary language.
		Language string `json:"language,omitempty"`
		TraceID  string `json:"traceId,omitempty"`
	}

	// DistillOutput reports the selected line range and summary, already
	// persisted. Skipped is set when distillation is disabled or the input
	// is empty.
	DistillOutput struct {
		StartLine int            `json:"startLine"`
		EndLine   int            `json:"endLine"`
		Summary   string         `json:"summary,omitempty"`
		Skipped   bool           `json:"skipped"`
		Error     *ActivityError `json:"error,omitempty"`
	}

	// DistillBatchInput distills several entries in one activity run,
	// heartbeating between items.
	DistillBatchInput struct {
		Items        []DistillInput `json:"items"`
		BatchTraceID string         `json:"batchTraceId,omitempty"`
	}

	// DistillBatchOutput maps entry ids to their individual outcomes.
	DistillBatchOutput struct {
		Results map[string]DistillOutput `json:"results"`
	}

	// distillation is the model's structured output.
	distillation struct {
		MainContentStartLine int    `json:"mainContentStartLine"`
		MainContentEndLine   int    `json:"mainContentEndLine"`
		Summary              string `json:"summary"`
	}
)

var distillSchema = []byte(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["mainContentStartLine", "mainContentEndLine", "summary"],
  "properties": {
    "mainContentStartLine": {"type": "integer", "minimum": 1},
    "mainContentEndLine": {"type": "integer", "minimum": 1},
    "summary": {"type": "string"}
  }
}`)

// DistillEntryContent numbers the entry's Markdown lines, asks the model
// for the main-content range and a 3-4 sentence summary, and stores the
// line-range selection as filtered content. Re-running recomputes and
// overwrites the same columns.
func (a *Activities) DistillEntryContent(ctx context.Context, in DistillInput) (DistillOutput, error) {
	ctx = telemetry.WithTraceID(ctx, in.TraceID)

	if !a.LLM.ChatEnabled() {
		return DistillOutput{Skipped: true}, nil
	}
	lines := strings.Split(in.Markdown, "\n")
	if strings.TrimSpace(in.Markdown) == "" {
		return DistillOutput{Skipped: true}, nil
	}

	language := in.Language
	if language == "" {
		language = a.SummaryLanguage
	}
	if language == "" {
		language = "English"
	}

	var numbered strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&numbered, "%d: %s\n", i+1, line)
	}

	prompt := fmt.Sprintf(
		"The article below has numbered lines. Identify the line range of the main "+
			"article content, excluding navigation, comments and boilerplate, and write a "+
			"summary of 3-4 sentences in %s.\n\n%s", language, numbered.String())

	var d distillation
	err := a.LLM.Structured(ctx, llm.StructuredRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You extract the main content of articles and summarize them."},
			{Role: "user", Content: prompt},
		},
		SchemaName: "distillation",
		Schema:     distillSchema,
	}, &d)
	if err != nil {
		return DistillOutput{}, fmt.Errorf("distill %s: %w", in.EntryID, err)
	}

	start, end := clampLineRange(d.MainContentStartLine, d.MainContentEndLine, len(lines))
	filtered := strings.Join(lines[start-1:end], "\n")

	patch := rest.EntryPatch{FilteredContent: &filtered, Summary: &d.Summary}
	if err := a.Backend.PatchEntry(ctx, in.EntryID, patch); err != nil {
		if actErr, passthrough := fromAPIError(err); passthrough == nil {
			return DistillOutput{Error: actErr}, nil
		}
		return DistillOutput{}, fmt.Errorf("distill %s: store: %w", in.EntryID, err)
	}
	return DistillOutput{StartLine: start, EndLine: end, Summary: d.Summary}, nil
}

// DistillEntriesBatch runs DistillEntryContent for each item, heartbeating
// between items so the 10-minute batch window stays alive. A failed item is
// recorded and the batch continues.
func (a *Activities) DistillEntriesBatch(ctx context.Context, in DistillBatchInput) (DistillBatchOutput, error) {
	results := make(map[string]DistillOutput, len(in.Items))
	for i, item := range in.Items {
		item.TraceID = ids.EntryTraceID(item.EntryID, in.BatchTraceID)
		out, err := a.DistillEntryContent(ctx, item)
		if err != nil {
			out = DistillOutput{Error: newActivityError("distill_failed", err.Error())}
		}
		results[item.EntryID] = out
		activity.RecordHeartbeat(ctx, i+1)
	}
	return DistillBatchOutput{Results: results}, nil
}

// clampLineRange forces a model-provided 1-based range into the document
// bounds, falling back to the whole document when the range is inverted.
func clampLineRange(start, end, lineCount int) (int, int) {
	if start < 1 {
		start = 1
	}
	if end > lineCount {
		end = lineCount
	}
	if end < 1 {
		end = lineCount
	}
	if start > end {
		return 1, lineCount
	}
	return start, end
}
