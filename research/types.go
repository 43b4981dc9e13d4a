// Package research implements the Deep Research state machine: a bounded
// planner→retriever→writer loop that fans hybrid search out across the
// keyword and vector indices and synthesizes a structured answer.
package research

import (
	"fmt"
	"strings"
)

// MaxIterations caps planner passes. The loop terminates after this many
// plans regardless of the writer's needs_more_info signal.
const MaxIterations = 3

// SearchMode selects how the retriever resolves its sources.
type SearchMode string

const (
	// ModePlanner defers source selection to the planner's plan.
	ModePlanner SearchMode = "planner"
	// ModeKeyword forces keyword-index retrieval only.
	ModeKeyword SearchMode = "keyword"
	// ModeVector forces vector retrieval only.
	ModeVector SearchMode = "vector"
	// ModeHybrid searches both indices.
	ModeHybrid SearchMode = "hybrid"
)

// ParseSearchMode maps a string onto a SearchMode. Unknown values fall back
// to ModePlanner rather than failing the request.
func ParseSearchMode(s string) SearchMode {
	switch SearchMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeKeyword:
		return ModeKeyword
	case ModeVector:
		return ModeVector
	case ModeHybrid:
		return ModeHybrid
	default:
		return ModePlanner
	}
}

// Source tags where a retrieved document came from.
type Source string

const (
	// SourceKeyword marks documents from the keyword index.
	SourceKeyword Source = "keyword"
	// SourceVector marks documents from vector retrieval.
	SourceVector Source = "vector"
)

// AnswerType labels the shape of the final answer.
type AnswerType string

const (
	AnswerComparison     AnswerType = "comparison"
	AnswerExplanation    AnswerType = "explanation"
	AnswerRecommendation AnswerType = "recommendation"
	AnswerSummary        AnswerType = "summary"
)

type (
	// Plan is the planner's structured output: the sub-queries to run, the
	// sources to run them against and a short rationale.
	Plan struct {
		SubQueries []string `json:"subQueries"`
		Sources    []Source `json:"sources"`
		Rationale  string   `json:"rationale"`
	}

	// Doc is one retrieved document. Relevance, when present, is in [0,1]
	// with higher meaning more relevant.
	Doc struct {
		Source    Source   `json:"source"`
		ID        string   `json:"id"`
		Title     string   `json:"title"`
		Content   string   `json:"content"`
		URL       string   `json:"url,omitempty"`
		Relevance *float64 `json:"relevance,omitempty"`
	}

	// Answer is the writer's structured output.
	Answer struct {
		Markdown      string     `json:"markdown"`
		Type          AnswerType `json:"type"`
		Sources       []string   `json:"sources"`
		Confidence    float64    `json:"confidence"`
		NeedsMoreInfo bool       `json:"needsMoreInfo"`
		FollowUps     []string   `json:"followUps,omitempty"`
	}

	// State carries the loop's accumulated data. Nodes are pure over State:
	// each returns a new value rather than mutating shared storage.
	State struct {
		Query        string     `json:"query"`
		EntryContext string     `json:"entryContext,omitempty"`
		Mode         SearchMode `json:"mode"`
		Plan         *Plan      `json:"plan,omitempty"`
		Docs         []Doc      `json:"docs,omitempty"`
		Answer       *Answer    `json:"answer,omitempty"`
		Iteration    int        `json:"iteration"`
		NeedsMore    bool       `json:"needsMore"`
		TraceID      string     `json:"traceId,omitempty"`
		SessionID    string     `json:"sessionId,omitempty"`
	}
)

// Validate enforces the planner output constraints: at least one sub-query
// and sources drawn from {keyword, vector}.
func (p *Plan) Validate() error {
	if len(p.SubQueries) == 0 {
		return fmt.Errorf("research: plan has no sub-queries")
	}
	for _, q := range p.SubQueries {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("research: plan contains an empty sub-query")
		}
	}
	for _, s := range p.Sources {
		if s != SourceKeyword && s != SourceVector {
			return fmt.Errorf("research: plan names unknown source %q", s)
		}
	}
	return nil
}

// Validate enforces the writer output constraints: a known answer type and
// confidence in [0,1].
func (a *Answer) Validate() error {
	switch a.Type {
	case AnswerComparison, AnswerExplanation, AnswerRecommendation, AnswerSummary:
	default:
		return fmt.Errorf("research: unknown answer type %q", a.Type)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("research: confidence %v outside [0,1]", a.Confidence)
	}
	return nil
}

// planSchema constrains the planner's structured output. The sources enum
// mirrors the Source constants; validation at decode rejects anything else.
var planSchema = []byte(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["subQueries", "sources", "rationale"],
  "properties": {
    "subQueries": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    },
    "sources": {
      "type": "array",
      "items": {"enum": ["keyword", "vector"]}
    },
    "rationale": {"type": "string"}
  }
}`)

// answerSchema constrains the writer's structured output.
var answerSchema = []byte(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["markdown", "type", "sources", "confidence", "needsMoreInfo"],
  "properties": {
    "markdown": {"type": "string"},
    "type": {"enum": ["comparison", "explanation", "recommendation", "summary"]},
    "sources": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "needsMoreInfo": {"type": "boolean"},
    "followUps": {"type": "array", "items": {"type": "string"}}
  }
}`)
