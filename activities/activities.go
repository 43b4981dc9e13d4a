// Package activities hosts the worker's activity library: the idempotent
// I/O units workflows orchestrate. Every activity takes a single input
// record and returns a single output record; expected domain failures come
// back as structured error fields, never as raised errors, so the engine
// only retries transport and 5xx failures.
package activities

import (
	"net/http"
	"time"

	"github.com/curiohq/curio/llm"
	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
)

// Activities carries the shared collaborators activity methods use. One
// instance is registered per worker; all fields must be safe for concurrent
// use because the worker executes activities in parallel slots.
type Activities struct {
	Backend    *rest.Client
	LLM        *llm.Client
	Embedder   *Embedder
	Translator Translator
	Graph      GraphClient
	Scores     ScoreSink
	Notifier   *Notifier
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics

	// HTTP performs feed and page fetches. Defaults to a client with a
	// 30-second timeout.
	HTTP *http.Client

	// BlockedDomains are hosts the fetch activity refuses to touch, on top
	// of per-feed extraction rules.
	BlockedDomains []string

	// SummaryLanguage is the target language for distilled summaries.
	SummaryLanguage string
}

// New constructs the activity set with defaults filled in.
func New(a Activities) *Activities {
	if a.HTTP == nil {
		a.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if a.Logger == nil {
		a.Logger = telemetry.NewNoopLogger()
	}
	if a.Metrics == nil {
		a.Metrics = telemetry.NewNoopMetrics()
	}
	if a.Notifier == nil {
		a.Notifier = NewNotifier(a.Backend, telemetry.NewNoopLogger())
	}
	return &a
}

// ActivityError is the structured error shape activities return for
// expected domain failures (4xx responses, blocked domains, disabled
// features). Its presence in an output record means "handled, do not
// retry".
type ActivityError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func newActivityError(code, message string) *ActivityError {
	return &ActivityError{Code: code, Message: message}
}

// fromAPIError converts a backend client error into the structured shape,
// or passes the error through for the engine to retry.
func fromAPIError(err error) (*ActivityError, error) {
	if apiErr, ok := rest.IsAPIError(err); ok {
		return newActivityError("backend_rejected", apiErr.Message), nil
	}
	return nil, err
}
