package agui

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Modes the AG-UI endpoint dispatches on. Unknown modes fall back to
// dialogue so an older frontend keeps working against a newer agent.
const (
	ModeDialogue = "dialogue"
	ModeResearch = "research"
)

type (
	// RunRequest is the decoded POST /ag-ui body.
	RunRequest struct {
		ThreadID       string         `json:"thread_id"`
		Messages       []ChatMessage  `json:"messages"`
		ForwardedProps ForwardedProps `json:"forwarded_props"`
	}

	// ChatMessage is one turn of the conversation history.
	ChatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// ForwardedProps carries the frontend's routing hints.
	ForwardedProps struct {
		Mode      string `json:"mode"`
		EntryID   string `json:"entryId"`
		SessionID string `json:"sessionId"`
		// SearchMode overrides the server's default retrieval mode for
		// research runs. Unknown values degrade to the planner.
		SearchMode string `json:"searchMode"`
	}
)

var validRoles = map[string]bool{"user": true, "assistant": true, "system": true}

// DecodeRunRequest decodes and validates a request body.
func DecodeRunRequest(r io.Reader) (RunRequest, error) {
	var req RunRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return RunRequest{}, fmt.Errorf("agui: decode request: %w", err)
	}
	if len(req.Messages) == 0 {
		return RunRequest{}, errors.New("agui: request has no messages")
	}
	for i, m := range req.Messages {
		if !validRoles[m.Role] {
			return RunRequest{}, fmt.Errorf("agui: message %d has invalid role %q", i, m.Role)
		}
	}
	req.ForwardedProps.Mode = normalizeMode(req.ForwardedProps.Mode)
	return req, nil
}

// Query returns the content of the last user message, the turn the run
// answers.
func (r RunRequest) Query() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return strings.TrimSpace(r.Messages[i].Content)
		}
	}
	return ""
}

func normalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeResearch:
		return ModeResearch
	default:
		return ModeDialogue
	}
}
