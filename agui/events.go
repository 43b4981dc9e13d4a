// Package agui implements the AG-UI surface of the agent: request framing,
// the SSE wire events browsers consume and the streaming handlers for the
// dialogue and research modes.
package agui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Wire event types, emitted in the order clients rely on: a run is bracketed
// by RUN_STARTED and RUN_FINISHED, assistant text by TEXT_MESSAGE_START and
// TEXT_MESSAGE_END.
const (
	EventRunStarted         = "RUN_STARTED"
	EventRunFinished        = "RUN_FINISHED"
	EventTextMessageStart   = "TEXT_MESSAGE_START"
	EventTextMessageContent = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     = "TEXT_MESSAGE_END"
	EventCustom             = "CUSTOM"
)

type (
	// Event is one wire event. Only the fields relevant to the type are
	// set; the rest are omitted from the encoding.
	Event struct {
		Type      string `json:"type"`
		ThreadID  string `json:"thread_id,omitempty"`
		RunID     string `json:"run_id,omitempty"`
		MessageID string `json:"message_id,omitempty"`
		Role      string `json:"role,omitempty"`
		Delta     string `json:"delta,omitempty"`
		Name      string `json:"name,omitempty"`
		Value     any    `json:"value,omitempty"`
	}

	// Emitter consumes wire events in emit order.
	Emitter interface {
		Emit(e Event) error
	}

	// SSEEmitter frames events as server-sent `data:` lines and flushes
	// after each one so tokens reach the browser as they arrive.
	SSEEmitter struct {
		mu      sync.Mutex
		w       io.Writer
		flusher http.Flusher
	}

	// multiEmitter fans one event out to several emitters. Failures past
	// the first emitter are dropped: the SSE stream is primary, mirrors are
	// best-effort.
	multiEmitter struct {
		primary Emitter
		mirrors []Emitter
	}
)

// RunStarted builds the opening bracket event.
func RunStarted(threadID, runID string) Event {
	return Event{Type: EventRunStarted, ThreadID: threadID, RunID: runID}
}

// RunFinished builds the closing bracket event.
func RunFinished(threadID, runID string) Event {
	return Event{Type: EventRunFinished, ThreadID: threadID, RunID: runID}
}

// TextStart opens an assistant message.
func TextStart(messageID string) Event {
	return Event{Type: EventTextMessageStart, MessageID: messageID, Role: "assistant"}
}

// TextContent carries one token delta.
func TextContent(messageID, delta string) Event {
	return Event{Type: EventTextMessageContent, MessageID: messageID, Delta: delta}
}

// TextEnd closes an assistant message.
func TextEnd(messageID string) Event {
	return Event{Type: EventTextMessageEnd, MessageID: messageID}
}

// Custom builds an advisory event with a free-form value.
func Custom(name string, value any) Event {
	return Event{Type: EventCustom, Name: name, Value: value}
}

// NewSSEEmitter prepares the response for server-sent events and returns the
// emitter. The writer should implement http.Flusher; without it events are
// delivered when the handler returns.
func NewSSEEmitter(w http.ResponseWriter) *SSEEmitter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return &SSEEmitter{w: w, flusher: flusher}
}

// Emit writes one `data: <json>\n\n` frame.
func (s *SSEEmitter) Emit(e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("agui: encode event %s: %w", e.Type, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		return fmt.Errorf("agui: write event %s: %w", e.Type, err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// withMirrors composes the primary emitter with best-effort mirrors.
func withMirrors(primary Emitter, mirrors ...Emitter) Emitter {
	if len(mirrors) == 0 {
		return primary
	}
	return &multiEmitter{primary: primary, mirrors: mirrors}
}

func (m *multiEmitter) Emit(e Event) error {
	err := m.primary.Emit(e)
	for _, mirror := range m.mirrors {
		_ = mirror.Emit(e)
	}
	return err
}
