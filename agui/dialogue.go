package agui

import (
	"context"
	"fmt"

	"github.com/curiohq/curio/ids"
	"github.com/curiohq/curio/llm"
)

const dialogueSystemPrompt = "You are a reading assistant for a personal " +
	"content curation platform. Answer from the provided article context when " +
	"present; say so when the context does not cover the question. Respond in " +
	"Markdown."

// runDialogue streams a single-shot chat completion. Tokens are framed as
// TEXT_MESSAGE_CONTENT deltas between a start and end bracket; after the
// stream finishes the concatenated answer is submitted for evaluation when
// enabled and both the query and an entry context are present.
func (s *Server) runDialogue(ctx context.Context, rn *run, req RunRequest) error {
	entryContext := s.entryContext(ctx, req.ForwardedProps.EntryID)

	messages := make([]llm.Message, 0, len(req.Messages)+2)
	messages = append(messages, llm.Message{Role: "system", Content: dialogueSystemPrompt})
	if entryContext != "" {
		messages = append(messages, llm.Message{Role: "system", Content: "Article context:\n\n" + entryContext})
	}
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	messageID := ids.NewRunID()
	if err := rn.emit.Emit(TextStart(messageID)); err != nil {
		return err
	}
	answer, err := s.LLM.StreamTokens(ctx, messages, 0, func(delta string) {
		_ = rn.emit.Emit(TextContent(messageID, delta))
	})
	if err != nil {
		return fmt.Errorf("agui: dialogue stream: %w", err)
	}
	if err := rn.emit.Emit(TextEnd(messageID)); err != nil {
		return err
	}

	s.submitEvaluation(ctx, rn, ModeDialogue, req.Query(), entryContext, answer)
	return nil
}
