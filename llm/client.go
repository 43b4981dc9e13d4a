// Package llm wraps the OpenAI-compatible endpoint used for distillation,
// research and dialogue. Structured output requests constrain the model with
// a JSON-schema response format and re-validate the returned document with
// the same schema before decoding, so malformed completions are rejected at
// the ingress instead of surfacing as partial records downstream.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	openai "github.com/sashabaranov/go-openai"
)

// ErrDisabled reports that the requested capability has no model configured.
// Empty model names mean "feature disabled", never "use a default".
var ErrDisabled = errors.New("llm: no model configured")

type (
	// Config selects the endpoint and per-capability models.
	Config struct {
		BaseURL        string
		APIKey         string
		ChatModel      string
		EmbeddingModel string
	}

	// Client is a thin adapter over the go-openai client. Safe for
	// concurrent use.
	Client struct {
		api        API
		chatModel  string
		embedModel string
	}

	// API is the subset of the go-openai surface the adapter uses;
	// tests substitute a fake.
	API interface {
		CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
		CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
		CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
	}

	// Message is one chat turn.
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// StructuredRequest asks for a completion constrained to a named JSON
	// schema.
	StructuredRequest struct {
		Messages    []Message
		SchemaName  string
		Schema      []byte
		Temperature float32
		// Model overrides the configured chat model for this request.
		Model string
	}
)

// New constructs a client. The zero ChatModel and EmbeddingModel are legal;
// the corresponding calls then return ErrDisabled.
func New(cfg Config) *Client {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(conf),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbeddingModel,
	}
}

// NewWithAPI wires a custom chat API implementation, used by tests.
func NewWithAPI(api API, chatModel, embedModel string) *Client {
	return &Client{api: api, chatModel: chatModel, embedModel: embedModel}
}

// ChatEnabled reports whether a chat model is configured.
func (c *Client) ChatEnabled() bool { return c.chatModel != "" }

// EmbeddingsEnabled reports whether an embedding model is configured.
func (c *Client) EmbeddingsEnabled() bool { return c.embedModel != "" }

// Complete returns the full completion text for the given messages.
func (c *Client) Complete(ctx context.Context, messages []Message, temperature float32) (string, error) {
	if c.chatModel == "" {
		return "", ErrDisabled
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    encodeMessages(messages),
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamTokens streams a completion, invoking onToken for each delta in
// arrival order, and returns the concatenated text.
func (c *Client) StreamTokens(ctx context.Context, messages []Message, temperature float32, onToken func(string)) (string, error) {
	if c.chatModel == "" {
		return "", ErrDisabled
	}
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    encodeMessages(messages),
		Temperature: temperature,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("llm: open completion stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("llm: read completion stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onToken != nil {
			onToken(delta)
		}
	}
	return full.String(), nil
}

// Structured requests a schema-constrained completion and decodes the
// validated document into out.
func (c *Client) Structured(ctx context.Context, req StructuredRequest, out any) error {
	model := req.Model
	if model == "" {
		model = c.chatModel
	}
	if model == "" {
		return ErrDisabled
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    encodeMessages(req.Messages),
		Temperature: req.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: json.RawMessage(req.Schema),
				Strict: true,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("llm: structured completion %s: %w", req.SchemaName, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("llm: structured completion %s returned no choices", req.SchemaName)
	}
	return DecodeValidated(req.SchemaName, req.Schema, []byte(resp.Choices[0].Message.Content), out)
}

// Embed computes embedding vectors for the given texts, preserving order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.embedModel == "" {
		return nil, ErrDisabled
	}
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("llm: embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("llm: embeddings returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("llm: embeddings returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// DecodeValidated validates raw against the schema and decodes it into out.
// Exposed so tests and offline decoders share the ingress validation.
func DecodeValidated(name string, schema, raw []byte, out any) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("llm: %s output is not valid JSON: %w", name, err)
	}
	compiled, err := compileSchema(name, schema)
	if err != nil {
		return err
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("llm: %s output rejected by schema: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("llm: decode %s output into %T: %w", name, out, err)
	}
	return nil
}

func compileSchema(name string, schema []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("llm: parse %s schema: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("llm: register %s schema: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("llm: compile %s schema: %w", name, err)
	}
	return compiled, nil
}

func encodeMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
