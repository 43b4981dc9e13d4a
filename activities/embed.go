package activities

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"

	"github.com/curiohq/curio/ids"
	"github.com/curiohq/curio/llm"
	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
)

type (
	// Embedder serializes embedding computation behind a single worker. The
	// model runtime behind the endpoint handles one request at a time well
	// and degrades badly under fan-in, so all embedding calls in the process
	// queue through one goroutine, started lazily on first use.
	Embedder struct {
		llm *llm.Client

		once sync.Once
		jobs chan embedJob
	}

	embedJob struct {
		ctx   context.Context
		texts []string
		done  chan embedResult
	}

	embedResult struct {
		vectors [][]float32
		err     error
	}

	// ComputeEmbeddingsInput lists the entries to embed. Entries are read
	// back from the backend so the activity embeds current content, not the
	// content at schedule time.
	ComputeEmbeddingsInput struct {
		EntryIDs     []string `json:"entryIds"`
		BatchTraceID string   `json:"batchTraceId,omitempty"`
	}

	// ComputeEmbeddingsOutput counts the outcomes per disposition.
	ComputeEmbeddingsOutput struct {
		Embedded int            `json:"embedded"`
		Skipped  int            `json:"skipped"`
		Error    *ActivityError `json:"error,omitempty"`
	}
)

// NewEmbedder wraps the LLM client's embedding capability.
func NewEmbedder(c *llm.Client) *Embedder {
	return &Embedder{llm: c}
}

// Enabled reports whether an embedding model is configured.
func (e *Embedder) Enabled() bool { return e.llm != nil && e.llm.EmbeddingsEnabled() }

// Embed computes vectors for texts through the single worker. Calls block
// until the worker picks the job up, so concurrent activities serialize here
// rather than at the model.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.Enabled() {
		return nil, llm.ErrDisabled
	}
	e.once.Do(func() {
		e.jobs = make(chan embedJob)
		go e.run()
	})
	job := embedJob{ctx: ctx, texts: texts, done: make(chan embedResult, 1)}
	select {
	case e.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-job.done:
		return res.vectors, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Embedder) run() {
	for job := range e.jobs {
		vectors, err := e.llm.Embed(job.ctx, job.texts)
		job.done <- embedResult{vectors: vectors, err: err}
	}
}

// embeddingText picks the text an entry is embedded from: filtered content
// first, then summary, then title. Empty means the entry has nothing worth
// embedding yet.
func embeddingText(e *rest.Entry) string {
	if e.FilteredContent != "" {
		return e.FilteredContent
	}
	if e.Summary != "" {
		return e.Summary
	}
	return e.Title
}

// ComputeEmbeddings reads each entry, computes its embedding from filtered
// content, summary or title and saves the vector, heartbeating between
// entries. Entries with no embeddable text or that no longer exist are
// skipped. Saving is idempotent: re-running overwrites the same vector.
func (a *Activities) ComputeEmbeddings(ctx context.Context, in ComputeEmbeddingsInput) (ComputeEmbeddingsOutput, error) {
	if !a.Embedder.Enabled() {
		return ComputeEmbeddingsOutput{Skipped: len(in.EntryIDs)}, nil
	}

	var out ComputeEmbeddingsOutput
	for i, id := range in.EntryIDs {
		entryCtx := telemetry.WithTraceID(ctx, ids.EntryTraceID(id, in.BatchTraceID))

		entry, ok, err := a.Backend.GetEntry(entryCtx, id)
		if err != nil {
			if actErr, passthrough := fromAPIError(err); passthrough == nil {
				out.Error = actErr
				out.Skipped++
				continue
			}
			return out, fmt.Errorf("embed %s: load entry: %w", id, err)
		}
		if !ok {
			out.Skipped++
			continue
		}
		text := embeddingText(entry)
		if text == "" {
			out.Skipped++
			continue
		}

		vectors, err := a.Embedder.Embed(entryCtx, []string{text})
		if err != nil {
			return out, fmt.Errorf("embed %s: %w", id, err)
		}
		if err := a.Backend.SaveEmbedding(entryCtx, id, vectors[0]); err != nil {
			if actErr, passthrough := fromAPIError(err); passthrough == nil {
				out.Error = actErr
				out.Skipped++
				continue
			}
			return out, fmt.Errorf("embed %s: save: %w", id, err)
		}
		out.Embedded++
		activity.RecordHeartbeat(ctx, i+1)
	}
	a.Metrics.IncCounter("embeddings_computed", float64(out.Embedded))
	return out, nil
}
