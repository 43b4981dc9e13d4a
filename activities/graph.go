package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/curiohq/curio/ids"
	"github.com/curiohq/curio/telemetry"
)

type (
	// GraphClient talks to the knowledge-graph backend. The global graph
	// accumulates every distilled entry; per-entry GraphRAG sessions are
	// scratch graphs rebuilt from one entry's context.
	GraphClient interface {
		AddDocument(ctx context.Context, graphID, docID, text string) error
		ResetGraph(ctx context.Context, graphID string) error
	}

	// HTTPGraphClient is the production GraphClient.
	HTTPGraphClient struct {
		BaseURL string
		Token   string
		HTTP    *http.Client
	}

	// GraphAddInput lists the entries to fold into the global graph.
	GraphAddInput struct {
		EntryIDs     []string `json:"entryIds"`
		BatchTraceID string   `json:"batchTraceId,omitempty"`
	}

	// GraphAddOutput counts outcomes per disposition.
	GraphAddOutput struct {
		Added   int            `json:"added"`
		Skipped int            `json:"skipped"`
		Error   *ActivityError `json:"error,omitempty"`
	}

	// GraphSessionInput names a per-entry GraphRAG session. Text is the
	// rendered entry context to load into it.
	GraphSessionInput struct {
		EntryID string `json:"entryId"`
		Text    string `json:"text,omitempty"`
		TraceID string `json:"traceId,omitempty"`
	}
)

// globalGraphID names the single shared graph every entry feeds.
const globalGraphID = "global"

// sessionGraphID derives the per-entry session graph name. Sessions are
// exclusive per entry id; ResetGraphRAGSession is the only deleter.
func sessionGraphID(entryID string) string {
	return "session-" + entryID
}

// AddToGlobalGraph streams each entry's filtered content into the shared
// knowledge graph, heartbeating per entry. Graph ingestion is slow; callers
// schedule this with a long timeout and rely on the heartbeats. Re-adding a
// document id the graph already holds replaces it.
func (a *Activities) AddToGlobalGraph(ctx context.Context, in GraphAddInput) (GraphAddOutput, error) {
	if a.Graph == nil {
		return GraphAddOutput{Skipped: len(in.EntryIDs)}, nil
	}

	var out GraphAddOutput
	for i, id := range in.EntryIDs {
		entryCtx := telemetry.WithTraceID(ctx, ids.EntryTraceID(id, in.BatchTraceID))

		entry, ok, err := a.Backend.GetEntry(entryCtx, id)
		if err != nil {
			if actErr, passthrough := fromAPIError(err); passthrough == nil {
				out.Error = actErr
				out.Skipped++
				continue
			}
			return out, fmt.Errorf("graph: load entry %s: %w", id, err)
		}
		if !ok || entry.FilteredContent == "" {
			out.Skipped++
			continue
		}
		if err := a.Graph.AddDocument(entryCtx, globalGraphID, entry.ID, entry.FilteredContent); err != nil {
			return out, fmt.Errorf("graph: add entry %s: %w", id, err)
		}
		out.Added++
		activity.RecordHeartbeat(ctx, i+1)
	}
	a.Metrics.IncCounter("graph_documents_added", float64(out.Added))
	return out, nil
}

// AddToGraphRAGSession loads the rendered entry context into the entry's
// session graph.
func (a *Activities) AddToGraphRAGSession(ctx context.Context, in GraphSessionInput) error {
	if a.Graph == nil {
		return nil
	}
	ctx = telemetry.WithTraceID(ctx, in.TraceID)
	if err := a.Graph.AddDocument(ctx, sessionGraphID(in.EntryID), in.EntryID, in.Text); err != nil {
		return fmt.Errorf("graph: add to session %s: %w", in.EntryID, err)
	}
	return nil
}

// ResetGraphRAGSession drops the entry's session graph so it can be rebuilt
// from fresh context. Resetting an absent session is a no-op.
func (a *Activities) ResetGraphRAGSession(ctx context.Context, in GraphSessionInput) error {
	if a.Graph == nil {
		return nil
	}
	ctx = telemetry.WithTraceID(ctx, in.TraceID)
	if err := a.Graph.ResetGraph(ctx, sessionGraphID(in.EntryID)); err != nil {
		return fmt.Errorf("graph: reset session %s: %w", in.EntryID, err)
	}
	return nil
}

// ResetGlobalGraph drops the shared graph; used by the clean rebuild.
func (a *Activities) ResetGlobalGraph(ctx context.Context) error {
	if a.Graph == nil {
		return nil
	}
	if err := a.Graph.ResetGraph(ctx, globalGraphID); err != nil {
		return fmt.Errorf("graph: reset global graph: %w", err)
	}
	return nil
}

// AddDocument upserts one document into a graph.
func (g *HTTPGraphClient) AddDocument(ctx context.Context, graphID, docID, text string) error {
	body := map[string]string{"id": docID, "text": text}
	return g.send(ctx, http.MethodPost, "/graphs/"+url.PathEscape(graphID)+"/documents", body)
}

// ResetGraph deletes a graph and everything in it.
func (g *HTTPGraphClient) ResetGraph(ctx context.Context, graphID string) error {
	return g.send(ctx, http.MethodDelete, "/graphs/"+url.PathEscape(graphID), nil)
}

func (g *HTTPGraphClient) send(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("graph: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(g.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("graph: build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	hc := g.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("graph: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	// Deleting an absent graph is a successful no-op.
	if resp.StatusCode == http.StatusNotFound && method == http.MethodDelete {
		return nil
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("graph: %s %s: returned %d", method, path, resp.StatusCode)
	}
	return nil
}
