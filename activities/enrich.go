package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/PuerkitoBio/goquery"

	"github.com/curiohq/curio/llm"
	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
)

type (
	// EnrichInput names the entry to enrich.
	EnrichInput struct {
		EntryID string `json:"entryId"`
		TraceID string `json:"traceId,omitempty"`
	}

	// EnrichOutput counts the enrichment rows written.
	EnrichOutput struct {
		Saved   int            `json:"saved"`
		Skipped bool           `json:"skipped"`
		Error   *ActivityError `json:"error,omitempty"`
	}

	// DeleteEnrichmentInput selects enrichments to remove. Source empty
	// means all enrichments of the type.
	DeleteEnrichmentInput struct {
		EntryID string `json:"entryId"`
		Type    string `json:"type"`
		Source  string `json:"source,omitempty"`
	}

	// EntryContextInput asks for an entry's structured context. The result
	// is persisted and returned for session loading.
	EntryContextInput struct {
		EntryID string `json:"entryId"`
		TraceID string `json:"traceId,omitempty"`
	}

	// EntryContextOutput is the rendered context text.
	EntryContextOutput struct {
		Context string         `json:"context,omitempty"`
		Skipped bool           `json:"skipped"`
		Error   *ActivityError `json:"error,omitempty"`
	}

	// entryContext is the model's structured output for context extraction.
	entryContext struct {
		Topics     []string `json:"topics"`
		Entities   []string `json:"entities"`
		KeyPoints  []string `json:"keyPoints"`
		Technology []string `json:"technology"`
	}
)

var entryContextSchema = []byte(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["topics", "entities", "keyPoints", "technology"],
  "properties": {
    "topics": {"type": "array", "items": {"type": "string"}},
    "entities": {"type": "array", "items": {"type": "string"}},
    "keyPoints": {"type": "array", "items": {"type": "string"}},
    "technology": {"type": "array", "items": {"type": "string"}}
  }
}`)

var githubRepoPattern = regexp.MustCompile(`https?://github\.com/([\w.-]+)/([\w.-]+?)(?:[/#?].*)?$`)

// EnrichGitHubRepos finds GitHub repository links in the entry's content,
// fetches repository metadata and stores one enrichment row per repository.
// All existing rows of the type are replaced in one request, so retries
// never duplicate.
func (a *Activities) EnrichGitHubRepos(ctx context.Context, in EnrichInput) (EnrichOutput, error) {
	ctx = telemetry.WithTraceID(ctx, in.TraceID)

	entry, ok, err := a.Backend.GetEntry(ctx, in.EntryID)
	if err != nil {
		return enrichFailure(err, in.EntryID, "load entry")
	}
	if !ok {
		return EnrichOutput{Skipped: true}, nil
	}

	repos := githubRepos(entryLinks(entry))
	enrichments := make([]rest.Enrichment, 0, len(repos))
	for _, repo := range repos {
		meta, err := a.fetchGitHubRepo(ctx, repo)
		if err != nil {
			a.Logger.Warn(ctx, "github lookup failed", "entry_id", in.EntryID, "repo", repo, "err", err)
			continue
		}
		enrichments = append(enrichments, rest.Enrichment{
			Type:    "github_repo",
			Source:  repo,
			Payload: meta,
		})
	}
	if len(enrichments) == 0 {
		return EnrichOutput{Skipped: true}, nil
	}
	if err := a.Backend.SaveEnrichments(ctx, in.EntryID, enrichments); err != nil {
		return enrichFailure(err, in.EntryID, "save enrichments")
	}
	return EnrichOutput{Saved: len(enrichments)}, nil
}

// EnrichEntryLinks extracts the outbound links from the entry's fetched
// content and stores them. Replaces the entry's link set wholesale.
func (a *Activities) EnrichEntryLinks(ctx context.Context, in EnrichInput) (EnrichOutput, error) {
	ctx = telemetry.WithTraceID(ctx, in.TraceID)

	entry, ok, err := a.Backend.GetEntry(ctx, in.EntryID)
	if err != nil {
		return enrichFailure(err, in.EntryID, "load entry")
	}
	if !ok {
		return EnrichOutput{Skipped: true}, nil
	}
	links := entryLinks(entry)
	if len(links) == 0 {
		return EnrichOutput{Skipped: true}, nil
	}
	if err := a.Backend.SaveLinks(ctx, in.EntryID, links); err != nil {
		return enrichFailure(err, in.EntryID, "save links")
	}
	return EnrichOutput{Saved: len(links)}, nil
}

// EnrichWebPage stores a link-preview enrichment for the entry's canonical
// URL: final title and description scraped from the page head.
func (a *Activities) EnrichWebPage(ctx context.Context, in EnrichInput) (EnrichOutput, error) {
	ctx = telemetry.WithTraceID(ctx, in.TraceID)

	entry, ok, err := a.Backend.GetEntry(ctx, in.EntryID)
	if err != nil {
		return enrichFailure(err, in.EntryID, "load entry")
	}
	if !ok || entry.URL == "" {
		return EnrichOutput{Skipped: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return EnrichOutput{Error: newActivityError("bad_url", err.Error())}, nil
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return EnrichOutput{}, fmt.Errorf("enrich %s: fetch page: %w", in.EntryID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("page returned %d", resp.StatusCode)
		return EnrichOutput{Error: newActivityError("page_rejected", msg)}, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return EnrichOutput{Error: newActivityError("parse_failed", err.Error())}, nil
	}
	payload := map[string]any{
		"title":       strings.TrimSpace(doc.Find("title").First().Text()),
		"description": metaContent(doc, "description"),
		"image":       metaProperty(doc, "og:image"),
	}
	enrichment := rest.Enrichment{Type: "web_page", Source: entry.URL, Payload: payload}
	if err := a.Backend.SaveEnrichments(ctx, in.EntryID, []rest.Enrichment{enrichment}); err != nil {
		return enrichFailure(err, in.EntryID, "save enrichment")
	}
	return EnrichOutput{Saved: 1}, nil
}

// ExtractEntryContext asks the model for the entry's structured context,
// stores it as a context enrichment and returns the rendered text for
// GraphRAG session loading.
func (a *Activities) ExtractEntryContext(ctx context.Context, in EntryContextInput) (EntryContextOutput, error) {
	ctx = telemetry.WithTraceID(ctx, in.TraceID)

	if !a.LLM.ChatEnabled() {
		return EntryContextOutput{Skipped: true}, nil
	}
	entry, ok, err := a.Backend.GetEntry(ctx, in.EntryID)
	if err != nil {
		if actErr, passthrough := fromAPIError(err); passthrough == nil {
			return EntryContextOutput{Error: actErr}, nil
		}
		return EntryContextOutput{}, fmt.Errorf("context %s: load entry: %w", in.EntryID, err)
	}
	if !ok {
		return EntryContextOutput{Skipped: true}, nil
	}
	content := entry.FilteredContent
	if content == "" {
		content = entry.Summary
	}
	if content == "" {
		return EntryContextOutput{Skipped: true}, nil
	}

	var ec entryContext
	err = a.LLM.Structured(ctx, llm.StructuredRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You extract the topics, named entities, key points and technologies from articles."},
			{Role: "user", Content: fmt.Sprintf("Title: %s\n\n%s", entry.Title, content)},
		},
		SchemaName: "entry_context",
		Schema:     entryContextSchema,
	}, &ec)
	if err != nil {
		return EntryContextOutput{}, fmt.Errorf("context %s: %w", in.EntryID, err)
	}

	rendered := renderEntryContext(entry.Title, ec)
	enrichment := rest.Enrichment{
		Type:    "context",
		Payload: map[string]any{"rendered": rendered, "topics": ec.Topics, "entities": ec.Entities, "keyPoints": ec.KeyPoints, "technology": ec.Technology},
	}
	if err := a.Backend.SaveEnrichments(ctx, in.EntryID, []rest.Enrichment{enrichment}); err != nil {
		if actErr, passthrough := fromAPIError(err); passthrough == nil {
			return EntryContextOutput{Error: actErr}, nil
		}
		return EntryContextOutput{}, fmt.Errorf("context %s: save: %w", in.EntryID, err)
	}
	activity.RecordHeartbeat(ctx)
	return EntryContextOutput{Context: rendered}, nil
}

// DeleteEnrichment removes enrichments of a type (and optional source) from
// an entry. Deleting what is already gone succeeds.
func (a *Activities) DeleteEnrichment(ctx context.Context, in DeleteEnrichmentInput) error {
	if err := a.Backend.DeleteEnrichment(ctx, in.EntryID, in.Type, in.Source); err != nil {
		return fmt.Errorf("enrich: delete %s/%s: %w", in.EntryID, in.Type, err)
	}
	return nil
}

func enrichFailure(err error, entryID, op string) (EnrichOutput, error) {
	if actErr, passthrough := fromAPIError(err); passthrough == nil {
		return EnrichOutput{Error: actErr}, nil
	}
	return EnrichOutput{}, fmt.Errorf("enrich %s: %s: %w", entryID, op, err)
}

// entryLinks pulls the outbound links from the entry's best available HTML
// or Markdown content.
func entryLinks(e *rest.Entry) []rest.EntryLink {
	content := e.FullContent
	if content == "" {
		content = e.RawContent
	}
	if content == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var links []rest.EntryLink
	add := func(href, title string) {
		href = strings.TrimSpace(href)
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		if _, ok := seen[href]; ok {
			return
		}
		seen[href] = struct{}{}
		links = append(links, rest.EntryLink{URL: href, Title: strings.TrimSpace(title)})
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			add(href, s.Text())
		})
	}
	for _, m := range markdownLinkPattern.FindAllStringSubmatch(content, -1) {
		add(m[2], m[1])
	}
	return links
}

var markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\((https?://[^)\s]+)\)`)

// githubRepos filters links down to unique owner/name GitHub repositories.
func githubRepos(links []rest.EntryLink) []string {
	seen := make(map[string]struct{})
	var repos []string
	for _, link := range links {
		m := githubRepoPattern.FindStringSubmatch(link.URL)
		if m == nil {
			continue
		}
		repo := m[1] + "/" + strings.TrimSuffix(m[2], ".git")
		if _, ok := seen[repo]; ok {
			continue
		}
		seen[repo] = struct{}{}
		repos = append(repos, repo)
	}
	return repos
}

func (a *Activities) fetchGitHubRepo(ctx context.Context, repo string) (map[string]any, error) {
	u := "https://api.github.com/repos/" + repo
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github returned %d", resp.StatusCode)
	}
	var body struct {
		FullName    string `json:"full_name"`
		Description string `json:"description"`
		Language    string `json:"language"`
		Stars       int    `json:"stargazers_count"`
		HTMLURL     string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return map[string]any{
		"fullName":    body.FullName,
		"description": body.Description,
		"language":    body.Language,
		"stars":       body.Stars,
		"url":         body.HTMLURL,
	}, nil
}

func renderEntryContext(title string, ec entryContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	writeContextSection(&b, "Topics", ec.Topics)
	writeContextSection(&b, "Entities", ec.Entities)
	writeContextSection(&b, "Key points", ec.KeyPoints)
	writeContextSection(&b, "Technology", ec.Technology)
	return strings.TrimSpace(b.String())
}

func writeContextSection(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

func metaContent(doc *goquery.Document, name string) string {
	v, _ := doc.Find(`meta[name="` + name + `"]`).First().Attr("content")
	return strings.TrimSpace(v)
}

func metaProperty(doc *goquery.Document, prop string) string {
	v, _ := doc.Find(`meta[property="` + prop + `"]`).First().Attr("content")
	return strings.TrimSpace(v)
}
