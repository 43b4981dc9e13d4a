package activities

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
)

type (
	// FetchContentInput asks for one entry's page to be fetched and
	// converted. ExtractionRules are the feed's CSS exclusion selectors.
	FetchContentInput struct {
		EntryID         string   `json:"entryId"`
		URL             string   `json:"url"`
		ExtractionRules []string `json:"extractionRules,omitempty"`
		TraceID         string   `json:"traceId,omitempty"`
	}

	// FetchContentOutput carries the converted Markdown, already persisted
	// to the backend. Skipped is set for blocked domains.
	FetchContentOutput struct {
		Markdown string         `json:"markdown,omitempty"`
		Skipped  bool           `json:"skipped"`
		Error    *ActivityError `json:"error,omitempty"`
	}
)

// FetchSingleContent fetches the entry's page without a browser, removes
// the feed's exclusion selectors plus a global block-list, converts the
// remaining HTML to Markdown and stores it as the entry's full content.
// Re-running overwrites the same column, so retries are idempotent.
func (a *Activities) FetchSingleContent(ctx context.Context, in FetchContentInput) (FetchContentOutput, error) {
	ctx = telemetry.WithTraceID(ctx, in.TraceID)

	parsed, err := url.Parse(in.URL)
	if err != nil {
		return FetchContentOutput{Error: newActivityError("bad_url", err.Error())}, nil
	}
	if a.domainBlocked(parsed.Hostname()) {
		a.Logger.Debug(ctx, "skipping blocked domain", "entry_id", in.EntryID, "host", parsed.Hostname())
		return FetchContentOutput{Skipped: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return FetchContentOutput{Error: newActivityError("bad_url", err.Error())}, nil
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return FetchContentOutput{}, fmt.Errorf("fetch %s: %w", in.EntryID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return FetchContentOutput{}, fmt.Errorf("fetch %s: page returned %d", in.EntryID, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := fmt.Sprintf("page returned %d", resp.StatusCode)
		return FetchContentOutput{Error: newActivityError("page_rejected", msg)}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return FetchContentOutput{}, fmt.Errorf("fetch %s: read body: %w", in.EntryID, err)
	}

	markdown, err := ConvertHTML(string(body), in.ExtractionRules)
	if err != nil {
		return FetchContentOutput{Error: newActivityError("convert_failed", err.Error())}, nil
	}

	if err := a.Backend.PatchEntry(ctx, in.EntryID, patchFullContent(markdown)); err != nil {
		if actErr, passthrough := fromAPIError(err); passthrough == nil {
			return FetchContentOutput{Error: actErr}, nil
		}
		return FetchContentOutput{}, fmt.Errorf("fetch %s: store content: %w", in.EntryID, err)
	}
	return FetchContentOutput{Markdown: markdown}, nil
}

// ConvertHTML strips the exclusion selectors from the document and converts
// the remainder to Markdown. Rules are pure exclusions: a rule that matches
// nothing is a no-op, never an error.
func ConvertHTML(html string, exclusionRules []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	for _, rule := range exclusionRules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		doc.Find(rule).Remove()
	}
	// Boilerplate that never belongs in article Markdown.
	doc.Find("script, style, noscript, iframe").Remove()

	cleaned, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize html: %w", err)
	}
	markdown, err := md.NewConverter("", true, nil).ConvertString(cleaned)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}

func (a *Activities) domainBlocked(host string) bool {
	host = strings.ToLower(host)
	for _, blocked := range a.BlockedDomains {
		blocked = strings.ToLower(blocked)
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

func patchFullContent(markdown string) rest.EntryPatch {
	return rest.EntryPatch{FullContent: &markdown}
}
