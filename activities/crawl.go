package activities

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/curiohq/curio/ids"
	"github.com/curiohq/curio/rest"
)

type (
	// CrawlFeedInput identifies the feed to crawl. The feed record carries
	// the conditional-GET validators from the previous crawl.
	CrawlFeedInput struct {
		Feed    rest.Feed `json:"feed"`
		TraceID string    `json:"traceId,omitempty"`
	}

	// CrawlFeedOutput lists the entries created by this crawl. NotModified
	// is set when the conditional GET returned 304 and nothing was parsed.
	CrawlFeedOutput struct {
		NewEntries  []rest.Entry   `json:"newEntries"`
		NotModified bool           `json:"notModified"`
		Error       *ActivityError `json:"error,omitempty"`
	}
)

// CrawlSingleFeed fetches one feed with a conditional GET, parses it and
// stores the entries the backend has not seen before. Repeat submission is
// idempotent: the backend deduplicates entries by canonical URL, so a retry
// after a partial failure creates nothing twice.
func (a *Activities) CrawlSingleFeed(ctx context.Context, in CrawlFeedInput) (CrawlFeedOutput, error) {
	feed := in.Feed
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.FeedURL, nil)
	if err != nil {
		return CrawlFeedOutput{Error: newActivityError("bad_url", err.Error())}, nil
	}
	if feed.Options.ETag != "" {
		req.Header.Set("If-None-Match", feed.Options.ETag)
	}
	if feed.Options.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.Options.LastModified)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return CrawlFeedOutput{}, fmt.Errorf("crawl %s: %w", feed.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return CrawlFeedOutput{NotModified: true}, nil
	case resp.StatusCode >= 500:
		return CrawlFeedOutput{}, fmt.Errorf("crawl %s: feed returned %d", feed.ID, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := fmt.Sprintf("feed returned %d", resp.StatusCode)
		return CrawlFeedOutput{Error: newActivityError("feed_rejected", msg)}, nil
	}

	parsed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return CrawlFeedOutput{Error: newActivityError("parse_failed", err.Error())}, nil
	}

	entries := make([]rest.Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		entries = append(entries, rest.Entry{
			ID:          ids.NewEntryID(),
			FeedID:      feed.ID,
			Title:       item.Title,
			URL:         item.Link,
			Author:      itemAuthor(item),
			PublishedAt: itemPublished(item),
			RawContent:  itemContent(item),
		})
	}

	created, err := a.Backend.CreateEntries(ctx, feed.ID, entries)
	if err != nil {
		if actErr, passthrough := fromAPIError(err); passthrough == nil {
			return CrawlFeedOutput{Error: actErr}, nil
		}
		return CrawlFeedOutput{}, fmt.Errorf("crawl %s: store entries: %w", feed.ID, err)
	}

	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")
	if etag != "" || lastModified != "" {
		if err := a.Backend.UpdateFeedCache(ctx, feed.ID, etag, lastModified); err != nil {
			// Validators are an optimization; losing them only costs a full
			// re-read on the next crawl.
			a.Logger.Warn(ctx, "failed to store feed cache validators", "feed_id", feed.ID, "err", err)
		}
	}

	a.Metrics.IncCounter("crawl_entries_created", float64(len(created)), "feed", feed.ID)
	return CrawlFeedOutput{NewEntries: created}, nil
}

func itemAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	return ""
}

func itemPublished(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func itemContent(item *gofeed.Item) string {
	if item.Content != "" {
		return item.Content
	}
	return item.Description
}
