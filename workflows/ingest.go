package workflows

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/curiohq/curio/activities"
	"github.com/curiohq/curio/ids"
	"github.com/curiohq/curio/rest"
)

type (
	// IngestOptions carries the pipeline configuration into the ingestion
	// workflows. Config is resolved at schedule time and passed in, never
	// read inside workflow code.
	IngestOptions struct {
		// Concurrency bounds parallel per-feed children. Zero means 3.
		Concurrency int `json:"concurrency,omitempty"`
		// DomainFetchDelay is the pause between two fetches on one host.
		DomainFetchDelay    time.Duration `json:"domainFetchDelay,omitempty"`
		EnableContentFetch  bool          `json:"enableContentFetch"`
		EnableSummarization bool          `json:"enableSummarization"`
		// TargetLanguage enables translation when non-empty.
		TargetLanguage string `json:"targetLanguage,omitempty"`
	}

	// AllFeedsIngestionInput starts an ingestion sweep over every feed.
	AllFeedsIngestionInput struct {
		Options IngestOptions `json:"options"`
		TraceID string        `json:"traceId,omitempty"`
	}

	// AllFeedsIngestionResult sums the sweep.
	AllFeedsIngestionResult struct {
		Feeds      int `json:"feeds"`
		NewEntries int `json:"newEntries"`
		Failed     int `json:"failed"`
	}

	// SingleFeedIngestionInput drives one feed through the full pipeline.
	SingleFeedIngestionInput struct {
		Feed    rest.Feed     `json:"feed"`
		Options IngestOptions `json:"options"`
		TraceID string        `json:"traceId,omitempty"`
	}

	// SingleFeedIngestionResult reports one feed's outcome.
	SingleFeedIngestionResult struct {
		NewEntries  int  `json:"newEntries"`
		NotModified bool `json:"notModified"`
	}

	// FetchTarget is one entry to fetch in a DomainFetch run.
	FetchTarget struct {
		EntryID         string   `json:"entryId"`
		URL             string   `json:"url"`
		ExtractionRules []string `json:"extractionRules,omitempty"`
	}

	// DomainFetchInput groups content fetches for a batch of entries.
	DomainFetchInput struct {
		Targets []FetchTarget `json:"targets"`
		// Delay is the pause between two fetches on the same host.
		Delay   time.Duration `json:"delay,omitempty"`
		TraceID string        `json:"traceId,omitempty"`
	}

	// DomainFetchResult counts fetch outcomes.
	DomainFetchResult struct {
		Fetched int `json:"fetched"`
		Skipped int `json:"skipped"`
	}
)

const defaultFeedConcurrency = 3

// acts is the activity set workflows dispatch on. Regular activities resolve
// by method name so a nil receiver would do, but local activities execute
// the bound method directly; Register installs the worker's live instance.
var acts *activities.Activities

// AllFeedsIngestion fans one SingleFeedIngestion child out per subscribed
// feed with bounded parallelism. Children are awaited in start order so
// replay observes a fixed sequence regardless of completion timing.
func AllFeedsIngestion(ctx workflow.Context, in AllFeedsIngestionInput) (AllFeedsIngestionResult, error) {
	t, err := newTracker(ctx, "list_feeds")
	if err != nil {
		return AllFeedsIngestionResult{}, err
	}
	traceID := in.TraceID
	if traceID == "" {
		traceID = workflow.GetInfo(ctx).OriginalRunID
	}

	var feeds []rest.Feed
	if err := workflow.ExecuteActivity(withShortActivity(ctx), acts.ListFeeds).Get(ctx, &feeds); err != nil {
		t.fail(ctx, "listing feeds failed")
		return AllFeedsIngestionResult{}, fmt.Errorf("all feeds ingestion: list feeds: %w", err)
	}

	concurrency := in.Options.Concurrency
	if concurrency <= 0 {
		concurrency = defaultFeedConcurrency
	}
	feedIDs := make([]string, len(feeds))
	for i, f := range feeds {
		feedIDs[i] = f.ID
	}
	t.entities(feedIDs...)
	t.step(ctx, "ingest_feeds", fmt.Sprintf("ingesting %d feeds", len(feeds)))

	sem := workflow.NewBufferedChannel(ctx, concurrency)
	results := make([]SingleFeedIngestionResult, len(feeds))
	errs := make([]error, len(feeds))
	wg := workflow.NewWaitGroup(ctx)

	parentID := workflow.GetInfo(ctx).WorkflowExecution.ID
	for i, feed := range feeds {
		i, feed := i, feed
		wg.Add(1)
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer wg.Done()
			sem.Send(gctx, nil)
			defer sem.Receive(gctx, nil)

			child := workflow.WithChildOptions(gctx, workflow.ChildWorkflowOptions{
				WorkflowID: fmt.Sprintf("%s/feed/%s", parentID, feed.ID),
			})
			childIn := SingleFeedIngestionInput{Feed: feed, Options: in.Options, TraceID: traceID}
			errs[i] = workflow.ExecuteChildWorkflow(child, SingleFeedIngestion, childIn).Get(gctx, &results[i])
		})
	}
	wg.Wait(ctx)

	out := AllFeedsIngestionResult{Feeds: len(feeds)}
	for i := range feeds {
		if errs[i] != nil {
			// One broken feed must not sink the sweep.
			workflow.GetLogger(ctx).Warn("feed ingestion failed", "feed_id", feeds[i].ID, "error", errs[i])
			out.Failed++
			continue
		}
		out.NewEntries += results[i].NewEntries
	}
	t.count(ctx, out.Feeds-out.Failed, out.Feeds)
	t.complete(ctx, fmt.Sprintf("%d new entries across %d feeds", out.NewEntries, out.Feeds))
	return out, nil
}

// SingleFeedIngestion runs one feed through crawl, fetch, distill,
// translate, embed, index, graph and enrichment. Stages after crawl operate
// on the crawl's new entries only; each stage is idempotent so a replayed
// retry converges to the same stored state.
func SingleFeedIngestion(ctx workflow.Context, in SingleFeedIngestionInput) (SingleFeedIngestionResult, error) {
	t, err := newTracker(ctx, "crawl")
	if err != nil {
		return SingleFeedIngestionResult{}, err
	}
	traceID := in.TraceID
	if traceID == "" {
		traceID = workflow.GetInfo(ctx).OriginalRunID
	}

	t.step(ctx, "crawl", "crawling "+in.Feed.URL)
	var crawl activities.CrawlFeedOutput
	crawlIn := activities.CrawlFeedInput{Feed: in.Feed, TraceID: traceID}
	if err := workflow.ExecuteActivity(withFetchActivity(ctx), acts.CrawlSingleFeed, crawlIn).Get(ctx, &crawl); err != nil {
		t.fail(ctx, "crawl failed")
		return SingleFeedIngestionResult{}, fmt.Errorf("ingest %s: crawl: %w", in.Feed.ID, err)
	}
	if crawl.Error != nil {
		t.fail(ctx, crawl.Error.Message)
		return SingleFeedIngestionResult{}, fmt.Errorf("ingest %s: crawl rejected: %s", in.Feed.ID, crawl.Error.Message)
	}
	if crawl.NotModified || len(crawl.NewEntries) == 0 {
		t.complete(ctx, "no new entries")
		return SingleFeedIngestionResult{NotModified: crawl.NotModified}, nil
	}

	entryIDs := make([]string, 0, len(crawl.NewEntries))
	targets := make([]FetchTarget, 0, len(crawl.NewEntries))
	for _, e := range crawl.NewEntries {
		entryIDs = append(entryIDs, e.ID)
		targets = append(targets, FetchTarget{
			EntryID:         e.ID,
			URL:             e.URL,
			ExtractionRules: in.Feed.Options.ExtractionRules,
		})
	}
	t.entities(entryIDs...)

	parentID := workflow.GetInfo(ctx).WorkflowExecution.ID
	if in.Options.EnableContentFetch && in.Feed.Options.FetchContent {
		t.step(ctx, "fetch_content", fmt.Sprintf("fetching %d pages", len(targets)))
		child := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: parentID + "/fetch",
		})
		fetchIn := DomainFetchInput{Targets: targets, Delay: in.Options.DomainFetchDelay, TraceID: traceID}
		var fetched DomainFetchResult
		if err := workflow.ExecuteChildWorkflow(child, DomainFetch, fetchIn).Get(ctx, &fetched); err != nil {
			t.fail(ctx, "content fetch failed")
			return SingleFeedIngestionResult{}, fmt.Errorf("ingest %s: fetch: %w", in.Feed.ID, err)
		}
	}

	if in.Options.EnableSummarization {
		t.step(ctx, "distill", fmt.Sprintf("distilling %d entries", len(entryIDs)))
		if err := distillEntries(ctx, crawl.NewEntries, in.Options.TargetLanguage, traceID); err != nil {
			t.fail(ctx, "distillation failed")
			return SingleFeedIngestionResult{}, fmt.Errorf("ingest %s: distill: %w", in.Feed.ID, err)
		}
	}

	if in.Options.TargetLanguage != "" {
		t.step(ctx, "translate", fmt.Sprintf("translating %d entries", len(entryIDs)))
		translateIn := activities.TranslateInput{EntryIDs: entryIDs, TargetLanguage: in.Options.TargetLanguage, BatchTraceID: traceID}
		var translated activities.TranslateOutput
		if err := workflow.ExecuteActivity(withDistillActivity(ctx), acts.TranslateEntries, translateIn).Get(ctx, &translated); err != nil {
			t.fail(ctx, "translation failed")
			return SingleFeedIngestionResult{}, fmt.Errorf("ingest %s: translate: %w", in.Feed.ID, err)
		}
	}

	// Embedding and indexing reuse the maintenance workflows narrowed to the
	// crawl's entries, so a stuck stage is visible as its own child run.
	t.step(ctx, "embed", fmt.Sprintf("embedding %d entries", len(entryIDs)))
	embedChild := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{WorkflowID: parentID + "/embed"})
	var embedded EmbeddingBackfillResult
	if err := workflow.ExecuteChildWorkflow(embedChild, EmbeddingBackfill, EmbeddingBackfillInput{EntryIDs: entryIDs, TraceID: traceID}).Get(ctx, &embedded); err != nil {
		t.fail(ctx, "embedding failed")
		return SingleFeedIngestionResult{}, fmt.Errorf("ingest %s: embed: %w", in.Feed.ID, err)
	}

	t.step(ctx, "index", fmt.Sprintf("indexing %d entries", len(entryIDs)))
	indexChild := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{WorkflowID: parentID + "/index"})
	var indexed ReindexResult
	if err := workflow.ExecuteChildWorkflow(indexChild, SearchReindex, ReindexInput{EntryIDs: entryIDs}).Get(ctx, &indexed); err != nil {
		t.fail(ctx, "indexing failed")
		return SingleFeedIngestionResult{}, fmt.Errorf("ingest %s: index: %w", in.Feed.ID, err)
	}

	t.step(ctx, "graph", fmt.Sprintf("adding %d entries to graph", len(entryIDs)))
	graphIn := activities.GraphAddInput{EntryIDs: entryIDs, BatchTraceID: traceID}
	var graphed activities.GraphAddOutput
	if err := workflow.ExecuteActivity(withGraphActivity(ctx), acts.AddToGlobalGraph, graphIn).Get(ctx, &graphed); err != nil {
		t.fail(ctx, "graph update failed")
		return SingleFeedIngestionResult{}, fmt.Errorf("ingest %s: graph: %w", in.Feed.ID, err)
	}

	t.step(ctx, "enrich", fmt.Sprintf("enriching %d entries", len(entryIDs)))
	enrichEntries(ctx, entryIDs, traceID)

	t.count(ctx, len(entryIDs), len(entryIDs))
	t.complete(ctx, fmt.Sprintf("%d new entries", len(entryIDs)))
	return SingleFeedIngestionResult{NewEntries: len(entryIDs)}, nil
}

// distillEntries runs the distillation batch over the crawled entries. The
// batch activity heartbeats per item; one batch per feed keeps task-queue
// traffic proportional to feeds, not entries.
func distillEntries(ctx workflow.Context, entries []rest.Entry, language, traceID string) error {
	items := make([]activities.DistillInput, 0, len(entries))
	for _, e := range entries {
		items = append(items, activities.DistillInput{EntryID: e.ID, Markdown: e.FullContent, Language: language})
	}
	in := activities.DistillBatchInput{Items: items, BatchTraceID: traceID}
	var out activities.DistillBatchOutput
	return workflow.ExecuteActivity(withDistillActivity(ctx), acts.DistillEntriesBatch, in).Get(ctx, &out)
}

// enrichEntries fans out the enrichment activities per entry and awaits them
// in registration order. Enrichments are best-effort; failures are logged
// and the pipeline completes.
func enrichEntries(ctx workflow.Context, entryIDs []string, traceID string) {
	ctx = withFetchActivity(ctx)
	futures := make([]workflow.Future, 0, len(entryIDs)*3)
	for _, id := range entryIDs {
		in := activities.EnrichInput{EntryID: id, TraceID: ids.EntryTraceID(id, traceID)}
		futures = append(futures,
			workflow.ExecuteActivity(ctx, acts.EnrichGitHubRepos, in),
			workflow.ExecuteActivity(ctx, acts.EnrichEntryLinks, in),
			workflow.ExecuteActivity(ctx, acts.EnrichWebPage, in),
		)
	}
	for _, f := range futures {
		var out activities.EnrichOutput
		if err := f.Get(ctx, &out); err != nil {
			workflow.GetLogger(ctx).Warn("enrichment failed", "error", err)
		}
	}
}

// DomainFetch fetches page content for a batch of entries, serial within a
// host with a fixed delay, parallel across hosts. Host groups are built in
// sorted order so the coroutine layout is identical on replay.
func DomainFetch(ctx workflow.Context, in DomainFetchInput) (DomainFetchResult, error) {
	t, err := newTracker(ctx, "fetch")
	if err != nil {
		return DomainFetchResult{}, err
	}

	targetIDs := make([]string, len(in.Targets))
	for i, target := range in.Targets {
		targetIDs[i] = target.EntryID
	}
	t.entities(targetIDs...)

	groups := groupByHost(in.Targets)
	hosts := make([]string, 0, len(groups))
	for host := range groups {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	t.step(ctx, "fetch", fmt.Sprintf("fetching %d pages across %d hosts", len(in.Targets), len(hosts)))

	fetched := make([]int, len(hosts))
	skipped := make([]int, len(hosts))
	wg := workflow.NewWaitGroup(ctx)
	for i, host := range hosts {
		i, targets := i, groups[host]
		wg.Add(1)
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer wg.Done()
			actx := withFetchActivity(gctx)
			for j, target := range targets {
				if j > 0 && in.Delay > 0 {
					if err := workflow.Sleep(gctx, in.Delay); err != nil {
						return
					}
				}
				fetchIn := activities.FetchContentInput{
					EntryID:         target.EntryID,
					URL:             target.URL,
					ExtractionRules: target.ExtractionRules,
					TraceID:         ids.EntryTraceID(target.EntryID, in.TraceID),
				}
				var out activities.FetchContentOutput
				if err := workflow.ExecuteActivity(actx, acts.FetchSingleContent, fetchIn).Get(gctx, &out); err != nil {
					workflow.GetLogger(gctx).Warn("content fetch failed", "entry_id", target.EntryID, "error", err)
					skipped[i]++
					continue
				}
				if out.Skipped || out.Error != nil {
					skipped[i]++
					continue
				}
				fetched[i]++
			}
		})
	}
	wg.Wait(ctx)

	var out DomainFetchResult
	for i := range hosts {
		out.Fetched += fetched[i]
		out.Skipped += skipped[i]
	}
	t.count(ctx, out.Fetched, len(in.Targets))
	t.complete(ctx, fmt.Sprintf("fetched %d of %d pages", out.Fetched, len(in.Targets)))
	return out, nil
}

// groupByHost buckets fetch targets by lowercase URL host. Unparseable URLs
// group under the empty host and still get fetched (the activity surfaces
// the structured error).
func groupByHost(targets []FetchTarget) map[string][]FetchTarget {
	groups := make(map[string][]FetchTarget)
	for _, t := range targets {
		host := ""
		if u, err := url.Parse(t.URL); err == nil {
			host = strings.ToLower(u.Hostname())
		}
		groups[host] = append(groups[host], t)
	}
	return groups
}
