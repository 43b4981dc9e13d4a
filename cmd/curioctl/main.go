// Command curioctl submits pipeline workflows to the durable engine. The
// scheduler (cron, systemd timers) calls it to trigger ingestion sweeps and
// maintenance runs; operators use it for ad-hoc reruns.
//
// Usage:
//
//	curioctl ingest
//	curioctl cleanup [-days 30] [-dry-run]
//	curioctl reindex
//	curioctl prune
//	curioctl graph-rebuild [-clean]
//	curioctl backfill
//	curioctl status -id <workflow-id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"goa.design/clue/log"

	"github.com/curiohq/curio/config"
	"github.com/curiohq/curio/engine"
	"github.com/curiohq/curio/ids"
	"github.com/curiohq/curio/telemetry"
	"github.com/curiohq/curio/workflows"
)

func main() {
	ctx := log.Context(context.Background(), log.WithFormat(log.FormatTerminal))
	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: curioctl <ingest|cleanup|reindex|prune|graph-rebuild|backfill|status> [flags]")
	}
	cfg, err := config.LoadWorker()
	if err != nil {
		return err
	}
	eng, err := engine.Connect(engine.Options{
		HostPort:       cfg.Temporal.Host,
		Namespace:      cfg.Temporal.Namespace,
		TaskQueue:      cfg.Temporal.TaskQueue,
		Logger:         telemetry.NewClueLogger(),
		DisableTracing: !cfg.TracingEnabled,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	if args[0] == "status" {
		return printStatus(ctx, eng, args[1:])
	}

	req, err := buildRequest(cfg, args[0], args[1:])
	if err != nil {
		return err
	}
	if err := eng.StartWorkflow(ctx, req); err != nil {
		if errors.Is(err, engine.ErrAlreadyStarted) {
			// The scheduler retriggered within the id window; the earlier
			// run is still going, which is the dedupe working as intended.
			log.Infof(ctx, "%s is already running as %s", req.Workflow, req.ID)
			return nil
		}
		return fmt.Errorf("start %s: %w", req.Workflow, err)
	}
	log.Infof(ctx, "started %s as %s", req.Workflow, req.ID)
	return nil
}

// printStatus queries a running workflow's progress snapshot.
func printStatus(ctx context.Context, eng *engine.Client, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	id := fs.String("id", "", "workflow id to query")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("status: -id is required")
	}
	var progress workflows.Progress
	if err := eng.QueryWorkflow(ctx, *id, workflows.ProgressQuery, &progress); err != nil {
		return fmt.Errorf("query %s: %w", *id, err)
	}
	log.Infof(ctx, "%s: %s (%s) %d/%d %s",
		*id, progress.Status, progress.CurrentStep, progress.Done, progress.Total, progress.Message)
	return nil
}

// buildRequest translates a subcommand into a workflow submission. Workflow
// ids embed the UTC day so a scheduler retriggering within the same day
// dedupes instead of stacking runs.
func buildRequest(cfg *config.Worker, command string, args []string) (engine.StartRequest, error) {
	day := time.Now().UTC().Format("2006-01-02")
	switch command {
	case "ingest":
		return engine.StartRequest{
			Workflow: workflows.TypeAllFeedsIngestion,
			ID:       "ingest-" + day,
			Input: workflows.AllFeedsIngestionInput{
				Options: workflows.IngestOptions{
					Concurrency:         cfg.FeedIngestionConcurrency,
					DomainFetchDelay:    cfg.DomainFetchDelay,
					EnableContentFetch:  cfg.EnableContentFetch,
					EnableSummarization: cfg.EnableSummarization,
					TargetLanguage:      cfg.TargetLanguage,
				},
				TraceID: ids.NewTraceID(),
			},
		}, nil
	case "cleanup":
		fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
		days := fs.Int("days", 30, "delete entries older than this many days")
		dryRun := fs.Bool("dry-run", false, "report matches without deleting")
		if err := fs.Parse(args); err != nil {
			return engine.StartRequest{}, err
		}
		return engine.StartRequest{
			Workflow: workflows.TypeEntriesCleanup,
			ID:       "cleanup-" + day,
			Input:    workflows.EntriesCleanupInput{OlderThanDays: *days, DryRun: *dryRun},
		}, nil
	case "reindex":
		return engine.StartRequest{
			Workflow: workflows.TypeSearchReindex,
			ID:       "reindex-" + day,
			Input:    workflows.ReindexInput{BatchSize: cfg.ReindexBatchSize},
		}, nil
	case "prune":
		return engine.StartRequest{
			Workflow: workflows.TypeSearchPrune,
			ID:       "prune-" + day,
		}, nil
	case "graph-rebuild":
		fs := flag.NewFlagSet("graph-rebuild", flag.ContinueOnError)
		clean := fs.Bool("clean", false, "reset the graph before rebuilding")
		if err := fs.Parse(args); err != nil {
			return engine.StartRequest{}, err
		}
		return engine.StartRequest{
			Workflow: workflows.TypeGraphRebuild,
			ID:       "graph-rebuild-" + day,
			Input:    workflows.GraphRebuildInput{Clean: *clean, BatchSize: cfg.GraphBatchSize},
		}, nil
	case "backfill":
		return engine.StartRequest{
			Workflow: workflows.TypeEmbeddingBackfill,
			ID:       "backfill-" + day,
			Input:    workflows.EmbeddingBackfillInput{BatchSize: cfg.EmbeddingBatchSize, TraceID: ids.NewTraceID()},
		}, nil
	default:
		return engine.StartRequest{}, fmt.Errorf("unknown command %q", command)
	}
}
