// Command worker runs the Temporal worker hosting the ingestion,
// maintenance and evaluation workflows together with the activity library.
//
// Configuration comes from the environment; see the config package for the
// full variable list. The worker polls TEMPORAL_TASK_QUEUE, talks to the
// REST backend at API_BASE_URL and serves its health and debug handlers on
// WORKER_LISTEN_ADDR.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.temporal.io/sdk/worker"
	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/curiohq/curio/activities"
	"github.com/curiohq/curio/config"
	"github.com/curiohq/curio/engine"
	"github.com/curiohq/curio/llm"
	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
	"github.com/curiohq/curio/workflows"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if os.Getenv("DEBUG") != "" {
		ctx = log.Context(ctx, log.WithDebug())
	}
	if err := run(ctx); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return err
	}
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	backend, err := rest.New(rest.Options{
		BaseURL: cfg.Backend.BaseURL,
		Token:   cfg.Backend.Token,
	})
	if err != nil {
		return err
	}

	llmClient := llm.New(llm.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		ChatModel:      cfg.LLM.ResearchModel,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	})

	settings, err := backend.GetSettings(ctx)
	if err != nil {
		// Settings tune the pipeline; the worker can start without them.
		logger.Warn(ctx, "failed to load backend settings", "err", err)
	}
	targetLanguage := cfg.TargetLanguage
	if targetLanguage == "" {
		targetLanguage = settings.TargetLanguage
	}

	acts := activities.New(activities.Activities{
		Backend:         backend,
		LLM:             llmClient,
		Embedder:        activities.NewEmbedder(llmClient),
		Translator:      newTranslator(cfg.Translate),
		Graph:           newGraphClient(cfg.Graph),
		Scores:          &activities.SpanScoreSink{Tracer: telemetry.NewClueTracer()},
		Notifier:        activities.NewNotifier(backend, logger),
		Logger:          logger,
		Metrics:         metrics,
		BlockedDomains:  settings.BlockedDomains,
		SummaryLanguage: targetLanguage,
	})

	eng, err := engine.Connect(engine.Options{
		HostPort:       cfg.Temporal.Host,
		Namespace:      cfg.Temporal.Namespace,
		TaskQueue:      cfg.Temporal.TaskQueue,
		Logger:         logger,
		DisableTracing: !cfg.TracingEnabled,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	w := eng.NewWorker(worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.ActivitySlots,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.WorkflowSlots,
	})
	workflows.Register(w, acts)

	monitoring := newMonitoringServer(ctx, cfg.ListenAddr, backend)
	go func() {
		log.Infof(ctx, "monitoring listening on %s", cfg.ListenAddr)
		if err := monitoring.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf(ctx, err, "monitoring server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = monitoring.Shutdown(shutdownCtx)
	}()

	log.Infof(ctx, "worker starting, task queue %q", eng.TaskQueue())
	return w.Run(worker.InterruptCh())
}

// newMonitoringServer serves the health probes and the clue debug handlers.
func newMonitoringServer(ctx context.Context, addr string, backend *rest.Client) *http.Server {
	mux := http.NewServeMux()
	check := health.Handler(health.NewChecker(backend))
	mux.Handle("/healthz", check)
	mux.Handle("/livez", check)
	debug.MountDebugLogEnabler(debug.Adapt(mux))
	debug.MountPprofHandlers(debug.Adapt(mux))
	return &http.Server{Addr: addr, Handler: log.HTTP(ctx)(mux)}
}

// newTranslator picks the translation provider. DeepL wins when both are
// configured; nil disables the translation stage.
func newTranslator(cfg config.Translate) activities.Translator {
	if cfg.DeepLAPIKey != "" {
		return &activities.DeepLTranslator{
			BaseURL: cfg.DeepLBaseURL,
			APIKey:  cfg.DeepLAPIKey,
		}
	}
	if cfg.MSAPIKey != "" {
		return &activities.MicrosoftTranslator{
			Endpoint: cfg.MSEndpoint,
			APIKey:   cfg.MSAPIKey,
			Region:   cfg.MSRegion,
		}
	}
	return nil
}

// newGraphClient wires the knowledge-graph backend when configured; nil
// disables the graph stages.
func newGraphClient(cfg config.Graph) activities.GraphClient {
	if cfg.BaseURL == "" {
		return nil
	}
	return &activities.HTTPGraphClient{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
	}
}
