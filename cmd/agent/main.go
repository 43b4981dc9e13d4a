// Command agent serves the AG-UI endpoint: streaming dialogue and Deep
// Research over SSE, plus fire-and-forget evaluation submissions to the
// durable engine.
//
// Configuration comes from the environment; see the config package. The
// agent listens on AGENT_LISTEN_ADDR and mounts /healthz, /livez and the
// clue debug handlers alongside POST /ag-ui.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/curiohq/curio/agui"
	"github.com/curiohq/curio/config"
	"github.com/curiohq/curio/engine"
	"github.com/curiohq/curio/llm"
	"github.com/curiohq/curio/research"
	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
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
	cfg, err := config.LoadAgent()
	if err != nil {
		return err
	}
	logger := telemetry.NewClueLogger()

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

	graph, err := research.New(research.Options{
		LLM:      llmClient,
		Searcher: &research.BackendSearcher{Backend: backend, LLM: llmClient},
		Logger:   logger,
	})
	if err != nil {
		return err
	}

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

	server := &agui.Server{
		LLM:               llmClient,
		Backend:           backend,
		Engine:            eng,
		Research:          graph,
		Logger:            logger,
		DefaultSearchMode: research.ParseSearchMode(cfg.DefaultSearchMode),
		EvaluationEnabled: cfg.EvaluationEnabled,
	}
	if cfg.RedisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer rdb.Close()
		mirror, err := agui.NewPulseMirror(agui.MirrorOptions{Redis: rdb, StreamMaxLen: 1000})
		if err != nil {
			return err
		}
		server.Mirror = mirror
	}

	mux := http.NewServeMux()
	mux.Handle("/ag-ui", server.Handler())
	check := health.Handler(health.NewChecker(backend))
	mux.Handle("/healthz", check)
	mux.Handle("/livez", check)
	debug.MountDebugLogEnabler(debug.Adapt(mux))
	debug.MountPprofHandlers(debug.Adapt(mux))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: log.HTTP(ctx)(mux),
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof(ctx, "agent listening on %s", cfg.ListenAddr)
		errc <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		log.Infof(ctx, "received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
