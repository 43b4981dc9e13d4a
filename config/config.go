// Package config loads process configuration from the environment. Both
// binaries read the same Temporal and backend settings; the worker adds
// pipeline tuning knobs and the agent adds research/dialogue settings.
// Parse errors fail startup rather than falling back silently.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type (
	// Temporal holds the durable engine connection settings shared by the
	// worker and the agent.
	Temporal struct {
		// Host is the Temporal frontend host:port (TEMPORAL_HOST).
		Host string
		// Namespace is the Temporal namespace (TEMPORAL_NAMESPACE).
		Namespace string
		// TaskQueue is the queue both processes submit to and the worker
		// polls (TEMPORAL_TASK_QUEUE).
		TaskQueue string
	}

	// Backend holds REST backend access settings.
	Backend struct {
		// BaseURL is the backend root, e.g. "http://backend:8000" (API_BASE_URL).
		BaseURL string
		// Token is the internal shared secret sent as a bearer header
		// (INTERNAL_API_TOKEN).
		Token string
	}

	// LLM holds the OpenAI-compatible endpoint settings. Empty model names
	// disable the corresponding feature rather than selecting a default.
	LLM struct {
		BaseURL        string // OPENAI_BASE_URL
		APIKey         string // OPENAI_API_KEY
		ResearchModel  string // RESEARCH_MODEL
		EmbeddingModel string // EMBEDDING_MODEL
	}

	// Translate holds the translation provider credentials. DeepL wins when
	// both providers are configured; all empty disables translation.
	Translate struct {
		DeepLAPIKey  string // DEEPL_API_KEY
		DeepLBaseURL string // DEEPL_BASE_URL
		MSAPIKey     string // MS_TRANSLATOR_API_KEY
		MSEndpoint   string // MS_TRANSLATOR_ENDPOINT
		MSRegion     string // MS_TRANSLATOR_REGION
	}

	// Graph holds the knowledge-graph service settings. An empty BaseURL
	// disables the graph stages.
	Graph struct {
		BaseURL string // GRAPH_BASE_URL
		Token   string // GRAPH_API_TOKEN
	}

	// Worker configures the Temporal worker process.
	Worker struct {
		Temporal  Temporal
		Backend   Backend
		LLM       LLM
		Translate Translate
		Graph     Graph

		// ListenAddr is the monitoring HTTP bind address serving the health
		// and debug handlers (WORKER_LISTEN_ADDR).
		ListenAddr string

		// TracingEnabled wires the OTEL interceptor into the Temporal client
		// and workers (OTEL_TRACING_ENABLED).
		TracingEnabled bool

		// ActivitySlots and WorkflowSlots bound the worker's concurrent
		// activity and workflow task pools; zero keeps the engine defaults
		// (WORKER_ACTIVITY_SLOTS, WORKER_WORKFLOW_SLOTS).
		ActivitySlots int
		WorkflowSlots int

		// FeedIngestionConcurrency bounds parallel per-feed child workflows
		// (FEED_INGESTION_CONCURRENCY).
		FeedIngestionConcurrency int

		// DomainFetchDelay is the pause between two fetches against the same
		// host (DOMAIN_FETCH_DELAY, float seconds).
		DomainFetchDelay time.Duration

		// EnableContentFetch gates the full-content fetch stage
		// (ENABLE_CONTENT_FETCH).
		EnableContentFetch bool

		// EnableSummarization gates the distillation stage
		// (ENABLE_SUMMARIZATION).
		EnableSummarization bool

		// TargetLanguage selects the translation target; empty disables the
		// translation stage (TARGET_LANGUAGE).
		TargetLanguage string

		// CleanupBatchSize, ReindexBatchSize, GraphBatchSize and
		// EmbeddingBatchSize size the cursor pages of the maintenance
		// workflows (per-workflow *_BATCH_SIZE variables).
		CleanupBatchSize   int
		ReindexBatchSize   int
		GraphBatchSize     int
		EmbeddingBatchSize int
	}

	// Agent configures the AG-UI service process.
	Agent struct {
		Temporal Temporal
		Backend  Backend
		LLM      LLM

		// ListenAddr is the HTTP bind address (AGENT_LISTEN_ADDR).
		ListenAddr string

		// DefaultSearchMode selects how the retriever resolves sources when
		// the request does not specify one (DEFAULT_SEARCH_MODE).
		DefaultSearchMode string

		// EvaluationEnabled submits fire-and-forget evaluation workflows
		// after dialogue and research runs (AI_EVALUATION_ENABLED).
		EvaluationEnabled bool

		// TracingEnabled wires OTEL into the Temporal client
		// (OTEL_TRACING_ENABLED).
		TracingEnabled bool

		// RedisURL, when set, mirrors run events onto a Pulse stream so
		// sibling replicas can fan them out (REDIS_URL).
		RedisURL string
	}
)

// LoadWorker reads the worker configuration from the environment.
func LoadWorker() (*Worker, error) {
	t, err := loadTemporal()
	if err != nil {
		return nil, err
	}
	b, err := loadBackend()
	if err != nil {
		return nil, err
	}
	cfg := &Worker{
		Temporal: t,
		Backend:  b,
		LLM:      loadLLM(),
		Translate: Translate{
			DeepLAPIKey:  os.Getenv("DEEPL_API_KEY"),
			DeepLBaseURL: os.Getenv("DEEPL_BASE_URL"),
			MSAPIKey:     os.Getenv("MS_TRANSLATOR_API_KEY"),
			MSEndpoint:   os.Getenv("MS_TRANSLATOR_ENDPOINT"),
			MSRegion:     os.Getenv("MS_TRANSLATOR_REGION"),
		},
		Graph: Graph{
			BaseURL: os.Getenv("GRAPH_BASE_URL"),
			Token:   os.Getenv("GRAPH_API_TOKEN"),
		},
		ListenAddr: envOr("WORKER_LISTEN_ADDR", ":8081"),
	}
	if cfg.TracingEnabled, err = boolEnv("OTEL_TRACING_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.ActivitySlots, err = intEnv("WORKER_ACTIVITY_SLOTS", 0); err != nil {
		return nil, err
	}
	if cfg.WorkflowSlots, err = intEnv("WORKER_WORKFLOW_SLOTS", 0); err != nil {
		return nil, err
	}
	if cfg.FeedIngestionConcurrency, err = intEnv("FEED_INGESTION_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	delay, err := floatEnv("DOMAIN_FETCH_DELAY", 1.0)
	if err != nil {
		return nil, err
	}
	cfg.DomainFetchDelay = time.Duration(delay * float64(time.Second))
	if cfg.EnableContentFetch, err = boolEnv("ENABLE_CONTENT_FETCH", true); err != nil {
		return nil, err
	}
	if cfg.EnableSummarization, err = boolEnv("ENABLE_SUMMARIZATION", true); err != nil {
		return nil, err
	}
	cfg.TargetLanguage = os.Getenv("TARGET_LANGUAGE")
	if cfg.CleanupBatchSize, err = intEnv("CLEANUP_BATCH_SIZE", 500); err != nil {
		return nil, err
	}
	if cfg.ReindexBatchSize, err = intEnv("REINDEX_BATCH_SIZE", 200); err != nil {
		return nil, err
	}
	if cfg.GraphBatchSize, err = intEnv("GRAPH_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.EmbeddingBatchSize, err = intEnv("EMBEDDING_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAgent reads the agent configuration from the environment.
func LoadAgent() (*Agent, error) {
	t, err := loadTemporal()
	if err != nil {
		return nil, err
	}
	b, err := loadBackend()
	if err != nil {
		return nil, err
	}
	cfg := &Agent{
		Temporal:          t,
		Backend:           b,
		LLM:               loadLLM(),
		ListenAddr:        envOr("AGENT_LISTEN_ADDR", ":8080"),
		DefaultSearchMode: envOr("DEFAULT_SEARCH_MODE", "planner"),
		RedisURL:          os.Getenv("REDIS_URL"),
	}
	if cfg.EvaluationEnabled, err = boolEnv("AI_EVALUATION_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.TracingEnabled, err = boolEnv("OTEL_TRACING_ENABLED", false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadTemporal() (Temporal, error) {
	t := Temporal{
		Host:      envOr("TEMPORAL_HOST", "localhost:7233"),
		Namespace: envOr("TEMPORAL_NAMESPACE", "default"),
		TaskQueue: envOr("TEMPORAL_TASK_QUEUE", "curio"),
	}
	return t, nil
}

func loadBackend() (Backend, error) {
	b := Backend{
		BaseURL: os.Getenv("API_BASE_URL"),
		Token:   os.Getenv("INTERNAL_API_TOKEN"),
	}
	if b.BaseURL == "" {
		return Backend{}, fmt.Errorf("config: API_BASE_URL is required")
	}
	return b, nil
}

func loadLLM() LLM {
	return LLM{
		BaseURL:        os.Getenv("OPENAI_BASE_URL"),
		APIKey:         os.Getenv("OPENAI_API_KEY"),
		ResearchModel:  os.Getenv("RESEARCH_MODEL"),
		EmbeddingModel: os.Getenv("EMBEDDING_MODEL"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
