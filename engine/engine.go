// Package engine is the durable-execution client layer. It wraps the
// Temporal SDK with the small surface the rest of the repo needs: connect,
// submit a workflow without awaiting it, execute-and-wait, and query a
// running workflow. OTEL instrumentation is wired into the client and
// workers unless disabled, and all payloads go through the camelCase JSON
// codec (see codec.go).
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"

	"github.com/curiohq/curio/telemetry"
)

// ErrAlreadyStarted reports that a workflow with the requested id is already
// running with different content. Duplicate submissions with the same id and
// input are idempotent and do not produce this error from StartWorkflow
// callers that ignore it.
var ErrAlreadyStarted = errors.New("engine: workflow already started")

type (
	// Options configures the engine client.
	Options struct {
		// HostPort is the Temporal frontend address.
		HostPort string
		// Namespace is the Temporal namespace.
		Namespace string
		// TaskQueue is the default queue for submissions and workers.
		TaskQueue string
		// Logger receives client-level log records. Defaults to a noop logger.
		Logger telemetry.Logger
		// DisableTracing skips the OTEL interceptor wiring.
		DisableTracing bool
	}

	// Client submits and queries workflows on the durable engine.
	Client struct {
		temporal  client.Client
		taskQueue string
		logger    telemetry.Logger
	}

	// StartRequest describes one workflow submission. ID is required; the
	// engine rejects conflicting reuse of an id while a run is open, which
	// makes duplicate submissions idempotent.
	StartRequest struct {
		Workflow  string
		ID        string
		Input     any
		TaskQueue string
		// RetryPolicy optionally overrides the workflow-level retry policy.
		RetryPolicy *RetryPolicy
	}

	// RetryPolicy mirrors the engine retry knobs used across the repo.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		MaximumInterval    time.Duration
		BackoffCoefficient float64
	}
)

// Connect establishes a lazy connection to the durable engine. The
// connection is dialed on first use so workers can start before the engine
// is reachable.
func Connect(opts Options) (*Client, error) {
	if opts.TaskQueue == "" {
		return nil, errors.New("engine: task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	clientOpts := client.Options{
		HostPort:      opts.HostPort,
		Namespace:     opts.Namespace,
		DataConverter: NewDataConverter(),
	}
	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return nil, fmt.Errorf("engine: configure tracing interceptor: %w", err)
		}
		clientOpts.Interceptors = append(clientOpts.Interceptors, tracer)
		clientOpts.MetricsHandler = temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{})
	}

	c, err := client.NewLazyClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("engine: create client: %w", err)
	}
	return &Client{temporal: c, taskQueue: opts.TaskQueue, logger: logger}, nil
}

// NewClientFrom wraps an existing Temporal client, used by tests.
func NewClientFrom(c client.Client, taskQueue string, logger telemetry.Logger) *Client {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Client{temporal: c, taskQueue: taskQueue, logger: logger}
}

// StartWorkflow submits a workflow and returns without awaiting the result.
// A conflicting open run with the same id yields ErrAlreadyStarted.
func (c *Client) StartWorkflow(ctx context.Context, req StartRequest) error {
	_, err := c.start(ctx, req)
	return err
}

// ExecuteWorkflow submits a workflow and blocks until it completes,
// decoding the result into result when non-nil.
func (c *Client) ExecuteWorkflow(ctx context.Context, req StartRequest, result any) error {
	run, err := c.start(ctx, req)
	if err != nil {
		return err
	}
	return run.Get(ctx, result)
}

// QueryWorkflow runs a query handler on an open workflow and decodes the
// answer into result.
func (c *Client) QueryWorkflow(ctx context.Context, workflowID, queryName string, result any) error {
	val, err := c.temporal.QueryWorkflow(ctx, workflowID, "", queryName)
	if err != nil {
		return fmt.Errorf("engine: query %s on %s: %w", queryName, workflowID, err)
	}
	if result == nil {
		return nil
	}
	return val.Get(result)
}

// CancelWorkflow requests cooperative cancellation of an open workflow.
func (c *Client) CancelWorkflow(ctx context.Context, workflowID string) error {
	return c.temporal.CancelWorkflow(ctx, workflowID, "")
}

// NewWorker constructs a worker polling the client's default task queue.
// Callers register workflows and activities on it before starting it.
func (c *Client) NewWorker(opts worker.Options) worker.Worker {
	return worker.New(c.temporal, c.taskQueue, opts)
}

// TaskQueue returns the default task queue submissions go to.
func (c *Client) TaskQueue() string { return c.taskQueue }

// Close releases the underlying connection.
func (c *Client) Close() {
	c.temporal.Close()
}

func (c *Client) start(ctx context.Context, req StartRequest) (client.WorkflowRun, error) {
	if req.Workflow == "" {
		return nil, errors.New("engine: workflow name is required")
	}
	if req.ID == "" {
		return nil, errors.New("engine: workflow id is required")
	}
	queue := req.TaskQueue
	if queue == "" {
		queue = c.taskQueue
	}
	opts := client.StartWorkflowOptions{
		ID:        req.ID,
		TaskQueue: queue,
	}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}
	run, err := c.temporal.ExecuteWorkflow(ctx, opts, req.Workflow, req.Input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyStarted, req.ID)
		}
		return nil, fmt.Errorf("engine: start %s: %w", req.Workflow, err)
	}
	return run, nil
}

func convertRetryPolicy(r *RetryPolicy) *temporal.RetryPolicy {
	if r == nil {
		return nil
	}
	policy := &temporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		policy.MaximumAttempts = int32(r.MaxAttempts)
	}
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	if r.MaximumInterval > 0 {
		policy.MaximumInterval = r.MaximumInterval
	}
	if r.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = r.BackoffCoefficient
	}
	return policy
}
