package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

// fakeTemporal overrides the few client.Client methods the engine uses.
// Calls to anything else hit the nil embedded interface and panic, which is
// the desired behavior in tests.
type fakeTemporal struct {
	client.Client

	executeErr  error
	run         fakeRun
	gotOptions  client.StartWorkflowOptions
	gotWorkflow any
	gotArgs     []any
}

func (f *fakeTemporal) ExecuteWorkflow(_ context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error) {
	f.gotOptions = options
	f.gotWorkflow = workflow
	f.gotArgs = args
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return f.run, nil
}

type fakeRun struct {
	result string
	err    error
}

func (r fakeRun) GetID() string    { return "wf-1" }
func (r fakeRun) GetRunID() string { return "run-1" }

func (r fakeRun) Get(_ context.Context, valuePtr any) error {
	if r.err != nil {
		return r.err
	}
	if s, ok := valuePtr.(*string); ok {
		*s = r.result
	}
	return nil
}

func (r fakeRun) GetWithOptions(ctx context.Context, valuePtr any, _ client.WorkflowRunGetOptions) error {
	return r.Get(ctx, valuePtr)
}

func TestStartWorkflowValidatesTheRequest(t *testing.T) {
	f := &fakeTemporal{}
	c := NewClientFrom(f, "curio-tasks", nil)

	err := c.StartWorkflow(context.Background(), StartRequest{ID: "wf-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow name is required")

	err = c.StartWorkflow(context.Background(), StartRequest{Workflow: "SingleFeedIngestion"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow id is required")

	assert.Nil(t, f.gotWorkflow, "invalid requests must never reach the engine")
}

func TestStartWorkflowDefaultsTheTaskQueue(t *testing.T) {
	f := &fakeTemporal{}
	c := NewClientFrom(f, "curio-tasks", nil)

	require.NoError(t, c.StartWorkflow(context.Background(), StartRequest{
		Workflow: "SingleFeedIngestion",
		ID:       "ingest/f1",
		Input:    map[string]string{"feedId": "f1"},
	}))
	assert.Equal(t, "curio-tasks", f.gotOptions.TaskQueue)
	assert.Equal(t, "ingest/f1", f.gotOptions.ID)
	assert.Equal(t, "SingleFeedIngestion", f.gotWorkflow)
	require.Len(t, f.gotArgs, 1)

	require.NoError(t, c.StartWorkflow(context.Background(), StartRequest{
		Workflow:  "SearchReindex",
		ID:        "reindex/all",
		TaskQueue: "curio-maintenance",
	}))
	assert.Equal(t, "curio-maintenance", f.gotOptions.TaskQueue)
}

func TestStartWorkflowMapsAlreadyStarted(t *testing.T) {
	f := &fakeTemporal{
		executeErr: serviceerror.NewWorkflowExecutionAlreadyStarted("open run", "start-req", "run-0"),
	}
	c := NewClientFrom(f, "curio-tasks", nil)

	err := c.StartWorkflow(context.Background(), StartRequest{Workflow: "AllFeedsIngestion", ID: "ingest/all/2026-08-25"})
	require.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Contains(t, err.Error(), "ingest/all/2026-08-25")
}

func TestExecuteWorkflowDecodesTheResult(t *testing.T) {
	f := &fakeTemporal{run: fakeRun{result: "done"}}
	c := NewClientFrom(f, "curio-tasks", nil)

	var out string
	require.NoError(t, c.ExecuteWorkflow(context.Background(), StartRequest{
		Workflow: "EntriesCleanup",
		ID:       "cleanup/manual",
	}, &out))
	assert.Equal(t, "done", out)
}

func TestStartWorkflowCarriesRetryPolicy(t *testing.T) {
	f := &fakeTemporal{}
	c := NewClientFrom(f, "curio-tasks", nil)

	require.NoError(t, c.StartWorkflow(context.Background(), StartRequest{
		Workflow:    "GraphRebuild",
		ID:          "graph/rebuild",
		RetryPolicy: &RetryPolicy{MaxAttempts: 2, InitialInterval: time.Second},
	}))
	require.NotNil(t, f.gotOptions.RetryPolicy)
	assert.Equal(t, int32(2), f.gotOptions.RetryPolicy.MaximumAttempts)
	assert.Equal(t, time.Second, f.gotOptions.RetryPolicy.InitialInterval)
}

func TestConvertRetryPolicy(t *testing.T) {
	assert.Nil(t, convertRetryPolicy(nil))

	got := convertRetryPolicy(&RetryPolicy{
		MaxAttempts:        3,
		InitialInterval:    2 * time.Second,
		MaximumInterval:    time.Minute,
		BackoffCoefficient: 1.5,
	})
	assert.Equal(t, &temporal.RetryPolicy{
		MaximumAttempts:    3,
		InitialInterval:    2 * time.Second,
		MaximumInterval:    time.Minute,
		BackoffCoefficient: 1.5,
	}, got)

	// Zero fields stay at the engine defaults.
	got = convertRetryPolicy(&RetryPolicy{MaxAttempts: 1})
	assert.Equal(t, &temporal.RetryPolicy{MaximumAttempts: 1}, got)
}

func TestConnectRequiresATaskQueue(t *testing.T) {
	_, err := Connect(Options{HostPort: "temporal:7233"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task queue is required")
}
