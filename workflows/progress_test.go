package workflows

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/curiohq/curio/activities"
)

// notifyLog records every snapshot a workflow pushes through the notify
// activity, in send order.
type notifyLog struct {
	mu   sync.Mutex
	sent []activities.NotifyInput
}

func (l *notifyLog) add(in activities.NotifyInput) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, in)
}

func (l *notifyLog) all() []activities.NotifyInput {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]activities.NotifyInput(nil), l.sent...)
}

// newCapturingEnv is newTestEnv with the notify stub replaced by a recorder.
func newCapturingEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *activities.Activities, *notifyLog) {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	a := activities.New(activities.Activities{})
	acts = a
	env.RegisterActivity(a)
	log := &notifyLog{}
	env.OnActivity(a.NotifyProgress, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { log.add(args.Get(1).(activities.NotifyInput)) }).
		Return(activities.NotifyOutput{Success: true}, nil)
	return env, a, log
}

func TestProgressQueryReflectsTerminalState(t *testing.T) {
	env, a := newTestEnv(t)
	env.RegisterWorkflow(SearchPrune)

	env.OnActivity(a.GetOrphanedDocumentIDs, mock.Anything).
		Return(activities.OrphanedDocumentsOutput{}, nil)

	env.ExecuteWorkflow(SearchPrune)
	require.True(t, env.IsWorkflowCompleted())

	value, err := env.QueryWorkflow(ProgressQuery)
	require.NoError(t, err)
	var progress Progress
	require.NoError(t, value.Get(&progress))
	assert.Equal(t, StatusCompleted, progress.Status)
	assert.Equal(t, "index is clean", progress.Message)
	assert.False(t, progress.StartedAt.IsZero())
	assert.False(t, progress.UpdatedAt.Before(progress.StartedAt))
}

func TestProgressQueryReflectsFailure(t *testing.T) {
	env, a := newTestEnv(t)
	env.RegisterWorkflow(SearchPrune)

	env.OnActivity(a.GetOrphanedDocumentIDs, mock.Anything).
		Return(activities.OrphanedDocumentsOutput{}, fmt.Errorf("backend down"))

	env.ExecuteWorkflow(SearchPrune)
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())

	value, err := env.QueryWorkflow(ProgressQuery)
	require.NoError(t, err)
	var progress Progress
	require.NoError(t, value.Get(&progress))
	assert.Equal(t, StatusError, progress.Status)
}

func TestProgressSnapshotsMoveForwardOnly(t *testing.T) {
	env, a, log := newCapturingEnv(t)
	env.RegisterWorkflow(SearchPrune)

	env.OnActivity(a.GetOrphanedDocumentIDs, mock.Anything).
		Return(activities.OrphanedDocumentsOutput{IDs: []string{"gone-1"}}, nil)
	env.OnActivity(a.RemoveDocumentsFromIndex, mock.Anything, mock.Anything).
		Return(activities.RemoveDocumentsOutput{Removed: 1}, nil)

	env.ExecuteWorkflow(SearchPrune)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	sent := log.all()
	require.NotEmpty(t, sent)
	assert.Equal(t, StatusPending, sent[0].Status)
	assert.Equal(t, StatusCompleted, sent[len(sent)-1].Status)
	for i := 1; i < len(sent); i++ {
		assert.GreaterOrEqual(t, statusRank(sent[i].Status), statusRank(sent[i-1].Status),
			"snapshot %d regressed from %s to %s", i, sent[i-1].Status, sent[i].Status)
	}
	for _, in := range sent {
		assert.Equal(t, sent[0].WorkflowID, in.WorkflowID)
		assert.NotEmpty(t, in.WorkflowID)
	}
}

func TestTerminalSnapshotAbsorbsLaterTransitions(t *testing.T) {
	env, _, log := newCapturingEnv(t)

	wf := func(ctx workflow.Context) error {
		tr, err := newTracker(ctx, "start")
		if err != nil {
			return err
		}
		tr.step(ctx, "work", "working")
		tr.complete(ctx, "done")
		tr.step(ctx, "late", "must be dropped")
		tr.count(ctx, 5, 10)
		tr.fail(ctx, "must also be dropped")
		return nil
	}
	env.RegisterWorkflow(wf)

	env.ExecuteWorkflow(wf)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	// Pending, one step, completed. Nothing after the terminal snapshot.
	sent := log.all()
	require.Len(t, sent, 3)
	assert.Equal(t, StatusCompleted, sent[2].Status)

	value, err := env.QueryWorkflow(ProgressQuery)
	require.NoError(t, err)
	var progress Progress
	require.NoError(t, value.Get(&progress))
	assert.Equal(t, StatusCompleted, progress.Status)
	assert.Equal(t, "work", progress.CurrentStep)
	assert.Equal(t, "done", progress.Message)
	assert.Empty(t, progress.Error)
	assert.Zero(t, progress.Done)
}

func TestFailureSnapshotCarriesTheError(t *testing.T) {
	env, a, log := newCapturingEnv(t)
	env.RegisterWorkflow(SearchPrune)

	env.OnActivity(a.GetOrphanedDocumentIDs, mock.Anything).
		Return(activities.OrphanedDocumentsOutput{}, fmt.Errorf("backend down"))

	env.ExecuteWorkflow(SearchPrune)
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())

	sent := log.all()
	require.NotEmpty(t, sent)
	assert.Equal(t, StatusError, sent[len(sent)-1].Status)

	value, err := env.QueryWorkflow(ProgressQuery)
	require.NoError(t, err)
	var progress Progress
	require.NoError(t, value.Get(&progress))
	assert.Equal(t, "orphan scan failed", progress.Error)
	assert.Equal(t, progress.Error, progress.Message)
}

func TestCancellationStillEmitsTheErrorSnapshot(t *testing.T) {
	env, a, log := newCapturingEnv(t)
	env.RegisterWorkflow(SearchPrune)

	env.OnActivity(a.GetOrphanedDocumentIDs, mock.Anything).
		After(time.Hour).
		Return(activities.OrphanedDocumentsOutput{}, nil)
	env.RegisterDelayedCallback(env.CancelWorkflow, 10*time.Second)

	env.ExecuteWorkflow(SearchPrune)
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())

	// The terminal snapshot goes out on a disconnected context, so the
	// broadcaster still hears about the cancelled run.
	sent := log.all()
	require.NotEmpty(t, sent)
	assert.Equal(t, StatusError, sent[len(sent)-1].Status)

	value, err := env.QueryWorkflow(ProgressQuery)
	require.NoError(t, err)
	var progress Progress
	require.NoError(t, value.Get(&progress))
	assert.Equal(t, StatusError, progress.Status)
}
