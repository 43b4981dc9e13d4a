package workflows

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/curiohq/curio/activities"
)

// ProgressQuery is the query name clients poll for a workflow's snapshot.
const ProgressQuery = "get_progress"

// Progress statuses. A snapshot starts pending, moves to running with the
// first stage transition and ends completed or error. Terminal snapshots
// bypass the notify throttle.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

type (
	// Progress is the snapshot a workflow exposes through the get_progress
	// query and pushes to the SSE broadcaster after every meaningful state
	// change. Timestamps come from engine time, never the wall clock.
	Progress struct {
		WorkflowID  string    `json:"workflow_id"`
		Status      string    `json:"status"`
		CurrentStep string    `json:"current_step"`
		Message     string    `json:"message,omitempty"`
		Error       string    `json:"error,omitempty"`
		EntityIDs   []string  `json:"entity_ids,omitempty"`
		Total       int       `json:"total,omitempty"`
		Done        int       `json:"done,omitempty"`
		StartedAt   time.Time `json:"started_at"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	// tracker owns a workflow's progress snapshot. One tracker per workflow
	// instance; all mutation goes through its methods so the query handler
	// always sees a consistent value and the status only ever moves forward
	// through the lifecycle.
	tracker struct {
		progress Progress
	}
)

// statusRank orders the lifecycle. Transitions only move forward; the
// terminal statuses absorb everything after them.
func statusRank(status string) int {
	switch status {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	default:
		return 2
	}
}

// newTracker registers the get_progress query handler and emits the initial
// pending snapshot.
func newTracker(ctx workflow.Context, step string) (*tracker, error) {
	t := &tracker{progress: Progress{
		WorkflowID:  workflow.GetInfo(ctx).WorkflowExecution.ID,
		Status:      StatusPending,
		CurrentStep: step,
		StartedAt:   workflow.Now(ctx),
		UpdatedAt:   workflow.Now(ctx),
	}}
	err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (Progress, error) {
		return t.progress, nil
	})
	if err != nil {
		return nil, err
	}
	t.notify(ctx)
	return t, nil
}

// entities records the ids the workflow is operating on.
func (t *tracker) entities(ids ...string) {
	t.progress.EntityIDs = ids
}

// step records a stage transition and notifies. The first step promotes the
// snapshot from pending to running.
func (t *tracker) step(ctx workflow.Context, step, message string) {
	if t.terminal() {
		return
	}
	t.progress.Status = StatusRunning
	t.progress.CurrentStep = step
	t.progress.Message = message
	t.progress.UpdatedAt = workflow.Now(ctx)
	t.notify(ctx)
}

// count updates the done/total counters and notifies. The notify throttle
// absorbs tight loops.
func (t *tracker) count(ctx workflow.Context, done, total int) {
	if t.terminal() {
		return
	}
	t.progress.Status = StatusRunning
	t.progress.Done = done
	t.progress.Total = total
	t.progress.UpdatedAt = workflow.Now(ctx)
	t.notify(ctx)
}

// complete emits the terminal completed snapshot.
func (t *tracker) complete(ctx workflow.Context, message string) {
	t.finish(ctx, StatusCompleted, message, "")
}

// fail emits the terminal error snapshot. Safe to call after cancellation:
// the notify runs on a disconnected context so the snapshot still reaches
// the broadcaster while the workflow unwinds.
func (t *tracker) fail(ctx workflow.Context, message string) {
	t.finish(workflow.NewDisconnectedContext(ctx), StatusError, message, message)
}

func (t *tracker) finish(ctx workflow.Context, status, message, errMsg string) {
	if t.terminal() {
		return
	}
	t.progress.Status = status
	t.progress.Message = message
	t.progress.Error = errMsg
	t.progress.UpdatedAt = workflow.Now(ctx)
	t.notify(ctx)
}

func (t *tracker) terminal() bool {
	return statusRank(t.progress.Status) > statusRank(StatusRunning)
}

// notify pushes the snapshot through the notify local activity. Progress is
// advisory: the future is awaited so snapshots stay ordered, but a failed
// notify never fails the workflow.
func (t *tracker) notify(ctx workflow.Context) {
	ctx = workflow.WithLocalActivityOptions(ctx, workflow.LocalActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
	})
	var out activities.NotifyOutput
	in := activities.NotifyInput{
		WorkflowID: t.progress.WorkflowID,
		Status:     t.progress.Status,
		Progress:   t.progress,
	}
	if err := workflow.ExecuteLocalActivity(ctx, acts.NotifyProgress, in).Get(ctx, &out); err != nil {
		workflow.GetLogger(ctx).Warn("progress notify failed", "error", err)
	}
}
