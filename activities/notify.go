package activities

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
)

const (
	// notifyInterval is the minimum gap between two broadcasts for one
	// workflow. Terminal snapshots bypass it.
	notifyInterval = 300 * time.Millisecond

	// throttleMaxAge and throttleMaxEntries bound the throttle table: stale
	// entries are pruned whenever the table holds more than the limit.
	throttleMaxAge     = time.Hour
	throttleMaxEntries = 100
)

type (
	// Broadcaster forwards a progress snapshot to the SSE fan-out. The REST
	// backend client implements it; tests substitute a recorder.
	Broadcaster interface {
		Broadcast(ctx context.Context, b rest.ProgressBroadcast) error
	}

	// Notifier applies per-workflow throttling in front of the broadcaster.
	// It holds process-wide mutable state; the timestamps are wall-clock
	// and advisory only. They live inside an activity, are never read by
	// workflow code and are not replayed.
	Notifier struct {
		broadcaster Broadcaster
		logger      telemetry.Logger

		mu   sync.Mutex
		last map[string]time.Time

		// now is swapped by tests.
		now func() time.Time
	}

	// NotifyInput is the progress snapshot a workflow sends through the
	// notify local activity. Status drives the throttle bypass; Progress is
	// the full free-form snapshot the backend fans out.
	NotifyInput struct {
		WorkflowID string `json:"workflowId"`
		Status     string `json:"status"`
		Progress   any    `json:"progress"`
	}

	// NotifyOutput reports whether the snapshot reached the broadcaster.
	// Suppression by throttle and cooperative cancellation both return
	// Success=false without an engine-visible failure.
	NotifyOutput struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
)

// NewNotifier constructs a notifier in front of the given broadcaster.
func NewNotifier(b Broadcaster, logger telemetry.Logger) *Notifier {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Notifier{
		broadcaster: b,
		logger:      logger,
		last:        make(map[string]time.Time),
		now:         time.Now,
	}
}

// terminalStatus reports whether a status ends the workflow's progress
// stream. Terminal snapshots always reach the broadcaster.
func terminalStatus(status string) bool {
	return status == "completed" || status == "error"
}

// NotifyProgress forwards a progress snapshot to the REST backend for SSE
// fan-out, throttled per workflow id. Registered as a local activity: it
// runs on the workflow worker without a task-queue round trip, so the
// throttle table sees every snapshot of a workflow in order.
//
// Cancellation mid-broadcast is absorbed: it fires during normal fast
// shutdown, and the calling workflow only wants to finish the notify
// silently.
func (a *Activities) NotifyProgress(ctx context.Context, in NotifyInput) (NotifyOutput, error) {
	if !a.Notifier.shouldNotify(in.WorkflowID, in.Status) {
		return NotifyOutput{Success: false}, nil
	}
	err := a.Notifier.broadcaster.Broadcast(ctx, rest.ProgressBroadcast{
		WorkflowID: in.WorkflowID,
		Progress:   in.Progress,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return NotifyOutput{Success: false, Error: "cancelled"}, nil
		}
		// Progress is advisory; a failed broadcast must not fail the
		// workflow step that triggered it.
		a.Logger.Warn(ctx, "progress broadcast failed", "workflow_id", in.WorkflowID, "err", err)
		return NotifyOutput{Success: false, Error: err.Error()}, nil
	}
	return NotifyOutput{Success: true}, nil
}

// shouldNotify records the attempt and reports whether it may proceed.
// Terminal statuses bypass the throttle and clear the workflow's entry.
func (n *Notifier) shouldNotify(workflowID, status string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	n.pruneLocked(now)

	if terminalStatus(status) {
		delete(n.last, workflowID)
		return true
	}
	if last, ok := n.last[workflowID]; ok && now.Sub(last) < notifyInterval {
		return false
	}
	n.last[workflowID] = now
	return true
}

// pruneLocked drops entries older than an hour once the table exceeds its
// size bound. Callers hold n.mu.
func (n *Notifier) pruneLocked(now time.Time) {
	if len(n.last) <= throttleMaxEntries {
		return
	}
	for id, at := range n.last {
		if now.Sub(at) > throttleMaxAge {
			delete(n.last, id)
		}
	}
}
