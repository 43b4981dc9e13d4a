package activities

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
)

type recordingBroadcaster struct {
	sent []rest.ProgressBroadcast
	err  error
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, b rest.ProgressBroadcast) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, b)
	return nil
}

func newTestNotifier(b Broadcaster) (*Notifier, *time.Time) {
	n := NewNotifier(b, telemetry.NewNoopLogger())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	return n, &now
}

func TestNotifyThrottleSuppressesRapidSnapshots(t *testing.T) {
	bc := &recordingBroadcaster{}
	n, now := newTestNotifier(bc)
	a := New(Activities{Notifier: n})

	out, err := a.NotifyProgress(context.Background(), NotifyInput{WorkflowID: "wf-1", Status: "running"})
	require.NoError(t, err)
	assert.True(t, out.Success)

	// Within the 300ms window: suppressed, no broadcast.
	*now = now.Add(100 * time.Millisecond)
	out, err = a.NotifyProgress(context.Background(), NotifyInput{WorkflowID: "wf-1", Status: "running"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Len(t, bc.sent, 1)

	// Past the window: delivered again.
	*now = now.Add(300 * time.Millisecond)
	out, err = a.NotifyProgress(context.Background(), NotifyInput{WorkflowID: "wf-1", Status: "running"})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Len(t, bc.sent, 2)
}

func TestNotifyTerminalStatusBypassesThrottle(t *testing.T) {
	bc := &recordingBroadcaster{}
	n, now := newTestNotifier(bc)
	a := New(Activities{Notifier: n})

	_, err := a.NotifyProgress(context.Background(), NotifyInput{WorkflowID: "wf-1", Status: "running"})
	require.NoError(t, err)

	// Terminal snapshot lands immediately even inside the window.
	*now = now.Add(50 * time.Millisecond)
	for _, status := range []string{"completed", "error"} {
		out, err := a.NotifyProgress(context.Background(), NotifyInput{WorkflowID: "wf-1", Status: status})
		require.NoError(t, err)
		assert.True(t, out.Success, "status %s must bypass throttle", status)
	}
	assert.Len(t, bc.sent, 3)
}

func TestNotifyDistinctWorkflowsDoNotShareThrottle(t *testing.T) {
	bc := &recordingBroadcaster{}
	n, _ := newTestNotifier(bc)
	a := New(Activities{Notifier: n})

	for i := 0; i < 5; i++ {
		out, err := a.NotifyProgress(context.Background(), NotifyInput{
			WorkflowID: fmt.Sprintf("wf-%d", i),
			Status:     "running",
		})
		require.NoError(t, err)
		assert.True(t, out.Success)
	}
	assert.Len(t, bc.sent, 5)
}

func TestNotifyBroadcastFailureDoesNotError(t *testing.T) {
	bc := &recordingBroadcaster{err: fmt.Errorf("connection refused")}
	n, _ := newTestNotifier(bc)
	a := New(Activities{Notifier: n})

	out, err := a.NotifyProgress(context.Background(), NotifyInput{WorkflowID: "wf-1", Status: "running"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "connection refused", out.Error)
}

func TestNotifyCancellationIsAbsorbed(t *testing.T) {
	bc := &recordingBroadcaster{err: context.Canceled}
	n, _ := newTestNotifier(bc)
	a := New(Activities{Notifier: n})

	out, err := a.NotifyProgress(context.Background(), NotifyInput{WorkflowID: "wf-1", Status: "running"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "cancelled", out.Error)
}

func TestNotifyThrottleTablePrunes(t *testing.T) {
	bc := &recordingBroadcaster{}
	n, now := newTestNotifier(bc)

	// Fill past the size bound with entries that will be stale.
	for i := 0; i < 150; i++ {
		n.shouldNotify(fmt.Sprintf("old-%d", i), "running")
	}
	require.Greater(t, len(n.last), throttleMaxEntries)

	// Two hours later any insertion prunes the stale entries.
	*now = now.Add(2 * time.Hour)
	n.shouldNotify("fresh", "running")
	assert.Equal(t, 1, len(n.last))
	_, ok := n.last["fresh"]
	assert.True(t, ok)
}

func TestNotifyTerminalClearsThrottleEntry(t *testing.T) {
	bc := &recordingBroadcaster{}
	n, _ := newTestNotifier(bc)

	require.True(t, n.shouldNotify("wf-1", "running"))
	require.True(t, n.shouldNotify("wf-1", "completed"))
	_, ok := n.last["wf-1"]
	assert.False(t, ok, "terminal status must clear the workflow's entry")
}
