package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Activity option presets. Short activities are plain API calls; distill and
// graph runs hold an LLM or graph session and heartbeat through long windows.

// defaultRetry is the engine retry policy for ordinary activities.
func defaultRetry() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		MaximumAttempts:    3,
		InitialInterval:    time.Second,
		MaximumInterval:    60 * time.Second,
		BackoffCoefficient: 2,
	}
}

// criticalRetry is the policy for long, expensive activities where a third
// attempt costs more than failing the workflow.
func criticalRetry() *temporal.RetryPolicy {
	p := defaultRetry()
	p.MaximumAttempts = 2
	return p
}

// withShortActivity applies the 30-second preset for plain backend calls.
func withShortActivity(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         defaultRetry(),
	})
}

// withFetchActivity covers network fetches of feeds and pages.
func withFetchActivity(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         defaultRetry(),
	})
}

// withDistillActivity covers LLM batch work: distillation, translation,
// embedding, evaluation.
func withDistillActivity(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy:         criticalRetry(),
	})
}

// withGraphActivity covers knowledge-graph ingestion, the slowest stage.
func withGraphActivity(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy:         criticalRetry(),
	})
}
