package agui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// PulseMirror republishes wire events into a Pulse stream per run, so
	// other services can tail a run's events from Redis after the SSE
	// connection is gone.
	PulseMirror struct {
		redis   *redis.Client
		maxLen  int
		timeout time.Duration
	}

	// MirrorOptions configures the Pulse mirror.
	MirrorOptions struct {
		// Redis backs the Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds entries kept per run stream. Zero keeps the
		// Pulse default.
		StreamMaxLen int
		// Timeout bounds each publish. Zero means 5 seconds.
		Timeout time.Duration
	}

	// mirrorEnvelope is the stored representation of one wire event.
	mirrorEnvelope struct {
		Type      string    `json:"type"`
		RunID     string    `json:"run_id"`
		Timestamp time.Time `json:"timestamp"`
		Event     Event     `json:"event"`
	}
)

// NewPulseMirror constructs the mirror.
func NewPulseMirror(opts MirrorOptions) (*PulseMirror, error) {
	if opts.Redis == nil {
		return nil, errors.New("agui: redis client is required")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &PulseMirror{redis: opts.Redis, maxLen: opts.StreamMaxLen, timeout: timeout}, nil
}

// ForRun binds the mirror to one run's stream. Text and custom frames do
// not carry the run id themselves, so the binding happens once per request.
func (m *PulseMirror) ForRun(runID string) Emitter {
	return &runMirror{mirror: m, runID: runID}
}

// runMirror publishes one run's events into its Pulse stream.
type runMirror struct {
	mirror *PulseMirror
	runID  string
}

// Emit publishes one event into the run's stream.
func (r *runMirror) Emit(e Event) error {
	m := r.mirror
	var opts []streamopts.Stream
	if m.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(m.maxLen))
	}
	stream, err := streaming.NewStream("run/"+r.runID, m.redis, opts...)
	if err != nil {
		return fmt.Errorf("agui: open run stream: %w", err)
	}

	env := mirrorEnvelope{Type: e.Type, RunID: r.runID, Timestamp: time.Now().UTC(), Event: e}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("agui: encode mirror envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if _, err := stream.Add(ctx, e.Type, payload); err != nil {
		return fmt.Errorf("agui: publish %s: %w", e.Type, err)
	}
	return nil
}
