package telemetry_test

import (
	"context"
	"testing"

	"github.com/antinvestor/chat-client/internal/telemetry"
)

// Smoke test: every counter must be usable without a configured meter
// provider, since metrics degrade to no-ops rather than break the
// session path.
func TestCountersIncrement(t *testing.T) {
	ctx := context.Background()

	telemetry.SessionsStartedCounter.Add(ctx, 1)
	telemetry.ReconnectAttemptsCounter.Add(ctx, 1)
	telemetry.HeartbeatTimeoutsCounter.Add(ctx, 1)
	telemetry.MessagesSentCounter.Add(ctx, 1)
	telemetry.MessagesFailedCounter.Add(ctx, 1)
	telemetry.QueueEvictionsCounter.Add(ctx, 1)
	telemetry.QueueExpiredCounter.Add(ctx, 1)
}

func TestZeroCounterIsNoop(t *testing.T) {
	var c telemetry.Counter
	c.Add(context.Background(), 1)
}
