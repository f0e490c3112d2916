// Package telemetry provides OpenTelemetry metrics for the chat client.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var meter = otel.Meter("github.com/antinvestor/chat-client")

// Counter is a monotonically increasing measure. Registration failures
// degrade to a no-op counter rather than surfacing to callers; metrics
// must never break the session path.
type Counter struct {
	counter metric.Int64Counter
}

// Add increments the counter.
func (c Counter) Add(ctx context.Context, value int64) {
	if c.counter == nil {
		return
	}
	c.counter.Add(ctx, value)
}

func dimensionlessMeasure(name, description string) Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return Counter{}
	}
	return Counter{counter: counter}
}

// Session metrics track connection lifecycle operations.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	SessionsStartedCounter = dimensionlessMeasure(
		"chat.client.sessions.started",
		"Total sessions started",
	)

	ReconnectAttemptsCounter = dimensionlessMeasure(
		"chat.client.reconnect.attempts",
		"Total reconnection attempts scheduled",
	)

	HeartbeatTimeoutsCounter = dimensionlessMeasure(
		"chat.client.heartbeat.timeouts",
		"Total heartbeat liveness failures",
	)
)

// Message metrics track the outbound delivery pipeline.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	MessagesSentCounter = dimensionlessMeasure(
		"chat.client.messages.sent",
		"Total messages handed to the transport",
	)

	MessagesFailedCounter = dimensionlessMeasure(
		"chat.client.messages.failed",
		"Total messages that exhausted their delivery attempts",
	)

	QueueEvictionsCounter = dimensionlessMeasure(
		"chat.client.queue.evictions",
		"Total queued messages evicted by the size cap",
	)

	QueueExpiredCounter = dimensionlessMeasure(
		"chat.client.queue.expired",
		"Total queued messages pruned by TTL before sending",
	)
)
