package session

import (
	"sync"
	"time"

	"github.com/antinvestor/chat-client/wire"
)

// HeartbeatMonitor watches server-initiated heartbeats. The gateway is
// the initiator; on each received beat the monitor restarts its timeout
// window and emits a reply carrying the original timestamp and a
// round-trip estimate. If the window (interval + grace) elapses without
// a beat, it signals exactly one liveness failure.
type HeartbeatMonitor struct {
	interval time.Duration
	grace    time.Duration
	now      func() time.Time

	// onReply must ship the reply back over the transport.
	onReply func(wire.HeartbeatReply)

	// onExpired signals the liveness failure; the controller responds
	// by forcing a reconnect.
	onExpired func()

	mu       sync.Mutex
	timer    *time.Timer
	running  bool
	lastBeat time.Time
}

// NewHeartbeatMonitor wires the monitor callbacks. Callbacks run on
// timer goroutines and must not block.
func NewHeartbeatMonitor(
	interval, grace time.Duration,
	onReply func(wire.HeartbeatReply),
	onExpired func(),
) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		interval:  interval,
		grace:     grace,
		now:       time.Now,
		onReply:   onReply,
		onExpired: onExpired,
	}
}

// Start arms the liveness window. Called on every successful connect, so
// a gateway that never sends its first beat still trips the monitor.
func (h *HeartbeatMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	h.lastBeat = time.Time{}
	h.armLocked()
}

// Stop disarms the monitor. Pending expiry is cancelled synchronously.
func (h *HeartbeatMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// OnHeartbeat restarts the liveness window and replies to the gateway.
// The round-trip estimate is the gap between the server's send timestamp
// and local receipt, clamped at zero against clock skew.
func (h *HeartbeatMonitor) OnHeartbeat(beat wire.Heartbeat) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	now := h.now()
	h.lastBeat = now
	h.armLocked()
	h.mu.Unlock()

	rtt := now.UnixMilli() - beat.Timestamp
	if rtt < 0 {
		rtt = 0
	}

	if h.onReply != nil {
		h.onReply(wire.HeartbeatReply{
			Timestamp:   beat.Timestamp,
			ClientTime:  now.UnixMilli(),
			RoundTripMs: rtt,
		})
	}
}

// LastBeat returns when the most recent heartbeat arrived; zero when no
// beat has arrived since Start.
func (h *HeartbeatMonitor) LastBeat() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastBeat
}

// armLocked restarts the one-shot timeout. Must be called with h.mu held.
func (h *HeartbeatMonitor) armLocked() {
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(h.interval+h.grace, h.expire)
}

func (h *HeartbeatMonitor) expire() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	// One failure per armed window: disarm until the next Start or beat.
	h.running = false
	h.timer = nil
	h.mu.Unlock()

	if h.onExpired != nil {
		h.onExpired()
	}
}
