// Package session implements the resilient realtime session manager for
// the chat gateway: connection lifecycle and reconnection policy, the
// outbound message queue, heartbeat liveness, presence and typing state,
// and the call-signaling state machine. All of them share one transport
// and one event stream, owned by the Controller.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/antinvestor/chat-client/wire"
)

// State is the connection lifecycle state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// Disconnect describes why an established connection ended.
type Disconnect struct {
	Reason string
	Err    error
}

// Transport abstracts the persistent bidirectional connection to the
// chat gateway. Implementations must be safe for concurrent use; the
// Controller is the only component that calls them.
type Transport interface {
	// Connect dials the gateway using the identity as the session
	// capability token. It returns once the socket is established;
	// the gateway confirms the session with a wire.ConnectedAck event.
	Connect(ctx context.Context, identity string) error

	// Send writes one envelope. It returns ErrNotConnected when no
	// connection is established.
	Send(ctx context.Context, env wire.Envelope) error

	// Events delivers decoded inbound envelopes in arrival order.
	Events() <-chan wire.Envelope

	// Disconnects delivers exactly one Disconnect per established
	// connection that ends, however it ends.
	Disconnects() <-chan Disconnect

	// IsConnected reports whether a connection is currently established.
	IsConnected() bool

	// Close tears the connection down from the client side.
	Close() error
}

// MediaSession is the external media collaborator. The session core only
// drives call signaling; offer/answer/ICE material passes through opaque.
type MediaSession interface {
	// Signal forwards WebRTC negotiation material for an active call.
	Signal(callID string, kind wire.EventType, payload json.RawMessage)

	// Release tells the media layer to free resources for an ended call.
	Release(callID string)
}

// Event is a typed domain event published by the Controller. The UI
// layer subscribes once for its lifetime; there is no per-connect
// handler registration to leak.
type Event interface {
	event()
}

// StatusChanged reports a connection state transition.
type StatusChanged struct {
	Old State
	New State
	Err error
}

// MessageReceived is an inbound chat message.
type MessageReceived struct {
	ConversationID string
	Sender         string
	Message        json.RawMessage
}

// MessageDelivered reports a server acknowledgment for a sent message.
type MessageDelivered struct {
	ClientMessageID string
	MessageID       string
}

// MessageRead reports a read receipt.
type MessageRead struct {
	MessageID      string
	ConversationID string
}

// MessageFailed reports that one specific message exhausted its delivery
// attempts. It is surfaced per message, never as a global error.
type MessageFailed struct {
	ClientMessageID string
	Err             error
}

// PresenceChanged carries the reconciled online set.
type PresenceChanged struct {
	Online []string
}

// TypingChanged carries the identities currently typing in a conversation.
type TypingChanged struct {
	ConversationID string
	Identities     []string
}

// CallChanged reports a call state transition.
type CallChanged struct {
	Call Call
}

func (StatusChanged) event()    {}
func (MessageReceived) event()  {}
func (MessageDelivered) event() {}
func (MessageRead) event()      {}
func (MessageFailed) event()    {}
func (PresenceChanged) event()  {}
func (TypingChanged) event()    {}
func (CallChanged) event()      {}

// Config carries every tunable of the session core. All durations are
// injectable so tests run at millisecond scale.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatGrace    time.Duration

	Scheduler SchedulerConfig
	Queue     QueueConfig

	TypingDebounce time.Duration
	TypingExpiry   time.Duration

	// CleanupInterval drives the periodic prune of expired queue and
	// pending entries.
	CleanupInterval time.Duration

	// EventBuffer sizes the domain event channel. Events are dropped
	// with a warning when the subscriber falls this far behind.
	EventBuffer int
}

// DefaultConfig returns the production tuning for the chat gateway.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatGrace:    10 * time.Second,
		Scheduler:         DefaultSchedulerConfig(),
		Queue:             DefaultQueueConfig(),
		TypingDebounce:    500 * time.Millisecond,
		TypingExpiry:      3 * time.Second,
		CleanupInterval:   time.Minute,
		EventBuffer:       64,
	}
}
