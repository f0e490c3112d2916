// Package wire defines the event contract spoken over the persistent
// connection to the chat gateway. Every frame is an Envelope carrying a
// type tag and a JSON payload; Decode validates the payload at the
// boundary and returns the typed variant, so nothing downstream ever
// dispatches on loosely-typed maps.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType discriminates envelope payloads.
type EventType string

// Client -> server events.
const (
	EventSessionStart EventType = "session_start"
	EventSendMessage  EventType = "send_message"
	EventTypingStart  EventType = "typing_start"
	EventTypingStop   EventType = "typing_stop"
	EventGetOnline    EventType = "get_online_users"
)

// Server -> client events.
const (
	EventConnected        EventType = "connected"
	EventNewMessage       EventType = "new_message"
	EventMessageDelivered EventType = "message_delivered"
	EventMessageRead      EventType = "message_read"
	EventUserTyping       EventType = "user_typing"
	EventUserStopped      EventType = "user_stopped_typing"
	EventUserOnline       EventType = "user_online"
	EventUserOffline      EventType = "user_offline"
	EventOnlineSnapshot   EventType = "online_users_snapshot"
	EventError            EventType = "error"
)

// Bidirectional events.
const (
	EventHeartbeat      EventType = "heartbeat"
	EventHeartbeatReply EventType = "heartbeat_reply"
	EventCallInitiate   EventType = "call_initiate"
	EventCallAnswer     EventType = "call_answer"
	EventCallEnd        EventType = "call_end"
	EventCallReject     EventType = "call_reject"
	EventWebRTCOffer    EventType = "webrtc_offer"
	EventWebRTCAnswer   EventType = "webrtc_answer"
	EventWebRTCICE      EventType = "webrtc_ice_candidate"
)

// ErrUnknownEvent is returned by Decode for event types this client
// does not understand. Callers should log and skip the frame.
var ErrUnknownEvent = errors.New("unknown wire event type")

// ErrInvalidPayload is returned when a payload fails boundary validation.
var ErrInvalidPayload = errors.New("invalid wire event payload")

// Envelope is the on-wire frame for every event.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope from a typed payload.
func NewEnvelope(t EventType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// SessionStart is the first frame sent after the socket opens and carries
// the identity token used as connection auth.
type SessionStart struct {
	Identity  string `json:"identity"`
	Timestamp int64  `json:"timestamp"`
}

// ConnectedAck is the gateway's acknowledgment that the session is live.
type ConnectedAck struct {
	Identity  string `json:"identity,omitempty"`
	GatewayID string `json:"gatewayId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Heartbeat is the server-initiated liveness probe.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

// HeartbeatReply echoes the probe timestamp with a round-trip estimate.
type HeartbeatReply struct {
	Timestamp   int64 `json:"timestamp"`
	ClientTime  int64 `json:"clientTime"`
	RoundTripMs int64 `json:"roundTripMs"`
}

// ChatMessage is an outbound message.
type ChatMessage struct {
	ConversationID  string            `json:"conversationId"`
	Content         string            `json:"content"`
	ClientMessageID string            `json:"clientMessageId"`
	Attachments     []json.RawMessage `json:"attachments,omitempty"`
}

// NewMessage is an inbound message from another participant.
type NewMessage struct {
	Message        json.RawMessage `json:"message"`
	ConversationID string          `json:"conversationId"`
	Sender         string          `json:"sender"`
}

// MessageReceipt acknowledges delivery or read of a message.
type MessageReceipt struct {
	MessageID       string `json:"messageId"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	ConversationID  string `json:"conversationId,omitempty"`
}

// TypingSignal marks an identity typing (or no longer typing) in a
// conversation.
type TypingSignal struct {
	ConversationID string `json:"conversationId"`
	Identity       string `json:"identity"`
}

// PresenceUpdate is an incremental online/offline event.
type PresenceUpdate struct {
	Identity string `json:"identity"`
}

// PresenceSnapshot replaces the online set wholesale.
type PresenceSnapshot struct {
	Users []string `json:"users"`
}

// CallSignal coordinates a call's control plane.
type CallSignal struct {
	CallID   string `json:"callId"`
	CallType string `json:"callType,omitempty"`
	TargetID string `json:"targetId,omitempty"`
	From     string `json:"from,omitempty"`
}

// CallMedia carries WebRTC negotiation material, opaque to this client.
type CallMedia struct {
	CallID  string          `json:"callId"`
	Payload json.RawMessage `json:"payload"`
}

// ServerError is a generic error event from the gateway.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Decode validates the envelope payload and returns its typed form.
// Unknown event types yield ErrUnknownEvent; structurally invalid
// payloads yield an error wrapping ErrInvalidPayload.
func (e Envelope) Decode() (any, error) {
	switch e.Type {
	case EventConnected:
		return decodeInto[ConnectedAck](e, func(ConnectedAck) error { return nil })
	case EventHeartbeat:
		return decodeInto[Heartbeat](e, func(p Heartbeat) error {
			if p.Timestamp <= 0 {
				return fmt.Errorf("%w: heartbeat requires a timestamp", ErrInvalidPayload)
			}
			return nil
		})
	case EventHeartbeatReply:
		return decodeInto[HeartbeatReply](e, func(HeartbeatReply) error { return nil })
	case EventNewMessage:
		return decodeInto[NewMessage](e, func(p NewMessage) error {
			if p.ConversationID == "" {
				return fmt.Errorf("%w: new message requires a conversation id", ErrInvalidPayload)
			}
			return nil
		})
	case EventMessageDelivered, EventMessageRead:
		return decodeInto[MessageReceipt](e, func(p MessageReceipt) error {
			if p.MessageID == "" && p.ClientMessageID == "" {
				return fmt.Errorf("%w: receipt requires a message id", ErrInvalidPayload)
			}
			return nil
		})
	case EventUserTyping, EventUserStopped:
		return decodeInto[TypingSignal](e, func(p TypingSignal) error {
			if p.ConversationID == "" || p.Identity == "" {
				return fmt.Errorf("%w: typing signal requires conversation and identity", ErrInvalidPayload)
			}
			return nil
		})
	case EventUserOnline, EventUserOffline:
		return decodeInto[PresenceUpdate](e, func(p PresenceUpdate) error {
			if p.Identity == "" {
				return fmt.Errorf("%w: presence update requires an identity", ErrInvalidPayload)
			}
			return nil
		})
	case EventOnlineSnapshot:
		return decodeInto[PresenceSnapshot](e, func(PresenceSnapshot) error { return nil })
	case EventCallInitiate, EventCallAnswer, EventCallEnd, EventCallReject:
		return decodeInto[CallSignal](e, func(p CallSignal) error {
			if p.CallID == "" {
				return fmt.Errorf("%w: call signal requires a call id", ErrInvalidPayload)
			}
			return nil
		})
	case EventWebRTCOffer, EventWebRTCAnswer, EventWebRTCICE:
		return decodeInto[CallMedia](e, func(p CallMedia) error {
			if p.CallID == "" {
				return fmt.Errorf("%w: media signal requires a call id", ErrInvalidPayload)
			}
			return nil
		})
	case EventError:
		return decodeInto[ServerError](e, func(ServerError) error { return nil })
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
}

func decodeInto[T any](e Envelope, validate func(T) error) (T, error) {
	var payload T
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return payload, fmt.Errorf("%w: decode %s: %w", ErrInvalidPayload, e.Type, err)
		}
	}
	if err := validate(payload); err != nil {
		return payload, err
	}
	return payload, nil
}
