package session

import (
	"sync"
	"time"

	"github.com/antinvestor/chat-client/wire"
	"github.com/google/uuid"
)

// CallState is the lifecycle state of one call.
type CallState string

const (
	CallRingingOutgoing CallState = "ringing_outgoing"
	CallRingingIncoming CallState = "ringing_incoming"
	CallActive          CallState = "active"
	CallEnded           CallState = "ended"
)

// Call is a snapshot of one call's signaling state.
type Call struct {
	CallID       string
	CallType     string
	State        CallState
	Participants []string
	StartedAt    time.Time
}

// CallMachine tracks call signaling state per call id. It only moves the
// state machine and relays signals; media negotiation material passes
// through to the MediaSession untouched. Terminal transitions are
// idempotent: ending an already-ended or unknown call is a no-op.
type CallMachine struct {
	now   func() time.Time
	media MediaSession

	// send ships a call signal to the gateway.
	send func(kind wire.EventType, sig wire.CallSignal)

	// notify reports every call state transition.
	notify func(Call)

	mu    sync.Mutex
	calls map[string]*Call
}

// NewCallMachine wires the state machine. media may be nil when no media
// layer is attached; signaling still works.
func NewCallMachine(
	media MediaSession,
	send func(kind wire.EventType, sig wire.CallSignal),
	notify func(Call),
) *CallMachine {
	return &CallMachine{
		now:    time.Now,
		media:  media,
		send:   send,
		notify: notify,
		calls:  make(map[string]*Call),
	}
}

// Initiate starts an outgoing call and returns its generated id.
func (m *CallMachine) Initiate(targetID, callType string) Call {
	call := &Call{
		CallID:       uuid.NewString(),
		CallType:     callType,
		State:        CallRingingOutgoing,
		Participants: []string{targetID},
		StartedAt:    m.now(),
	}

	m.mu.Lock()
	m.calls[call.CallID] = call
	snapshot := *call
	m.mu.Unlock()

	if m.send != nil {
		m.send(wire.EventCallInitiate, wire.CallSignal{
			CallID:   call.CallID,
			CallType: callType,
			TargetID: targetID,
		})
	}
	m.notifyCall(snapshot)
	return snapshot
}

// HandleRemoteInvite registers an incoming call in the ringing state.
// A duplicate invite for a known call id is ignored.
func (m *CallMachine) HandleRemoteInvite(sig wire.CallSignal) {
	m.mu.Lock()
	if _, ok := m.calls[sig.CallID]; ok {
		m.mu.Unlock()
		return
	}
	call := &Call{
		CallID:       sig.CallID,
		CallType:     sig.CallType,
		State:        CallRingingIncoming,
		Participants: []string{sig.From},
		StartedAt:    m.now(),
	}
	m.calls[sig.CallID] = call
	snapshot := *call
	m.mu.Unlock()

	m.notifyCall(snapshot)
}

// Accept answers an incoming ringing call.
func (m *CallMachine) Accept(callID string) {
	snapshot, ok := m.transition(callID, CallRingingIncoming, CallActive)
	if !ok {
		return
	}
	if m.send != nil {
		m.send(wire.EventCallAnswer, wire.CallSignal{
			CallID:   callID,
			CallType: snapshot.CallType,
		})
	}
	m.notifyCall(snapshot)
}

// HandleRemoteAnswer moves an outgoing ringing call to active.
func (m *CallMachine) HandleRemoteAnswer(sig wire.CallSignal) {
	snapshot, ok := m.transition(sig.CallID, CallRingingOutgoing, CallActive)
	if !ok {
		return
	}
	m.notifyCall(snapshot)
}

// Reject declines an incoming ringing call.
func (m *CallMachine) Reject(callID string) {
	m.mu.Lock()
	call, ok := m.calls[callID]
	if !ok || call.State != CallRingingIncoming {
		m.mu.Unlock()
		return
	}
	call.State = CallEnded
	snapshot := *call
	delete(m.calls, callID)
	m.mu.Unlock()

	if m.send != nil {
		m.send(wire.EventCallReject, wire.CallSignal{
			CallID:   callID,
			CallType: snapshot.CallType,
		})
	}
	m.finishCall(snapshot)
}

// Hangup ends a call from the local side. Idempotent: unknown or already
// ended calls are a no-op, so a double hangup (or hangup racing a remote
// end) stays quiet.
func (m *CallMachine) Hangup(callID string) {
	snapshot, ok := m.end(callID)
	if !ok {
		return
	}
	if m.send != nil {
		m.send(wire.EventCallEnd, wire.CallSignal{
			CallID:   callID,
			CallType: snapshot.CallType,
		})
	}
	m.finishCall(snapshot)
}

// HandleRemoteEnd ends a call on the remote party's signal. Covers both
// a rejection of our outgoing call and a hangup of an active one.
func (m *CallMachine) HandleRemoteEnd(sig wire.CallSignal) {
	snapshot, ok := m.end(sig.CallID)
	if !ok {
		return
	}
	m.finishCall(snapshot)
}

// HandleMedia relays WebRTC negotiation material for a known call.
// Material for unknown calls is dropped.
func (m *CallMachine) HandleMedia(kind wire.EventType, media wire.CallMedia) {
	m.mu.Lock()
	_, ok := m.calls[media.CallID]
	m.mu.Unlock()
	if !ok || m.media == nil {
		return
	}
	m.media.Signal(media.CallID, kind, media.Payload)
}

// Active returns a snapshot of one known call.
func (m *CallMachine) Active(callID string) (Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return Call{}, false
	}
	return *call, true
}

// Len returns the number of live (not ended) calls.
func (m *CallMachine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset ends every live call without signaling the gateway. Used on
// session teardown; the gateway drops call state with the connection.
func (m *CallMachine) Reset() {
	m.mu.Lock()
	ended := make([]Call, 0, len(m.calls))
	for id, call := range m.calls {
		call.State = CallEnded
		ended = append(ended, *call)
		delete(m.calls, id)
	}
	m.mu.Unlock()

	for _, snapshot := range ended {
		m.finishCall(snapshot)
	}
}

// transition moves a call from one specific state to another. Returns
// false when the call is unknown or not in the expected state.
func (m *CallMachine) transition(callID string, from, to CallState) (Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok || call.State != from {
		return Call{}, false
	}
	call.State = to
	return *call, true
}

// end moves any live call to ended and removes it.
func (m *CallMachine) end(callID string) (Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok || call.State == CallEnded {
		return Call{}, false
	}
	call.State = CallEnded
	snapshot := *call
	delete(m.calls, callID)
	return snapshot, true
}

func (m *CallMachine) finishCall(snapshot Call) {
	m.notifyCall(snapshot)
	if m.media != nil {
		m.media.Release(snapshot.CallID)
	}
}

func (m *CallMachine) notifyCall(snapshot Call) {
	if m.notify != nil {
		m.notify(snapshot)
	}
}
