package session

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/antinvestor/chat-client/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callRecorder struct {
	mu          sync.Mutex
	signals     []wire.EventType
	transitions []CallState
	media       []wire.EventType
	released    []string
}

func newCallRecorder() *callRecorder {
	return &callRecorder{}
}

func (r *callRecorder) send(kind wire.EventType, _ wire.CallSignal) {
	r.mu.Lock()
	r.signals = append(r.signals, kind)
	r.mu.Unlock()
}

func (r *callRecorder) notify(call Call) {
	r.mu.Lock()
	r.transitions = append(r.transitions, call.State)
	r.mu.Unlock()
}

func (r *callRecorder) Signal(_ string, kind wire.EventType, _ json.RawMessage) {
	r.mu.Lock()
	r.media = append(r.media, kind)
	r.mu.Unlock()
}

func (r *callRecorder) Release(callID string) {
	r.mu.Lock()
	r.released = append(r.released, callID)
	r.mu.Unlock()
}

func (r *callRecorder) snapshot() ([]wire.EventType, []CallState, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.EventType(nil), r.signals...),
		append([]CallState(nil), r.transitions...),
		append([]string(nil), r.released...)
}

func TestCallOutgoingLifecycle(t *testing.T) {
	rec := newCallRecorder()
	m := NewCallMachine(rec, rec.send, rec.notify)

	call := m.Initiate("bob", "audio")
	require.NotEmpty(t, call.CallID)
	assert.Equal(t, CallRingingOutgoing, call.State)
	assert.Equal(t, []string{"bob"}, call.Participants)

	m.HandleRemoteAnswer(wire.CallSignal{CallID: call.CallID})
	active, ok := m.Active(call.CallID)
	require.True(t, ok)
	assert.Equal(t, CallActive, active.State)

	m.Hangup(call.CallID)
	_, ok = m.Active(call.CallID)
	assert.False(t, ok)

	signals, transitions, released := rec.snapshot()
	assert.Equal(t, []wire.EventType{wire.EventCallInitiate, wire.EventCallEnd}, signals)
	assert.Equal(t, []CallState{CallRingingOutgoing, CallActive, CallEnded}, transitions)
	assert.Equal(t, []string{call.CallID}, released)
}

func TestCallIncomingAccept(t *testing.T) {
	rec := newCallRecorder()
	m := NewCallMachine(rec, rec.send, rec.notify)

	m.HandleRemoteInvite(wire.CallSignal{CallID: "call-1", CallType: "video", From: "alice"})
	call, ok := m.Active("call-1")
	require.True(t, ok)
	assert.Equal(t, CallRingingIncoming, call.State)
	assert.Equal(t, []string{"alice"}, call.Participants)

	m.Accept("call-1")
	call, _ = m.Active("call-1")
	assert.Equal(t, CallActive, call.State)

	signals, _, _ := rec.snapshot()
	assert.Equal(t, []wire.EventType{wire.EventCallAnswer}, signals)
}

func TestCallIncomingReject(t *testing.T) {
	rec := newCallRecorder()
	m := NewCallMachine(rec, rec.send, rec.notify)

	m.HandleRemoteInvite(wire.CallSignal{CallID: "call-1", From: "alice"})
	m.Reject("call-1")

	_, ok := m.Active("call-1")
	assert.False(t, ok)

	signals, _, released := rec.snapshot()
	assert.Equal(t, []wire.EventType{wire.EventCallReject}, signals)
	assert.Equal(t, []string{"call-1"}, released)
}

func TestCallDoubleHangupIsIdempotent(t *testing.T) {
	rec := newCallRecorder()
	m := NewCallMachine(rec, rec.send, rec.notify)

	call := m.Initiate("bob", "audio")
	m.Hangup(call.CallID)
	m.Hangup(call.CallID)
	m.HandleRemoteEnd(wire.CallSignal{CallID: call.CallID})

	signals, transitions, released := rec.snapshot()
	assert.Equal(t, []wire.EventType{wire.EventCallInitiate, wire.EventCallEnd}, signals)
	assert.Equal(t, []CallState{CallRingingOutgoing, CallEnded}, transitions)
	assert.Equal(t, []string{call.CallID}, released)
}

func TestCallDuplicateInviteIgnored(t *testing.T) {
	rec := newCallRecorder()
	m := NewCallMachine(rec, rec.send, rec.notify)

	m.HandleRemoteInvite(wire.CallSignal{CallID: "call-1", From: "alice"})
	m.HandleRemoteInvite(wire.CallSignal{CallID: "call-1", From: "alice"})

	_, transitions, _ := rec.snapshot()
	assert.Equal(t, []CallState{CallRingingIncoming}, transitions)
	assert.Equal(t, 1, m.Len())
}

func TestCallAnswerRequiresOutgoingRinging(t *testing.T) {
	rec := newCallRecorder()
	m := NewCallMachine(rec, rec.send, rec.notify)

	// An answer for an incoming call makes no sense and is dropped.
	m.HandleRemoteInvite(wire.CallSignal{CallID: "call-1", From: "alice"})
	m.HandleRemoteAnswer(wire.CallSignal{CallID: "call-1"})

	call, _ := m.Active("call-1")
	assert.Equal(t, CallRingingIncoming, call.State)
}

func TestCallMediaRelayedForKnownCallsOnly(t *testing.T) {
	rec := newCallRecorder()
	m := NewCallMachine(rec, rec.send, rec.notify)

	call := m.Initiate("bob", "video")
	m.HandleMedia(wire.EventWebRTCOffer, wire.CallMedia{CallID: call.CallID, Payload: json.RawMessage(`{}`)})
	m.HandleMedia(wire.EventWebRTCICE, wire.CallMedia{CallID: "unknown", Payload: json.RawMessage(`{}`)})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []wire.EventType{wire.EventWebRTCOffer}, rec.media)
}

func TestCallResetEndsEverythingSilently(t *testing.T) {
	rec := newCallRecorder()
	m := NewCallMachine(rec, rec.send, rec.notify)

	a := m.Initiate("bob", "audio")
	m.HandleRemoteInvite(wire.CallSignal{CallID: "call-2", From: "carol"})

	m.Reset()

	assert.Zero(t, m.Len())
	signals, _, released := rec.snapshot()
	assert.Equal(t, []wire.EventType{wire.EventCallInitiate}, signals, "reset must not signal the gateway")
	assert.ElementsMatch(t, []string{a.CallID, "call-2"}, released)
}
