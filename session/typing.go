package session

import (
	"sort"
	"sync"
	"time"

	"github.com/antinvestor/chat-client/wire"
)

// localTyping tracks the local user's typing signal in one conversation.
type localTyping struct {
	debounce *time.Timer
	autoStop *time.Timer
	active   bool
}

// TypingCoordinator debounces the local user's typing signals and tracks
// remote typists per conversation. Local signals are trailing-edge
// debounced so a burst of keystrokes produces one typing_start, and an
// auto-stop fires if the user goes quiet without an explicit stop.
// Remote typists expire on the same timeout so a peer that crashes
// mid-keystroke does not stay "typing" forever.
type TypingCoordinator struct {
	debounceAfter time.Duration
	expireAfter   time.Duration

	// send ships a typing signal to the gateway; errors are the
	// controller's problem.
	send func(kind wire.EventType, sig wire.TypingSignal)

	// notify reports the new typist set for a conversation.
	notify func(conversationID string, identities []string)

	mu     sync.Mutex
	local  map[string]*localTyping
	remote map[string]map[string]*time.Timer
}

// NewTypingCoordinator wires the coordinator callbacks. Callbacks run on
// timer goroutines and must not block.
func NewTypingCoordinator(
	debounceAfter, expireAfter time.Duration,
	send func(kind wire.EventType, sig wire.TypingSignal),
	notify func(conversationID string, identities []string),
) *TypingCoordinator {
	return &TypingCoordinator{
		debounceAfter: debounceAfter,
		expireAfter:   expireAfter,
		send:          send,
		notify:        notify,
		local:         make(map[string]*localTyping),
		remote:        make(map[string]map[string]*time.Timer),
	}
}

// StartTyping registers local typing activity in a conversation. The
// actual typing_start is emitted once the debounce window closes; calling
// again within the window restarts it.
func (t *TypingCoordinator) StartTyping(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lt, ok := t.local[conversationID]
	if !ok {
		lt = &localTyping{}
		t.local[conversationID] = lt
	}

	if lt.active {
		// Already signaled; just push the auto-stop out.
		t.armAutoStopLocked(conversationID, lt)
		return
	}

	if lt.debounce != nil {
		lt.debounce.Stop()
	}
	lt.debounce = time.AfterFunc(t.debounceAfter, func() {
		t.emitStart(conversationID)
	})
}

func (t *TypingCoordinator) emitStart(conversationID string) {
	t.mu.Lock()
	lt, ok := t.local[conversationID]
	if !ok {
		t.mu.Unlock()
		return
	}
	lt.debounce = nil
	lt.active = true
	t.armAutoStopLocked(conversationID, lt)
	t.mu.Unlock()

	if t.send != nil {
		t.send(wire.EventTypingStart, wire.TypingSignal{ConversationID: conversationID})
	}
}

// armAutoStopLocked (re)books the quiet-period auto-stop. Must be called
// with t.mu held.
func (t *TypingCoordinator) armAutoStopLocked(conversationID string, lt *localTyping) {
	if lt.autoStop != nil {
		lt.autoStop.Stop()
	}
	lt.autoStop = time.AfterFunc(t.expireAfter, func() {
		t.StopTyping(conversationID)
	})
}

// StopTyping cancels any pending debounce and, if a typing_start was
// emitted, sends the matching typing_stop. Safe to call repeatedly.
func (t *TypingCoordinator) StopTyping(conversationID string) {
	t.mu.Lock()
	lt, ok := t.local[conversationID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if lt.debounce != nil {
		lt.debounce.Stop()
	}
	if lt.autoStop != nil {
		lt.autoStop.Stop()
	}
	wasActive := lt.active
	delete(t.local, conversationID)
	t.mu.Unlock()

	if wasActive && t.send != nil {
		t.send(wire.EventTypingStop, wire.TypingSignal{ConversationID: conversationID})
	}
}

// HandleRemoteTyping records a remote typist and (re)arms their expiry.
func (t *TypingCoordinator) HandleRemoteTyping(conversationID, identity string) {
	t.mu.Lock()
	typists, ok := t.remote[conversationID]
	if !ok {
		typists = make(map[string]*time.Timer)
		t.remote[conversationID] = typists
	}
	changed := typists[identity] == nil
	if timer := typists[identity]; timer != nil {
		timer.Stop()
	}
	typists[identity] = time.AfterFunc(t.expireAfter, func() {
		t.expireRemote(conversationID, identity)
	})
	t.mu.Unlock()

	if changed {
		t.notifyConversation(conversationID)
	}
}

// HandleRemoteStopped removes a remote typist on an explicit stop signal.
func (t *TypingCoordinator) HandleRemoteStopped(conversationID, identity string) {
	t.mu.Lock()
	removed := t.removeRemoteLocked(conversationID, identity)
	t.mu.Unlock()

	if removed {
		t.notifyConversation(conversationID)
	}
}

func (t *TypingCoordinator) expireRemote(conversationID, identity string) {
	t.mu.Lock()
	removed := t.removeRemoteLocked(conversationID, identity)
	t.mu.Unlock()

	if removed {
		t.notifyConversation(conversationID)
	}
}

// removeRemoteLocked must be called with t.mu held.
func (t *TypingCoordinator) removeRemoteLocked(conversationID, identity string) bool {
	typists, ok := t.remote[conversationID]
	if !ok {
		return false
	}
	timer, ok := typists[identity]
	if !ok {
		return false
	}
	timer.Stop()
	delete(typists, identity)
	if len(typists) == 0 {
		delete(t.remote, conversationID)
	}
	return true
}

func (t *TypingCoordinator) notifyConversation(conversationID string) {
	if t.notify == nil {
		return
	}
	t.notify(conversationID, t.TypingIn(conversationID))
}

// TypingIn returns the sorted identities currently typing in a
// conversation.
func (t *TypingCoordinator) TypingIn(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	typists := t.remote[conversationID]
	ids := make([]string, 0, len(typists))
	for id := range typists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop cancels every pending timer and clears all typing state. No stop
// signals are sent; the gateway drops typing state with the connection.
func (t *TypingCoordinator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, lt := range t.local {
		if lt.debounce != nil {
			lt.debounce.Stop()
		}
		if lt.autoStop != nil {
			lt.autoStop.Stop()
		}
	}
	t.local = make(map[string]*localTyping)
	for _, typists := range t.remote {
		for _, timer := range typists {
			timer.Stop()
		}
	}
	t.remote = make(map[string]map[string]*time.Timer)
}
