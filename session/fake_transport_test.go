package session

import (
	"context"
	"errors"
	"sync"

	"github.com/antinvestor/chat-client/wire"
)

// fakeTransport is a channel-backed Transport for tests. Inbound events
// and disconnects are injected directly; outbound envelopes are recorded.
type fakeTransport struct {
	events      chan wire.Envelope
	disconnects chan Disconnect

	mu           sync.Mutex
	connected    bool
	connectErr   error
	connectCalls int
	failSends    int
	onSend       func(env wire.Envelope) error
	sent         []wire.Envelope
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:      make(chan wire.Envelope, 64),
		disconnects: make(chan Disconnect, 8),
	}
}

func (f *fakeTransport) Connect(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Send(_ context.Context, env wire.Envelope) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return ErrNotConnected
	}
	if f.failSends > 0 {
		f.failSends--
		f.mu.Unlock()
		return errors.New("write failed")
	}
	f.sent = append(f.sent, env)
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		return hook(env)
	}
	return nil
}

func (f *fakeTransport) Events() <-chan wire.Envelope {
	return f.events
}

func (f *fakeTransport) Disconnects() <-chan Disconnect {
	return f.disconnects
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	wasConnected := f.connected
	f.connected = false
	f.mu.Unlock()

	if wasConnected {
		f.disconnects <- Disconnect{Reason: ReasonClientInitiated}
	}
	return nil
}

// dropConnection simulates the network dying under an established
// connection.
func (f *fakeTransport) dropConnection(d Disconnect) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.disconnects <- d
}

func (f *fakeTransport) setConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

func (f *fakeTransport) setConnectErr(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakeTransport) sentEnvelopes() []wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Envelope(nil), f.sent...)
}

func (f *fakeTransport) sentOfType(t wire.EventType) []wire.Envelope {
	var matched []wire.Envelope
	for _, env := range f.sentEnvelopes() {
		if env.Type == t {
			matched = append(matched, env)
		}
	}
	return matched
}
