package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antinvestor/chat-client/internal/telemetry"
	"github.com/antinvestor/chat-client/wire"
	"github.com/google/uuid"
	"github.com/pitabwire/util"
)

// Controller owns one chat session end to end: the transport, the
// reconnection scheduler, the heartbeat monitor, the outbound queue,
// presence, typing, and call signaling. Everything inbound flows through
// its single run loop; everything outbound goes through its transport.
// UI code talks to the Controller alone and subscribes to Events once.
type Controller struct {
	cfg       Config
	transport Transport

	scheduler *ReconnectionScheduler
	heartbeat *HeartbeatMonitor
	queue     *OutboundQueue
	presence  *PresenceTracker
	typing    *TypingCoordinator
	calls     *CallMachine

	runCtx    context.Context
	runCancel context.CancelFunc

	eventsMu     sync.Mutex
	events       chan Event
	eventsClosed bool

	mu            sync.Mutex
	identity      string
	state         State
	lastErr       error
	authenticated bool
	loopsStarted  bool
	closed        bool

	// forcedReason overrides the next transport disconnect reason. Set
	// before a deliberate close that must not classify as client
	// initiated, such as a heartbeat timeout.
	forcedReason string

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewController assembles a session controller around a transport. media
// may be nil; call signaling works without a media layer attached.
func NewController(cfg Config, transport Transport, media MediaSession) *Controller {
	runCtx, runCancel := context.WithCancel(context.Background())

	c := &Controller{
		cfg:        cfg,
		transport:  transport,
		runCtx:     runCtx,
		runCancel:  runCancel,
		events:     make(chan Event, cfg.EventBuffer),
		shutdownCh: make(chan struct{}),
	}

	c.scheduler = NewReconnectionScheduler(
		cfg.Scheduler,
		c.isAuthenticated,
		c.onReconnectAttempt,
		func() { c.setState(StateFailed, ErrMaxAttempts) },
		c.onSchedulerReset,
	)
	c.heartbeat = NewHeartbeatMonitor(
		cfg.HeartbeatInterval,
		cfg.HeartbeatGrace,
		c.onHeartbeatReply,
		c.onHeartbeatExpired,
	)
	c.queue = NewOutboundQueue(cfg.Queue, func(clientID string, err error) {
		c.emit(MessageFailed{ClientMessageID: clientID, Err: err})
	})
	c.presence = NewPresenceTracker()
	c.typing = NewTypingCoordinator(
		cfg.TypingDebounce,
		cfg.TypingExpiry,
		c.sendTypingSignal,
		func(conversationID string, identities []string) {
			c.emit(TypingChanged{ConversationID: conversationID, Identities: identities})
		},
	)
	c.calls = NewCallMachine(
		media,
		c.sendCallSignal,
		func(call Call) { c.emit(CallChanged{Call: call}) },
	)

	return c
}

// Events is the session's domain event stream. Subscribe once for the
// controller's lifetime; the channel closes on Shutdown.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// StartSession binds the controller to an identity and begins connecting.
// Idempotent for an identity whose session is already live. An identity
// stuck in auth failure needs new credentials and gets ErrAuthFailed.
// Starting a different identity tears the previous session down first.
func (c *Controller) StartSession(ctx context.Context, identity string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShuttingDown
	}

	if c.identity == identity {
		switch c.state {
		case StateConnecting, StateConnected, StateReconnecting:
			c.mu.Unlock()
			return nil
		case StateAuthFailed:
			c.mu.Unlock()
			return ErrAuthFailed
		}
	}

	replacing := c.identity != "" && c.identity != identity
	c.identity = identity
	c.authenticated = true
	startLoops := !c.loopsStarted
	c.loopsStarted = true
	c.mu.Unlock()

	if replacing {
		c.teardownSession()
	}

	if startLoops {
		c.wg.Add(2)
		go c.run()
		go c.cleanupLoop()
	}

	telemetry.SessionsStartedCounter.Add(ctx, 1)
	util.Log(ctx).WithField("identity", identity).Info("starting chat session")

	c.setState(StateConnecting, nil)
	c.goTracked(func() { c.connect(c.runCtx) })
	return nil
}

// teardownSession drops all per-identity state so a new identity starts
// from a clean slate.
func (c *Controller) teardownSession() {
	c.scheduler.Reset()
	c.heartbeat.Stop()
	c.typing.Stop()
	c.calls.Reset()
	c.presence.Reset()
	if c.transport.IsConnected() {
		_ = c.transport.Close()
	}
}

// connect performs one connection attempt. A successful dial keeps the
// session in the connecting state until the gateway's connected ack.
func (c *Controller) connect(ctx context.Context) {
	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()

	log := util.Log(ctx).WithField("identity", identity)

	if err := c.transport.Connect(ctx, identity); err != nil {
		class := ClassifyDisconnect(Disconnect{Err: err})
		if class == ClassAuth {
			log.WithError(err).Error("session authentication rejected")
			c.scheduler.Reset()
			c.setState(StateAuthFailed, errors.Join(ErrAuthFailed, err))
			return
		}
		log.WithError(err).Warn("connection attempt failed")
		c.scheduleRetry(class, err)
		return
	}
	// Socket is up; the gateway confirms the session with a connected
	// ack that arrives through the run loop.
}

// scheduleRetry books the next reconnection attempt for a retryable
// failure.
func (c *Controller) scheduleRetry(class FailureClass, cause error) {
	if !c.isAuthenticated() {
		return
	}
	c.setState(StateReconnecting, cause)

	delay, err := c.scheduler.Schedule(class)
	if err != nil {
		util.Log(c.runCtx).WithError(err).Warn("reconnection attempts exhausted")
		c.setState(StateFailed, ErrMaxAttempts)
		return
	}
	util.Log(c.runCtx).WithFields(map[string]any{
		"attempt": c.scheduler.Attempts(),
		"class":   class.String(),
		"delay":   delay.String(),
	}).Info("reconnection scheduled")
}

func (c *Controller) onReconnectAttempt(attempt int, class FailureClass) {
	telemetry.ReconnectAttemptsCounter.Add(c.runCtx, 1)
	util.Log(c.runCtx).WithFields(map[string]any{
		"attempt": attempt,
		"class":   class.String(),
	}).Info("attempting reconnection")
	c.connect(c.runCtx)
}

func (c *Controller) onSchedulerReset() {
	// Cool-down elapsed or authentication lost while a timer was
	// pending. A failed session becomes quietly disconnected; a manual
	// reconnect can now start a fresh attempt cycle.
	c.mu.Lock()
	failed := c.state == StateFailed
	c.mu.Unlock()
	if failed {
		c.setState(StateDisconnected, nil)
	}
}

// run is the single loop consuming everything the transport produces.
func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.shutdownCh:
			return
		case env, ok := <-c.transport.Events():
			if !ok {
				return
			}
			c.dispatch(env)
		case d, ok := <-c.transport.Disconnects():
			if !ok {
				return
			}
			c.handleDisconnect(d)
		}
	}
}

// cleanupLoop periodically prunes expired queue and pending entries.
func (c *Controller) cleanupLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.shutdownCh:
			return
		case <-ticker.C:
			c.queue.Prune(c.runCtx)
		}
	}
}

// dispatch routes one inbound envelope. Frames that fail boundary
// validation are logged and skipped; one bad frame never ends a session.
func (c *Controller) dispatch(env wire.Envelope) {
	payload, err := env.Decode()
	if err != nil {
		util.Log(c.runCtx).WithError(err).WithField("type", string(env.Type)).
			Warn("skipping undecodable event")
		return
	}

	switch p := payload.(type) {
	case wire.ConnectedAck:
		c.onConnected(p)

	case wire.Heartbeat:
		c.heartbeat.OnHeartbeat(p)

	case wire.HeartbeatReply:
		// The gateway initiates heartbeats; a reply inbound is noise.

	case wire.NewMessage:
		c.emit(MessageReceived{
			ConversationID: p.ConversationID,
			Sender:         p.Sender,
			Message:        p.Message,
		})

	case wire.MessageReceipt:
		if env.Type == wire.EventMessageDelivered {
			c.queue.MarkDelivered(p.ClientMessageID)
			c.emit(MessageDelivered{ClientMessageID: p.ClientMessageID, MessageID: p.MessageID})
		} else {
			c.emit(MessageRead{MessageID: p.MessageID, ConversationID: p.ConversationID})
		}

	case wire.TypingSignal:
		if env.Type == wire.EventUserTyping {
			c.typing.HandleRemoteTyping(p.ConversationID, p.Identity)
		} else {
			c.typing.HandleRemoteStopped(p.ConversationID, p.Identity)
		}

	case wire.PresenceUpdate:
		var changed bool
		if env.Type == wire.EventUserOnline {
			changed = c.presence.ApplyOnline(p.Identity)
		} else {
			changed = c.presence.ApplyOffline(p.Identity)
		}
		if changed {
			c.emit(PresenceChanged{Online: c.presence.Online()})
		}

	case wire.PresenceSnapshot:
		c.presence.ApplySnapshot(p.Users)
		c.emit(PresenceChanged{Online: c.presence.Online()})

	case wire.CallSignal:
		switch env.Type {
		case wire.EventCallInitiate:
			c.calls.HandleRemoteInvite(p)
		case wire.EventCallAnswer:
			c.calls.HandleRemoteAnswer(p)
		case wire.EventCallEnd, wire.EventCallReject:
			c.calls.HandleRemoteEnd(p)
		}

	case wire.CallMedia:
		c.calls.HandleMedia(env.Type, p)

	case wire.ServerError:
		util.Log(c.runCtx).WithFields(map[string]any{
			"code":    p.Code,
			"message": p.Message,
		}).Error("gateway reported an error")
	}
}

// onConnected finishes connection establishment once the gateway has
// confirmed the session.
func (c *Controller) onConnected(ack wire.ConnectedAck) {
	c.scheduler.Reset()
	c.setState(StateConnected, nil)
	c.heartbeat.Start()

	util.Log(c.runCtx).WithField("gateway", ack.GatewayID).Info("session established")

	// Request the authoritative presence snapshot; deltas racing it are
	// journaled by the tracker and replayed on top.
	c.presence.MarkSnapshotRequested()
	if env, err := wire.NewEnvelope(wire.EventGetOnline, nil); err == nil {
		if sendErr := c.transport.Send(c.runCtx, env); sendErr != nil {
			util.Log(c.runCtx).WithError(sendErr).Warn("presence snapshot request failed")
		}
	}

	c.goTracked(func() { c.queue.Flush(c.runCtx, c.transport) })
}

// handleDisconnect reacts to an established connection ending.
func (c *Controller) handleDisconnect(d Disconnect) {
	c.heartbeat.Stop()
	c.typing.Stop()

	c.mu.Lock()
	if c.forcedReason != "" {
		d.Reason = c.forcedReason
		c.forcedReason = ""
	}
	c.mu.Unlock()

	class := ClassifyDisconnect(d)
	log := util.Log(c.runCtx).WithFields(map[string]any{
		"reason": d.Reason,
		"class":  class.String(),
	})
	if d.Err != nil {
		log = log.WithError(d.Err)
	}
	log.Info("connection ended")

	switch class {
	case ClassAuth:
		c.scheduler.Reset()
		c.setState(StateAuthFailed, ErrAuthFailed)
	case ClassClientInitiated, ClassServerInitiated:
		c.scheduler.Reset()
		c.setState(StateDisconnected, nil)
	default:
		c.scheduleRetry(class, d.Err)
	}
}

func (c *Controller) onHeartbeatReply(reply wire.HeartbeatReply) {
	env, err := wire.NewEnvelope(wire.EventHeartbeatReply, reply)
	if err != nil {
		return
	}
	if sendErr := c.transport.Send(c.runCtx, env); sendErr != nil {
		util.Log(c.runCtx).WithError(sendErr).Debug("heartbeat reply failed")
	}
}

// onHeartbeatExpired treats a missed heartbeat window as a dead
// connection: force the socket closed and let the disconnect flow
// classify it as a network failure.
func (c *Controller) onHeartbeatExpired() {
	telemetry.HeartbeatTimeoutsCounter.Add(c.runCtx, 1)
	util.Log(c.runCtx).Warn("heartbeat window expired, forcing reconnect")

	c.mu.Lock()
	c.forcedReason = "heartbeat timeout"
	c.mu.Unlock()
	_ = c.transport.Close()
}

// SendMessage accepts an outbound message and returns its client message
// id. Connected sessions send directly; everything else, including a
// failed direct send, lands in the queue for the next connect. Accepting
// a message never fails while the controller is running.
func (c *Controller) SendMessage(ctx context.Context, conversationID, content string, attachments ...[]byte) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrShuttingDown
	}
	connected := c.state == StateConnected
	c.mu.Unlock()

	msg := wire.ChatMessage{
		ConversationID:  conversationID,
		Content:         content,
		ClientMessageID: uuid.NewString(),
	}
	for _, a := range attachments {
		msg.Attachments = append(msg.Attachments, a)
	}

	c.queue.Track(msg)

	if connected && c.transport.IsConnected() {
		env, err := wire.NewEnvelope(wire.EventSendMessage, msg)
		if err != nil {
			return "", err
		}
		if sendErr := c.transport.Send(ctx, env); sendErr == nil {
			telemetry.MessagesSentCounter.Add(ctx, 1)
			return msg.ClientMessageID, nil
		}
	}

	c.queue.Enqueue(msg)
	return msg.ClientMessageID, nil
}

// StartTyping signals local typing activity in a conversation.
func (c *Controller) StartTyping(conversationID string) {
	c.typing.StartTyping(conversationID)
}

// StopTyping ends the local typing signal for a conversation.
func (c *Controller) StopTyping(conversationID string) {
	c.typing.StopTyping(conversationID)
}

// TypingIn returns who is currently typing in a conversation.
func (c *Controller) TypingIn(conversationID string) []string {
	return c.typing.TypingIn(conversationID)
}

// OnlineUsers returns the reconciled online set.
func (c *Controller) OnlineUsers() []string {
	return c.presence.Online()
}

// InitiateCall starts an outgoing call and returns its snapshot.
func (c *Controller) InitiateCall(targetID, callType string) Call {
	return c.calls.Initiate(targetID, callType)
}

// AcceptCall answers an incoming ringing call.
func (c *Controller) AcceptCall(callID string) {
	c.calls.Accept(callID)
}

// RejectCall declines an incoming ringing call.
func (c *Controller) RejectCall(callID string) {
	c.calls.Reject(callID)
}

// HangupCall ends a call. Idempotent.
func (c *Controller) HangupCall(callID string) {
	c.calls.Hangup(callID)
}

// Reconnect is the user-requested retry. It clears the failure counter,
// so a session parked in the failed state gets a fresh attempt cycle
// immediately instead of waiting out the cool-down.
func (c *Controller) Reconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShuttingDown
	}
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.identity == "" {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.authenticated = true
	c.mu.Unlock()

	c.scheduler.Reset()
	c.setState(StateConnecting, nil)
	c.goTracked(func() { c.connect(c.runCtx) })
	return nil
}

// Disconnect deliberately ends the session from the client side. No
// reconnection is attempted.
func (c *Controller) Disconnect() {
	c.scheduler.Reset()
	c.heartbeat.Stop()
	c.typing.Stop()
	if c.transport.IsConnected() {
		// The transport reports the closure; the disconnect flow
		// classifies it as client initiated and parks the session.
		_ = c.transport.Close()
		return
	}
	c.setState(StateDisconnected, nil)
}

// Stats is a point-in-time snapshot of the session.
type Stats struct {
	Identity          string
	State             State
	ReconnectAttempts int
	QueuedMessages    int
	PendingMessages   int
	OnlineUsers       int
	LiveCalls         int
	LastHeartbeat     time.Time
}

// Stats snapshots the session's observable state.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	identity := c.identity
	state := c.state
	c.mu.Unlock()

	return Stats{
		Identity:          identity,
		State:             state,
		ReconnectAttempts: c.scheduler.Attempts(),
		QueuedMessages:    c.queue.Len(),
		PendingMessages:   c.queue.PendingLen(),
		OnlineUsers:       len(c.presence.Online()),
		LiveCalls:         c.calls.Len(),
		LastHeartbeat:     c.heartbeat.LastBeat(),
	}
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error behind the most recent state transition.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Shutdown tears the controller down: timers cancelled, transport
// closed, background goroutines drained within the context deadline,
// event channel closed. Safe to call more than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	var err error
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.authenticated = false
		c.mu.Unlock()

		c.scheduler.Stop()
		c.heartbeat.Stop()
		c.typing.Stop()
		c.calls.Reset()

		close(c.shutdownCh)
		_ = c.transport.Close()
		c.runCancel()

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("session shutdown timed out: %w", ctx.Err())
		}

		c.setState(StateDisconnected, nil)

		c.eventsMu.Lock()
		c.eventsClosed = true
		close(c.events)
		c.eventsMu.Unlock()

		util.Log(ctx).Info("session controller stopped")
	})
	return err
}

func (c *Controller) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Controller) setState(next State, err error) {
	c.mu.Lock()
	old := c.state
	if old == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.lastErr = err
	if next == StateAuthFailed {
		c.authenticated = false
	}
	c.mu.Unlock()

	util.Log(c.runCtx).WithFields(map[string]any{
		"from": old.String(),
		"to":   next.String(),
	}).Info("session state changed")
	c.emit(StatusChanged{Old: old, New: next, Err: err})
}

// emit publishes a domain event without ever blocking the session path.
// A subscriber that falls behind loses events, with a warning.
func (c *Controller) emit(ev Event) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		util.Log(c.runCtx).WithField("event", fmt.Sprintf("%T", ev)).
			Warn("dropping session event, subscriber too slow")
	}
}

// goTracked runs fn on a goroutine counted by the shutdown wait group.
func (c *Controller) goTracked(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Controller) sendTypingSignal(kind wire.EventType, sig wire.TypingSignal) {
	if !c.transport.IsConnected() {
		return
	}
	env, err := wire.NewEnvelope(kind, sig)
	if err != nil {
		return
	}
	if sendErr := c.transport.Send(c.runCtx, env); sendErr != nil {
		util.Log(c.runCtx).WithError(sendErr).Debug("typing signal failed")
	}
}

func (c *Controller) sendCallSignal(kind wire.EventType, sig wire.CallSignal) {
	env, err := wire.NewEnvelope(kind, sig)
	if err != nil {
		return
	}
	if sendErr := c.transport.Send(c.runCtx, env); sendErr != nil {
		util.Log(c.runCtx).WithError(sendErr).WithField("call", sig.CallID).
			Warn("call signal failed")
	}
}
