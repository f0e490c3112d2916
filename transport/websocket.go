// Package transport carries the session's wire envelopes over a
// websocket to the chat gateway.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/antinvestor/chat-client/session"
	"github.com/antinvestor/chat-client/wire"
	"github.com/gorilla/websocket"
	"github.com/pitabwire/util"
)

// Config tunes the websocket transport.
type Config struct {
	// URL is the gateway websocket endpoint, ws:// or wss://.
	URL string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// EventBuffer sizes the inbound envelope channel.
	EventBuffer int

	// SendBurst and SendRatePerSec bound the write rate: a bucket of
	// SendBurst tokens refilling at SendRatePerSec.
	SendBurst      int
	SendRatePerSec float64
}

// DefaultConfig returns the production transport tuning for a URL.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		EventBuffer:      256,
		SendBurst:        100,
		SendRatePerSec:   50,
	}
}

// WebSocket is a session.Transport over one websocket connection at a
// time. The event and disconnect channels persist across reconnects, so
// the controller subscribes once.
type WebSocket struct {
	cfg     Config
	dialer  *websocket.Dialer
	limiter *tokenBucket

	events      chan wire.Envelope
	disconnects chan session.Disconnect

	// writeMu serializes frame writes; gorilla allows one writer.
	writeMu sync.Mutex

	mu             sync.Mutex
	conn           *websocket.Conn
	quit           chan struct{}
	closeRequested bool
}

// New builds a websocket transport. Nothing is dialed until Connect.
func New(cfg Config) *WebSocket {
	if cfg.SendBurst <= 0 || cfg.SendRatePerSec <= 0 {
		defaults := DefaultConfig(cfg.URL)
		cfg.SendBurst = defaults.SendBurst
		cfg.SendRatePerSec = defaults.SendRatePerSec
	}
	return &WebSocket{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		limiter:     newTokenBucket(cfg.SendBurst, cfg.SendRatePerSec),
		events:      make(chan wire.Envelope, cfg.EventBuffer),
		disconnects: make(chan session.Disconnect, 4),
	}
}

// Connect dials the gateway and opens the session by sending the
// session_start frame as the first message. The gateway answers with a
// connected event through the regular event stream.
func (w *WebSocket) Connect(ctx context.Context, identity string) error {
	w.mu.Lock()
	if w.conn != nil {
		w.mu.Unlock()
		return fmt.Errorf("connection already established")
	}
	w.mu.Unlock()

	conn, resp, err := w.dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("gateway rejected credentials (%d unauthorized): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", w.cfg.URL, err)
	}

	start, err := wire.NewEnvelope(wire.EventSessionStart, wire.SessionStart{
		Identity:  identity,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		_ = conn.Close()
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		return fmt.Errorf("open session: %w", err)
	}

	quit := make(chan struct{})
	w.mu.Lock()
	w.conn = conn
	w.quit = quit
	w.closeRequested = false
	w.mu.Unlock()

	util.Log(ctx).WithFields(map[string]any{
		"connection": util.IDString(),
		"url":        w.cfg.URL,
	}).Debug("connection established")

	go w.readLoop(conn, quit)
	return nil
}

// readLoop pumps inbound frames until the connection dies, then reports
// exactly one disconnect for it. A requested close releases the loop
// even when the event consumer has stalled with a full buffer.
func (w *WebSocket) readLoop(conn *websocket.Conn, quit <-chan struct{}) {
	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			w.finish(conn, err)
			return
		}
		select {
		case w.events <- env:
		case <-quit:
			w.finish(conn, nil)
			return
		}
	}
}

// finish translates the read error that ended a connection into a
// Disconnect and clears the connection slot.
func (w *WebSocket) finish(conn *websocket.Conn, err error) {
	w.mu.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	requested := w.closeRequested
	w.closeRequested = false
	w.mu.Unlock()

	_ = conn.Close()

	d := session.Disconnect{Err: err}
	switch {
	case requested:
		d = session.Disconnect{Reason: session.ReasonClientInitiated}
	default:
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			switch closeErr.Code {
			case websocket.CloseNormalClosure, websocket.CloseGoingAway:
				d = session.Disconnect{Reason: session.ReasonServerInitiated}
			default:
				// Keep the close text; disconnect classification reads
				// it for authorization failures.
				d = session.Disconnect{Reason: closeErr.Text, Err: err}
			}
		}
	}

	select {
	case w.disconnects <- d:
	default:
		util.Log(context.Background()).WithField("reason", d.Reason).
			Warn("dropping disconnect notification, consumer stalled")
	}
}

// Send writes one envelope to the current connection, pacing through the
// write rate limit.
func (w *WebSocket) Send(ctx context.Context, env wire.Envelope) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return session.ErrNotConnected
	}

	if err := w.limiter.wait(ctx); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}

	deadline := time.Now().Add(w.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Events delivers inbound envelopes in arrival order.
func (w *WebSocket) Events() <-chan wire.Envelope {
	return w.events
}

// Disconnects delivers one Disconnect per connection that ends.
func (w *WebSocket) Disconnects() <-chan session.Disconnect {
	return w.disconnects
}

// IsConnected reports whether a connection is currently established.
func (w *WebSocket) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

// Close tears the current connection down from the client side. The
// resulting disconnect is reported as client initiated.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	conn := w.conn
	w.closeRequested = conn != nil
	quit := w.quit
	w.quit = nil
	w.mu.Unlock()
	if conn == nil {
		return nil
	}
	if quit != nil {
		close(quit)
	}

	w.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	w.writeMu.Unlock()

	return conn.Close()
}
