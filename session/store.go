package session

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/util"
)

// TeardownReason says why a UI surface is letting go of its session.
type TeardownReason string

const (
	// TeardownUnmount is a real departure: the surface is gone and the
	// session should shut down.
	TeardownUnmount TeardownReason = "unmount"

	// TeardownLiveReload is a development-time remount; the session is
	// kept alive so the reloaded surface reattaches without a reconnect.
	TeardownLiveReload TeardownReason = "live_reload"
)

// PreservePolicy decides whether a session survives a teardown.
type PreservePolicy func(TeardownReason) bool

// DefaultPreservePolicy keeps sessions across live reloads only.
func DefaultPreservePolicy(reason TeardownReason) bool {
	return reason == TeardownLiveReload
}

// Store holds at most one live controller per identity so remounting UI
// surfaces reattach to the existing session instead of stacking a second
// connection for the same user.
type Store struct {
	preserve        PreservePolicy
	shutdownTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewStore creates an empty store. policy may be nil, in which case the
// default live-reload policy applies.
func NewStore(policy PreservePolicy) *Store {
	if policy == nil {
		policy = DefaultPreservePolicy
	}
	return &Store{
		preserve:        policy,
		shutdownTimeout: 10 * time.Second,
		sessions:        make(map[string]*Controller),
	}
}

// Get returns the live controller for an identity.
func (s *Store) Get(identity string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, ok := s.sessions[identity]
	return ctrl, ok
}

// Put registers a controller for an identity. An identity with a live
// controller already registered gets ErrSessionExists; a parked one
// (failed or auth-failed) is shut down and replaced.
func (s *Store) Put(ctx context.Context, identity string, ctrl *Controller) error {
	s.mu.Lock()
	existing, ok := s.sessions[identity]
	if ok {
		switch existing.State() {
		case StateFailed, StateAuthFailed:
			// Terminal; replaceable.
		default:
			s.mu.Unlock()
			return ErrSessionExists
		}
	}
	s.sessions[identity] = ctrl
	s.mu.Unlock()

	if ok {
		s.shutdown(ctx, identity, existing)
	}
	return nil
}

// GetOrCreate returns the live controller for an identity, building one
// with create when none is registered.
func (s *Store) GetOrCreate(identity string, create func() *Controller) *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctrl, ok := s.sessions[identity]; ok {
		return ctrl
	}
	ctrl := create()
	s.sessions[identity] = ctrl
	return ctrl
}

// Release lets go of an identity's session for the given reason. When
// the preserve policy keeps it, the controller stays registered and
// connected; otherwise it is shut down and removed.
func (s *Store) Release(ctx context.Context, identity string, reason TeardownReason) {
	if s.preserve(reason) {
		util.Log(ctx).WithFields(map[string]any{
			"identity": identity,
			"reason":   string(reason),
		}).Debug("preserving session across teardown")
		return
	}

	s.mu.Lock()
	ctrl, ok := s.sessions[identity]
	delete(s.sessions, identity)
	s.mu.Unlock()

	if ok {
		s.shutdown(ctx, identity, ctrl)
	}
}

// Close shuts down every registered session.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Controller)
	s.mu.Unlock()

	for identity, ctrl := range sessions {
		s.shutdown(ctx, identity, ctrl)
	}
}

// Len returns the number of registered sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) shutdown(ctx context.Context, identity string, ctrl *Controller) {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		util.Log(ctx).WithError(err).WithField("identity", identity).
			Warn("session shutdown incomplete")
	}
}
