package session

import (
	"sync"
	"time"

	"github.com/antinvestor/chat-client/internal/resilience"
)

// SchedulerConfig tunes the reconnection scheduler.
type SchedulerConfig struct {
	Policy resilience.Policy

	// NetworkCap bounds delays for network-class failures; DefaultCap
	// bounds everything else.
	NetworkCap time.Duration
	DefaultCap time.Duration

	// MaxAttempts is the consecutive failure budget, the initial
	// failure included. The MaxAttempts-th failure is terminal: no
	// further attempt is booked for it.
	MaxAttempts int

	// Cooldown is how long the attempt counter stays pinned after
	// terminal failure before the one-shot reset fires.
	Cooldown time.Duration
}

// DefaultSchedulerConfig returns the production reconnection tuning.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Policy:      resilience.DefaultPolicy(),
		NetworkCap:  30 * time.Second,
		DefaultCap:  time.Minute,
		MaxAttempts: 5,
		Cooldown:    5 * time.Minute,
	}
}

// ReconnectionScheduler owns the attempt counter and the single pending
// reconnection timer. At most one timer is ever pending: a new scheduling
// request always supersedes the prior one. The delay policy itself is
// pure (internal/resilience); this object adds the timer lifecycle.
type ReconnectionScheduler struct {
	cfg SchedulerConfig

	// authenticated is consulted at fire time; a timer that fires for
	// an identity that logged out resets instead of retrying.
	authenticated func() bool

	// onAttempt runs when a pending timer fires and the identity is
	// still authenticated.
	onAttempt func(attempt int, class FailureClass)

	// onFailed runs once when the failure budget is exhausted.
	onFailed func()

	// onReset runs when the scheduler returns to a clean state without
	// attempting: cool-down elapsed, or authentication lost at fire time.
	onReset func()

	mu         sync.Mutex
	attempts   int
	failed     bool
	timer      *time.Timer
	resetTimer *time.Timer
}

// NewReconnectionScheduler wires the scheduler callbacks. All callbacks
// run on timer goroutines and must not block.
func NewReconnectionScheduler(
	cfg SchedulerConfig,
	authenticated func() bool,
	onAttempt func(attempt int, class FailureClass),
	onFailed func(),
	onReset func(),
) *ReconnectionScheduler {
	return &ReconnectionScheduler{
		cfg:           cfg,
		authenticated: authenticated,
		onAttempt:     onAttempt,
		onFailed:      onFailed,
		onReset:       onReset,
	}
}

// capFor returns the delay bound for a failure class.
func (s *ReconnectionScheduler) capFor(class FailureClass) time.Duration {
	if class == ClassNetwork {
		return s.cfg.NetworkCap
	}
	return s.cfg.DefaultCap
}

// Schedule records one failure and books the next reconnection attempt,
// cancelling any pending timer. Once the failure count reaches
// MaxAttempts it returns ErrMaxAttempts instead: the scheduler enters
// terminal failure and books the one-shot counter reset, and no further
// attempt fires.
func (s *ReconnectionScheduler) Schedule(class FailureClass) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelTimerLocked()

	if s.failed {
		return 0, ErrMaxAttempts
	}

	s.attempts++
	if s.attempts >= s.cfg.MaxAttempts {
		s.enterFailedLocked()
		return 0, ErrMaxAttempts
	}

	attempt := s.attempts
	delay := s.cfg.Policy.Delay(attempt, s.capFor(class))
	s.timer = time.AfterFunc(delay, func() {
		s.fire(attempt, class)
	})
	return delay, nil
}

func (s *ReconnectionScheduler) fire(attempt int, class FailureClass) {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()

	if s.authenticated != nil && !s.authenticated() {
		// Identity logged out while the timer was pending; do not retry.
		s.Reset()
		if s.onReset != nil {
			s.onReset()
		}
		return
	}

	if s.onAttempt != nil {
		s.onAttempt(attempt, class)
	}
}

// enterFailedLocked pins the scheduler and books the cool-down reset.
func (s *ReconnectionScheduler) enterFailedLocked() {
	s.failed = true
	if s.resetTimer != nil {
		s.resetTimer.Stop()
	}
	s.resetTimer = time.AfterFunc(s.cfg.Cooldown, func() {
		s.Reset()
		if s.onReset != nil {
			s.onReset()
		}
	})
	if s.onFailed != nil {
		go s.onFailed()
	}
}

// Reset clears the attempt counter and cancels all pending timers.
func (s *ReconnectionScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
	s.failed = false
	s.cancelTimerLocked()
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}

// Stop cancels pending timers without clearing the attempt counter.
func (s *ReconnectionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimerLocked()
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}

func (s *ReconnectionScheduler) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Attempts returns the consecutive failure count.
func (s *ReconnectionScheduler) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Failed reports whether the attempt cap has been exceeded.
func (s *ReconnectionScheduler) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Pending reports whether a reconnection timer is currently booked.
func (s *ReconnectionScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
