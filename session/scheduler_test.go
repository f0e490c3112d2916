package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/antinvestor/chat-client/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Policy: resilience.Policy{
			Base:        5 * time.Millisecond,
			Multiplier:  2,
			MaxExponent: 6,
			Rand:        func() float64 { return 0 },
		},
		NetworkCap:  200 * time.Millisecond,
		DefaultCap:  400 * time.Millisecond,
		MaxAttempts: 5,
		Cooldown:    50 * time.Millisecond,
	}
}

func TestSchedulerDelaysGrow(t *testing.T) {
	s := NewReconnectionScheduler(testSchedulerConfig(), nil, nil, nil, nil)
	defer s.Stop()

	prev := time.Duration(0)
	for i := 0; i < 4; i++ {
		delay, err := s.Schedule(ClassNetwork)
		require.NoError(t, err)
		assert.Greater(t, delay, prev)
		prev = delay
	}
}

func TestSchedulerNetworkCapShorter(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.Policy.Base = 300 * time.Millisecond
	s := NewReconnectionScheduler(cfg, nil, nil, nil, nil)
	defer s.Stop()

	networkDelay, err := s.Schedule(ClassNetwork)
	require.NoError(t, err)
	assert.Equal(t, cfg.NetworkCap, networkDelay)

	s.Reset()

	serverDelay, err := s.Schedule(ClassServer)
	require.NoError(t, err)
	assert.Equal(t, 300*time.Millisecond, serverDelay)
}

func TestSchedulerAtMostOnePending(t *testing.T) {
	var fired atomic.Int32
	s := NewReconnectionScheduler(
		testSchedulerConfig(),
		func() bool { return true },
		func(int, FailureClass) { fired.Add(1) },
		nil, nil,
	)
	defer s.Stop()

	// Each Schedule supersedes the previous pending timer.
	for i := 0; i < 3; i++ {
		_, err := s.Schedule(ClassNetwork)
		require.NoError(t, err)
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestSchedulerTerminalFailureAfterMaxAttempts(t *testing.T) {
	failed := make(chan struct{}, 1)
	s := NewReconnectionScheduler(
		testSchedulerConfig(),
		func() bool { return true },
		func(int, FailureClass) {},
		func() { failed <- struct{}{} },
		nil,
	)
	defer s.Stop()

	// Four failures still leave retry budget.
	for i := 0; i < 4; i++ {
		_, err := s.Schedule(ClassNetwork)
		require.NoError(t, err)
	}

	// The fifth failure is terminal: no attempt is booked for it.
	_, err := s.Schedule(ClassNetwork)
	require.ErrorIs(t, err, ErrMaxAttempts)
	assert.True(t, s.Failed())
	assert.False(t, s.Pending())

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("terminal failure callback never ran")
	}

	// Pinned until the cool-down elapses.
	_, err = s.Schedule(ClassNetwork)
	require.ErrorIs(t, err, ErrMaxAttempts)
}

func TestSchedulerCooldownResets(t *testing.T) {
	reset := make(chan struct{}, 1)
	s := NewReconnectionScheduler(
		testSchedulerConfig(),
		func() bool { return true },
		func(int, FailureClass) {},
		nil,
		func() { reset <- struct{}{} },
	)
	defer s.Stop()

	for i := 0; i < 5; i++ {
		_, _ = s.Schedule(ClassNetwork)
	}
	require.True(t, s.Failed())

	select {
	case <-reset:
	case <-time.After(time.Second):
		t.Fatal("cool-down reset never fired")
	}
	assert.False(t, s.Failed())
	assert.Zero(t, s.Attempts())

	_, err := s.Schedule(ClassNetwork)
	require.NoError(t, err)
}

func TestSchedulerSkipsAttemptWhenLoggedOut(t *testing.T) {
	var attempted atomic.Int32
	reset := make(chan struct{}, 1)
	s := NewReconnectionScheduler(
		testSchedulerConfig(),
		func() bool { return false },
		func(int, FailureClass) { attempted.Add(1) },
		nil,
		func() { reset <- struct{}{} },
	)
	defer s.Stop()

	_, err := s.Schedule(ClassNetwork)
	require.NoError(t, err)

	select {
	case <-reset:
	case <-time.After(time.Second):
		t.Fatal("logged-out fire should reset, not retry")
	}
	assert.Zero(t, attempted.Load())
	assert.Zero(t, s.Attempts())
}

func TestSchedulerResetClearsEverything(t *testing.T) {
	var fired atomic.Int32
	s := NewReconnectionScheduler(
		testSchedulerConfig(),
		func() bool { return true },
		func(int, FailureClass) { fired.Add(1) },
		nil, nil,
	)
	defer s.Stop()

	_, err := s.Schedule(ClassNetwork)
	require.NoError(t, err)
	require.True(t, s.Pending())

	s.Reset()
	assert.False(t, s.Pending())
	assert.Zero(t, s.Attempts())

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
