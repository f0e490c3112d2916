package session

import (
	"errors"
	"strings"
)

// Sentinel errors for fast equality checks with errors.Is.
var (
	// ErrAuthFailed is fatal: the session needs new credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotConnected is returned for sends attempted without an
	// established connection.
	ErrNotConnected = errors.New("transport is not connected")

	// ErrMaxAttempts is returned when the reconnection attempt cap has
	// been reached and the cool-down has not elapsed.
	ErrMaxAttempts = errors.New("maximum reconnection attempts reached")

	// ErrSessionExists is returned when a non-terminal session already
	// exists for the identity.
	ErrSessionExists = errors.New("session already exists for identity")

	// ErrDeliveryFailed marks a message that exhausted its attempts.
	ErrDeliveryFailed = errors.New("message delivery failed")

	// ErrShuttingDown is returned for operations on a closed controller.
	ErrShuttingDown = errors.New("session is shutting down")
)

// FailureClass routes a disconnect or connect error into the retry policy.
type FailureClass int

const (
	// ClassNetwork covers transport-level failures; retried with the
	// shorter delay cap.
	ClassNetwork FailureClass = iota

	// ClassServer covers gateway-reported failures; retried with the
	// longer delay cap.
	ClassServer

	// ClassAuth is fatal: no retry, new credentials required.
	ClassAuth

	// ClassServerInitiated is a deliberate disconnect by the gateway;
	// never retried automatically.
	ClassServerInitiated

	// ClassClientInitiated is a deliberate local disconnect; never
	// retried automatically.
	ClassClientInitiated

	// ClassManual marks a user-requested reconnect.
	ClassManual
)

func (c FailureClass) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassServer:
		return "server"
	case ClassAuth:
		return "auth"
	case ClassServerInitiated:
		return "server_initiated"
	case ClassClientInitiated:
		return "client_initiated"
	case ClassManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Retryable reports whether the class feeds the reconnection scheduler.
func (c FailureClass) Retryable() bool {
	switch c {
	case ClassNetwork, ClassServer, ClassManual:
		return true
	default:
		return false
	}
}

// Disconnect reasons produced by transports for deliberate closures.
const (
	ReasonClientInitiated = "client_initiated"
	ReasonServerInitiated = "server_initiated"
)

// authPatterns flag a disconnect reason as an authorization failure.
//
//nolint:gochecknoglobals // Classification table, read-only after init
var authPatterns = []string{
	"auth",
	"unauthorized",
	"forbidden",
	"credential",
	"401",
	"403",
}

// ClassifyDisconnect maps a transport disconnect onto the retry taxonomy.
// Deliberate closures never retry, authorization patterns are fatal, and
// everything else is treated as a network failure.
func ClassifyDisconnect(d Disconnect) FailureClass {
	reason := strings.ToLower(d.Reason)
	if d.Err != nil {
		reason += " " + strings.ToLower(d.Err.Error())
	}

	for _, pattern := range authPatterns {
		if strings.Contains(reason, pattern) {
			return ClassAuth
		}
	}

	switch d.Reason {
	case ReasonClientInitiated:
		return ClassClientInitiated
	case ReasonServerInitiated:
		return ClassServerInitiated
	}

	if strings.Contains(reason, "server error") || strings.Contains(reason, "internal error") {
		return ClassServer
	}

	return ClassNetwork
}
