package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDisconnect(t *testing.T) {
	cases := []struct {
		name string
		d    Disconnect
		want FailureClass
	}{
		{"bare network error", Disconnect{Err: errors.New("read tcp: connection reset by peer")}, ClassNetwork},
		{"empty disconnect", Disconnect{}, ClassNetwork},
		{"client initiated", Disconnect{Reason: ReasonClientInitiated}, ClassClientInitiated},
		{"server initiated", Disconnect{Reason: ReasonServerInitiated}, ClassServerInitiated},
		{"server error text", Disconnect{Reason: "server error"}, ClassServer},
		{"internal error text", Disconnect{Err: errors.New("internal error: shard unavailable")}, ClassServer},
		{"auth in reason", Disconnect{Reason: "authentication required"}, ClassAuth},
		{"unauthorized in error", Disconnect{Err: errors.New("handshake rejected: unauthorized")}, ClassAuth},
		{"forbidden", Disconnect{Reason: "Forbidden"}, ClassAuth},
		{"status 401", Disconnect{Err: errors.New("websocket: bad handshake: 401")}, ClassAuth},
		{"status 403", Disconnect{Reason: "closed with 403"}, ClassAuth},
		{"credential text", Disconnect{Reason: "invalid credentials"}, ClassAuth},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyDisconnect(tc.d))
		})
	}
}

func TestFailureClassRetryable(t *testing.T) {
	assert.True(t, ClassNetwork.Retryable())
	assert.True(t, ClassServer.Retryable())
	assert.True(t, ClassManual.Retryable())
	assert.False(t, ClassAuth.Retryable())
	assert.False(t, ClassClientInitiated.Retryable())
	assert.False(t, ClassServerInitiated.Retryable())
}

func TestFailureClassStrings(t *testing.T) {
	assert.Equal(t, "network", ClassNetwork.String())
	assert.Equal(t, "auth", ClassAuth.String())
	assert.Equal(t, "unknown", FailureClass(99).String())
}
