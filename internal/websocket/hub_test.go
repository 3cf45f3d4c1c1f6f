package websocket

import (
	"context"
	"testing"
	"time"

	"analytics-console/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestSendToUserReachesEveryConnection(t *testing.T) {
	hub := startHub(t)

	first := &Client{Hub: hub, UserID: "u1", Send: make(chan []byte, 4)}
	second := &Client{Hub: hub, UserID: "u1", Send: make(chan []byte, 4)}
	other := &Client{Hub: hub, UserID: "u2", Send: make(chan []byte, 4)}
	hub.register <- first
	hub.register <- second
	hub.register <- other
	require.Eventually(t, func() bool { return hub.ClientCount("u1") == 2 }, time.Second, 5*time.Millisecond)

	hub.SendToUser("u1", []byte(`{"type":"console_update"}`))

	assert.Equal(t, `{"type":"console_update"}`, string(<-first.Send))
	assert.Equal(t, `{"type":"console_update"}`, string(<-second.Send))
	assert.Len(t, other.Send, 0)
}

func TestFullBufferDropsConnection(t *testing.T) {
	hub := startHub(t)

	slow := &Client{Hub: hub, UserID: "u1", Send: make(chan []byte, 1)}
	hub.register <- slow
	require.Eventually(t, func() bool { return hub.ClientCount("u1") == 1 }, time.Second, 5*time.Millisecond)

	hub.SendToUser("u1", []byte("a"))
	hub.SendToUser("u1", []byte("b"))

	require.Eventually(t, func() bool { return hub.ClientCount("u1") == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "a", string(<-slow.Send))
	_, open := <-slow.Send
	assert.False(t, open)
}
