package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func receive(t *testing.T, conn *Connection) ([]byte, bool) {
	t.Helper()
	select {
	case data, ok := <-conn.Send:
		return data, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil, false
	}
}

func TestBroadcastReachesSessionSubscribersOnly(t *testing.T) {
	h := startHub(t)

	a := h.NewConnection(nil, "s1")
	b := h.NewConnection(nil, "s2")
	h.Register(a)
	h.Register(b)

	require.NoError(t, h.BroadcastJSON("s1", map[string]string{"type": "tool_call_done"}))

	data, ok := receive(t, a)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"tool_call_done"}`, string(data))

	select {
	case <-b.Send:
		t.Fatal("subscriber of another session received the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	h := startHub(t)
	conn := h.NewConnection(nil, "s1")
	h.Register(conn)
	h.Unregister(conn)

	_, ok := receive(t, conn)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.False(t, h.HasSubscribers("s1"))
}

func TestCloseSessionDisconnectsSubscribers(t *testing.T) {
	h := startHub(t)
	a := h.NewConnection(nil, "s1")
	b := h.NewConnection(nil, "s1")
	h.Register(a)
	h.Register(b)
	require.True(t, h.HasSubscribers("s1"))

	h.CloseSession("s1")

	_, ok := receive(t, a)
	assert.False(t, ok)
	_, ok = receive(t, b)
	assert.False(t, ok)
}

func TestRunClosesConnectionsOnShutdown(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	conn := h.NewConnection(nil, "s1")
	h.Register(conn)
	cancel()
	<-done

	_, ok := <-conn.Send
	assert.False(t, ok)
	assert.Equal(t, 0, h.ConnectionCount())
}

func TestSendToConnectionReportsFullBuffer(t *testing.T) {
	h := NewHub(nil)
	conn := h.NewConnection(nil, "s1")
	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, h.SendToConnection(conn, []byte("x")))
	}
	assert.ErrorIs(t, h.SendToConnection(conn, []byte("x")), ErrBufferFull)
}

func TestCloseSessionDeliversPendingMessagesFirst(t *testing.T) {
	h := startHub(t)
	conn := h.NewConnection(nil, "s1")
	h.Register(conn)

	h.Broadcast("s1", []byte(`{"type":"session_closed"}`))
	h.CloseSession("s1")

	data, ok := receive(t, conn)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"session_closed"}`, string(data))
	_, ok = receive(t, conn)
	assert.False(t, ok)
}

func TestRegisterAfterShutdownClosesConnection(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	conn := h.NewConnection(nil, "s1")
	h.Register(conn)
	_, ok := <-conn.Send
	assert.False(t, ok)
	h.Unregister(conn)
}
