package ssehub_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zane-analytics/meta-ads-mcp/internal/ssehub"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRegisterAndUnregister(t *testing.T) {
	hub := ssehub.NewHub()
	go hub.Run()

	conn := hub.NewConnection("tok-1")
	assert.Contains(t, conn.ID, "conn_")

	hub.Register(conn)
	waitFor(t, func() bool { return hub.ConnectionCount() == 1 })
	assert.True(t, hub.HasActiveConnections("tok-1"))

	hub.Unregister(conn)
	waitFor(t, func() bool { return hub.ConnectionCount() == 0 })
	assert.False(t, hub.HasActiveConnections("tok-1"))

	// The send channel is closed on unregister.
	_, open := <-conn.Send
	assert.False(t, open)
}

func TestBroadcastReachesAllSessionStreams(t *testing.T) {
	hub := ssehub.NewHub()
	go hub.Run()

	a := hub.NewConnection("tok-1")
	b := hub.NewConnection("tok-1")
	other := hub.NewConnection("tok-2")
	hub.Register(a)
	hub.Register(b)
	hub.Register(other)
	waitFor(t, func() bool { return hub.ConnectionCount() == 3 })

	hub.Broadcast("tok-1", []byte(`{"id":1}`))

	for _, conn := range []*ssehub.Connection{a, b} {
		select {
		case data := <-conn.Send:
			assert.Equal(t, `{"id":1}`, string(data))
		case <-time.After(2 * time.Second):
			t.Fatalf("no frame delivered to %s", conn.ID)
		}
	}

	select {
	case data := <-other.Send:
		t.Fatalf("frame leaked across sessions: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastPreservesOrder(t *testing.T) {
	hub := ssehub.NewHub()
	go hub.Run()

	conn := hub.NewConnection("tok-1")
	hub.Register(conn)
	waitFor(t, func() bool { return hub.ConnectionCount() == 1 })

	hub.Broadcast("tok-1", []byte("first"))
	hub.Broadcast("tok-1", []byte("second"))
	hub.Broadcast("tok-1", []byte("third"))

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case data := <-conn.Send:
			got = append(got, string(data))
		case <-time.After(2 * time.Second):
			t.Fatal("frame not delivered")
		}
	}
	require.Equal(t, []string{"first", "second", "third"}, got)
}

func TestBroadcastToUnknownSessionIsDropped(t *testing.T) {
	hub := ssehub.NewHub()
	go hub.Run()

	// Nothing to deliver to; must not panic or block.
	hub.Broadcast("nobody", []byte("x"))
	assert.Equal(t, 0, hub.ConnectionCount())
}
