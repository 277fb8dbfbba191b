package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slotServer accepts websocket connections, acknowledges slotSubscribe, and
// pushes the given slots before closing the connection.
func slotServer(t *testing.T, slots []uint64, conns *atomic.Int32) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)

		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()

		// The client may hang up at any point once the test has what it
		// needs, so I/O errors just end the connection.
		var req request
		if err := wsjson.Read(ctx, c, &req); err != nil || req.Method != "slotSubscribe" {
			return
		}

		if err := wsjson.Write(ctx, c, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 7}); err != nil {
			return
		}

		for _, s := range slots {
			msg := map[string]any{
				"jsonrpc": "2.0",
				"method":  "slotNotification",
				"params": map[string]any{
					"result":       map[string]any{"slot": s, "parent": s - 1, "root": s - 32},
					"subscription": 7,
				},
			}
			if err := wsjson.Write(ctx, c, msg); err != nil {
				return
			}
		}

		c.Close(websocket.StatusNormalClosure, "done")
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSlotSubscriber_StreamsSlots(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32

	sub := NewSlotSubscriber(slotServer(t, []uint64{100, 101, 102}, &conns), "", testLogger(t))
	sub.sleepFunc = noopSleep

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := make(chan uint64, 3)
	done := make(chan error, 1)

	go func() { done <- sub.Run(ctx, out) }()

	var got []uint64
	for len(got) < 3 {
		select {
		case s := <-out:
			got = append(got, s)
		case <-ctx.Done():
			t.Fatal("timed out waiting for slots")
		}
	}

	assert.Equal(t, []uint64{100, 101, 102}, got)

	cancel()
	require.NoError(t, <-done)
}

func TestSlotSubscriber_Reconnects(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32

	sub := NewSlotSubscriber(slotServer(t, []uint64{5}, &conns), "", testLogger(t))
	sub.sleepFunc = noopSleep

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := make(chan uint64, 2)
	done := make(chan error, 1)

	go func() { done <- sub.Run(ctx, out) }()

	for range 2 {
		select {
		case s := <-out:
			assert.Equal(t, uint64(5), s)
		case <-ctx.Done():
			t.Fatal("timed out waiting for reconnect")
		}
	}

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestSlotSubscriber_FullChannelDoesNotStallSocket(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32

	slots := make([]uint64, 200)
	for i := range slots {
		slots[i] = uint64(1000 + i)
	}

	sub := NewSlotSubscriber(slotServer(t, slots, &conns), "", testLogger(t))
	sub.sleepFunc = noopSleep

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Nobody reads out: the subscriber must keep draining the socket, reach
	// the server's close, and reconnect.
	out := make(chan uint64, 1)
	done := make(chan error, 1)

	go func() { done <- sub.Run(ctx, out) }()

	require.Eventually(t, func() bool { return conns.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, uint64(1000), <-out, "the first slot fills the buffer, later ones are dropped")
}

func TestSlotSubscriber_StopsWhenSleepCanceled(t *testing.T) {
	t.Parallel()

	sub := NewSlotSubscriber("ws://127.0.0.1:1", "tok", testLogger(t))
	assert.Equal(t, "Bearer tok", sub.header.Get("Authorization"))

	var sleeps int
	sub.sleepFunc = func(context.Context, time.Duration) error {
		sleeps++
		return context.Canceled
	}

	require.NoError(t, sub.Run(context.Background(), make(chan uint64)))
	assert.Equal(t, 1, sleeps)
}

func TestWebsocketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://api.devnet.solana.com", "wss://api.devnet.solana.com"},
		{"http://127.0.0.1:8899", "ws://127.0.0.1:8900"},
		{"https://rpc.example.com/v1/key", "wss://rpc.example.com/v1/key"},
		{"wss://already.example.com", "wss://already.example.com"},
	}

	for _, tt := range tests {
		got, err := WebsocketURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := WebsocketURL("ftp://nope")
	assert.Error(t, err)
}
