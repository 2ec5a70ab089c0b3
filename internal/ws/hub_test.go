package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesRegisteredClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	c := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	at := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	hub.Publish(NewEvent(EventJobsUpdated, at, map[string]any{"new_jobs": 3}))

	select {
	case msg := <-c.send:
		var evt Event
		require.NoError(t, json.Unmarshal(msg, &evt))
		assert.Equal(t, EventJobsUpdated, evt.Type)
		assert.Equal(t, "2024-05-01T06:00:00Z", evt.Timestamp)
		assert.EqualValues(t, 3, evt.Data["new_jobs"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHub_NilIsSafe(t *testing.T) {
	var h *Hub
	h.Publish(NewEvent(EventLinksChecked, time.Now(), nil))
	h.Broadcast([]byte("x"))
	assert.Equal(t, 0, h.ClientCount())
}
