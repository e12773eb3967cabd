package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solo125812/st-voyageai-memory/internal/engine"
)

type fakeClient struct {
	send chan []byte
}

func (f *fakeClient) sendChannel() chan []byte { return f.send }
func (f *fakeClient) close() {}

func TestHub_PublishBroadcastsEvent(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	client := &fakeClient{send: make(chan []byte, 1)}
	hub.add(client)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(engine.Event{Type: engine.EventMemoriesCleared, EntityID: "aqua", Count: 3})

	select {
	case msg := <-client.send:
		assert.Contains(t, string(msg), `"type":"memories.cleared"`)
		assert.Contains(t, string(msg), `"entity_id":"aqua"`)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	slow := &fakeClient{send: make(chan []byte)}
	hub.add(slow)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(map[string]string{"type": "ping"})
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-slow.send
	assert.False(t, open)
}

func TestNewHub_OriginPatterns(t *testing.T) {
	hub := NewHub([]string{"http://localhost:8000", "https://tavern.example.com", "::bad"})
	defer hub.Stop()

	assert.Equal(t, []string{"localhost:8000", "tavern.example.com"}, hub.originPatterns)
	assert.True(t, hub.allowedOrigins["http://localhost:8000"])
}
