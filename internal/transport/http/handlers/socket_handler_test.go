package handlers

import (
	"encoding/json"
	"testing"

	"github.com/devault/backend/internal/core/tasks"
	"github.com/devault/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketHub_PublishToChannel(t *testing.T) {
	hub := NewSocketHub(logger.NewNop())
	a := hub.subscribe("android")
	b := hub.subscribe("android")
	other := hub.subscribe("ios")
	assert.Equal(t, 2, hub.Subscribers("android"))
	assert.NotEqual(t, a.id, b.id)

	hub.Publish("android", "task_response", tasks.Result{Command: "ping", Name: "t1", Success: true})

	for _, s := range []*subscriber{a, b} {
		require.Len(t, s.send, 1)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(<-s.send, &frame))
		assert.Equal(t, "task_response", frame["event"])
		data := frame["data"].(map[string]any)
		assert.Equal(t, "t1", data["name"])
		assert.Equal(t, true, data["success"])
	}
	assert.Empty(t, other.send)

	hub.unsubscribe(a)
	hub.unsubscribe(b)
	assert.Zero(t, hub.Subscribers("android"))
	hub.Publish("android", "task_response", nil)
}

func TestSocketHub_SlowSubscriberDropsFrames(t *testing.T) {
	hub := NewSocketHub(logger.NewNop())
	s := hub.subscribe("android")
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish("android", "task_response", i)
	}
	assert.Len(t, s.send, subscriberBuffer)
}
