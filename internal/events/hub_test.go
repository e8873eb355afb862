package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversAndDropsWhenFull(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	require.Equal(t, 1, h.Subscribers())

	for i := 0; i < 15; i++ {
		Emit(h, TypeTickCompleted, map[string]int{"n": i})
	}
	assert.Len(t, ch, 10, "buffer holds 10, the rest are dropped")

	var e Event
	require.NoError(t, json.Unmarshal([]byte(<-ch), &e))
	assert.Equal(t, TypeTickCompleted, e.Type)
	assert.Equal(t, 1, e.Version)
	assert.JSONEq(t, `{"n":0}`, string(e.Data))

	h.Unsubscribe(ch)
	h.Unsubscribe(ch)
	assert.Zero(t, h.Subscribers())
}

func TestEmitNilPublisher(t *testing.T) {
	assert.NotPanics(t, func() { Emit(nil, TypeTickFailed, nil) })
}
