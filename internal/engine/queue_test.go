package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutual/internal/store"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()
	for i := int64(1); i <= 3; i++ {
		require.True(t, q.Enqueue(Event{Type: EventTypeChange, Change: store.Change{Seq: i}}))
	}
	assert.Equal(t, 3, q.Len())

	for i := int64(1); i <= 3; i++ {
		ev, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, ev.Change.Seq)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueue_CloseReleasesBarriers(t *testing.T) {
	q := newEventQueue()
	done := make(chan struct{})
	require.True(t, q.Enqueue(Event{Type: EventTypeBarrier, done: done}))

	q.Close()
	q.Close()

	_, open := <-done
	assert.False(t, open)
	assert.False(t, q.Enqueue(Event{Type: EventTypeChange}))
	_, open = <-q.Wait()
	assert.False(t, open)
}
