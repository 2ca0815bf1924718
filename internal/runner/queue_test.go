package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineQueueFIFO(t *testing.T) {
	q := newLineQueue(10)

	assert.True(t, q.Enqueue("a"))
	assert.True(t, q.Enqueue("b"))
	assert.True(t, q.Enqueue("c"))
	assert.Equal(t, 3, q.Len())

	line, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", line)
	line, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "b", line)
	line, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "c", line)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestLineQueueShedsOldestWhenFull(t *testing.T) {
	q := newLineQueue(2)

	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, int64(1), q.Dropped())

	line, _ := q.TryDequeue()
	assert.Equal(t, "b", line)
	line, _ = q.TryDequeue()
	assert.Equal(t, "c", line)
}

func TestLineQueueClosedRejectsEnqueue(t *testing.T) {
	q := newLineQueue(10)
	q.Enqueue("a")
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue("b"))

	// Already-queued lines stay readable after close.
	line, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", line)
}

func TestLineQueueCloseIsIdempotent(t *testing.T) {
	q := newLineQueue(10)
	q.Close()
	q.Close()
	assert.True(t, q.Closed())
}

func TestLineQueueSignalCoalesces(t *testing.T) {
	q := newLineQueue(10)
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("expected coalesced signal, got a second one")
	default:
	}
}

func TestLineQueueWaitWakesOnClose(t *testing.T) {
	q := newLineQueue(10)
	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()
	q.Close()
	<-done
}

func TestLineQueueDefaultCapacity(t *testing.T) {
	q := newLineQueue(0)
	assert.Equal(t, defaultQueueCapacity, q.max)
}
