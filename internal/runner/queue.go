package runner

import "sync"

// defaultQueueCapacity bounds how many lines can sit between the pipe
// reader and the drain loop before the oldest are shed.
const defaultQueueCapacity = 4096

// lineQueue is a thread-safe bounded FIFO for captured output lines.
//
// The pipe reader enqueues while the drain loop dequeues, so the drain
// loop stays free to poll the execution deadline instead of blocking on
// the pipe. The queue is bounded: a child that outruns the drain loop
// sheds the oldest lines rather than growing without limit, and the shed
// count is reported so the loss is visible.
//
// The signal channel enables context-aware waiting in the drain loop.
// It is buffered with size 1 so repeated enqueues coalesce into a single
// wakeup, and Close closes it to wake any blocked waiter.
type lineQueue struct {
	mu      sync.Mutex
	lines   []string
	max     int
	dropped int64
	closed  bool
	signal  chan struct{}
}

func newLineQueue(capacity int) *lineQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &lineQueue{
		lines:  make([]string, 0, 64),
		max:    capacity,
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a line to the back of the queue, shedding the oldest line
// when the queue is full. Returns false if the queue is closed.
func (q *lineQueue) Enqueue(line string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(q.lines) >= q.max {
		q.lines[0] = ""
		q.lines = q.lines[1:]
		q.dropped++
	}
	q.lines = append(q.lines, line)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front line without blocking.
func (q *lineQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.lines) == 0 {
		return "", false
	}
	line := q.lines[0]
	// Nil out the slot so the backing array does not retain the string.
	q.lines[0] = ""
	if len(q.lines) == 1 {
		q.lines = q.lines[:0]
	} else {
		q.lines = q.lines[1:]
	}
	return line, true
}

// Wait returns a channel that signals when lines may be available.
func (q *lineQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued lines.
func (q *lineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}

// Dropped returns how many lines were shed to stay within the bound.
func (q *lineQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Closed reports whether Close has been called.
func (q *lineQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close marks the queue as done; no more lines will be enqueued.
// Wakes any blocked waiter by closing the signal channel.
func (q *lineQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
