// Package unboundedchan provides a FIFO queue whose two ends are channels, so a producer
// never blocks on a slow consumer.
package unboundedchan

import "sync"

// Queue is a FIFO queue entered via Send and drained via the Out channel. With a limit of 0
// it grows without bound; otherwise the oldest items are dropped to keep at most limit queued.
// Beware! You almost certainly want T to be a small type; use pointers for large objects.
type Queue[T any] struct {
	in      chan T
	out     chan T
	queue   []T
	limit   int
	dropped int

	sync.RWMutex // guards closed against Send
	closed       bool
	droppedLock  sync.Mutex
}

// New creates and starts a Queue holding at most limit items (0 means no limit).
func New[T any](limit int) *Queue[T] {
	q := &Queue[T]{
		in:    make(chan T),
		out:   make(chan T),
		limit: limit,
	}
	go q.run()
	return q
}

func (q *Queue[T]) push(val T) {
	q.queue = append(q.queue, val)
	if q.limit > 0 && len(q.queue) > q.limit {
		q.queue = q.queue[1:]
		q.droppedLock.Lock()
		q.dropped++
		q.droppedLock.Unlock()
	}
}

func (q *Queue[T]) run() {
	for {
		if len(q.queue) == 0 {
			val, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			q.push(val)
			continue
		}
		select {
		case q.out <- q.queue[0]:
			q.queue = q.queue[1:]
		case val, ok := <-q.in:
			if !ok {
				// Deliver what is still queued, then close the output.
				for _, item := range q.queue {
					q.out <- item
				}
				close(q.out)
				return
			}
			q.push(val)
		}
	}
}

// Send enqueues val. It reports false, and does nothing, once the queue is closed.
func (q *Queue[T]) Send(val T) bool {
	q.RLock()
	defer q.RUnlock()
	if q.closed {
		return false
	}
	q.in <- val
	return true
}

// Out returns the channel from which queued items are received. It is closed after Close
// once every queued item has been received.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Close stops accepting new items. Safe to call more than once.
func (q *Queue[T]) Close() {
	q.Lock()
	defer q.Unlock()
	if !q.closed {
		q.closed = true
		close(q.in)
	}
}

// Dropped returns how many items were discarded because the limit was reached.
func (q *Queue[T]) Dropped() int {
	q.droppedLock.Lock()
	defer q.droppedLock.Unlock()
	return q.dropped
}
