package network

import "sync"

// queue is an unbounded FIFO of byte buffers with a wakeup channel for a
// single consumer.
type queue struct {
	mu     sync.Mutex
	items  [][]byte
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(b []byte) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return b, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ready fires after a push. The consumer must pop until empty before waiting
// on it again.
func (q *queue) ready() <-chan struct{} {
	return q.signal
}
