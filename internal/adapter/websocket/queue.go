package websocket

import (
	"errors"
	"sync"
)

var (
	errQueueFull   = errors.New("send queue full of critical messages")
	errQueueClosed = errors.New("send queue closed")
)

type outbound struct {
	payload []byte
	// critical messages (responses, errors, notices) are never dropped.
	critical bool
}

type pushResult int

const (
	pushQueued pushResult = iota
	// pushReplaced means the oldest notification was dropped to make room.
	pushReplaced
	// pushDropped means the queue held only critical messages and the new
	// notification was discarded.
	pushDropped
)

// sendQueue is the bounded FIFO between a connection's producers and its
// writer goroutine.
type sendQueue struct {
	mu      sync.Mutex
	items   []outbound
	limit   int
	dropped int
	closed  bool
	ready   chan struct{}
}

func newSendQueue(limit int) *sendQueue {
	return &sendQueue{
		items: make([]outbound, 0, limit),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

func (q *sendQueue) push(item outbound) (pushResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return pushDropped, errQueueClosed
	}

	result := pushQueued
	if len(q.items) >= q.limit {
		idx := q.oldestNonCritical()
		switch {
		case idx >= 0:
			q.items = append(q.items[:idx], q.items[idx+1:]...)
			q.dropped++
			result = pushReplaced
		case !item.critical:
			q.dropped++
			q.signal()
			return pushDropped, nil
		default:
			return pushDropped, errQueueFull
		}
	}

	q.items = append(q.items, item)
	q.signal()
	return result, nil
}

// drain takes every queued message plus the number of notifications dropped
// since the last drain.
func (q *sendQueue) drain() ([]outbound, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	dropped := q.dropped
	q.items = make([]outbound, 0, q.limit)
	q.dropped = 0
	return items, dropped
}

func (q *sendQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *sendQueue) oldestNonCritical() int {
	for i, it := range q.items {
		if !it.critical {
			return i
		}
	}
	return -1
}

func (q *sendQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
