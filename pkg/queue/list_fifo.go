package queue

import (
	"container/list"
	"sync"
)

// ListQueue is an in-memory FieldQueue based on a doubly linked list.
type ListQueue struct {
	queue  *list.List
	closed bool
	mutex  sync.RWMutex
}

// NewListQueue creates a queue holding ids in order.
func NewListQueue(ids ...string) *ListQueue {
	q := &ListQueue{queue: list.New()}
	for _, id := range ids {
		q.queue.PushBack(id)
	}
	return q
}

// Enqueue adds ids to the back of the queue.
func (q *ListQueue) Enqueue(ids ...string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return ErrClosed
	}
	for _, id := range ids {
		q.queue.PushBack(id)
	}
	return nil
}

// Front returns the oldest id.
func (q *ListQueue) Front() (string, error) {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	if q.closed {
		return "", ErrClosed
	}
	e := q.queue.Front()
	if e == nil {
		return "", ErrEmpty
	}
	return e.Value.(string), nil
}

// Pop removes the oldest id.
func (q *ListQueue) Pop() (string, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return "", ErrClosed
	}
	e := q.queue.Front()
	if e == nil {
		return "", ErrEmpty
	}
	q.queue.Remove(e)
	return e.Value.(string), nil
}

// Len returns the current size of the queue.
func (q *ListQueue) Len() int {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	return q.queue.Len()
}

// Close forbids further operations.
func (q *ListQueue) Close() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.closed = true
	return nil
}

// Snapshot returns the queued ids front to back.
func (q *ListQueue) Snapshot() []string {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	out := make([]string, 0, q.queue.Len())
	for e := q.queue.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}
