package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/uncharted-causemos/dque"
)

const queueSegmentSize = 500

// fieldItem is the on-disk representation of a queued id.
type fieldItem struct {
	ID string
}

func fieldItemBuilder() interface{} {
	return &fieldItem{}
}

// PersistedQueue is a FieldQueue stored on disk with dque. Reopening the
// same directory resumes an interrupted run at the field it stopped on.
type PersistedQueue struct {
	queue *dque.DQue
	mutex sync.Mutex
}

// OpenPersistedQueue opens the queue name under dir, creating it if needed.
func OpenPersistedQueue(dir, name string) (*PersistedQueue, error) {
	var (
		q   *dque.DQue
		err error
	)

	if _, statErr := os.Stat(filepath.Join(dir, name)); statErr != nil {
		if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("stat field queue %s/%s: %w", dir, name, statErr)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create field queue dir %s: %w", dir, err)
		}
		q, err = dque.New(name, dir, queueSegmentSize, fieldItemBuilder)
		if err != nil {
			return nil, fmt.Errorf("initialize field queue %s/%s: %w", dir, name, err)
		}
	} else {
		q, err = dque.Open(name, dir, queueSegmentSize, fieldItemBuilder)
		if err != nil {
			return nil, fmt.Errorf("load field queue %s/%s: %w", dir, name, err)
		}
	}

	return &PersistedQueue{queue: q}, nil
}

// Enqueue appends ids to the persisted queue.
func (q *PersistedQueue) Enqueue(ids ...string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for _, id := range ids {
		if err := q.queue.Enqueue(&fieldItem{ID: id}); err != nil {
			return fmt.Errorf("enqueue field %s: %w", id, q.translate(err))
		}
	}
	return nil
}

// Front returns the oldest id without removing it.
func (q *PersistedQueue) Front() (string, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	item, err := q.queue.Peek()
	if err != nil {
		return "", q.translate(err)
	}
	return item.(*fieldItem).ID, nil
}

// Pop removes the oldest id.
func (q *PersistedQueue) Pop() (string, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	item, err := q.queue.Dequeue()
	if err != nil {
		return "", q.translate(err)
	}
	return item.(*fieldItem).ID, nil
}

// Len returns the current size of the queue.
func (q *PersistedQueue) Len() int {
	return q.queue.Size()
}

// Close flushes state to disk and disallows any further operations.
func (q *PersistedQueue) Close() error {
	if err := q.queue.Close(); err != nil {
		return fmt.Errorf("close field queue: %w", q.translate(err))
	}
	return nil
}

func (q *PersistedQueue) translate(err error) error {
	switch {
	case errors.Is(err, dque.ErrEmpty):
		return ErrEmpty
	case errors.Is(err, dque.ErrQueueClosed):
		return ErrClosed
	default:
		return err
	}
}
