// Package queue holds the FIFO of field identifiers a fetch run drains.
package queue

import "errors"

var (
	// ErrEmpty is returned by Front and Pop on an empty queue.
	ErrEmpty = errors.New("field queue is empty")

	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("field queue is closed")
)

// FieldQueue is a FIFO of field identifiers. Consumers peek with Front,
// process the field, then Pop it, so a field being processed stays at the
// front until it is done.
type FieldQueue interface {
	// Enqueue appends ids in order.
	Enqueue(ids ...string) error
	// Front returns the oldest id without removing it.
	Front() (string, error)
	// Pop removes and returns the oldest id.
	Pop() (string, error)
	// Len returns the number of queued ids.
	Len() int
	// Close releases the queue.
	Close() error
}
