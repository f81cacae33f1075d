// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package queue provides the unbounded FIFO queues that connect command
// producers to the per-server command sessions and inbound readers to the
// dispatcher.
//
// Ordering is the correctness mechanism for this controller: commands must
// reach the server in submission order, and responses must be applied to
// the state registry in arrival order. Both queues are therefore strict
// multi-producer, single-consumer FIFOs with no priorities, no batching and
// no drops.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Dequeue after Close once the queue has drained.
var ErrClosed = errors.New("queue: closed")

// Queue is an unbounded multi-producer, single-consumer FIFO. Enqueue never
// blocks; Dequeue blocks until an item arrives, the context is cancelled or
// the queue is closed and drained.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// notify wakes the single consumer. Capacity one is enough: the
	// consumer re-checks the slice under the lock after every wake.
	notify chan struct{}
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Enqueue appends an item. Enqueue on a closed queue is a no-op so that
// producers racing a shutdown need no coordination.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the oldest item. It blocks until an item is
// available. A cancelled context returns ctx.Err(); a closed and drained
// queue returns ErrClosed. Items enqueued before Close are still delivered.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.notify:
		}
	}
}

// TryDequeue removes and returns the oldest item without blocking.
func (q *Queue[T]) TryDequeue() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards all queued items.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Close marks the queue closed. Queued items remain dequeueable; once the
// queue drains, Dequeue returns ErrClosed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
