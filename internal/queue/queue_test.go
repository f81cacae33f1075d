// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	q := New[string]()
	q.Enqueue("first")
	q.Enqueue("second")
	q.Enqueue("third")

	ctx := context.Background()
	for _, want := range []string{"first", "second", "third"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if got != want {
			t.Fatalf("Dequeue() = %q, want %q", got, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New[int]()
	done := make(chan int, 1)

	go func() {
		v, err := q.Dequeue(context.Background())
		if err != nil {
			return
		}
		done <- v
	}()

	// Give the consumer time to park before producing.
	time.Sleep(20 * time.Millisecond)
	q.Enqueue(42)

	select {
	case v := <-done:
		if v != 42 {
			t.Fatalf("Dequeue() = %d, want 42", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dequeue() did not wake after Enqueue()")
	}
}

func TestDequeueContextCancel(t *testing.T) {
	q := New[string]()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Dequeue() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dequeue() did not return after cancel")
	}
}

func TestCloseDrainsBeforeErrClosed(t *testing.T) {
	q := New[string]()
	q.Enqueue("pending")
	q.Close()

	ctx := context.Background()
	got, err := q.Dequeue(ctx)
	if err != nil || got != "pending" {
		t.Fatalf("Dequeue() = %q, %v; want queued item", got, err)
	}

	_, err = q.Dequeue(ctx)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Dequeue() error = %v, want ErrClosed", err)
	}

	// Producers racing the shutdown are ignored, not panicked.
	q.Enqueue("late")
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after Enqueue on closed queue, want 0", q.Len())
	}
}

func TestTryDequeue(t *testing.T) {
	q := New[int]()
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("TryDequeue() on empty queue reported ok")
	}
	q.Enqueue(7)
	v, ok := q.TryDequeue()
	if !ok || v != 7 {
		t.Fatalf("TryDequeue() = %d, %v; want 7, true", v, ok)
	}
}

func TestClear(t *testing.T) {
	q := New[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", q.Len())
	}
}

func TestConcurrentProducersPreservePerProducerOrder(t *testing.T) {
	q := New[[2]int]()
	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue([2]int{p, i})
			}
		}(p)
	}
	wg.Wait()

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	ctx := context.Background()
	for i := 0; i < producers*perProducer; i++ {
		item, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		p, seq := item[0], item[1]
		if seq <= last[p] {
			t.Fatalf("producer %d: sequence %d after %d", p, seq, last[p])
		}
		last[p] = seq
	}
}
