// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package queue

import (
	"fmt"
	"sync"
)

// Router fans outbound commands to the per-server command queues. Producers
// (dispatcher handlers, API actions, the announcement manager) address a
// server by ID; each server's command session is the sole consumer of its
// queue.
type Router struct {
	mu     sync.RWMutex
	queues map[string]*Queue[string]
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{queues: make(map[string]*Queue[string])}
}

// Register creates and returns the command queue for a server. Registering
// the same ID again returns the existing queue.
func (r *Router) Register(serverID string) *Queue[string] {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[serverID]
	if !ok {
		q = New[string]()
		r.queues[serverID] = q
	}
	return q
}

// Send enqueues a command for a server.
func (r *Router) Send(serverID, command string) error {
	r.mu.RLock()
	q, ok := r.queues[serverID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("queue: no command queue for server %q", serverID)
	}
	q.Enqueue(command)
	return nil
}

// Close closes every registered queue.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queues {
		q.Close()
	}
}
