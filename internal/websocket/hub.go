// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package websocket pushes player and server state changes to subscribed
// clients. The hub implements state.ChangeListener, so every registry
// mutation the dispatcher applies becomes an event on every connection.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/autolog/squeezebox-controller/internal/logging"
	"github.com/autolog/squeezebox-controller/internal/metrics"
	"github.com/autolog/squeezebox-controller/internal/state"
)

// Message types pushed to clients.
const (
	MessageTypePlayer       = "player"
	MessageTypeServer       = "server"
	MessageTypeAnnouncement = "announcement"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

// Message is the envelope for every event on the wire.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// AnnouncementEvent reports an announcement phase change.
type AnnouncementEvent struct {
	Timestamp string `json:"timestamp"`
	MasterMAC string `json:"master_mac"`
	Step      string `json:"step"`
	Queued    int    `json:"queued"`
}

// Hub maintains the set of active clients and fans events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// String names the hub in supervisor logs.
func (h *Hub) String() string { return "websocket-hub" }

// Serve runs the hub until the context is cancelled, closing every client
// on the way out. It implements suture.Service.
//
// Lifecycle events are drained before broadcasts so the client set is
// settled when a message fans out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// broadcastToClients fans a message out in client-id order. A client whose
// buffer is full is dropped; a consumer that slow is better off
// reconnecting than stalling everyone else.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		logging.Warn().Msg("websocket client dropped, send buffer full")
	}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketClients.Set(0)
	logging.Info().Int("clients_closed", len(clients)).Msg("websocket hub stopped")
}

func (h *Hub) enqueue(message Message) {
	select {
	case h.broadcast <- message:
		metrics.WebSocketEvents.WithLabelValues(message.Type).Inc()
	default:
		logging.Warn().Str("message_type", message.Type).Msg("broadcast channel full, dropping message")
	}
}

// PlayerChanged implements state.ChangeListener.
func (h *Hub) PlayerChanged(p *state.Player) {
	h.enqueue(Message{Type: MessageTypePlayer, Data: p})
}

// ServerChanged implements state.ChangeListener.
func (h *Hub) ServerChanged(s *state.Server) {
	h.enqueue(Message{Type: MessageTypeServer, Data: s})
}

// BroadcastAnnouncement pushes an announcement phase change.
func (h *Hub) BroadcastAnnouncement(masterMAC, step string, queued int) {
	h.enqueue(Message{
		Type: MessageTypeAnnouncement,
		Data: AnnouncementEvent{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			MasterMAC: masterMAC,
			Step:      step,
			Queued:    queued,
		},
	})
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MarshalMessage converts a message to JSON.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
