// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package state holds the in-memory domain model: the registry of known
// media servers and players, their live attributes and their sync-group
// relationships.
//
// The dispatcher is the only writer; API handlers and the event hub read
// concurrently through snapshots. The registry therefore guards its maps
// with a read-write mutex and never hands out pointers into guarded data.
package state

import (
	"net"
	"sort"
	"strconv"
	"sync"
)

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ChangeListener observes registry mutations. The event hub uses it to
// broadcast player and server updates to websocket subscribers.
type ChangeListener interface {
	PlayerChanged(p *Player)
	ServerChanged(s *Server)
}

// Registry is the session context for the whole controller: every known
// server and player, keyed by server ID and player MAC respectively.
type Registry struct {
	mu       sync.RWMutex
	servers  map[string]*Server
	players  map[string]*Player
	listener ChangeListener
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		servers: make(map[string]*Server),
		players: make(map[string]*Player),
	}
}

// SetListener installs the change listener. Must be called before the
// dispatcher starts; the listener is invoked outside the registry lock.
func (r *Registry) SetListener(l ChangeListener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// Listeners fans registry changes out to several listeners in order.
type Listeners []ChangeListener

// PlayerChanged implements ChangeListener.
func (ls Listeners) PlayerChanged(p *Player) {
	for _, l := range ls {
		l.PlayerChanged(p)
	}
}

// ServerChanged implements ChangeListener.
func (ls Listeners) ServerChanged(s *Server) {
	for _, l := range ls {
		l.ServerChanged(s)
	}
}

func (r *Registry) notifyPlayer(p *Player) {
	r.mu.RLock()
	l := r.listener
	r.mu.RUnlock()
	if l != nil {
		l.PlayerChanged(p)
	}
}

func (r *Registry) notifyServer(s *Server) {
	r.mu.RLock()
	l := r.listener
	r.mu.RUnlock()
	if l != nil {
		l.ServerChanged(s)
	}
}

// AddServer registers a configured server in the starting state. Adding an
// existing ID updates its dial target and keeps its players.
func (r *Registry) AddServer(id, host string, port int) {
	r.mu.Lock()
	srv, ok := r.servers[id]
	if !ok {
		srv = &Server{ID: id, Status: ServerStarting}
		r.servers[id] = srv
	}
	srv.Host = host
	srv.Port = port
	snap := srv.clone()
	r.mu.Unlock()

	r.notifyServer(snap)
}

// Server returns a snapshot of the server with the given ID.
func (r *Registry) Server(id string) (*Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	srv, ok := r.servers[id]
	if !ok {
		return nil, false
	}
	return srv.clone(), true
}

// Servers returns snapshots of all servers, ordered by ID.
func (r *Registry) Servers() []*Server {
	r.mu.RLock()
	out := make([]*Server, 0, len(r.servers))
	for _, srv := range r.servers {
		out = append(out, srv.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateServer applies fn to the server under the write lock and notifies
// the change listener. Unknown IDs are ignored.
func (r *Registry) UpdateServer(id string, fn func(*Server)) {
	r.mu.Lock()
	srv, ok := r.servers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(srv)
	snap := srv.clone()
	r.mu.Unlock()

	r.notifyServer(snap)
}

// EnsurePlayer returns the player with the given MAC, creating it in the
// disconnected state when first seen. The returned value is a snapshot.
func (r *Registry) EnsurePlayer(serverID, mac string) *Player {
	r.mu.Lock()
	p, ok := r.players[mac]
	if !ok {
		p = &Player{
			MAC:      mac,
			ServerID: serverID,
			Status:   StatusDisconnected,
			PowerUI:  string(StatusDisconnected),
		}
		r.players[mac] = p
	}
	snap := p.clone()
	r.mu.Unlock()

	if !ok {
		r.notifyPlayer(snap)
	}
	return snap
}

// Player returns a snapshot of the player with the given MAC.
func (r *Registry) Player(mac string) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[mac]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// Players returns snapshots of all players, ordered by MAC.
func (r *Registry) Players() []*Player {
	r.mu.RLock()
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// PlayersOnServer returns snapshots of the players attached to one server.
func (r *Registry) PlayersOnServer(serverID string) []*Player {
	r.mu.RLock()
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		if p.ServerID == serverID {
			out = append(out, p.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// UpdatePlayer applies fn to the player under the write lock and notifies
// the change listener. Unknown MACs are ignored; responses for players that
// were never announced by a server carry no state to update.
func (r *Registry) UpdatePlayer(mac string, fn func(*Player)) {
	r.mu.Lock()
	p, ok := r.players[mac]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(p)
	snap := p.clone()
	r.mu.Unlock()

	r.notifyPlayer(snap)
}

// RebuildSyncGroups atomically replaces the sync relationships for one
// server from a full `syncgroups` listing. Each group is a list of member
// MACs; the first member is taken as master. Players not named in any
// group lose their master/slave references.
func (r *Registry) RebuildSyncGroups(serverID string, groups [][]string) {
	var snaps []*Player

	r.mu.Lock()
	for _, p := range r.players {
		if p.ServerID == serverID {
			p.MasterMAC = ""
			p.SlaveMACs = nil
		}
	}
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		master, ok := r.players[members[0]]
		if !ok {
			continue
		}
		for _, mac := range members[1:] {
			slave, ok := r.players[mac]
			if !ok {
				continue
			}
			slave.MasterMAC = master.MAC
			master.SlaveMACs = append(master.SlaveMACs, slave.MAC)
		}
	}
	for _, p := range r.players {
		if p.ServerID == serverID {
			snaps = append(snaps, p.clone())
		}
	}
	r.mu.Unlock()

	for _, snap := range snaps {
		r.notifyPlayer(snap)
	}
}

// SyncGroupOf returns the full membership of the player's sync group, the
// master first. A player outside any group returns just itself.
func (r *Registry) SyncGroupOf(mac string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.players[mac]
	if !ok {
		return nil
	}
	master := p
	if p.MasterMAC != "" {
		if m, ok := r.players[p.MasterMAC]; ok {
			master = m
		}
	}
	group := append([]string{master.MAC}, master.SlaveMACs...)
	return group
}

// MarkServerUnavailable transitions a server to unavailable and all of its
// players to disconnected. Called when either session of the server's
// connection pair fails.
func (r *Registry) MarkServerUnavailable(id string) {
	var srvSnap *Server
	var playerSnaps []*Player

	r.mu.Lock()
	if srv, ok := r.servers[id]; ok {
		srv.Status = ServerUnavailable
		srvSnap = srv.clone()
	}
	for _, p := range r.players {
		if p.ServerID != id {
			continue
		}
		p.Connected = false
		p.Status = StatusDisconnected
		p.PowerUI = string(StatusDisconnected)
		playerSnaps = append(playerSnaps, p.clone())
	}
	r.mu.Unlock()

	if srvSnap != nil {
		r.notifyServer(srvSnap)
	}
	for _, snap := range playerSnaps {
		r.notifyPlayer(snap)
	}
}

// RemovePlayer deletes a forgotten player from the registry.
func (r *Registry) RemovePlayer(mac string) {
	r.mu.Lock()
	delete(r.players, mac)
	r.mu.Unlock()
}
