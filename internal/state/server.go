// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package state

import (
	"time"
)

// ServerStatus is the connection state of a media server.
type ServerStatus string

const (
	ServerStarting    ServerStatus = "starting"
	ServerConnected   ServerStatus = "connected"
	ServerUnavailable ServerStatus = "unavailable"
)

// LastScanLayout formats the server's library rescan timestamp for display.
const LastScanLayout = "2006-Jan-02 15:04:05"

// Server is the in-memory model of one Logitech Media Server instance.
type Server struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`

	Status ServerStatus `json:"status"`

	Version  string `json:"version"`
	LastScan string `json:"last_scan"`

	TotalAlbums  int `json:"total_albums"`
	TotalArtists int `json:"total_artists"`
	TotalGenres  int `json:"total_genres"`
	TotalSongs   int `json:"total_songs"`
	PlayerCount  int `json:"player_count"`
}

// Addr returns the host:port dial target for the server's CLI listener.
func (s *Server) Addr() string {
	return joinHostPort(s.Host, s.Port)
}

// FormatLastScan converts a unix rescan timestamp into display form.
func FormatLastScan(unix int64) string {
	return time.Unix(unix, 0).Format(LastScanLayout)
}

// clone returns a copy safe to hand outside the registry lock.
func (s *Server) clone() *Server {
	c := *s
	return &c
}
