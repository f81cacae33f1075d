// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package dispatcher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/autolog/squeezebox-controller/internal/protocol"
	"github.com/autolog/squeezebox-controller/internal/state"
)

// handleServerStatus applies a serverstatus response: library statistics,
// scan time, version, and the player count that triggers one `players n 1`
// query per attached player.
func (d *Dispatcher) handleServerStatus(serverID string, msg protocol.Message) {
	var playerCount int

	d.registry.UpdateServer(serverID, func(srv *state.Server) {
		srv.Status = state.ServerConnected
		for _, pair := range protocol.Pairs(msg.Raw) {
			switch pair.Key {
			case "lastscan":
				if unix, err := strconv.ParseInt(pair.Value, 10, 64); err == nil {
					srv.LastScan = state.FormatLastScan(unix)
				}
			case "version":
				srv.Version = pair.Value
			case "info total albums":
				srv.TotalAlbums = atoi(pair.Value)
			case "info total artists":
				srv.TotalArtists = atoi(pair.Value)
			case "info total genres":
				srv.TotalGenres = atoi(pair.Value)
			case "info total songs":
				srv.TotalSongs = atoi(pair.Value)
			case "player count":
				srv.PlayerCount = atoi(pair.Value)
				playerCount = srv.PlayerCount
			}
		}
	})

	for i := 0; i < playerCount; i++ {
		d.send(serverID, fmt.Sprintf("players %d 1", i))
	}
}

// handleSyncGroups rebuilds the server's sync relationships from a full
// `syncgroups` listing. Member lists ride in `sync_members:` segments as
// comma-separated MACs; the first member of each group is its master.
func (d *Dispatcher) handleSyncGroups(serverID string, msg protocol.Message) {
	var groups [][]string
	for _, segment := range strings.Split(msg.Raw, "sync_") {
		if !strings.HasPrefix(segment, "members:") {
			continue
		}
		raw := strings.Split(strings.TrimPrefix(segment, "members:"), ",")
		members := make([]string, 0, len(raw))
		for _, m := range raw {
			m = strings.TrimSpace(m)
			if protocol.IsMAC(m) {
				members = append(members, m)
			}
		}
		if len(members) > 0 {
			groups = append(groups, members)
		}
	}
	d.registry.RebuildSyncGroups(serverID, groups)
}

var (
	// Name and model values may contain spaces, so they are carved out
	// between their own tag and the tag that always follows them.
	playersNamePattern  = regexp.MustCompile(`name:(.*) model:`)
	playersModelPattern = regexp.MustCompile(`model:(.*) isplayer:`)
)

// playerStartupQueries is the attribute sweep issued for a player when it
// is discovered and again when it powers on.
var playerStartupQueries = [][]string{
	{"mode", "?"},
	{"artist", "?"},
	{"album", "?"},
	{"title", "?"},
	{"genre", "?"},
	{"duration", "?"},
	{"remote", "?"},
	{"playerpref", "volume", "?"},
	{"playerpref", "maintainSync", "?"},
	{"playlist", "index", "?"},
	{"playlist", "tracks", "?"},
	{"playlist", "repeat", "?"},
	{"playlist", "shuffle", "?"},
}

// handlePlayers applies a single-player `players <n> 1` listing: register
// or refresh the player, then query everything about it.
func (d *Dispatcher) handlePlayers(serverID string, msg protocol.Message) {
	name := "Not specified"
	if m := playersNamePattern.FindStringSubmatch(msg.Raw); m != nil {
		name = m[1]
	}
	model := "Unknown"
	if m := playersModelPattern.FindStringSubmatch(msg.Raw); m != nil {
		model = state.PrettifyModel(m[1])
	}

	var mac, ip string
	connected := false
	for _, pair := range protocol.Pairs(msg.Raw) {
		switch pair.Key {
		case "playerid":
			mac = pair.Value
		case "ip":
			// Value is address:port; the port is the player's own
			// ephemeral port, not useful to keep.
			ip, _, _ = strings.Cut(pair.Value, ":")
		case "connected":
			connected = pair.Value == "1"
		}
	}
	if !protocol.IsMAC(mac) {
		d.log.Warn().Str("line", msg.Raw).Msg("players listing without a player id")
		return
	}

	_, known := d.registry.Player(mac)
	d.registry.EnsurePlayer(serverID, mac)
	d.registry.UpdatePlayer(mac, func(p *state.Player) {
		p.ServerID = serverID
		p.Name = name
		p.Model = model
		p.IPAddress = ip
		p.Connected = connected
		if connected {
			p.PowerUI = "off"
		} else {
			p.PowerUI = string(state.StatusDisconnected)
			p.Status = state.StatusDisconnected
		}
		p.CoverArtFile = d.artwork.CoverPath(mac)
	})
	if !known {
		d.log.Info().Str("player", mac).Str("name", name).Msg("new player discovered")
	} else {
		d.log.Info().Str("player", mac).Bool("connected", connected).Msg("player listing refreshed")
	}

	if err := d.artwork.Reset(mac); err != nil {
		d.log.Warn().Err(err).Str("player", mac).Msg("cover art placeholder not applied")
	}

	d.send(serverID, "syncgroups ?")
	d.sendPlayer(serverID, mac, "power", "?")
	for _, q := range playerStartupQueries {
		d.sendPlayer(serverID, mac, q...)
	}
}

// handlePlayerID applies a `player id <n> <mac>` response: make sure the
// player exists, then prime it with a full status query.
func (d *Dispatcher) handlePlayerID(serverID string, msg protocol.Message) {
	mac := msg.Arg(3)
	if !protocol.IsMAC(mac) {
		return
	}
	d.registry.EnsurePlayer(serverID, mac)
	d.sendPlayer(serverID, mac, "status", "0", "999", "tags:")
}

// handleReadDirectory applies a readdirectory listing. This controller only
// issues readdirectory as a file-existence probe, tagged with the function
// that asked and the player it concerns.
func (d *Dispatcher) handleReadDirectory(serverID string, msg protocol.Message) {
	var function, device, folder, filter, filePath, count string
	for _, pair := range protocol.FieldPairs(msg.Raw) {
		switch pair.Key {
		case "autologFunction":
			function = pair.Value
		case "autologDevice":
			device = pair.Value
		case "folder":
			folder = pair.Value
		case "filter":
			filter = pair.Value
		case "path":
			filePath = pair.Value
		case "count":
			count = pair.Value
		}
	}

	switch function {
	case "AnnouncementCheck":
		if count != "1" {
			d.announce.FileCheckFailed()
			d.log.Error().
				Str("folder", folder).
				Str("filter", filter).
				Str("player", device).
				Msg("announcement file not found, announcement will not play")
		}
	case "PlaylistCheck":
		if count == "1" {
			d.sendPlayer(serverID, device, "playlist", "play", protocol.Quote(filePath))
		} else {
			d.log.Error().
				Str("folder", folder).
				Str("filter", filter).
				Str("player", device).
				Msg("playlist file not found, play playlist not actioned")
		}
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
