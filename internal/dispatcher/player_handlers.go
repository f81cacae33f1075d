// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package dispatcher

import (
	"context"
	"strconv"
	"strings"

	"github.com/autolog/squeezebox-controller/internal/artwork"
	"github.com/autolog/squeezebox-controller/internal/metrics"
	"github.com/autolog/squeezebox-controller/internal/protocol"
	"github.com/autolog/squeezebox-controller/internal/state"
)

// streamSchemes are the song URL prefixes recognized on `playlist open`.
var streamSchemes = []string{
	"file://", "spotify:track:", "pandora://", "qobuz://", "deezer://", "sirius://",
}

// handlePlayer routes a player-scoped line. Lines for players this
// controller has never seen trigger a serverstatus refresh so discovery
// catches up.
func (d *Dispatcher) handlePlayer(ctx context.Context, serverID string, msg protocol.Message) {
	player, known := d.registry.Player(msg.PlayerMAC)
	if !known {
		d.log.Info().Str("player", msg.PlayerMAC).Msg("line for unknown player, refreshing server status")
		d.send(serverID, "serverstatus 0 0 subscribe:0")
		return
	}

	// Commands that act on a synced player act on its whole group; the
	// group is addressed through its master.
	master := player
	if player.MasterMAC != "" {
		if m, ok := d.registry.Player(player.MasterMAC); ok {
			master = m
		}
	}

	switch msg.Sub {
	case "sync":
		d.send(serverID, "syncgroups ?")
	case "songinfo":
		d.handleSongInfo(ctx, serverID, player, msg)
	case "playlist":
		d.handlePlaylist(serverID, player, master, msg)
	case "pause":
		for _, mac := range d.registry.SyncGroupOf(player.MAC) {
			d.sendPlayer(serverID, mac, "mode", "?")
		}
	case "play":
		d.announce.HandlePlaybackResumed(serverID, d.freshMaster(master))
	case "prefset":
		d.handlePrefset(player, msg)
	case "mixer":
		// The echo of a mixer command; the prefset notification that
		// follows carries the resulting value.
	case "playerpref":
		d.handlePlayerPref(player, master, msg)
	case "artist":
		d.setSongField(player.MAC, msg, func(s *state.NowPlaying, v string) { s.Artist = v })
	case "album":
		d.setSongField(player.MAC, msg, func(s *state.NowPlaying, v string) { s.Album = v })
	case "title":
		d.setSongField(player.MAC, msg, func(s *state.NowPlaying, v string) { s.Title = v })
	case "genre":
		d.setSongField(player.MAC, msg, func(s *state.NowPlaying, v string) { s.Genre = v })
	case "duration":
		d.setSongField(player.MAC, msg, func(s *state.NowPlaying, v string) { s.Duration = v })
	case "remote":
		d.handleRemote(serverID, player, msg)
	case "autologMixerMuteAll":
		for _, mac := range d.registry.SyncGroupOf(player.MAC) {
			d.sendPlayer(serverID, mac, "mixer", "muting", "1")
		}
	case "autologMixerUnmuteAll":
		for _, mac := range d.registry.SyncGroupOf(player.MAC) {
			d.sendPlayer(serverID, mac, "mixer", "muting", "0")
		}
	case "autologMixerToggleMuteAll":
		for _, mac := range d.registry.SyncGroupOf(player.MAC) {
			d.sendPlayer(serverID, mac, "mixer", "muting", "toggle")
		}
	case "client":
		d.handleClient(serverID, player, master, msg)
	case "autologAnnouncementRequest":
		d.announce.HandleRequest(serverID, d.freshMaster(master), msg.Arg(2))
	case "autologAnnouncementInitialise":
		d.announce.HandleInitialise(serverID, d.freshMaster(master))
	case "autologAnnouncementSaveState":
		d.announce.HandleSaveState(serverID, d.freshMaster(master))
	case "autologAnnouncementPlay":
		d.announce.HandlePlay(serverID, d.freshMaster(master))
	case "autologAnnouncementRestartPlaying":
		d.announce.HandleRestartPlaying(serverID, d.freshMaster(master))
	case "autologAnnouncementEnded":
		d.announce.HandleEnded(d.freshMaster(master))
		metrics.AnnouncementsCompleted.Inc()
		metrics.AnnouncementQueueDepth.Set(float64(d.announce.QueueLength()))
	case "power":
		d.handlePower(serverID, player, msg)
	case "mode":
		d.handleMode(player, master, msg)
	case "time":
		d.handleTime(master, msg)
	default:
		metrics.LinesDropped.WithLabelValues(serverID).Inc()
	}
}

// freshMaster re-reads the master's snapshot so announcement steps see the
// saved state captured by replies handled since the original snapshot.
func (d *Dispatcher) freshMaster(master *state.Player) *state.Player {
	if p, ok := d.registry.Player(master.MAC); ok {
		return p
	}
	return master
}

// handleSongInfo extracts the artwork reference from a songinfo response
// and refreshes the player's cover file.
func (d *Dispatcher) handleSongInfo(ctx context.Context, serverID string, player *state.Player, msg protocol.Message) {
	url := artwork.DefaultTrackURL(player.MAC)
	if _, after, found := strings.Cut(msg.Raw, "artwork_url:"); found {
		url = strings.TrimSpace(after)
	}

	srv, ok := d.registry.Server(serverID)
	if !ok {
		return
	}
	resolved := artwork.ResolveURL(srv.Host, url)

	d.registry.UpdatePlayer(player.MAC, func(p *state.Player) {
		p.CoverArtURL = resolved
	})

	// Downloads run off the dispatcher goroutine; the cover file is
	// eventually consistent with the track.
	go func() {
		if err := d.artwork.Fetch(ctx, resolved, player.MAC); err != nil {
			d.log.Warn().Err(err).Str("player", player.MAC).Msg("cover art fetch failed")
		}
	}()
}

func (d *Dispatcher) handlePlaylist(serverID string, player, master *state.Player, msg protocol.Message) {
	switch msg.Arg(2) {
	case "open":
		songURL := msg.Arg(3)
		for _, scheme := range streamSchemes {
			if strings.HasPrefix(songURL, scheme) {
				if player.PowerUI != string(state.StatusDisconnected) {
					d.registry.UpdatePlayer(player.MAC, func(p *state.Player) {
						p.Song.SongURL = songURL
					})
				}
				break
			}
		}

	case "newsong":
		// While the announcement playlist is loaded the new song is the
		// announcement itself; skip the refresh to keep the saved track
		// detail intact.
		if d.announce.Loaded() {
			return
		}
		d.sendPlayer(serverID, master.MAC, "artist", "?")
		d.sendPlayer(serverID, master.MAC, "album", "?")
		d.sendPlayer(serverID, master.MAC, "title", "?")
		d.sendPlayer(serverID, master.MAC, "genre", "?")
		d.sendPlayer(serverID, master.MAC, "duration", "?")
		d.sendPlayer(serverID, master.MAC, "remote", "?")
		d.sendPlayer(serverID, master.MAC, "mode", "?")
		d.sendPlayer(serverID, master.MAC, "playlist", "name", "?")
		d.sendPlayer(serverID, master.MAC, "playlist", "index", "?")
		d.sendPlayer(serverID, master.MAC, "playlist", "tracks", "?")

	case "pause":
		for _, mac := range d.registry.SyncGroupOf(player.MAC) {
			d.sendPlayer(serverID, mac, "mode", "?")
		}

	case "name":
		name := msg.Rest(3)
		for _, mac := range d.registry.SyncGroupOf(player.MAC) {
			d.registry.UpdatePlayer(mac, func(p *state.Player) {
				if p.PowerUI != string(state.StatusDisconnected) {
					p.PlaylistName = name
				}
			})
		}

	case "index":
		idx := atoi(msg.Arg(3))
		for _, mac := range d.registry.SyncGroupOf(player.MAC) {
			d.registry.UpdatePlayer(mac, func(p *state.Player) {
				if p.PowerUI != string(state.StatusDisconnected) {
					p.PlaylistIndex = idx
				}
			})
		}

	case "tracks":
		tracks := atoi(msg.Arg(3))
		for _, mac := range d.registry.SyncGroupOf(player.MAC) {
			d.registry.UpdatePlayer(mac, func(p *state.Player) {
				if p.PowerUI != string(state.StatusDisconnected) {
					p.PlaylistTracks = tracks
					if tracks == 0 {
						p.PlaylistIndex = 0
					}
				}
			})
		}

	case "repeat":
		if msg.Arg(3) != "" {
			mode := state.RepeatMode(atoi(msg.Arg(3)))
			for _, mac := range d.registry.SyncGroupOf(player.MAC) {
				d.registry.UpdatePlayer(mac, func(p *state.Player) { p.Repeat = mode })
			}
		}
		if d.announce.Initialising() {
			mode := state.RepeatMode(atoi(msg.Arg(3)))
			d.registry.UpdatePlayer(master.MAC, func(p *state.Player) { p.Saved.Repeat = mode })
		}

	case "shuffle":
		if msg.Arg(3) != "" {
			mode := state.ShuffleMode(atoi(msg.Arg(3)))
			for _, mac := range d.registry.SyncGroupOf(player.MAC) {
				d.registry.UpdatePlayer(mac, func(p *state.Player) { p.Shuffle = mode })
			}
		}
		if d.announce.Initialising() {
			mode := state.ShuffleMode(atoi(msg.Arg(3)))
			d.registry.UpdatePlayer(master.MAC, func(p *state.Player) { p.Saved.Shuffle = mode })
		}

	case "load_done":
		d.announce.HandleLoadDone(d.freshMaster(master))

	case "stop":
		if player.PowerUI == string(state.StatusDisconnected) {
			return
		}
		restore := d.announce.Loaded()
		for _, mac := range d.registry.SyncGroupOf(player.MAC) {
			d.registry.UpdatePlayer(mac, func(p *state.Player) {
				p.Status = state.StatusStopped
			})
		}
		if restore {
			d.announce.HandleStopped(serverID, d.freshMaster(master))
		}
	}
}

func (d *Dispatcher) handlePrefset(player *state.Player, msg protocol.Message) {
	if msg.Arg(2) != "server" {
		return
	}
	switch msg.Arg(3) {
	case "volume":
		vol := atoi(msg.Arg(4))
		d.registry.UpdatePlayer(player.MAC, func(p *state.Player) { p.Volume = vol })
	case "repeat":
		if msg.Arg(4) != "" {
			mode := state.RepeatMode(atoi(msg.Arg(4)))
			for _, mac := range d.registry.SyncGroupOf(player.MAC) {
				d.registry.UpdatePlayer(mac, func(p *state.Player) { p.Repeat = mode })
			}
		}
	case "shuffle":
		if msg.Arg(4) != "" {
			mode := state.ShuffleMode(atoi(msg.Arg(4)))
			for _, mac := range d.registry.SyncGroupOf(player.MAC) {
				d.registry.UpdatePlayer(mac, func(p *state.Player) { p.Shuffle = mode })
			}
		}
	}
}

func (d *Dispatcher) handlePlayerPref(player, master *state.Player, msg protocol.Message) {
	value := msg.Arg(3)
	switch msg.Arg(2) {
	case "volume":
		vol := atoi(value)
		d.registry.UpdatePlayer(player.MAC, func(p *state.Player) {
			p.Volume = vol
			if d.announce.Initialising() {
				p.Saved.Volume = vol
			}
		})
	case "maintainSync":
		on := value == "1"
		d.registry.UpdatePlayer(player.MAC, func(p *state.Player) {
			p.MaintainSync = on
			if d.announce.Initialising() {
				p.Saved.MaintainSync = on
			}
		})
	}
}

// setSongField applies a single-value track attribute reply. The value is
// everything after `<mac> <keyword>` and may be empty when nothing plays.
func (d *Dispatcher) setSongField(mac string, msg protocol.Message, set func(*state.NowPlaying, string)) {
	value := msg.Rest(2)
	d.registry.UpdatePlayer(mac, func(p *state.Player) {
		if p.Connected {
			set(&p.Song, value)
		}
	})
}

// handleRemote applies a `remote` reply and, when the current track has a
// URL, asks for its songinfo so the artwork refreshes for both stream and
// local tracks.
func (d *Dispatcher) handleRemote(serverID string, player *state.Player, msg protocol.Message) {
	remote := msg.Rest(2) == "1"
	d.registry.UpdatePlayer(player.MAC, func(p *state.Player) {
		p.Song.RemoteStream = remote
	})
	if player.Song.SongURL != "" {
		d.sendPlayer(serverID, player.MAC, "songinfo", "0", "100", "url:"+player.Song.SongURL, "tags:K")
	}
}

// handleClient processes connectivity notifications. Every variant ends in
// a serverstatus refresh so the registry converges on the server's view.
func (d *Dispatcher) handleClient(serverID string, player, master *state.Player, msg protocol.Message) {
	switch msg.Arg(2) {
	case "new":
		d.log.Info().Str("player", player.MAC).Msg("player connecting")
	case "disconnect":
		d.log.Info().Str("player", player.MAC).Msg("player disconnecting")
		d.registry.UpdatePlayer(player.MAC, func(p *state.Player) {
			p.Connected = false
			p.PowerUI = string(state.StatusDisconnected)
			p.Status = state.StatusDisconnected
		})
		// A dropped group member invalidates any announcement touching
		// its group.
		d.announce.PlayerDisconnected(master.MAC)
	case "forget":
		d.log.Info().Str("player", player.MAC).Msg("player forgotten by server")
	case "reconnect":
		d.log.Info().Str("player", player.MAC).Msg("player reconnecting")
	default:
		return
	}
	d.send(serverID, "serverstatus 0 0 subscribe:-")
}

// handlePower applies a power reply or notification. A bare `power` echo
// (from a toggle) carries no value and triggers a query instead.
func (d *Dispatcher) handlePower(serverID string, player *state.Player, msg protocol.Message) {
	if msg.Arg(2) == "" {
		d.sendPlayer(serverID, player.MAC, "power", "?")
		return
	}

	on := msg.Arg(2) == "1"
	previous := player.Power
	initialising := d.announce.Initialising()

	d.registry.UpdatePlayer(player.MAC, func(p *state.Player) {
		p.Power = on
		switch {
		case !p.Connected:
			p.PowerUI = string(state.StatusDisconnected)
		case on:
			p.PowerUI = "on"
		default:
			p.PowerUI = "off"
		}
		if initialising {
			p.Saved.Power = on
		}
	})

	if on != previous {
		// Power changes can silently dissolve or form sync groups.
		d.send(serverID, "syncgroups ?")

		if on && !initialising {
			d.sendPlayer(serverID, player.MAC, "autolog", "detected", "power", "on")
			for _, q := range playerStartupQueries {
				d.sendPlayer(serverID, player.MAC, q...)
			}
		} else {
			d.sendPlayer(serverID, player.MAC, "mode", "?")
		}
	}

	if !on || !player.Connected {
		if err := d.artwork.Reset(player.MAC); err != nil {
			d.log.Warn().Err(err).Str("player", player.MAC).Msg("cover art placeholder not applied")
		}
	}
}

// handleMode applies a mode reply: the derived status, with power and
// connectivity taking precedence, and track detail cleared for players
// that are off.
func (d *Dispatcher) handleMode(player, master *state.Player, msg protocol.Message) {
	mode := msg.Arg(2)
	initialising := d.announce.Initialising()

	d.registry.UpdatePlayer(player.MAC, func(p *state.Player) {
		p.Status = state.StatusFromMode(mode)
		if p.PowerUI == "off" || p.PowerUI == string(state.StatusDisconnected) {
			p.Status = state.PlayerStatus(p.PowerUI)
			p.Song = state.NowPlaying{}
			p.PlaylistIndex = 0
			p.PlaylistTracks = 0
		}
	})

	if initialising {
		d.registry.UpdatePlayer(master.MAC, func(p *state.Player) {
			p.Saved.Mode = mode
			p.Saved.PlaylistNoplay = mode != "play"
		})
	}
}

// handleTime applies an elapsed-time reply. The playback position belongs
// to the whole group, so it lands on the master.
func (d *Dispatcher) handleTime(master *state.Player, msg protocol.Message) {
	elapsed, err := strconv.ParseFloat(msg.Arg(2), 64)
	if err != nil {
		return
	}
	initialising := d.announce.Initialising()
	d.registry.UpdatePlayer(master.MAC, func(p *state.Player) {
		p.Time = elapsed
		if initialising {
			// Seeking on resume only works to whole seconds.
			p.Saved.Time = int(elapsed)
		}
	})
}
