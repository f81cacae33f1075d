// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package state

import "strings"

// PlayerStatus is the derived play state shown for a player. It combines
// connectivity, power and the server-reported mode into one value.
type PlayerStatus string

const (
	StatusDisconnected PlayerStatus = "disconnected"
	StatusPoweredOff   PlayerStatus = "off"
	StatusStopped      PlayerStatus = "stopped"
	StatusPlaying      PlayerStatus = "playing"
	StatusPaused       PlayerStatus = "paused"
)

// StatusFromMode maps a server-reported mode token to a player status.
// Unknown modes map to stopped, matching how an idle player reports.
func StatusFromMode(mode string) PlayerStatus {
	switch mode {
	case "play":
		return StatusPlaying
	case "pause":
		return StatusPaused
	case "stop":
		return StatusStopped
	default:
		return StatusStopped
	}
}

// RepeatMode is the playlist repeat setting (playlist repeat 0|1|2).
type RepeatMode int

const (
	RepeatOff      RepeatMode = 0
	RepeatSong     RepeatMode = 1
	RepeatPlaylist RepeatMode = 2
)

// String returns the display form of the repeat mode.
func (r RepeatMode) String() string {
	switch r {
	case RepeatSong:
		return "song"
	case RepeatPlaylist:
		return "playlist"
	default:
		return "off"
	}
}

// ShuffleMode is the playlist shuffle setting (playlist shuffle 0|1|2).
type ShuffleMode int

const (
	ShuffleOff   ShuffleMode = 0
	ShuffleSong  ShuffleMode = 1
	ShuffleAlbum ShuffleMode = 2
)

// String returns the display form of the shuffle mode.
func (s ShuffleMode) String() string {
	switch s {
	case ShuffleSong:
		return "song"
	case ShuffleAlbum:
		return "album"
	default:
		return "off"
	}
}

// PrettifyModel maps the server's internal model token to the product name.
// Unrecognized tokens pass through unchanged so new hardware still shows
// something useful.
func PrettifyModel(model string) string {
	switch strings.ToLower(model) {
	case "baby":
		return "Squeezebox Radio"
	case "boom":
		return "Squeezebox Boom"
	case "receiver":
		return "Squeezebox Receiver"
	case "fab4":
		return "Squeezebox Touch"
	default:
		return model
	}
}

// SavedState is a player's pre-announcement snapshot, captured before an
// announcement interrupts playback and replayed when it ends.
type SavedState struct {
	Volume       int         `json:"volume"`
	MaintainSync bool        `json:"maintain_sync"`
	Power        bool        `json:"power"`
	Repeat       RepeatMode  `json:"repeat"`
	Shuffle      ShuffleMode `json:"shuffle"`
	// Time is the saved playback position in whole seconds; seeking on
	// resume only works to second granularity.
	Time int    `json:"time"`
	Mode string `json:"mode"`

	// PlaylistNoplay is set when the saved playlist was restored with
	// noplay:1 and playback must not resume automatically.
	PlaylistNoplay bool `json:"playlist_noplay"`
}

// NowPlaying is the current-track detail for a player.
type NowPlaying struct {
	Artist       string `json:"artist"`
	Album        string `json:"album"`
	Title        string `json:"title"`
	Genre        string `json:"genre"`
	Duration     string `json:"duration"`
	SongURL      string `json:"song_url"`
	RemoteStream bool   `json:"remote_stream"`
}

// Player is the in-memory model of one Squeezebox player. All fields are
// owned by the registry; callers read through snapshots and mutate through
// Registry.UpdatePlayer.
type Player struct {
	MAC      string `json:"mac"`
	ServerID string `json:"server_id"`

	Name      string `json:"name"`
	Model     string `json:"model"`
	IPAddress string `json:"ip_address"`

	Connected bool `json:"connected"`
	Power     bool `json:"power"`

	// PowerUI is the display form of power and connectivity combined:
	// "on", "off" or "disconnected".
	PowerUI string `json:"power_ui"`

	Status PlayerStatus `json:"status"`

	Volume       int         `json:"volume"`
	MaintainSync bool        `json:"maintain_sync"`
	Repeat       RepeatMode  `json:"repeat"`
	Shuffle      ShuffleMode `json:"shuffle"`

	// Time is the elapsed playback position in seconds.
	Time float64 `json:"time"`

	Song NowPlaying `json:"song"`

	PlaylistName   string `json:"playlist_name"`
	PlaylistTracks int    `json:"playlist_tracks"`
	PlaylistIndex  int    `json:"playlist_index"`

	CoverArtURL    string `json:"cover_art_url"`
	CoverArtFile   string `json:"cover_art_file"`
	CoverArtFolder string `json:"cover_art_folder"`

	// MasterMAC is set on a slave to the address of its sync master;
	// empty for masters and unsynced players.
	MasterMAC string `json:"master_mac"`

	// SlaveMACs lists the addresses synced to this player when it is a
	// sync master.
	SlaveMACs []string `json:"slave_macs"`

	Saved SavedState `json:"saved"`

	// AnnouncementInitialised marks that this player (as sync master) has
	// an announcement in flight.
	AnnouncementInitialised bool `json:"announcement_initialised"`

	// AnnouncementKey identifies the in-flight announcement request so
	// stale completions can be discarded.
	AnnouncementKey string `json:"announcement_key"`
}

// SyncMaster resolves the address that commands for this player's sync
// group must target: its master when it is a slave, itself otherwise.
func (p *Player) SyncMaster() string {
	if p.MasterMAC != "" {
		return p.MasterMAC
	}
	return p.MAC
}

// IsSynced reports whether the player belongs to any sync group.
func (p *Player) IsSynced() bool {
	return p.MasterMAC != "" || len(p.SlaveMACs) > 0
}

// clone returns a deep copy safe to hand outside the registry lock.
func (p *Player) clone() *Player {
	c := *p
	c.SlaveMACs = append([]string(nil), p.SlaveMACs...)
	return &c
}
