// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package controller exposes the actions callers can take against servers
// and players. Every action resolves to one or more CLI commands placed on
// the owning server's command queue; state changes come back asynchronously
// as responses and notifications handled by the dispatcher.
package controller

import (
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/autolog/squeezebox-controller/internal/announce"
	"github.com/autolog/squeezebox-controller/internal/logging"
	"github.com/autolog/squeezebox-controller/internal/protocol"
	"github.com/autolog/squeezebox-controller/internal/state"
)

var (
	// ErrUnknownServer means the server id has not been configured.
	ErrUnknownServer = errors.New("unknown server")
	// ErrServerUnavailable means the server is configured but not connected.
	ErrServerUnavailable = errors.New("server not connected")
	// ErrUnknownPlayer means no player with that MAC has been discovered.
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrPlayerDisconnected means the player is known but offline.
	ErrPlayerDisconnected = errors.New("player disconnected")
	// ErrInvalidVolume means a volume outside 0..100 was requested.
	ErrInvalidVolume = errors.New("volume must be between 0 and 100")
	// ErrInvalidAnnouncement means the announcement request is malformed.
	ErrInvalidAnnouncement = errors.New("invalid announcement request")
	// ErrInvalidPreset means a preset outside 1..6 was requested.
	ErrInvalidPreset = errors.New("preset must be between 1 and 6")
)

// Sender delivers a command to a server's command queue.
type Sender interface {
	Send(serverID, command string) error
}

// Controller validates actions against the current model and turns them
// into CLI commands.
type Controller struct {
	registry *state.Registry
	sender   Sender
	announce *announce.Manager
	log      zerolog.Logger
}

// New wires a controller.
func New(registry *state.Registry, sender Sender, announcer *announce.Manager) *Controller {
	return &Controller{
		registry: registry,
		sender:   sender,
		announce: announcer,
		log:      logging.With().Str("component", "controller").Logger(),
	}
}

// player resolves a MAC to a connected player. Actions against offline
// players fail fast instead of queueing commands the server would ignore.
func (c *Controller) player(mac string) (*state.Player, error) {
	p, ok := c.registry.Player(mac)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, mac)
	}
	if !p.Connected {
		return nil, fmt.Errorf("%w: %s", ErrPlayerDisconnected, mac)
	}
	return p, nil
}

// server resolves a server id to a connected server.
func (c *Controller) server(id string) (*state.Server, error) {
	s, ok := c.registry.Server(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	if s.Status != state.ServerConnected {
		return nil, fmt.Errorf("%w: %s", ErrServerUnavailable, id)
	}
	return s, nil
}

func (c *Controller) sendPlayer(p *state.Player, args ...string) error {
	return c.sender.Send(p.ServerID, protocol.PlayerCommand(p.MAC, args...))
}

// PowerOn powers a player up.
func (c *Controller) PowerOn(mac string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "power", "1")
}

// PowerOff powers a player down.
func (c *Controller) PowerOff(mac string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "power", "0")
}

// PowerToggle flips a player's power. The bare power command is echoed
// back without a value, which triggers a power query to learn the result.
func (c *Controller) PowerToggle(mac string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "power")
}

// PowerOnAll powers up every connected player on a server.
func (c *Controller) PowerOnAll(serverID string) error {
	return c.powerAll(serverID, "1")
}

// PowerOffAll powers down every connected player on a server.
func (c *Controller) PowerOffAll(serverID string) error {
	return c.powerAll(serverID, "0")
}

func (c *Controller) powerAll(serverID, value string) error {
	if _, err := c.server(serverID); err != nil {
		return err
	}
	for _, p := range c.registry.PlayersOnServer(serverID) {
		if !p.Connected {
			continue
		}
		if err := c.sendPlayer(p, "power", value); err != nil {
			return err
		}
	}
	return nil
}

// Play starts playback.
func (c *Controller) Play(mac string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "play")
}

// Stop stops playback.
func (c *Controller) Stop(mac string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "stop")
}

// Pause pauses or resumes playback.
func (c *Controller) Pause(mac string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "pause")
}

// Forward skips to the next track.
func (c *Controller) Forward(mac string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "button", "fwd")
}

// Rewind restarts the track or skips back.
func (c *Controller) Rewind(mac string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "button", "rew")
}

func validVolume(v int) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidVolume, v)
	}
	return nil
}

// SetVolume sets a player's volume to an absolute level.
func (c *Controller) SetVolume(mac string, volume int) error {
	if err := validVolume(volume); err != nil {
		return err
	}
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "mixer", "volume", strconv.Itoa(volume))
}

// VolumeUp raises the volume by step. With force set, a player sitting off
// a multiple of step is raised only to the next multiple, so repeated
// presses land on round values.
func (c *Controller) VolumeUp(mac string, step int, force bool) error {
	if err := validVolume(step); err != nil {
		return err
	}
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	if force && step > 0 && p.Volume%step != 0 {
		step -= p.Volume % step
	}
	return c.sendPlayer(p, "mixer", "volume", "+"+strconv.Itoa(step))
}

// VolumeDown lowers the volume by step, with the same force-to-multiple
// treatment as VolumeUp.
func (c *Controller) VolumeDown(mac string, step int, force bool) error {
	if err := validVolume(step); err != nil {
		return err
	}
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	if force && step > 0 && p.Volume%step != 0 {
		step = p.Volume % step
	}
	return c.sendPlayer(p, "mixer", "volume", "-"+strconv.Itoa(step))
}

// Mute mutes a player, or its whole sync group when all is set. The group
// variant rides a marker command so muting happens in response order with
// an up-to-date group membership.
func (c *Controller) Mute(mac string, all bool) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	if all {
		return c.sendPlayer(p, "autologMixerMuteAll")
	}
	return c.sendPlayer(p, "mixer", "muting", "1")
}

// Unmute unmutes a player or its whole sync group.
func (c *Controller) Unmute(mac string, all bool) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	if all {
		return c.sendPlayer(p, "autologMixerUnmuteAll")
	}
	return c.sendPlayer(p, "mixer", "muting", "0")
}

// ToggleMute toggles muting for a player or its whole sync group.
func (c *Controller) ToggleMute(mac string, all bool) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	if all {
		return c.sendPlayer(p, "autologMixerToggleMuteAll")
	}
	return c.sendPlayer(p, "mixer", "muting", "toggle")
}

// PlayPreset plays one of the player's numbered presets.
func (c *Controller) PlayPreset(mac string, preset int) error {
	if preset < 1 || preset > 6 {
		return fmt.Errorf("%w, got %d", ErrInvalidPreset, preset)
	}
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "button", fmt.Sprintf("playPreset_%d", preset))
}

// PlayFavorite plays a server favorite by its item id.
func (c *Controller) PlayFavorite(mac, itemID string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "favorites", "playlist", "play", "item_id:"+itemID)
}

// PlayPlaylist asks the server to play a playlist file. The file is probed
// with a readdirectory listing first; the probe response triggers the
// actual play command only when the file exists server-side.
func (c *Controller) PlayPlaylist(mac, playlistPath string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	quoted := protocol.Quote(playlistPath)
	probe := fmt.Sprintf("readdirectory 0 1 autologFunction:PlaylistCheck autologDevice:%s folder:%s filter:%s",
		p.MAC, path.Dir(quoted), path.Base(quoted))
	return c.sender.Send(p.ServerID, probe)
}

// ClearPlaylist empties the player's current playlist.
func (c *Controller) ClearPlaylist(mac string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	return c.sendPlayer(p, "playlist", "clear")
}

// shuffleOptions maps the action vocabulary to CLI shuffle values. An
// absent value makes the server toggle through the modes.
var shuffleOptions = map[string]string{
	"off":    "0",
	"song":   "1",
	"album":  "2",
	"toggle": "",
}

// SetShuffle applies a shuffle option: off, song, album or toggle.
func (c *Controller) SetShuffle(mac, option string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	value, ok := shuffleOptions[option]
	if !ok {
		value = ""
	}
	if value == "" {
		return c.sendPlayer(p, "playlist", "shuffle")
	}
	return c.sendPlayer(p, "playlist", "shuffle", value)
}

// repeatOptions maps the action vocabulary to CLI repeat values.
var repeatOptions = map[string]string{
	"off":      "0",
	"song":     "1",
	"playlist": "2",
	"toggle":   "",
}

// SetRepeat applies a repeat option: off, song, playlist or toggle.
func (c *Controller) SetRepeat(mac, option string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	value, ok := repeatOptions[option]
	if !ok {
		value = ""
	}
	if value == "" {
		return c.sendPlayer(p, "playlist", "repeat")
	}
	return c.sendPlayer(p, "playlist", "repeat", value)
}

// PlayAnnouncement validates and submits an announcement request. It
// returns true when the request was queued behind an active announcement.
func (c *Controller) PlayAnnouncement(req announce.Request) (bool, error) {
	if err := validVolume(req.Volume); err != nil {
		return false, err
	}
	switch req.Option {
	case announce.OptionFile:
		if req.File == "" {
			return false, fmt.Errorf("%w: file option without a file", ErrInvalidAnnouncement)
		}
	case announce.OptionSpeech:
		if req.SpeechText == "" {
			return false, fmt.Errorf("%w: speech option without text", ErrInvalidAnnouncement)
		}
	default:
		return false, fmt.Errorf("%w: unknown option %q", ErrInvalidAnnouncement, req.Option)
	}
	p, err := c.player(req.PlayerMAC)
	if err != nil {
		return false, err
	}

	// Path fields are stored percent-encoded, ready for embedding in the
	// space-delimited probe and playlist commands.
	req.File = protocol.Quote(req.File)
	req.Prepend = protocol.Quote(req.Prepend)
	req.Append = protocol.Quote(req.Append)

	// Announcements run against the whole sync group, addressed through
	// its master.
	req.PlayerMAC = p.SyncMaster()
	req.ServerID = p.ServerID
	return c.announce.Submit(req)
}

// ResetAnnouncement abandons the active announcement and clears the queue.
func (c *Controller) ResetAnnouncement() {
	c.announce.Reset()
	c.log.Info().Msg("announcement state reset by request")
}

// PlayerCommand sends a raw CLI command addressed to a player.
func (c *Controller) PlayerCommand(mac, command string) error {
	p, err := c.player(mac)
	if err != nil {
		return err
	}
	c.log.Info().Str("player", mac).Str("command", command).Msg("raw player command")
	return c.sender.Send(p.ServerID, p.MAC+" "+command)
}

// ServerCommand sends a raw CLI command to a server.
func (c *Controller) ServerCommand(serverID, command string) error {
	if _, err := c.server(serverID); err != nil {
		return err
	}
	c.log.Info().Str("server", serverID).Str("command", command).Msg("raw server command")
	return c.sender.Send(serverID, command)
}

// RefreshServerStatus asks a server for a fresh status snapshot, which in
// turn re-lists every attached player.
func (c *Controller) RefreshServerStatus(serverID string) error {
	if _, err := c.server(serverID); err != nil {
		return err
	}
	return c.sender.Send(serverID, "serverstatus 0 0 subscribe:0")
}
