// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package announce

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/autolog/squeezebox-controller/internal/logging"
	"github.com/autolog/squeezebox-controller/internal/metrics"
	"github.com/autolog/squeezebox-controller/internal/protocol"
	"github.com/autolog/squeezebox-controller/internal/state"
	"github.com/autolog/squeezebox-controller/internal/tts"
)

// Sender delivers a command to a server's command queue.
type Sender interface {
	Send(serverID, command string) error
}

// Notifier observes announcement phase changes. The websocket hub is
// wired up as one so clients can follow progress.
type Notifier interface {
	AnnouncementChanged(masterMAC string, step Step, queued int)
}

// queued is a deferred request marker waiting for the active announcement
// to finish.
type queued struct {
	serverID string
	command  string
}

// Manager owns the process-wide announcement slot. All Handle* methods are
// called from the dispatcher goroutine as the server echoes marker commands
// back; Submit and Reset may be called from API goroutines.
type Manager struct {
	registry *state.Registry
	sender   Sender
	synth    tts.Synthesizer
	tempDir  string
	log      zerolog.Logger
	notifier Notifier

	mu          sync.Mutex
	activity    activity
	step        Step
	fileCheckOK bool
	requests    map[string]Request
	pending     []queued
	currentKey  string
}

// NewManager wires the announcement machine.
func NewManager(registry *state.Registry, sender Sender, synth tts.Synthesizer, tempDir string) *Manager {
	return &Manager{
		registry: registry,
		sender:   sender,
		synth:    synth,
		tempDir:  tempDir,
		requests: make(map[string]Request),
		log:      logging.With().Str("component", "announce").Logger(),
	}
}

// SetNotifier registers the phase-change observer. Must be called before
// the dispatcher starts feeding markers in.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// notify reports a phase change to the observer, outside the lock.
func (m *Manager) notify(masterMAC string, step Step, queued int) {
	if m.notifier != nil {
		m.notifier.AnnouncementChanged(masterMAC, step, queued)
	}
}

// Step returns the current phase.
func (m *Manager) Step() Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// Initialising reports whether saved-state capture is in progress. The
// dispatcher checks this while applying power, mode, time, volume, repeat,
// shuffle and maintainSync replies: during initialisation those replies
// double as the pre-announcement snapshot.
func (m *Manager) Initialising() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step == StepInitialising
}

// QueueLength reports how many requests are waiting behind the active one.
func (m *Manager) QueueLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Submit registers a request and either starts it or queues it behind the
// active announcement. It returns true when the request was queued.
func (m *Manager) Submit(req Request) (bool, error) {
	if req.Key == "" {
		req.Key = NewKey()
	}
	command := protocol.PlayerCommand(req.PlayerMAC, "autologAnnouncementRequest", req.Key)

	m.mu.Lock()
	m.requests[req.Key] = req
	if m.activity != activityNone {
		m.pending = append(m.pending, queued{serverID: req.ServerID, command: command})
		m.mu.Unlock()
		metrics.AnnouncementsStarted.Inc()
		m.log.Info().Str("key", req.Key).Str("player", req.PlayerMAC).Msg("announcement queued behind active one")
		return true, nil
	}
	m.activity = activityPending
	m.mu.Unlock()

	if err := m.sender.Send(req.ServerID, command); err != nil {
		m.mu.Lock()
		m.activity = activityNone
		delete(m.requests, req.Key)
		m.mu.Unlock()
		return false, err
	}
	metrics.AnnouncementsStarted.Inc()
	return false, nil
}

// Reset abandons the active announcement and discards the queue. Saved
// player state is left as is; the server-side saved playlists survive for
// the next announcement to overwrite.
func (m *Manager) Reset() {
	m.mu.Lock()
	active := m.activity != activityNone
	m.activity = activityNone
	m.step = StepIdle
	m.pending = nil
	m.currentKey = ""
	// Active and queued requests alike are abandoned with the queue.
	m.requests = make(map[string]Request)
	m.mu.Unlock()
	if active {
		metrics.AnnouncementsAbandoned.Inc()
	}
	m.log.Info().Msg("announcement machine reset")
	m.notify("", StepIdle, 0)
}

// PlayerDisconnected aborts the active announcement when a player in the
// middle of one drops off the server.
func (m *Manager) PlayerDisconnected(masterMAC string) {
	m.mu.Lock()
	active := m.activity != activityNone
	m.mu.Unlock()
	if !active {
		return
	}
	m.registry.UpdatePlayer(masterMAC, func(p *state.Player) {
		p.AnnouncementInitialised = false
	})
	m.Reset()
}

// FileCheckFailed records that a readdirectory probe did not find an
// announcement file. The initialise step checks this flag and abandons.
func (m *Manager) FileCheckFailed() {
	m.mu.Lock()
	m.fileCheckOK = false
	m.mu.Unlock()
}

func (m *Manager) advance(to Step) bool {
	m.mu.Lock()
	if !canTransition(m.step, to) {
		m.mu.Unlock()
		m.log.Warn().Stringer("from", m.step).Stringer("to", to).Msg("dropping out-of-order announcement marker")
		return false
	}
	m.step = to
	mac := m.requests[m.currentKey].PlayerMAC
	queued := len(m.pending)
	m.mu.Unlock()
	m.notify(mac, to, queued)
	return true
}

func (m *Manager) send(serverID string, mac string, args ...string) {
	if err := m.sender.Send(serverID, protocol.PlayerCommand(mac, args...)); err != nil {
		m.log.Error().Err(err).Str("server", serverID).Msg("announcement command not sent")
	}
}

// HandleRequest processes the echoed request marker: it claims the slot,
// probes that every referenced audio file exists and chains to the
// initialise marker.
func (m *Manager) HandleRequest(serverID string, master *state.Player, key string) {
	m.mu.Lock()
	if m.activity != activityPending {
		m.mu.Unlock()
		m.log.Warn().Str("key", key).Msg("request marker without pending announcement")
		return
	}
	m.activity = activityRunning
	req, ok := m.requests[key]
	if !ok {
		m.activity = activityNone
		m.mu.Unlock()
		m.log.Error().Str("key", key).Msg("request marker for unknown key")
		return
	}
	m.currentKey = key
	m.fileCheckOK = true
	m.step = StepIdle
	m.mu.Unlock()

	if !m.advance(StepRequested) {
		return
	}
	m.registry.UpdatePlayer(master.MAC, func(p *state.Player) {
		p.AnnouncementKey = key
	})
	m.log.Info().Str("key", key).Str("master", master.MAC).Msg("announcement requested")

	for _, file := range []string{req.Prepend, req.File, req.Append} {
		if file == "" {
			continue
		}
		probe := fmt.Sprintf("readdirectory 0 1 autologFunction:AnnouncementCheck autologDevice:%s folder:%s filter:%s",
			master.MAC, path.Dir(file), path.Base(file))
		if err := m.sender.Send(serverID, probe); err != nil {
			m.log.Error().Err(err).Msg("file probe not sent")
		}
	}

	m.send(serverID, master.MAC, "autologAnnouncementInitialise")
}

// HandleInitialise processes the echoed initialise marker: abandon if a
// file probe failed, otherwise query the whole sync group's current state
// so the replies populate the saved snapshot, then chain to save-state.
func (m *Manager) HandleInitialise(serverID string, master *state.Player) {
	m.mu.Lock()
	if !m.fileCheckOK {
		m.activity = activityNone
		m.step = StepIdle
		delete(m.requests, m.currentKey)
		m.currentKey = ""
		queued := len(m.pending)
		m.mu.Unlock()
		metrics.AnnouncementsAbandoned.Inc()
		m.log.Error().Str("master", master.MAC).Msg("announcement abandoned: file check failed")
		m.notify(master.MAC, StepIdle, queued)
		return
	}
	m.mu.Unlock()

	if !m.advance(StepInitialising) {
		return
	}
	m.registry.UpdatePlayer(master.MAC, func(p *state.Player) {
		p.AnnouncementInitialised = true
	})

	for _, slave := range master.SlaveMACs {
		m.send(serverID, slave, "power", "?")
		m.send(serverID, slave, "mode", "?")
		m.send(serverID, slave, "playerpref", "volume", "?")
		m.send(serverID, slave, "playerpref", "maintainSync", "?")
	}
	m.send(serverID, master.MAC, "power", "?")
	m.send(serverID, master.MAC, "mode", "?")
	m.send(serverID, master.MAC, "playerpref", "volume", "?")
	m.send(serverID, master.MAC, "playerpref", "maintainSync", "?")
	m.send(serverID, master.MAC, "playlist", "repeat", "?")
	m.send(serverID, master.MAC, "playlist", "shuffle", "?")
	m.send(serverID, master.MAC, "time", "?")
	m.send(serverID, master.MAC, "stop")

	m.send(serverID, master.MAC, "autologAnnouncementSaveState")
}

// HandleSaveState processes the echoed save-state marker: with the snapshot
// captured, prepare the group for interruption (power slaves on, suspend
// sync volume tracking, repeat and shuffle off) and save the playlist
// server-side, then chain to play.
func (m *Manager) HandleSaveState(serverID string, master *state.Player) {
	if !m.advance(StepSavingState) {
		return
	}

	for _, slaveMAC := range master.SlaveMACs {
		slave, ok := m.registry.Player(slaveMAC)
		if !ok {
			continue
		}
		if !slave.Saved.Power {
			m.send(serverID, slaveMAC, "power", "1")
		}
		if slave.Saved.MaintainSync {
			m.send(serverID, slaveMAC, "playerpref", "maintainSync", "0")
		}
	}
	if master.Saved.MaintainSync {
		m.send(serverID, master.MAC, "playerpref", "maintainSync", "0")
	}
	if master.Saved.Repeat != state.RepeatOff {
		m.send(serverID, master.MAC, "playlist", "repeat", "0")
	}
	if master.Saved.Shuffle != state.ShuffleOff {
		m.send(serverID, master.MAC, "playlist", "shuffle", "0")
	}

	m.send(serverID, master.MAC, "playlist", "save", PlaylistName(master.MAC), "silent:1")
	m.send(serverID, master.MAC, "autologAnnouncementPlay")
}

// HandlePlay processes the echoed play marker: set the announcement volume
// across the group, build the announcement playlist and start it.
func (m *Manager) HandlePlay(serverID string, master *state.Player) {
	if !m.advance(StepPlaying) {
		return
	}

	m.mu.Lock()
	req, ok := m.requests[m.currentKey]
	m.mu.Unlock()
	if !ok {
		m.log.Error().Msg("play marker without a current request")
		m.Reset()
		return
	}

	volume := strconv.Itoa(req.Volume)
	m.send(serverID, master.MAC, "mixer", "volume", volume)
	for _, slaveMAC := range master.SlaveMACs {
		m.send(serverID, slaveMAC, "mixer", "volume", volume)
	}

	m.send(serverID, master.MAC, "playlist", "clear")

	file := req.File
	if req.Option == OptionSpeech {
		out := path.Join(m.tempDir, strings.ReplaceAll(master.MAC, ":", ""), "speech.wav")
		if err := m.synth.Synthesize(context.Background(), req.SpeechText, req.Voice, out); err != nil {
			m.log.Error().Err(err).Msg("speech synthesis failed, abandoning announcement")
			m.Reset()
			return
		}
		file = protocol.Quote(out)
	}

	if req.Prepend != "" {
		m.send(serverID, master.MAC, "playlist", "add", req.Prepend)
	}
	m.send(serverID, master.MAC, "playlist", "add", file)
	if req.Append != "" {
		m.send(serverID, master.MAC, "playlist", "add", req.Append)
	}

	m.send(serverID, master.MAC, "play")
}

// HandleLoadDone marks the announcement playlist as loaded; the stop event
// that follows its final track triggers the restore.
func (m *Manager) HandleLoadDone(master *state.Player) {
	m.mu.Lock()
	if m.step != StepPlaying {
		m.mu.Unlock()
		return
	}
	m.step = StepLoaded
	queued := len(m.pending)
	m.mu.Unlock()
	m.log.Debug().Str("master", master.MAC).Msg("announcement playlist loaded")
	m.notify(master.MAC, StepLoaded, queued)
}

// Loaded reports whether the announcement playlist has finished loading.
func (m *Manager) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step == StepLoaded
}

// HandleStopped runs the restore after the announcement playlist finished:
// resume the saved playlist without starting it, then put volume, repeat,
// shuffle, sync tracking and power back, then chain to restart-playing.
func (m *Manager) HandleStopped(serverID string, master *state.Player) {
	if !m.advance(StepStopped) {
		return
	}

	m.send(serverID, master.MAC, "playlist", "resume", PlaylistName(master.MAC), "wipePlaylist:1", "noplay:1")

	if master.Saved.Repeat != state.RepeatOff {
		m.send(serverID, master.MAC, "playlist", "repeat", strconv.Itoa(int(master.Saved.Repeat)))
	}
	if master.Saved.Shuffle != state.ShuffleOff {
		m.send(serverID, master.MAC, "playlist", "shuffle", strconv.Itoa(int(master.Saved.Shuffle)))
	}
	if master.Saved.Volume != master.Volume {
		m.send(serverID, master.MAC, "mixer", "volume", strconv.Itoa(master.Saved.Volume))
	}
	if master.Saved.MaintainSync != master.MaintainSync {
		m.send(serverID, master.MAC, "playerpref", "maintainSync", boolTo01(master.Saved.MaintainSync))
	}

	for _, slaveMAC := range master.SlaveMACs {
		slave, ok := m.registry.Player(slaveMAC)
		if !ok {
			continue
		}
		if slave.Saved.Volume != slave.Volume {
			m.send(serverID, slaveMAC, "mixer", "volume", strconv.Itoa(slave.Saved.Volume))
		}
		if slave.Saved.MaintainSync != slave.MaintainSync {
			m.send(serverID, slaveMAC, "playerpref", "maintainSync", boolTo01(slave.Saved.MaintainSync))
		}
		if !slave.Saved.Power {
			m.send(serverID, slaveMAC, "power", "0")
		}
	}
	if !master.Saved.Power {
		m.send(serverID, master.MAC, "power", "0")
	}

	m.send(serverID, master.MAC, "autologAnnouncementRestartPlaying")
}

// HandleRestartPlaying resumes playback when the player was playing before
// the announcement and had power, then chains to the final marker.
func (m *Manager) HandleRestartPlaying(serverID string, master *state.Player) {
	if !m.advance(StepRestartPlaying) {
		return
	}
	if !master.Saved.PlaylistNoplay && master.Saved.Power {
		m.send(serverID, master.MAC, "play")
	}
	m.send(serverID, master.MAC, "autologAnnouncementEnded")
}

// RestartingPlayback reports whether the machine is waiting for the resumed
// playback to start.
func (m *Manager) RestartingPlayback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step == StepRestartPlaying
}

// HandlePlaybackResumed seeks the resumed playback back to the saved
// position. Pausing around the seek keeps synced slaves aligned.
func (m *Manager) HandlePlaybackResumed(serverID string, master *state.Player) {
	if !m.RestartingPlayback() {
		return
	}
	if master.Saved.Time == 0 {
		return
	}
	saved := strconv.Itoa(master.Saved.Time)
	m.send(serverID, master.MAC, "pause")
	m.send(serverID, master.MAC, "time", saved)
	for _, slaveMAC := range master.SlaveMACs {
		m.send(serverID, slaveMAC, "time", saved)
	}
	m.send(serverID, master.MAC, "pause")
}

// HandleEnded releases the announcement slot and starts the next queued
// request, if any.
func (m *Manager) HandleEnded(master *state.Player) {
	if !m.advance(StepEnded) {
		return
	}
	m.registry.UpdatePlayer(master.MAC, func(p *state.Player) {
		p.AnnouncementInitialised = false
		p.AnnouncementKey = ""
	})

	m.mu.Lock()
	delete(m.requests, m.currentKey)
	m.currentKey = ""
	m.step = StepIdle
	m.activity = activityNone

	var next *queued
	if len(m.pending) > 0 {
		n := m.pending[0]
		m.pending = m.pending[1:]
		next = &n
		m.activity = activityPending
	}
	queued := len(m.pending)
	m.mu.Unlock()

	m.log.Info().Str("master", master.MAC).Msg("announcement ended")
	m.notify(master.MAC, StepIdle, queued)

	if next != nil {
		if err := m.sender.Send(next.serverID, next.command); err != nil {
			m.log.Error().Err(err).Msg("queued announcement not started")
			m.mu.Lock()
			m.activity = activityNone
			m.mu.Unlock()
		}
	}
}

func boolTo01(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
