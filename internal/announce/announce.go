// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package announce implements announcement playback: interrupting a player
// (or its whole sync group) with an audio file or synthesized speech, then
// restoring the prior playlist, volume, shuffle, repeat, sync and power
// state.
//
// The machine is driven entirely by marker commands echoed back by the
// media server. Each phase ends by sending the next marker through the
// ordinary command queue, so announcement steps interleave correctly with
// the replies of the commands each phase issued. One announcement runs at a
// time per process; requests arriving while one is active are queued FIFO.
package announce

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Option selects the announcement audio source.
type Option string

const (
	// OptionFile plays an existing audio file.
	OptionFile Option = "file"

	// OptionSpeech synthesizes the request's text to a temporary file.
	OptionSpeech Option = "speech"
)

// Request describes one announcement. Path fields are stored
// percent-encoded, ready for embedding in playlist commands.
type Request struct {
	// Key identifies the request across the round trip through the
	// server: it rides on the request marker and is echoed back.
	Key string

	// ServerID and PlayerMAC address the player the announcement was
	// requested for. The machine itself resolves the sync master when
	// the marker comes back.
	ServerID  string
	PlayerMAC string

	Option Option

	// Volume is applied to every player in the target sync group for
	// the duration of the announcement.
	Volume int

	// File is the announcement audio for OptionFile.
	File string

	// SpeechText and Voice drive synthesis for OptionSpeech.
	SpeechText string
	Voice      string

	// Prepend and Append are optional chimes played around the
	// announcement body.
	Prepend string
	Append  string
}

// NewKey returns a request key. Keys ride on marker commands and only
// need to be unique while their request is live; a UUID has no characters
// the CLI encoding would mangle.
func NewKey() string {
	return uuid.NewString()
}

// Step is the phase of the in-flight announcement.
type Step int

const (
	StepIdle Step = iota
	StepRequested
	StepInitialising
	StepSavingState
	StepPlaying
	StepLoaded
	StepStopped
	StepRestartPlaying
	StepEnded
)

var stepNames = map[Step]string{
	StepIdle:           "idle",
	StepRequested:      "requested",
	StepInitialising:   "initialising",
	StepSavingState:    "saving-state",
	StepPlaying:        "playing",
	StepLoaded:         "loaded",
	StepStopped:        "stopped",
	StepRestartPlaying: "restart-playing",
	StepEnded:          "ended",
}

// String returns the step name used in logs.
func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// activity tracks whether an announcement currently owns the process-wide
// announcement slot.
type activity int

const (
	activityNone activity = iota

	// activityPending: the request marker has been sent but not yet
	// echoed back.
	activityPending

	// activityRunning: the echo arrived and the machine is stepping.
	activityRunning
)

// transitions lists the legal step successions. Echoed markers arriving out
// of order (a stale completion after a reset, for example) are dropped
// instead of corrupting the machine.
var transitions = map[Step][]Step{
	StepIdle:           {StepRequested},
	StepRequested:      {StepInitialising, StepIdle},
	StepInitialising:   {StepSavingState, StepIdle},
	StepSavingState:    {StepPlaying},
	StepPlaying:        {StepLoaded},
	StepLoaded:         {StepStopped},
	StepStopped:        {StepRestartPlaying},
	StepRestartPlaying: {StepEnded},
	StepEnded:          {StepIdle},
}

func canTransition(from, to Step) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PlaylistName is the name under which a sync master's playlist is saved
// before an announcement and resumed afterwards. One name per master keeps
// concurrent groups on different masters from clobbering each other's
// saved playlists, and reusing it means a crashed announcement leaves at
// worst a stale saved playlist behind.
func PlaylistName(masterMAC string) string {
	return "autolog_" + strings.ReplaceAll(masterMAC, ":", "")
}
