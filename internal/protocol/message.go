// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package protocol

import "strings"

// Channel identifies which session a line arrived on.
type Channel int

const (
	// ChannelReply is a response read by the command session after a send.
	ChannelReply Channel = iota

	// ChannelNotification is an unsolicited line from the event session.
	ChannelNotification
)

// String returns the channel name used in logs.
func (c Channel) String() string {
	if c == ChannelNotification {
		return "listen-notification"
	}
	return "reply-to-send"
}

// Inbound is one decoded line delivered to the dispatcher, tagged with the
// server it came from and the session channel it arrived on. Both channels
// feed the same queue so responses are applied in arrival order.
type Inbound struct {
	ServerID string
	Channel  Channel
	Line     string
}

// Kind classifies an inbound line by its dispatch keyword.
type Kind int

const (
	// KindUnknown covers keywords this controller does not handle.
	// Unknown lines are ignored, keeping the dispatcher forward-compatible
	// with newer server responses.
	KindUnknown Kind = iota

	// KindServerStatus is a `serverstatus` response or subscription push.
	KindServerStatus

	// KindSyncGroups is a `syncgroups` listing.
	KindSyncGroups

	// KindPlayers is a `players <n> 1` single-player listing.
	KindPlayers

	// KindPlayerID is a `player id <n> <mac>` response.
	KindPlayerID

	// KindReadDirectory is a `readdirectory` listing, used by this
	// controller purely as a file-existence probe.
	KindReadDirectory

	// KindPlayer is any player-scoped line: the first token is a
	// MAC-shaped address and the second selects the sub-handler.
	KindPlayer
)

// Message is a decoded, classified inbound line.
type Message struct {
	// Kind selects the dispatcher's top-level handler.
	Kind Kind

	// Raw is the full decoded line with trailing whitespace trimmed.
	Raw string

	// Tokens is the whitespace-split form of Raw.
	Tokens []string

	// PlayerMAC is the scope address for KindPlayer messages.
	PlayerMAC string

	// Sub is the player sub-command (second token) for KindPlayer
	// messages, empty otherwise.
	Sub string
}

// Parse classifies a decoded line. It never fails: lines that match no
// known shape come back as KindUnknown and are dropped by the dispatcher.
func Parse(line string) Message {
	trimmed := strings.TrimRight(line, " \r\n")
	tokens := Tokenize(trimmed)
	msg := Message{Kind: KindUnknown, Raw: trimmed, Tokens: tokens}
	if len(tokens) == 0 {
		return msg
	}

	switch tokens[0] {
	case "serverstatus":
		msg.Kind = KindServerStatus
	case "syncgroups":
		msg.Kind = KindSyncGroups
	case "players":
		msg.Kind = KindPlayers
	case "player":
		if len(tokens) > 1 && tokens[1] == "id" {
			msg.Kind = KindPlayerID
		}
	case "readdirectory":
		msg.Kind = KindReadDirectory
	default:
		if IsMAC(tokens[0]) {
			msg.Kind = KindPlayer
			msg.PlayerMAC = tokens[0]
			if len(tokens) > 1 {
				msg.Sub = tokens[1]
			}
		}
	}
	return msg
}

// Arg returns the nth token, or the empty string when absent. Handlers use
// this instead of indexing to keep short responses from panicking.
func (m Message) Arg(n int) string {
	if n < 0 || n >= len(m.Tokens) {
		return ""
	}
	return m.Tokens[n]
}

// Rest returns everything after the first n tokens of the raw line, for
// values that may contain spaces (artist, album, title, genre).
func (m Message) Rest(n int) string {
	fields := strings.SplitN(m.Raw, " ", n+1)
	if len(fields) <= n {
		return ""
	}
	return strings.TrimSpace(fields[n])
}
