// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package dispatcher consumes the shared inbound queue and applies every
// decoded server line to the domain model.
//
// There is exactly one dispatcher goroutine per process. It is the single
// writer of the state registry and the single driver of the announcement
// machine; command and listen sessions only enqueue. This ordering
// discipline is what makes response handling deterministic: lines are
// applied strictly in arrival order regardless of which server or channel
// produced them.
package dispatcher

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/autolog/squeezebox-controller/internal/announce"
	"github.com/autolog/squeezebox-controller/internal/logging"
	"github.com/autolog/squeezebox-controller/internal/metrics"
	"github.com/autolog/squeezebox-controller/internal/protocol"
	"github.com/autolog/squeezebox-controller/internal/queue"
	"github.com/autolog/squeezebox-controller/internal/state"
)

// Sender delivers a command to a server's command queue.
type Sender interface {
	Send(serverID, command string) error
}

// Artwork is the slice of the artwork store the dispatcher drives.
type Artwork interface {
	Fetch(ctx context.Context, url, mac string) error
	Reset(mac string) error
	CoverPath(mac string) string
}

// Dispatcher routes classified inbound lines to their handlers.
type Dispatcher struct {
	registry *state.Registry
	sender   Sender
	announce *announce.Manager
	artwork  Artwork
	inbound  *queue.Queue[protocol.Inbound]
	log      zerolog.Logger
}

// New wires a dispatcher.
func New(registry *state.Registry, sender Sender, announcer *announce.Manager, artwork Artwork, inbound *queue.Queue[protocol.Inbound]) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sender:   sender,
		announce: announcer,
		artwork:  artwork,
		inbound:  inbound,
		log:      logging.With().Str("component", "dispatcher").Logger(),
	}
}

// String names the dispatcher in supervisor logs.
func (d *Dispatcher) String() string { return "dispatcher" }

// Serve consumes the inbound queue until the context is cancelled. It
// implements suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	for {
		in, err := d.inbound.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
		d.dispatch(ctx, in)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, in protocol.Inbound) {
	msg := protocol.Parse(in.Line)
	d.log.Debug().
		Str("server", in.ServerID).
		Stringer("channel", in.Channel).
		Str("line", msg.Raw).
		Msg("dispatching")

	metrics.LinesDispatched.WithLabelValues(in.ServerID, in.Channel.String(), kindLabel(msg.Kind)).Inc()

	switch msg.Kind {
	case protocol.KindServerStatus:
		d.handleServerStatus(in.ServerID, msg)
	case protocol.KindSyncGroups:
		d.handleSyncGroups(in.ServerID, msg)
	case protocol.KindPlayers:
		d.handlePlayers(in.ServerID, msg)
	case protocol.KindPlayerID:
		d.handlePlayerID(in.ServerID, msg)
	case protocol.KindReadDirectory:
		d.handleReadDirectory(in.ServerID, msg)
	case protocol.KindPlayer:
		d.handlePlayer(ctx, in.ServerID, msg)
	default:
		metrics.LinesDropped.WithLabelValues(in.ServerID).Inc()
		d.log.Debug().Str("line", msg.Raw).Msg("no handler for line")
	}
}

func kindLabel(k protocol.Kind) string {
	switch k {
	case protocol.KindServerStatus:
		return "serverstatus"
	case protocol.KindSyncGroups:
		return "syncgroups"
	case protocol.KindPlayers:
		return "players"
	case protocol.KindPlayerID:
		return "player-id"
	case protocol.KindReadDirectory:
		return "readdirectory"
	case protocol.KindPlayer:
		return "player"
	default:
		return "unknown"
	}
}

func (d *Dispatcher) send(serverID, command string) {
	if err := d.sender.Send(serverID, command); err != nil {
		d.log.Error().Err(err).Str("command", command).Msg("command not sent")
		return
	}
	metrics.CommandsSent.WithLabelValues(serverID).Inc()
}

func (d *Dispatcher) sendPlayer(serverID, mac string, args ...string) {
	d.send(serverID, protocol.PlayerCommand(mac, args...))
}
