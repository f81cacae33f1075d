// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/autolog/squeezebox-controller/internal/logging"
	"github.com/autolog/squeezebox-controller/internal/metrics"
	"github.com/autolog/squeezebox-controller/internal/protocol"
	"github.com/autolog/squeezebox-controller/internal/queue"
)

// CommandSession drains the per-server command queue over a dedicated TCP
// connection, sending one command at a time and posting each direct reply
// to the shared inbound queue.
//
// It implements suture.Service; Serve runs one connection lifetime and
// returns on the first fault so the supervisor can restart it with backoff.
type CommandSession struct {
	cfg      Config
	commands *queue.Queue[string]
	inbound  *queue.Queue[protocol.Inbound]
	registry faulter
	log      zerolog.Logger
}

// NewCommandSession wires a command session for one server.
func NewCommandSession(cfg Config, commands *queue.Queue[string], inbound *queue.Queue[protocol.Inbound], registry faulter) *CommandSession {
	return &CommandSession{
		cfg:      cfg,
		commands: commands,
		inbound:  inbound,
		registry: registry,
		log: logging.With().
			Str("component", "command-session").
			Str("server", cfg.ServerID).
			Logger(),
	}
}

// String names the session in supervisor logs.
func (s *CommandSession) String() string {
	return "command-session/" + s.cfg.ServerID
}

// Serve dials the server and processes commands until the context is
// cancelled or the connection faults.
func (s *CommandSession) Serve(ctx context.Context) error {
	conn, err := dial(ctx, s.cfg.Addr)
	if err != nil {
		s.fault(err, "dial failed")
		return err
	}
	defer conn.Close()

	// Unblock any in-flight read/write when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	metrics.SessionConnects.WithLabelValues(s.cfg.ServerID, "command").Inc()
	s.log.Info().Str("addr", s.cfg.Addr).Msg("command session connected")
	reader := newLineReader(conn)

	for {
		command, err := s.commands.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}

		s.log.Debug().Str("command", command).Msg("sending")
		if _, err := conn.Write(protocol.Encode(command)); err != nil {
			s.fault(err, "write failed")
			return fmt.Errorf("session: write %q: %w", command, err)
		}

		raw, err := reader.next(CommandReadTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// On the command channel a timeout is a fault: every
			// send must produce a reply.
			s.fault(err, "read failed")
			return fmt.Errorf("session: read reply for %q: %w", command, err)
		}

		post(s.inbound, s.cfg, protocol.ChannelReply, raw, func(err error) {
			s.log.Warn().Err(err).Msg("dropping undecodable reply")
		})
	}
}

func (s *CommandSession) fault(err error, msg string) {
	metrics.SessionFaults.WithLabelValues(s.cfg.ServerID, "command").Inc()
	s.log.Error().Err(err).Msg(msg)
	s.registry.MarkServerUnavailable(s.cfg.ServerID)
}
