// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/autolog/squeezebox-controller/internal/logging"
	"github.com/autolog/squeezebox-controller/internal/metrics"
	"github.com/autolog/squeezebox-controller/internal/protocol"
	"github.com/autolog/squeezebox-controller/internal/queue"
)

// subscribeCommand turns on the server's notification stream for this
// connection.
const subscribeCommand = "listen 1"

// ListenSession holds the notification connection to one server: it
// subscribes with `listen 1` and posts every pushed line to the shared
// inbound queue.
//
// It implements suture.Service; Serve runs one connection lifetime.
type ListenSession struct {
	cfg      Config
	inbound  *queue.Queue[protocol.Inbound]
	registry faulter
	log      zerolog.Logger
}

// NewListenSession wires a listen session for one server.
func NewListenSession(cfg Config, inbound *queue.Queue[protocol.Inbound], registry faulter) *ListenSession {
	return &ListenSession{
		cfg:      cfg,
		inbound:  inbound,
		registry: registry,
		log: logging.With().
			Str("component", "listen-session").
			Str("server", cfg.ServerID).
			Logger(),
	}
}

// String names the session in supervisor logs.
func (s *ListenSession) String() string {
	return "listen-session/" + s.cfg.ServerID
}

// Serve dials the server, subscribes to notifications and forwards pushed
// lines until the context is cancelled or the connection faults. Read
// timeouts mean the server is idle and are not faults.
func (s *ListenSession) Serve(ctx context.Context) error {
	conn, err := dial(ctx, s.cfg.Addr)
	if err != nil {
		s.fault(err, "dial failed")
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write(protocol.Encode(subscribeCommand)); err != nil {
		s.fault(err, "subscribe failed")
		return fmt.Errorf("session: subscribe: %w", err)
	}
	metrics.SessionConnects.WithLabelValues(s.cfg.ServerID, "listen").Inc()
	s.log.Info().Str("addr", s.cfg.Addr).Msg("listen session subscribed")

	reader := newLineReader(conn)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := reader.next(ListenReadTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTimeout(err) {
				continue
			}
			s.fault(err, "read failed")
			return fmt.Errorf("session: read notification: %w", err)
		}

		post(s.inbound, s.cfg, protocol.ChannelNotification, raw, func(err error) {
			s.log.Warn().Err(err).Msg("dropping undecodable notification")
		})
	}
}

func (s *ListenSession) fault(err error, msg string) {
	metrics.SessionFaults.WithLabelValues(s.cfg.ServerID, "listen").Inc()
	s.log.Error().Err(err).Msg(msg)
	s.registry.MarkServerUnavailable(s.cfg.ServerID)
}
