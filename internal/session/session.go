// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package session implements the two TCP connections this controller holds
// to each media server's CLI port: a command session that sends queued
// commands and reads their direct replies, and a listen session that
// subscribes to the server's notification stream.
//
// Sessions are terminal on fault: any dial, read or write error marks the
// server unavailable and returns the error. Reconnection is the
// supervisor's concern, not the session's.
package session

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/autolog/squeezebox-controller/internal/protocol"
	"github.com/autolog/squeezebox-controller/internal/queue"
	"github.com/autolog/squeezebox-controller/internal/state"
)

const (
	// DialTimeout bounds the TCP connection attempt to the CLI port.
	DialTimeout = 20 * time.Second

	// CommandReadTimeout bounds the wait for a direct reply. A server
	// that goes silent this long on the command channel is faulted.
	CommandReadTimeout = 20 * time.Second

	// ListenReadTimeout is the notification poll interval. Hitting it
	// just means the server had nothing to say; it is not a fault.
	ListenReadTimeout = 5 * time.Second

	readChunkSize = 4096
)

// Config identifies the server a session pair talks to.
type Config struct {
	ServerID string
	Addr     string
}

// lineReader assembles newline-terminated protocol lines from a TCP stream
// that may fragment one line over several reads or coalesce several lines
// into one.
type lineReader struct {
	conn net.Conn
	buf  bytes.Buffer
	read []byte
}

func newLineReader(conn net.Conn) *lineReader {
	return &lineReader{conn: conn, read: make([]byte, readChunkSize)}
}

// next returns the next complete line without its terminator. The deadline
// applies per read call; a timeout surfaces as a net.Error with Timeout()
// true so callers can distinguish idle from fault.
func (r *lineReader) next(deadline time.Duration) ([]byte, error) {
	for {
		if line, ok := r.takeBuffered(); ok {
			return line, nil
		}
		if err := r.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return nil, fmt.Errorf("session: set read deadline: %w", err)
		}
		n, err := r.conn.Read(r.read)
		if n > 0 {
			r.buf.Write(r.read[:n])
		}
		if err != nil {
			// A timeout with a partial line buffered is still a
			// timeout; the fragment stays buffered for the next
			// call.
			return nil, err
		}
	}
}

func (r *lineReader) takeBuffered() ([]byte, bool) {
	data := r.buf.Bytes()
	idx := bytes.IndexByte(data, protocol.Terminator)
	if idx < 0 {
		return nil, false
	}
	line := make([]byte, idx)
	copy(line, data[:idx])
	r.buf.Next(idx + 1)
	return bytes.TrimRight(line, "\r"), true
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", addr, err)
	}
	return conn, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// post decodes a raw line and delivers it to the shared inbound queue.
// Undecodable lines are dropped with a log entry rather than faulting the
// session; the server occasionally emits junk for exotic tags.
func post(inbound *queue.Queue[protocol.Inbound], cfg Config, ch protocol.Channel, raw []byte, onDropped func(error)) {
	line, err := protocol.DecodeLine(raw)
	if err != nil {
		onDropped(err)
		return
	}
	inbound.Enqueue(protocol.Inbound{ServerID: cfg.ServerID, Channel: ch, Line: line})
}

// faulter is the slice of the registry the sessions need: marking a server
// unavailable when its connection pair breaks.
type faulter interface {
	MarkServerUnavailable(id string)
}

var _ faulter = (*state.Registry)(nil)
