// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Protocol traffic (commands sent, lines dispatched)
// - Session health (connects, faults)
// - Announcement lifecycle
// - API latency and websocket fanout

var (
	// Protocol Metrics
	CommandsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squeezebox_commands_sent_total",
			Help: "Total commands enqueued to media servers",
		},
		[]string{"server"},
	)

	LinesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squeezebox_lines_dispatched_total",
			Help: "Total inbound protocol lines processed by the dispatcher",
		},
		[]string{"server", "channel", "kind"},
	)

	LinesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squeezebox_lines_dropped_total",
			Help: "Inbound lines with no handler",
		},
		[]string{"server"},
	)

	// Session Metrics
	SessionConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squeezebox_session_connects_total",
			Help: "Successful session connections by session type",
		},
		[]string{"server", "session"},
	)

	SessionFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squeezebox_session_faults_total",
			Help: "Session terminations due to dial, read or write errors",
		},
		[]string{"server", "session"},
	)

	// Announcement Metrics
	AnnouncementsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "squeezebox_announcements_started_total",
			Help: "Announcement requests accepted (started or queued)",
		},
	)

	AnnouncementsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "squeezebox_announcements_completed_total",
			Help: "Announcements that ran to the ended marker",
		},
	)

	AnnouncementsAbandoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "squeezebox_announcements_abandoned_total",
			Help: "Announcements abandoned by file-check failure or reset",
		},
	)

	AnnouncementQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "squeezebox_announcement_queue_depth",
			Help: "Requests waiting behind the active announcement",
		},
	)

	// API Metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "squeezebox_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// WebSocket Metrics
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "squeezebox_websocket_clients",
			Help: "Connected websocket subscribers",
		},
	)

	WebSocketEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squeezebox_websocket_events_total",
			Help: "State-change events broadcast to websocket subscribers",
		},
		[]string{"type"},
	)
)
