// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package api is the HTTP surface of the controller: JSON endpoints for
// reading the domain model and triggering player actions, a websocket feed
// of state changes, Prometheus metrics and health probes.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/autolog/squeezebox-controller/internal/announce"
	"github.com/autolog/squeezebox-controller/internal/controller"
	"github.com/autolog/squeezebox-controller/internal/logging"
	"github.com/autolog/squeezebox-controller/internal/metrics"
	"github.com/autolog/squeezebox-controller/internal/state"
	ws "github.com/autolog/squeezebox-controller/internal/websocket"
)

// Config configures the HTTP server. It mirrors the api section of the
// service configuration.
type Config struct {
	Listen            string
	RequestsPerMinute int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
}

// Server serves the HTTP API. It implements suture.Service.
type Server struct {
	cfg        Config
	registry   *state.Registry
	controller *controller.Controller
	announce   *announce.Manager
	hub        *ws.Hub
	coverPath  func(mac string) string
	log        zerolog.Logger
}

// NewServer wires the API server. coverPath resolves a player MAC to its
// cover art file on disk.
func NewServer(cfg Config, registry *state.Registry, ctrl *controller.Controller, announcer *announce.Manager, hub *ws.Hub, coverPath func(mac string) string) *Server {
	return &Server{
		cfg:        cfg,
		registry:   registry,
		controller: ctrl,
		announce:   announcer,
		hub:        hub,
		coverPath:  coverPath,
		log:        logging.With().Str("component", "api").Logger(),
	}
}

// String names the server in supervisor logs.
func (s *Server) String() string { return "api-server" }

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.metricsMiddleware)
	if s.cfg.RequestsPerMinute > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebsocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/servers", s.handleServers)
		r.Route("/servers/{id}", func(r chi.Router) {
			r.Get("/", s.handleServer)
			r.Post("/refresh", s.handleServerRefresh)
			r.Post("/power", s.handleServerPower)
			r.Post("/command", s.handleServerCommand)
		})

		r.Get("/players", s.handlePlayers)
		r.Route("/players/{mac}", func(r chi.Router) {
			r.Get("/", s.handlePlayer)
			r.Get("/cover", s.handlePlayerCover)
			r.Post("/power", s.handlePlayerPower)
			r.Post("/play", s.playerAction(s.controller.Play))
			r.Post("/stop", s.playerAction(s.controller.Stop))
			r.Post("/pause", s.playerAction(s.controller.Pause))
			r.Post("/forward", s.playerAction(s.controller.Forward))
			r.Post("/rewind", s.playerAction(s.controller.Rewind))
			r.Post("/volume", s.handlePlayerVolume)
			r.Post("/mute", s.handlePlayerMute)
			r.Post("/preset", s.handlePlayerPreset)
			r.Post("/favorite", s.handlePlayerFavorite)
			r.Post("/playlist", s.handlePlayerPlaylist)
			r.Post("/shuffle", s.handlePlayerShuffle)
			r.Post("/repeat", s.handlePlayerRepeat)
			r.Post("/announce", s.handlePlayerAnnounce)
			r.Post("/command", s.handlePlayerCommand)
		})

		r.Get("/announcements", s.handleAnnouncementStatus)
		r.Post("/announcements/reset", s.handleAnnouncementReset)
	})

	return r
}

// Serve runs the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.cfg.Listen).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("api shutdown forced")
			_ = srv.Close()
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// metricsMiddleware records request duration per method, route pattern and
// status.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(wrapped.Status())).
			Observe(time.Since(start).Seconds())
	})
}
