// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Command server runs the controller: it holds a command and a listen
// session to every configured Logitech Media Server, mirrors the player
// fleet into an in-memory model and exposes it over HTTP and websocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/autolog/squeezebox-controller/internal/announce"
	"github.com/autolog/squeezebox-controller/internal/api"
	"github.com/autolog/squeezebox-controller/internal/artwork"
	"github.com/autolog/squeezebox-controller/internal/config"
	"github.com/autolog/squeezebox-controller/internal/controller"
	"github.com/autolog/squeezebox-controller/internal/devstore"
	"github.com/autolog/squeezebox-controller/internal/dispatcher"
	"github.com/autolog/squeezebox-controller/internal/logging"
	"github.com/autolog/squeezebox-controller/internal/protocol"
	"github.com/autolog/squeezebox-controller/internal/queue"
	"github.com/autolog/squeezebox-controller/internal/session"
	"github.com/autolog/squeezebox-controller/internal/state"
	"github.com/autolog/squeezebox-controller/internal/supervisor"
	"github.com/autolog/squeezebox-controller/internal/tts"
	ws "github.com/autolog/squeezebox-controller/internal/websocket"
)

// hubNotifier pushes announcement phase changes to websocket clients.
type hubNotifier struct {
	hub *ws.Hub
}

func (n hubNotifier) AnnouncementChanged(masterMAC string, step announce.Step, queued int) {
	n.hub.BroadcastAnnouncement(masterMAC, step.String(), queued)
}

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logging.Init(cfg.Logging)
	logging.Info().Int("servers", len(cfg.Servers)).Msg("starting squeezebox controller")

	registry := state.NewRegistry()
	serverIDs := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		registry.AddServer(s.ID, s.Host, s.Port)
		serverIDs = append(serverIDs, s.ID)
	}

	store, err := devstore.Open(cfg.Store.Path, cfg.Store.SyncWrites)
	if err != nil {
		return fmt.Errorf("opening device store: %w", err)
	}
	defer store.Close()
	if err := store.Seed(registry, serverIDs); err != nil {
		logging.Warn().Err(err).Msg("device store seed failed, starting with an empty model")
	}

	hub := ws.NewHub()
	registry.SetListener(state.Listeners{hub, store})

	artworkStore := artwork.NewStore(cfg.Artwork)
	synth := tts.NewCommand(cfg.TTS)

	inbound := queue.New[protocol.Inbound]()
	router := queue.NewRouter()
	commandQueues := make(map[string]*queue.Queue[string], len(cfg.Servers))
	for _, s := range cfg.Servers {
		commandQueues[s.ID] = router.Register(s.ID)
	}
	defer router.Close()

	announcer := announce.NewManager(registry, router, synth, cfg.Announce.TempDir)
	announcer.SetNotifier(hubNotifier{hub: hub})

	disp := dispatcher.New(registry, router, announcer, artworkStore, inbound)
	ctrl := controller.New(registry, router, announcer)

	apiServer := api.NewServer(api.Config{
		Listen:            cfg.API.Listen,
		RequestsPerMinute: cfg.API.RequestsPerMinute,
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		ShutdownTimeout:   cfg.API.ShutdownTimeout,
	}, registry, ctrl, announcer, hub, artworkStore.CoverPath)

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.API.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)

	for _, s := range cfg.Servers {
		sessCfg := session.Config{
			ServerID: s.ID,
			Addr:     net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		}
		tree.AddSessionService(session.NewCommandSession(sessCfg, commandQueues[s.ID], inbound, registry))
		tree.AddSessionService(session.NewListenSession(sessCfg, inbound, registry))

		// Prime the model: the first reply drives server discovery and
		// enumerates the player fleet.
		commandQueues[s.ID].Enqueue("serverstatus 0 0 subscribe:0")
	}
	tree.AddDispatchService(disp)
	tree.AddMessagingService(hub)
	tree.AddAPIService(apiServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop within the shutdown timeout")
		}
	}
	logging.Info().Msg("shutdown complete")
	return nil
}
