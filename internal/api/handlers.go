// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/autolog/squeezebox-controller/internal/announce"
	"github.com/autolog/squeezebox-controller/internal/controller"
	"github.com/autolog/squeezebox-controller/internal/state"
	ws "github.com/autolog/squeezebox-controller/internal/websocket"
)

// writeActionError maps controller errors onto HTTP statuses: unknown
// targets are 404, offline targets 409, bad input 400.
func writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, controller.ErrUnknownPlayer), errors.Is(err, controller.ErrUnknownServer):
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, controller.ErrPlayerDisconnected), errors.Is(err, controller.ErrServerUnavailable):
		writeError(w, r, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, controller.ErrInvalidVolume),
		errors.Is(err, controller.ErrInvalidAnnouncement),
		errors.Is(err, controller.ErrInvalidPreset):
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, map[string]string{"status": "ok"})
}

// handleReadyz reports ready once at least one configured server is
// connected; a controller with no reachable server cannot do anything.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	for _, srv := range s.registry.Servers() {
		if srv.Status == state.ServerConnected {
			writeSuccess(w, r, map[string]string{"status": "ready"})
			return
		}
	}
	writeError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "no server connected")
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is meant for the local network; cross-origin browsers are
	// allowed so dashboards can subscribe directly.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := ws.NewClient(s.hub, conn)
	s.hub.Register <- client
	client.Start()
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, s.registry.Servers())
}

func (s *Server) handleServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	srv, ok := s.registry.Server(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "unknown server "+id)
		return
	}
	writeSuccess(w, r, srv)
}

func (s *Server) handleServerRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.RefreshServerStatus(chi.URLParam(r, "id")); err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handleServerPower(w http.ResponseWriter, r *http.Request) {
	var body struct {
		On bool `json:"on"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	id := chi.URLParam(r, "id")
	var err error
	if body.On {
		err = s.controller.PowerOnAll(id)
	} else {
		err = s.controller.PowerOffAll(id)
	}
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handleServerCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Command == "" {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "command is required")
		return
	}
	if err := s.controller.ServerCommand(chi.URLParam(r, "id"), body.Command); err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, s.registry.Players())
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")
	p, ok := s.registry.Player(mac)
	if !ok {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "unknown player "+mac)
		return
	}
	writeSuccess(w, r, p)
}

func (s *Server) handlePlayerCover(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")
	if _, ok := s.registry.Player(mac); !ok {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "unknown player "+mac)
		return
	}
	http.ServeFile(w, r, s.coverPath(mac))
}

// playerAction adapts a single-argument controller action to a handler.
func (s *Server) playerAction(action func(mac string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(chi.URLParam(r, "mac")); err != nil {
			writeActionError(w, r, err)
			return
		}
		writeAccepted(w, r, nil)
	}
}

func (s *Server) handlePlayerPower(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	mac := chi.URLParam(r, "mac")
	var err error
	switch body.Action {
	case "on":
		err = s.controller.PowerOn(mac)
	case "off":
		err = s.controller.PowerOff(mac)
	case "toggle":
		err = s.controller.PowerToggle(mac)
	default:
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "action must be on, off or toggle")
		return
	}
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handlePlayerVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
		Value  int    `json:"value"`
		Force  bool   `json:"force"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	mac := chi.URLParam(r, "mac")
	var err error
	switch body.Action {
	case "set":
		err = s.controller.SetVolume(mac, body.Value)
	case "up":
		err = s.controller.VolumeUp(mac, body.Value, body.Force)
	case "down":
		err = s.controller.VolumeDown(mac, body.Value, body.Force)
	default:
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "action must be set, up or down")
		return
	}
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handlePlayerMute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
		All    bool   `json:"all"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	mac := chi.URLParam(r, "mac")
	var err error
	switch body.Action {
	case "mute":
		err = s.controller.Mute(mac, body.All)
	case "unmute":
		err = s.controller.Unmute(mac, body.All)
	case "toggle":
		err = s.controller.ToggleMute(mac, body.All)
	default:
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "action must be mute, unmute or toggle")
		return
	}
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handlePlayerPreset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Preset int `json:"preset"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.controller.PlayPreset(chi.URLParam(r, "mac"), body.Preset); err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handlePlayerFavorite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemID string `json:"item_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ItemID == "" {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "item_id is required")
		return
	}
	if err := s.controller.PlayFavorite(chi.URLParam(r, "mac"), body.ItemID); err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handlePlayerPlaylist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
		Path   string `json:"path"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	mac := chi.URLParam(r, "mac")
	var err error
	switch body.Action {
	case "play":
		if body.Path == "" {
			writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "path is required to play a playlist")
			return
		}
		err = s.controller.PlayPlaylist(mac, body.Path)
	case "clear":
		err = s.controller.ClearPlaylist(mac)
	default:
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "action must be play or clear")
		return
	}
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handlePlayerShuffle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Option string `json:"option"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.controller.SetShuffle(chi.URLParam(r, "mac"), body.Option); err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handlePlayerRepeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Option string `json:"option"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.controller.SetRepeat(chi.URLParam(r, "mac"), body.Option); err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handlePlayerAnnounce(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Option  string `json:"option"`
		Volume  int    `json:"volume"`
		File    string `json:"file"`
		Text    string `json:"text"`
		Voice   string `json:"voice"`
		Prepend string `json:"prepend"`
		Append  string `json:"append"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	queued, err := s.controller.PlayAnnouncement(announce.Request{
		PlayerMAC:  chi.URLParam(r, "mac"),
		Option:     announce.Option(body.Option),
		Volume:     body.Volume,
		File:       body.File,
		SpeechText: body.Text,
		Voice:      body.Voice,
		Prepend:    body.Prepend,
		Append:     body.Append,
	})
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, map[string]bool{"queued": queued})
}

func (s *Server) handlePlayerCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Command == "" {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "command is required")
		return
	}
	if err := s.controller.PlayerCommand(chi.URLParam(r, "mac"), body.Command); err != nil {
		writeActionError(w, r, err)
		return
	}
	writeAccepted(w, r, nil)
}

func (s *Server) handleAnnouncementStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, map[string]interface{}{
		"step":   s.announce.Step().String(),
		"queued": s.announce.QueueLength(),
	})
}

func (s *Server) handleAnnouncementReset(w http.ResponseWriter, r *http.Request) {
	s.controller.ResetAnnouncement()
	writeAccepted(w, r, nil)
}
