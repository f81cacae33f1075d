// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/autolog/squeezebox-controller/internal/announce"
	"github.com/autolog/squeezebox-controller/internal/controller"
	"github.com/autolog/squeezebox-controller/internal/state"
	ws "github.com/autolog/squeezebox-controller/internal/websocket"
)

const (
	testServerID = "den"
	testMAC      = "00:04:20:aa:bb:cc"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(serverID, command string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, serverID+"|"+command)
	return nil
}

func (r *recordingSender) contains(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sent {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

type noopSynth struct{}

func (noopSynth) Synthesize(context.Context, string, string, string) error { return nil }

type testAPI struct {
	handler  http.Handler
	sender   *recordingSender
	registry *state.Registry
	covers   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	registry := state.NewRegistry()
	registry.AddServer(testServerID, "127.0.0.1", 9090)
	registry.UpdateServer(testServerID, func(s *state.Server) {
		s.Status = state.ServerConnected
	})
	registry.EnsurePlayer(testServerID, testMAC)
	registry.UpdatePlayer(testMAC, func(p *state.Player) {
		p.Connected = true
		p.Power = true
		p.Volume = 40
		p.Name = "Den"
	})
	sender := &recordingSender{}
	mgr := announce.NewManager(registry, sender, noopSynth{}, t.TempDir())
	ctrl := controller.New(registry, sender, mgr)
	covers := t.TempDir()
	cfg := Config{
		Listen:          "127.0.0.1:0",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}
	srv := NewServer(cfg, registry, ctrl, mgr, ws.NewHub(), func(mac string) string {
		return filepath.Join(covers, strings.ReplaceAll(mac, ":", ""), "coverart.jpg")
	})
	return &testAPI{handler: srv.Routes(), sender: sender, registry: registry, covers: covers}
}

func (a *testAPI) do(t *testing.T, method, path, body string) (*http.Response, Response) {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	res := rec.Result()
	var envelope Response
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil && res.StatusCode != http.StatusOK {
		t.Fatalf("decoding response envelope: %v", err)
	}
	return res, envelope
}

func TestHealthEndpoints(t *testing.T) {
	a := newTestAPI(t)

	t.Run("healthz", func(t *testing.T) {
		res, env := a.do(t, http.MethodGet, "/healthz", "")
		if res.StatusCode != http.StatusOK || !env.Success {
			t.Errorf("status = %d, success = %v", res.StatusCode, env.Success)
		}
	})

	t.Run("readyz with connected server", func(t *testing.T) {
		res, _ := a.do(t, http.MethodGet, "/readyz", "")
		if res.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", res.StatusCode)
		}
	})

	t.Run("readyz without connected server", func(t *testing.T) {
		a.registry.UpdateServer(testServerID, func(s *state.Server) {
			s.Status = state.ServerUnavailable
		})
		defer a.registry.UpdateServer(testServerID, func(s *state.Server) {
			s.Status = state.ServerConnected
		})
		res, env := a.do(t, http.MethodGet, "/readyz", "")
		if res.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", res.StatusCode)
		}
		if env.Error == nil || env.Error.Code != ErrCodeServiceUnavailable {
			t.Errorf("error = %+v, want SERVICE_UNAVAILABLE", env.Error)
		}
	})
}

func TestServerEndpoints(t *testing.T) {
	a := newTestAPI(t)

	t.Run("list", func(t *testing.T) {
		res, env := a.do(t, http.MethodGet, "/api/v1/servers", "")
		if res.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("status = %d, success = %v", res.StatusCode, env.Success)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		res, env := a.do(t, http.MethodGet, "/api/v1/servers/attic", "")
		if res.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", res.StatusCode)
		}
		if env.Error == nil || env.Error.Code != ErrCodeNotFound {
			t.Errorf("error = %+v, want NOT_FOUND", env.Error)
		}
	})

	t.Run("refresh", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/servers/"+testServerID+"/refresh", "")
		if res.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", res.StatusCode)
		}
		if !a.sender.contains("serverstatus 0 0 subscribe:0") {
			t.Error("refresh did not request a server status")
		}
	})

	t.Run("power all on", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/servers/"+testServerID+"/power", `{"on":true}`)
		if res.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", res.StatusCode)
		}
		if !a.sender.contains(testMAC + " power 1") {
			t.Error("power on was not sent to the connected player")
		}
	})

	t.Run("raw command", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/servers/"+testServerID+"/command", `{"command":"rescan"}`)
		if res.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", res.StatusCode)
		}
		if !a.sender.contains(testServerID + "|rescan") {
			t.Error("raw command was not forwarded")
		}
	})

	t.Run("empty command rejected", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/servers/"+testServerID+"/command", `{}`)
		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", res.StatusCode)
		}
	})
}

func TestPlayerEndpoints(t *testing.T) {
	a := newTestAPI(t)

	t.Run("get", func(t *testing.T) {
		res, env := a.do(t, http.MethodGet, "/api/v1/players/"+testMAC, "")
		if res.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("status = %d, success = %v", res.StatusCode, env.Success)
		}
		data, ok := env.Data.(map[string]interface{})
		if !ok {
			t.Fatalf("data = %T, want object", env.Data)
		}
		if data["name"] != "Den" {
			t.Errorf("name = %v, want Den", data["name"])
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		res, _ := a.do(t, http.MethodGet, "/api/v1/players/00:00:00:00:00:01", "")
		if res.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", res.StatusCode)
		}
	})

	t.Run("play", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/play", "")
		if res.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", res.StatusCode)
		}
		if !a.sender.contains(testMAC + " play") {
			t.Error("play was not sent")
		}
	})

	t.Run("power toggle", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/power", `{"action":"toggle"}`)
		if res.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", res.StatusCode)
		}
	})

	t.Run("power bad action", func(t *testing.T) {
		res, env := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/power", `{"action":"flip"}`)
		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", res.StatusCode)
		}
		if env.Error == nil || env.Error.Code != ErrCodeBadRequest {
			t.Errorf("error = %+v, want BAD_REQUEST", env.Error)
		}
	})

	t.Run("volume set", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/volume", `{"action":"set","value":65}`)
		if res.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", res.StatusCode)
		}
		if !a.sender.contains("mixer volume 65") {
			t.Error("volume set was not sent")
		}
	})

	t.Run("volume out of range", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/volume", `{"action":"set","value":140}`)
		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", res.StatusCode)
		}
	})

	t.Run("mute", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/mute", `{"action":"mute"}`)
		if res.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", res.StatusCode)
		}
		if !a.sender.contains("mixer muting 1") {
			t.Error("mute was not sent")
		}
	})

	t.Run("preset out of range", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/preset", `{"preset":7}`)
		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", res.StatusCode)
		}
	})

	t.Run("shuffle", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/shuffle", `{"option":"album"}`)
		if res.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", res.StatusCode)
		}
		if !a.sender.contains("playlist shuffle 2") {
			t.Error("shuffle album was not sent")
		}
	})

	t.Run("playlist play probes file", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/playlist",
			`{"action":"play","path":"/playlists/morning mix.m3u"}`)
		if res.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", res.StatusCode)
		}
		if !a.sender.contains("autologFunction:PlaylistCheck") {
			t.Error("playlist play did not probe for the file")
		}
	})

	t.Run("invalid json body", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/volume", `{"action":`)
		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", res.StatusCode)
		}
	})
}

func TestPlayerCover(t *testing.T) {
	a := newTestAPI(t)

	t.Run("unknown player", func(t *testing.T) {
		res, _ := a.do(t, http.MethodGet, "/api/v1/players/00:00:00:00:00:01/cover", "")
		if res.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", res.StatusCode)
		}
	})

	t.Run("serves file", func(t *testing.T) {
		dir := filepath.Join(a.covers, strings.ReplaceAll(testMAC, ":", ""))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "coverart.jpg"), []byte("jpeg-bytes"), 0o644); err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/players/"+testMAC+"/cover", nil)
		rec := httptest.NewRecorder()
		a.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if rec.Body.String() != "jpeg-bytes" {
			t.Errorf("body = %q", rec.Body.String())
		}
	})
}

func TestAnnouncementEndpoints(t *testing.T) {
	a := newTestAPI(t)

	t.Run("status idle", func(t *testing.T) {
		res, env := a.do(t, http.MethodGet, "/api/v1/announcements", "")
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", res.StatusCode)
		}
		data, ok := env.Data.(map[string]interface{})
		if !ok {
			t.Fatalf("data = %T, want object", env.Data)
		}
		if data["step"] != "idle" {
			t.Errorf("step = %v, want idle", data["step"])
		}
	})

	t.Run("announce speech", func(t *testing.T) {
		res, env := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/announce",
			`{"option":"speech","volume":60,"text":"Dinner is ready"}`)
		if res.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", res.StatusCode)
		}
		data, ok := env.Data.(map[string]interface{})
		if !ok {
			t.Fatalf("data = %T, want object", env.Data)
		}
		if queued, _ := data["queued"].(bool); queued {
			t.Error("first announcement should start immediately, not queue")
		}
		if !a.sender.contains("autologAnnouncementRequest") {
			t.Error("announcement request marker was not sent")
		}
	})

	t.Run("announce without text", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/announce",
			`{"option":"speech","volume":60}`)
		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", res.StatusCode)
		}
	})

	t.Run("reset", func(t *testing.T) {
		res, _ := a.do(t, http.MethodPost, "/api/v1/announcements/reset", "")
		if res.StatusCode != http.StatusAccepted {
			t.Errorf("status = %d, want 202", res.StatusCode)
		}
		if step := a.stepOf(t); step != "idle" {
			t.Errorf("step after reset = %q, want idle", step)
		}
	})
}

func (a *testAPI) stepOf(t *testing.T) string {
	t.Helper()
	_, env := a.do(t, http.MethodGet, "/api/v1/announcements", "")
	data, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %T, want object", env.Data)
	}
	step, _ := data["step"].(string)
	return step
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	a.registry.UpdatePlayer(testMAC, func(p *state.Player) {
		p.Connected = false
	})

	res, env := a.do(t, http.MethodPost, "/api/v1/players/"+testMAC+"/play", "")
	if res.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", res.StatusCode)
	}
	if env.Error == nil || env.Error.Code != ErrCodeConflict {
		t.Errorf("error = %+v, want CONFLICT", env.Error)
	}
}
