// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/autolog/squeezebox-controller/internal/announce"
	"github.com/autolog/squeezebox-controller/internal/state"
)

const (
	testServer = "den"
	testMAC    = "00:04:20:aa:bb:cc"
	slaveMAC   = "00:04:20:dd:ee:ff"
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

func (r *recordingSender) last(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatal("no command sent")
	}
	return r.sent[len(r.sent)-1]
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingSender) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type noopSynth struct{}

func (noopSynth) Synthesize(context.Context, string, string, string) error { return nil }

func newTestController(t *testing.T) (*Controller, *recordingSender, *state.Registry) {
	t.Helper()
	registry := state.NewRegistry()
	registry.AddServer(testServer, "127.0.0.1", 9090)
	registry.UpdateServer(testServer, func(s *state.Server) {
		s.Status = state.ServerConnected
	})
	registry.EnsurePlayer(testServer, testMAC)
	registry.UpdatePlayer(testMAC, func(p *state.Player) {
		p.Connected = true
		p.Power = true
		p.Volume = 47
	})
	sender := &recordingSender{}
	mgr := announce.NewManager(registry, sender, noopSynth{}, t.TempDir())
	return New(registry, sender, mgr), sender, registry
}

func TestPlayerGuards(t *testing.T) {
	c, _, registry := newTestController(t)

	t.Run("unknown player", func(t *testing.T) {
		if err := c.Play("00:00:00:00:00:01"); !errors.Is(err, ErrUnknownPlayer) {
			t.Errorf("err = %v, want ErrUnknownPlayer", err)
		}
	})

	t.Run("disconnected player", func(t *testing.T) {
		registry.EnsurePlayer(testServer, slaveMAC)
		if err := c.Play(slaveMAC); !errors.Is(err, ErrPlayerDisconnected) {
			t.Errorf("err = %v, want ErrPlayerDisconnected", err)
		}
	})
}

func TestServerGuards(t *testing.T) {
	c, _, registry := newTestController(t)

	if err := c.RefreshServerStatus("attic"); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("err = %v, want ErrUnknownServer", err)
	}

	registry.MarkServerUnavailable(testServer)
	if err := c.RefreshServerStatus(testServer); !errors.Is(err, ErrServerUnavailable) {
		t.Errorf("err = %v, want ErrServerUnavailable", err)
	}
}

func TestTransportActions(t *testing.T) {
	c, sender, _ := newTestController(t)

	cases := []struct {
		name string
		call func() error
		want string
	}{
		{"power on", func() error { return c.PowerOn(testMAC) }, testMAC + " power 1"},
		{"power off", func() error { return c.PowerOff(testMAC) }, testMAC + " power 0"},
		{"power toggle", func() error { return c.PowerToggle(testMAC) }, testMAC + " power"},
		{"play", func() error { return c.Play(testMAC) }, testMAC + " play"},
		{"stop", func() error { return c.Stop(testMAC) }, testMAC + " stop"},
		{"pause", func() error { return c.Pause(testMAC) }, testMAC + " pause"},
		{"forward", func() error { return c.Forward(testMAC) }, testMAC + " button fwd"},
		{"rewind", func() error { return c.Rewind(testMAC) }, testMAC + " button rew"},
		{"clear playlist", func() error { return c.ClearPlaylist(testMAC) }, testMAC + " playlist clear"},
		{"mute one", func() error { return c.Mute(testMAC, false) }, testMAC + " mixer muting 1"},
		{"mute all", func() error { return c.Mute(testMAC, true) }, testMAC + " autologMixerMuteAll"},
		{"unmute one", func() error { return c.Unmute(testMAC, false) }, testMAC + " mixer muting 0"},
		{"unmute all", func() error { return c.Unmute(testMAC, true) }, testMAC + " autologMixerUnmuteAll"},
		{"toggle mute", func() error { return c.ToggleMute(testMAC, false) }, testMAC + " mixer muting toggle"},
		{"toggle mute all", func() error { return c.ToggleMute(testMAC, true) }, testMAC + " autologMixerToggleMuteAll"},
		{"preset", func() error { return c.PlayPreset(testMAC, 3) }, testMAC + " button playPreset_3"},
		{"favorite", func() error { return c.PlayFavorite(testMAC, "a1.2") }, testMAC + " favorites playlist play item_id:a1.2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); err != nil {
				t.Fatalf("action: %v", err)
			}
			if got := sender.last(t); got != testServer+"|"+tc.want {
				t.Errorf("sent %q, want %q", got, tc.want)
			}
		})
	}
}

func TestVolume(t *testing.T) {
	c, sender, registry := newTestController(t)

	t.Run("set", func(t *testing.T) {
		if err := c.SetVolume(testMAC, 70); err != nil {
			t.Fatalf("SetVolume: %v", err)
		}
		if got := sender.last(t); got != testServer+"|"+testMAC+" mixer volume 70" {
			t.Errorf("sent %q", got)
		}
	})

	t.Run("set rejects out of range", func(t *testing.T) {
		if err := c.SetVolume(testMAC, 101); !errors.Is(err, ErrInvalidVolume) {
			t.Errorf("err = %v, want ErrInvalidVolume", err)
		}
		if err := c.SetVolume(testMAC, -1); !errors.Is(err, ErrInvalidVolume) {
			t.Errorf("err = %v, want ErrInvalidVolume", err)
		}
	})

	// Player volume is 47 throughout the force cases.
	t.Run("up without force", func(t *testing.T) {
		if err := c.VolumeUp(testMAC, 5, false); err != nil {
			t.Fatalf("VolumeUp: %v", err)
		}
		if got := sender.last(t); got != testServer+"|"+testMAC+" mixer volume +5" {
			t.Errorf("sent %q", got)
		}
	})

	t.Run("up forced to next multiple", func(t *testing.T) {
		if err := c.VolumeUp(testMAC, 5, true); err != nil {
			t.Fatalf("VolumeUp: %v", err)
		}
		// 47 + 3 = 50.
		if got := sender.last(t); got != testServer+"|"+testMAC+" mixer volume +3" {
			t.Errorf("sent %q", got)
		}
	})

	t.Run("down forced to previous multiple", func(t *testing.T) {
		if err := c.VolumeDown(testMAC, 5, true); err != nil {
			t.Fatalf("VolumeDown: %v", err)
		}
		// 47 - 2 = 45.
		if got := sender.last(t); got != testServer+"|"+testMAC+" mixer volume -2" {
			t.Errorf("sent %q", got)
		}
	})

	t.Run("force at a multiple uses the full step", func(t *testing.T) {
		registry.UpdatePlayer(testMAC, func(p *state.Player) { p.Volume = 45 })
		if err := c.VolumeUp(testMAC, 5, true); err != nil {
			t.Fatalf("VolumeUp: %v", err)
		}
		if got := sender.last(t); got != testServer+"|"+testMAC+" mixer volume +5" {
			t.Errorf("sent %q", got)
		}
		if err := c.VolumeDown(testMAC, 5, true); err != nil {
			t.Fatalf("VolumeDown: %v", err)
		}
		if got := sender.last(t); got != testServer+"|"+testMAC+" mixer volume -5" {
			t.Errorf("sent %q", got)
		}
	})
}

func TestShuffleRepeatOptions(t *testing.T) {
	c, sender, _ := newTestController(t)

	cases := []struct {
		name string
		call func() error
		want string
	}{
		{"shuffle off", func() error { return c.SetShuffle(testMAC, "off") }, testMAC + " playlist shuffle 0"},
		{"shuffle song", func() error { return c.SetShuffle(testMAC, "song") }, testMAC + " playlist shuffle 1"},
		{"shuffle album", func() error { return c.SetShuffle(testMAC, "album") }, testMAC + " playlist shuffle 2"},
		{"shuffle toggle", func() error { return c.SetShuffle(testMAC, "toggle") }, testMAC + " playlist shuffle"},
		{"shuffle unknown falls to toggle", func() error { return c.SetShuffle(testMAC, "bogus") }, testMAC + " playlist shuffle"},
		{"repeat off", func() error { return c.SetRepeat(testMAC, "off") }, testMAC + " playlist repeat 0"},
		{"repeat song", func() error { return c.SetRepeat(testMAC, "song") }, testMAC + " playlist repeat 1"},
		{"repeat playlist", func() error { return c.SetRepeat(testMAC, "playlist") }, testMAC + " playlist repeat 2"},
		{"repeat toggle", func() error { return c.SetRepeat(testMAC, "toggle") }, testMAC + " playlist repeat"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); err != nil {
				t.Fatalf("action: %v", err)
			}
			if got := sender.last(t); got != testServer+"|"+tc.want {
				t.Errorf("sent %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPlayPlaylistProbesFile(t *testing.T) {
	c, sender, _ := newTestController(t)

	if err := c.PlayPlaylist(testMAC, "/playlists/morning mix.m3u"); err != nil {
		t.Fatalf("PlayPlaylist: %v", err)
	}
	want := testServer + "|readdirectory 0 1 autologFunction:PlaylistCheck autologDevice:" +
		testMAC + " folder:/playlists filter:morning%20mix.m3u"
	if got := sender.last(t); got != want {
		t.Errorf("sent %q, want %q", got, want)
	}
}

func TestPlayAnnouncement(t *testing.T) {
	c, sender, registry := newTestController(t)

	t.Run("validation", func(t *testing.T) {
		_, err := c.PlayAnnouncement(announce.Request{
			PlayerMAC: testMAC, Option: announce.OptionFile, Volume: 120, File: "/a.wav",
		})
		if !errors.Is(err, ErrInvalidVolume) {
			t.Errorf("err = %v, want ErrInvalidVolume", err)
		}

		_, err = c.PlayAnnouncement(announce.Request{
			PlayerMAC: testMAC, Option: announce.OptionFile, Volume: 50,
		})
		if err == nil {
			t.Error("file announcement without a file should fail")
		}

		_, err = c.PlayAnnouncement(announce.Request{
			PlayerMAC: testMAC, Option: announce.OptionSpeech, Volume: 50,
		})
		if err == nil {
			t.Error("speech announcement without text should fail")
		}
	})

	t.Run("submits against the sync master", func(t *testing.T) {
		registry.EnsurePlayer(testServer, slaveMAC)
		registry.UpdatePlayer(slaveMAC, func(p *state.Player) { p.Connected = true })
		registry.RebuildSyncGroups(testServer, [][]string{{testMAC, slaveMAC}})

		queued, err := c.PlayAnnouncement(announce.Request{
			PlayerMAC: slaveMAC, Option: announce.OptionFile, Volume: 60, File: "/a.wav",
		})
		if err != nil {
			t.Fatalf("PlayAnnouncement: %v", err)
		}
		if queued {
			t.Error("first announcement should start immediately")
		}
		last := sender.last(t)
		if want := testServer + "|" + testMAC + " autologAnnouncementRequest "; len(last) <= len(want) || last[:len(want)] != want {
			t.Errorf("request marker %q not addressed to master", last)
		}
	})

	t.Run("encodes paths with spaces", func(t *testing.T) {
		c.ResetAnnouncement()
		_, err := c.PlayAnnouncement(announce.Request{
			Key:       "space-key",
			PlayerMAC: testMAC,
			Option:    announce.OptionFile,
			Volume:    60,
			File:      "/announcements/my clip.wav",
			Prepend:   "/announcements/pre chime.wav",
		})
		if err != nil {
			t.Fatalf("PlayAnnouncement: %v", err)
		}

		// The file probes carry the stored paths; a raw space there would
		// be tokenized apart by the server.
		p, _ := registry.Player(testMAC)
		c.announce.HandleRequest(testServer, p, "space-key")
		probed := false
		for _, sent := range sender.commands() {
			if strings.Contains(sent, "my clip.wav") || strings.Contains(sent, "pre chime.wav") {
				t.Errorf("unencoded announcement path in %q", sent)
			}
			if strings.Contains(sent, "filter:my%20clip.wav") {
				probed = true
			}
		}
		if !probed {
			t.Error("no probe for the encoded announcement file")
		}
	})
}

func TestRawCommands(t *testing.T) {
	c, sender, _ := newTestController(t)

	if err := c.PlayerCommand(testMAC, "status 0 999 tags:"); err != nil {
		t.Fatalf("PlayerCommand: %v", err)
	}
	if got := sender.last(t); got != testServer+"|"+testMAC+" status 0 999 tags:" {
		t.Errorf("sent %q", got)
	}

	if err := c.ServerCommand(testServer, "rescan"); err != nil {
		t.Fatalf("ServerCommand: %v", err)
	}
	if got := sender.last(t); got != testServer+"|rescan" {
		t.Errorf("sent %q", got)
	}
}

func TestPowerAll(t *testing.T) {
	c, sender, registry := newTestController(t)
	registry.EnsurePlayer(testServer, slaveMAC)
	registry.UpdatePlayer(slaveMAC, func(p *state.Player) { p.Connected = true })

	before := sender.count()
	if err := c.PowerOnAll(testServer); err != nil {
		t.Fatalf("PowerOnAll: %v", err)
	}
	if got := sender.count() - before; got != 2 {
		t.Errorf("sent %d commands, want one per connected player", got)
	}

	t.Run("skips disconnected players", func(t *testing.T) {
		registry.UpdatePlayer(slaveMAC, func(p *state.Player) { p.Connected = false })
		before := sender.count()
		if err := c.PowerOffAll(testServer); err != nil {
			t.Fatalf("PowerOffAll: %v", err)
		}
		if got := sender.count() - before; got != 1 {
			t.Errorf("sent %d commands, want 1", got)
		}
	})
}
