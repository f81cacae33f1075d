// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package artwork maintains one cover-art file per player, refreshed from
// the media server whenever the current track changes and reset to a
// placeholder when the player is off or disconnected.
package artwork

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/autolog/squeezebox-controller/internal/logging"
)

// serverArtworkPort is the media server's HTTP port that serves cover art.
const serverArtworkPort = 9000

// Config locates the artwork directory and the placeholder image.
type Config struct {
	// Dir receives one <mac-without-colons>/coverart.jpg per player.
	Dir string `koanf:"dir"`

	// Placeholder is copied over a player's cover file when no art
	// applies. Empty disables placeholder resets.
	Placeholder string `koanf:"placeholder"`

	// FetchTimeout bounds one cover download.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

// Store downloads and caches cover art. Fetches run on the caller's
// goroutine; the dispatcher wraps calls in a goroutine to stay off the
// critical path.
type Store struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger

	// mu serializes writes per store; cover files are small enough that
	// a single writer at a time costs nothing noticeable.
	mu sync.Mutex
}

// NewStore returns an artwork store rooted at cfg.Dir.
func NewStore(cfg Config) *Store {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &Store{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		log:    logging.With().Str("component", "artwork").Logger(),
	}
}

// CoverPath returns the cover file path for a player.
func (s *Store) CoverPath(mac string) string {
	return filepath.Join(s.cfg.Dir, strings.ReplaceAll(mac, ":", ""), "coverart.jpg")
}

// ResolveURL turns a server-reported artwork reference into an absolute
// URL. Relative references are served by the media server's web port.
func ResolveURL(serverHost, artworkURL string) string {
	if strings.HasPrefix(artworkURL, "http://") || strings.HasPrefix(artworkURL, "https://") {
		return artworkURL
	}
	return fmt.Sprintf("http://%s:%d/%s", serverHost, serverArtworkPort, strings.TrimPrefix(artworkURL, "/"))
}

// DefaultTrackURL is the artwork reference used when a track reports none:
// the server's current-track cover endpoint for the player.
func DefaultTrackURL(mac string) string {
	return fmt.Sprintf("music/current/cover.jpg?player=%s", mac)
}

// Fetch downloads the cover at url into the player's cover file.
func (s *Store) Fetch(ctx context.Context, url, mac string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("artwork: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("artwork: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("artwork: fetch %s: status %d", url, resp.StatusCode)
	}
	return s.write(mac, resp.Body)
}

// Reset copies the placeholder over the player's cover file.
func (s *Store) Reset(mac string) error {
	if s.cfg.Placeholder == "" {
		return nil
	}
	src, err := os.Open(s.cfg.Placeholder)
	if err != nil {
		return fmt.Errorf("artwork: open placeholder: %w", err)
	}
	defer src.Close()
	return s.write(mac, src)
}

func (s *Store) write(mac string, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := s.CoverPath(mac)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("artwork: create dir: %w", err)
	}

	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("artwork: create cover file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("artwork: write cover file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("artwork: close cover file: %w", err)
	}
	return os.Rename(tmp, dst)
}
