// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package tts renders announcement text to an audio file for the media
// server to play.
package tts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Synthesizer renders text to an audio file at outPath. The file must exist
// and be complete when Synthesize returns.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, outPath string) error
}

// CommandConfig configures the external synthesizer invocation.
type CommandConfig struct {
	// Binary is the synthesizer executable, e.g. "espeak-ng" or "say".
	Binary string `koanf:"binary"`

	// Args is the argument template. The placeholders {text}, {voice}
	// and {out} are substituted per call.
	Args []string `koanf:"args"`

	// Timeout bounds one synthesis run.
	Timeout time.Duration `koanf:"timeout"`
}

// DefaultCommandConfig synthesizes with espeak-ng, which is commonly
// available on the Linux hosts this controller runs on.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		Binary:  "espeak-ng",
		Args:    []string{"-v", "{voice}", "-w", "{out}", "{text}"},
		Timeout: 30 * time.Second,
	}
}

// Command is a Synthesizer that shells out to an external speech engine.
type Command struct {
	cfg CommandConfig
}

// NewCommand returns a command-based synthesizer.
func NewCommand(cfg CommandConfig) *Command {
	if cfg.Binary == "" {
		cfg = DefaultCommandConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCommandConfig().Timeout
	}
	return &Command{cfg: cfg}
}

// Synthesize runs the configured engine and verifies it produced output.
func (c *Command) Synthesize(ctx context.Context, text, voice, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("tts: create output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	args := make([]string, 0, len(c.cfg.Args))
	for _, a := range c.cfg.Args {
		a = strings.ReplaceAll(a, "{text}", text)
		a = strings.ReplaceAll(a, "{voice}", voice)
		a = strings.ReplaceAll(a, "{out}", outPath)
		args = append(args, a)
	}

	cmd := exec.CommandContext(ctx, c.cfg.Binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tts: %s failed: %w (output: %s)", c.cfg.Binary, err, strings.TrimSpace(string(out)))
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("tts: no output file: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("tts: %s produced an empty file", c.cfg.Binary)
	}
	return nil
}
