// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingService struct {
	name   string
	starts atomic.Int64
}

func (s *countingService) String() string { return s.name }

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTreeRunsServicesInEveryLayer(t *testing.T) {
	tree := NewTree(discardLogger(), DefaultTreeConfig())
	svcs := []*countingService{
		{name: "session"}, {name: "dispatch"}, {name: "hub"}, {name: "api"},
	}
	tree.AddSessionService(svcs[0])
	tree.AddDispatchService(svcs[1])
	tree.AddMessagingService(svcs[2])
	tree.AddAPIService(svcs[3])

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for _, svc := range svcs {
		for svc.starts.Load() == 0 {
			select {
			case <-deadline:
				t.Fatalf("service %s never started", svc.name)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(discardLogger(), cfg)

	svc := &flappingService{fails: 2}
	tree.AddDispatchService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for svc.starts.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("starts = %d, want at least 3", svc.starts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type flappingService struct {
	fails  int64
	starts atomic.Int64
}

func (s *flappingService) String() string { return "flapping" }

func (s *flappingService) Serve(ctx context.Context) error {
	n := s.starts.Add(1)
	if n <= s.fails {
		return errors.New("transient failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold != 5.0 || cfg.FailureDecay != 30.0 {
		t.Errorf("unexpected failure policy: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
}
