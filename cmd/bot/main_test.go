package main

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"envgrid.ai/internal/session"
	"envgrid.ai/internal/sim/gridscene"
	"envgrid.ai/internal/sim/owner"
	"envgrid.ai/internal/sim/registry"
	"envgrid.ai/internal/transport/ws"
)

func TestRunCreatesStepsAndDestroys(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	exec := owner.New(1000, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = exec.Run(ctx) }()

	reg := registry.New()
	h := session.NewHandler(session.Config{LockTimeout: time.Second, CameraWidth: 8, CameraHeight: 8, Seed: 5}, session.Deps{
		Registry: reg,
		Executor: exec,
		Scene:    gridscene.New(gridscene.Config{CameraWidth: 8, CameraHeight: 8}),
	})
	srv := httptest.NewServer(ws.NewServer(h, logger).Handler())
	defer srv.Close()

	c, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	sum, err := run(ctx, c, options{Steps: 40, MaxSteps: 5, Seed: 1}, logger)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Steps != 40 {
		t.Fatalf("steps = %d", sum.Steps)
	}
	// A five-step budget plus the restart step ends an episode at least every
	// seventh step.
	if sum.Episodes < 5 {
		t.Fatalf("episodes = %d", sum.Episodes)
	}
	if reg.Len() != 0 {
		t.Fatalf("world not destroyed: %d left", reg.Len())
	}
}
