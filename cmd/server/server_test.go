package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"envgrid.ai/internal/config"
	"envgrid.ai/internal/persistence/journal"
	"envgrid.ai/internal/protocol"
	"envgrid.ai/internal/transport/ws"
)

func newTestRuntime(t *testing.T) *runtime {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.TickRateHz = 500
	cfg.Camera = config.CameraConfig{Width: 8, Height: 8}
	cfg.LockTimeout = 300 * time.Millisecond
	cfg.NATS.URL = config.EmbeddedNATS

	rt, err := newRuntime(cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt.Start(ctx)
	t.Cleanup(func() {
		cancel()
		rt.Close()
	})
	return rt
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestServerEndToEnd(t *testing.T) {
	rt := newTestRuntime(t)
	srv := httptest.NewServer(newMux(rt))
	defer srv.Close()

	if code, body := get(t, srv.URL+"/healthz"); code != 200 || body != "ok" {
		t.Fatalf("healthz = %d %q", code, body)
	}

	c, err := ws.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp, err := c.Call(protocol.Request{CreateWorld: &protocol.CreateWorldRequest{}})
	if err != nil || resp.CreateWorld == nil {
		t.Fatalf("create: %+v %v", resp.Error, err)
	}
	name := resp.CreateWorld.WorldName
	if resp, err := c.Call(protocol.Request{JoinWorld: &protocol.JoinWorldRequest{WorldName: name}}); err != nil || resp.JoinWorld == nil {
		t.Fatalf("join: %+v %v", resp.Error, err)
	}
	if resp, err := c.Call(protocol.Request{Step: &protocol.StepRequest{}}); err != nil || resp.Step == nil {
		t.Fatalf("step: %+v %v", resp.Error, err)
	}

	_, metrics := get(t, srv.URL+"/metrics")
	for _, want := range []string{
		`envgrid_requests_total{kind="create_world",code="0"} 1`,
		`envgrid_requests_total{kind="step",code="0"} 1`,
		`envgrid_sessions 1`,
		`envgrid_owner_queue_depth{queue="post_render"}`,
		`envgrid_index_dropped_total 0`,
	} {
		if !strings.Contains(metrics, want) {
			t.Fatalf("metrics missing %q:\n%s", want, metrics)
		}
	}

	code, body := get(t, srv.URL+"/admin/v1/worlds")
	if code != 200 {
		t.Fatalf("admin worlds = %d %s", code, body)
	}
	var worlds struct {
		Worlds []worldJSON `json:"worlds"`
	}
	if err := json.Unmarshal([]byte(body), &worlds); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(worlds.Worlds) != 1 || worlds.Worlds[0].Name != name || worlds.Worlds[0].Agents != 1 {
		t.Fatalf("worlds = %+v", worlds.Worlds)
	}

	// The empty-action step ended an episode, which lands in the index.
	code, body = get(t, srv.URL+"/admin/v1/episodes?world="+name)
	if code != 200 || !strings.Contains(body, "empty_actions") {
		t.Fatalf("episodes = %d %s", code, body)
	}

	_ = c.Close()
	rt.Close()

	files, err := journal.Files(filepath.Join(rt.cfg.DataDir, "journal"))
	if err != nil || len(files) == 0 {
		t.Fatalf("journal files = %v %v", files, err)
	}
	if _, err := os.Stat(filepath.Join(rt.cfg.DataDir, "index", "envgrid.sqlite")); err != nil {
		t.Fatalf("index file: %v", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.4:22":    false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q) = %v want %v", in, got, want)
		}
	}
}

func TestAdminRejectsRemoteCallers(t *testing.T) {
	rt := newTestRuntime(t)
	mux := newMux(rt)
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/worlds", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestShutdownWaitsForSessionCleanup(t *testing.T) {
	rt := newTestRuntime(t)
	srv := httptest.NewServer(newMux(rt))
	defer srv.Close()

	c, err := ws.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	resp, err := c.Call(protocol.Request{CreateWorld: &protocol.CreateWorldRequest{}})
	if err != nil || resp.CreateWorld == nil {
		t.Fatalf("create: %+v %v", resp.Error, err)
	}
	name := resp.CreateWorld.WorldName
	if resp, err := c.Call(protocol.Request{JoinWorld: &protocol.JoinWorldRequest{WorldName: name}}); err != nil || resp.JoinWorld == nil {
		t.Fatalf("join: %+v %v", resp.Error, err)
	}

	shutdown(nil, nil, rt, 200*time.Millisecond)

	w, err := rt.reg.Lookup(name)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if agents := w.Agents(); len(agents) != 0 {
		t.Fatalf("agents after shutdown = %v", agents)
	}
	select {
	case <-rt.exec.Done():
		t.Fatalf("owner executor stopped before sessions left")
	default:
	}
}
