package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LockTimeout != 3300*time.Millisecond || cfg.Grid.Width != 9 || cfg.Camera.Height != 84 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoadRepoConfig(t *testing.T) {
	cfg, err := Load("../../configs/server.yaml")
	if err != nil {
		t.Fatalf("load server.yaml: %v", err)
	}
	if cfg.TickRateHz <= 0 || cfg.NATS.SubjectPrefix == "" {
		t.Fatalf("server.yaml = %+v", cfg)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	body := `
addr: " :9000 "
lock_timeout: 250ms
grid:
  width: 5
  height: 4
nats:
  url: embedded
  subject_prefix: ".lab."
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.LockTimeout != 250*time.Millisecond {
		t.Fatalf("overrides = %+v", cfg)
	}
	if cfg.Grid.Width != 5 || cfg.Grid.Height != 4 || cfg.Camera.Width != 84 {
		t.Fatalf("grid/camera = %+v %+v", cfg.Grid, cfg.Camera)
	}
	if cfg.NATS.URL != EmbeddedNATS || cfg.NATS.SubjectPrefix != "lab" {
		t.Fatalf("nats = %+v", cfg.NATS)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.TickRateHz = 0
	cfg.Grid.Width = -1
	cfg.NATS.URL = "localhost"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "tick_rate_hz") {
		t.Fatalf("error %q does not mention tick_rate_hz", err)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("grid: [1, 2"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateArchiveNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Journal.Archive.Endpoint = "https://r2.example.com"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "bucket") {
		t.Fatalf("err = %v", err)
	}
	cfg.Journal.Archive.Bucket = "runs"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("err = %v", err)
	}
}
