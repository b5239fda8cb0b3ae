// Package config loads the server YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pixil98/go-errors"
	"gopkg.in/yaml.v3"
)

// EmbeddedNATS asks the server to run its own NATS listener.
const EmbeddedNATS = "embedded"

type Config struct {
	Addr        string        `yaml:"addr"`
	GRPCAddr    string        `yaml:"grpc_addr"`
	DataDir     string        `yaml:"data_dir"`
	TickRateHz  int           `yaml:"tick_rate_hz"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	DisableDB   bool          `yaml:"disable_db"`

	Grid    GridConfig    `yaml:"grid"`
	Camera  CameraConfig  `yaml:"camera"`
	Journal JournalConfig `yaml:"journal"`
	NATS    NATSConfig    `yaml:"nats"`
}

type GridConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type CameraConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type JournalConfig struct {
	Enabled bool          `yaml:"enabled"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig names an S3-compatible bucket that receives finished journal
// files. Credentials come from ENVGRID_ARCHIVE_ACCESS_KEY_ID and
// ENVGRID_ARCHIVE_SECRET_ACCESS_KEY.
type ArchiveConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
}

func (a ArchiveConfig) Enabled() bool { return a.Endpoint != "" }

type NATSConfig struct {
	// URL is a nats:// address, EmbeddedNATS, or empty to disable events.
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

func Defaults() Config {
	return Config{
		Addr:        ":8080",
		GRPCAddr:    ":30051",
		DataDir:     "./data",
		TickRateHz:  60,
		LockTimeout: 3300 * time.Millisecond,
		Grid:        GridConfig{Width: 9, Height: 9},
		Camera:      CameraConfig{Width: 84, Height: 84},
		Journal:     JournalConfig{Enabled: true},
		NATS:        NATSConfig{SubjectPrefix: "envgrid"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.Addr = strings.TrimSpace(c.Addr)
	c.GRPCAddr = strings.TrimSpace(c.GRPCAddr)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.NATS.URL = strings.TrimSpace(c.NATS.URL)
	c.Journal.Archive.Endpoint = strings.TrimSpace(c.Journal.Archive.Endpoint)
	c.Journal.Archive.Bucket = strings.TrimSpace(c.Journal.Archive.Bucket)
	c.NATS.SubjectPrefix = strings.Trim(strings.TrimSpace(c.NATS.SubjectPrefix), ".")
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "envgrid"
	}
}

func (c *Config) Validate() error {
	el := errors.NewErrorList()
	if c.Addr == "" && c.GRPCAddr == "" {
		el.Add(fmt.Errorf("addr: at least one of addr or grpc_addr is required"))
	}
	if c.DataDir == "" && (c.Journal.Enabled || !c.DisableDB) {
		el.Add(fmt.Errorf("data_dir: required when the journal or index is enabled"))
	}
	if c.TickRateHz <= 0 || c.TickRateHz > 1000 {
		el.Add(fmt.Errorf("tick_rate_hz: must be in 1..1000, got %d", c.TickRateHz))
	}
	if c.LockTimeout <= 0 {
		el.Add(fmt.Errorf("lock_timeout: must be positive, got %s", c.LockTimeout))
	}
	el.Add(positive("grid.width", c.Grid.Width))
	el.Add(positive("grid.height", c.Grid.Height))
	el.Add(positive("camera.width", c.Camera.Width))
	el.Add(positive("camera.height", c.Camera.Height))
	if c.Grid.Width*c.Grid.Height > 1<<16 {
		el.Add(fmt.Errorf("grid: %dx%d exceeds 65536 cells", c.Grid.Width, c.Grid.Height))
	}
	if a := c.Journal.Archive; a.Enabled() {
		if !c.Journal.Enabled {
			el.Add(fmt.Errorf("journal.archive: requires journal.enabled"))
		}
		if a.Bucket == "" {
			el.Add(fmt.Errorf("journal.archive.bucket: required with an endpoint"))
		}
	}
	if u := c.NATS.URL; u != "" && u != EmbeddedNATS && !strings.Contains(u, "://") {
		el.Add(fmt.Errorf("nats.url: %q is neither %q nor a URL", u, EmbeddedNATS))
	}
	return el.Err()
}

func positive(name string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%s: must be positive, got %d", name, v)
	}
	return nil
}
