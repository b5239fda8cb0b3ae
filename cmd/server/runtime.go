package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"envgrid.ai/internal/config"
	"envgrid.ai/internal/events"
	"envgrid.ai/internal/persistence/archive"
	"envgrid.ai/internal/persistence/indexdb"
	"envgrid.ai/internal/persistence/journal"
	"envgrid.ai/internal/session"
	"envgrid.ai/internal/sim/gridscene"
	"envgrid.ai/internal/sim/owner"
	"envgrid.ai/internal/sim/registry"
	"envgrid.ai/internal/transport/observer"
	"envgrid.ai/internal/transport/ws"
)

// runtime owns every long-lived server component.
type runtime struct {
	cfg    config.Config
	logger *log.Logger

	reg     *registry.Registry
	exec    *owner.Executor
	handler *session.Handler
	viewers *observer.Server
	ws      *ws.Server

	journal  *journal.Writer
	archive  *archive.Uploader
	index    *indexdb.SQLiteIndex
	nats     *events.NATS
	embedded *events.Embedded

	stopExec context.CancelFunc
}

func newRuntime(cfg config.Config, logger *log.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		reg:    registry.New(),
		exec:   owner.New(cfg.TickRateHz, logger),
	}

	rt.viewers = observer.NewServer(rt.reg, logger)
	pubs := events.Multi{rt.viewers}
	if !cfg.DisableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index", "envgrid.sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		rt.index = idx
		pubs = append(pubs, idx)
	}
	if cfg.NATS.URL != "" {
		url := cfg.NATS.URL
		if url == config.EmbeddedNATS {
			ns, err := events.StartEmbedded("127.0.0.1", -1, 5*time.Second)
			if err != nil {
				rt.Close()
				return nil, err
			}
			rt.embedded = ns
			url = ns.ClientURL()
			logger.Printf("embedded nats on %s", url)
		}
		nc, err := events.DialNATS(url, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.nats = nc
		pubs = append(pubs, nc)
	}

	deps := session.Deps{
		Registry: rt.reg,
		Executor: rt.exec,
		Scene:    gridscene.New(gridscene.Config{CameraWidth: cfg.Camera.Width, CameraHeight: cfg.Camera.Height}),
		Logger:   logger,
		Events:   pubs,
	}
	if cfg.Journal.Enabled {
		rt.journal = journal.NewWriter(filepath.Join(cfg.DataDir, "journal"))
		deps.Journal = rt.journal
		if a := cfg.Journal.Archive; a.Enabled() {
			client, err := archive.NewClient(a.Endpoint, a.Bucket, a.Region, archive.Credentials{
				AccessKeyID:     os.Getenv("ENVGRID_ARCHIVE_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("ENVGRID_ARCHIVE_SECRET_ACCESS_KEY"),
			})
			if err != nil {
				rt.Close()
				return nil, err
			}
			rt.archive = archive.NewUploader(client, cfg.DataDir, a.Prefix, logger)
			rt.journal.OnClose = rt.archive.Enqueue
		}
	}
	rt.handler = session.NewHandler(session.Config{
		LockTimeout:  cfg.LockTimeout,
		GridWidth:    cfg.Grid.Width,
		GridHeight:   cfg.Grid.Height,
		CameraWidth:  cfg.Camera.Width,
		CameraHeight: cfg.Camera.Height,
	}, deps)
	rt.ws = ws.NewServer(rt.handler, logger)
	return rt, nil
}

// Start runs the owner executor until ctx ends or Close is called.
func (rt *runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	rt.stopExec = cancel
	go func() {
		if err := rt.exec.Run(ctx); err != nil && err != context.Canceled {
			rt.logger.Printf("owner executor stopped: %v", err)
		}
	}()
}

func (rt *runtime) Close() {
	if rt.stopExec != nil {
		rt.stopExec()
		<-rt.exec.Done()
		rt.stopExec = nil
	}
	rt.reg.Close()
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.logger.Printf("close journal: %v", err)
		}
		rt.journal = nil
	}
	if rt.archive != nil {
		rt.archive.Close()
		rt.archive = nil
	}
	if rt.index != nil {
		if err := rt.index.Close(); err != nil {
			rt.logger.Printf("close index: %v", err)
		}
		rt.index = nil
	}
	if rt.nats != nil {
		if err := rt.nats.Close(); err != nil {
			rt.logger.Printf("close nats: %v", err)
		}
		rt.nats = nil
	}
	if rt.embedded != nil {
		rt.embedded.Shutdown()
		rt.embedded = nil
	}
}
