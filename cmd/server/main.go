package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"envgrid.ai/internal/config"
	"envgrid.ai/internal/transport/grpcenv"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.yaml", "server config path (missing file keeps defaults)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		grpcAddr   = flag.String("grpc_addr", "", "grpc listen address (overrides config; \"off\" disables)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite world/episode index")
		natsURL    = flag.String("nats", "", "nats url or \"embedded\" (overrides config)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	path := strings.TrimSpace(*configPath)
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			logger.Printf("config %s not found; using defaults", path)
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *grpcAddr != "" {
		cfg.GRPCAddr = *grpcAddr
		if *grpcAddr == "off" {
			cfg.GRPCAddr = ""
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *disableDB {
		cfg.DisableDB = true
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		logger.Fatalf("start: %v", err)
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()
	// The executor outlives the listeners so departing sessions can still
	// clean up; rt.Close stops it.
	rt.Start(context.Background())

	var gsrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatalf("grpc listen: %v", err)
		}
		gsrv = grpc.NewServer(append(grpcenv.ServerOptions(), grpc.WaitForHandlers(true))...)
		grpcenv.Register(gsrv, grpcenv.NewService(rt.handler, logger))
		go func() {
			logger.Printf("grpc listening on %s", lis.Addr())
			if err := gsrv.Serve(lis); err != nil {
				logger.Printf("grpc serve: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(rt),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdown(srv, gsrv, rt, 5*time.Second)
	}()

	if cfg.Addr != "" {
		logger.Printf("listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("ListenAndServe: %v", err)
		}
	}
	// ListenAndServe returns as soon as Shutdown starts; the deferred
	// rt.Close must wait for every session to leave.
	<-stopped
}

// shutdown stops accepting connections and waits for open sessions on both
// transports to finish their disconnect cleanup.
func shutdown(srv *http.Server, gsrv *grpc.Server, rt *runtime, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			rt.logger.Printf("http shutdown: %v", err)
		}
	}
	if err := rt.ws.Shutdown(ctx); err != nil {
		rt.logger.Printf("ws shutdown: %v", err)
	}
	if gsrv != nil {
		stopGRPC(gsrv, grace)
	}
}

// stopGRPC drains in-flight streams, then forces the rest closed.
func stopGRPC(s *grpc.Server, grace time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.Stop()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
