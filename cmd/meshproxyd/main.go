// Command meshproxyd boots the mesh sidecar's connection-ingest pipeline:
// it loads configuration, wires the (out-of-scope, discovery-fake-backed)
// control-plane client into the outbound resolution stack, starts the
// metrics server, and runs the inbound accept loop until signaled to
// drain.
//
// Grounded on tamecalm-signal-proxy/cmd/proxy/main.go's godotenv.Load +
// ui.PrintBanner + signal.NotifyContext + metrics-server-with-graceful-
// shutdown-goroutine shape, restructured around the single sidecar
// pipeline spec.md describes instead of a mode switch over three
// unrelated server types.
package main

import (
	"context"
	"crypto/tls"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/linkerd-sidecar/meshcore/internal/config"
	"github.com/linkerd-sidecar/meshcore/internal/discovery"
	"github.com/linkerd-sidecar/meshcore/internal/discovery/discoverytest"
	"github.com/linkerd-sidecar/meshcore/internal/drain"
	"github.com/linkerd-sidecar/meshcore/internal/inbound"
	"github.com/linkerd-sidecar/meshcore/internal/metrics"
	"github.com/linkerd-sidecar/meshcore/internal/outbound"
	"github.com/linkerd-sidecar/meshcore/internal/ui"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()

	ui.PrintBanner(version)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		ui.LogStatus("error", err.Error())
		os.Exit(1)
	}

	if cfg.Env.IsDevelopment() {
		ui.LogStatus("info", "environment: "+ui.Warn("DEVELOPMENT"))
	} else {
		ui.LogStatus("info", "environment: "+ui.Success("PRODUCTION"))
	}
	ui.LogStatus("info", "trust domain: "+cfg.Env.TrustDomain)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ui.LogSection("metrics")
	metricsSrv := metrics.NewServer(cfg.MetricsListen)
	metricsErrs := make(chan error, 1)
	metricsSrv.Start(metricsErrs)
	ui.LogStatus("success", "metrics listening on "+cfg.MetricsListen)

	watch := drain.NewWatch()

	ui.LogSection("discovery")
	// The discovery client is an out-of-scope external collaborator per
	// spec.md §1; meshcore consumes whatever conforms to discovery.Client
	// without caring how it was built. Absent a real control-plane client
	// to dial, bootstrap wires the same in-memory fake internal/outbound's
	// own tests use, seeded empty — operators supply a real
	// discovery.Client by replacing this construction.
	var client discovery.Client = discoverytest.New()
	ui.LogStatus("info", "discovery client: in-memory fake (no control-plane client wired)")

	outboundStack := outbound.NewStack(cfg, client)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.CacheMaxIdleAge / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				evicted := outboundStack.Sweep()
				metrics.CacheSize.Set(float64(outboundStack.Len()))
				if evicted > 0 {
					slog.Debug("swept idle logical services", slog.Int("evicted", evicted))
				}
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	var tlsConfig *tls.Config
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			ui.LogStatus("error", "failed to load TLS identity: "+err.Error())
			os.Exit(1)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.RequestClientCert,
		}
	}

	pipeline := inbound.New(inbound.Deps{
		Config:        cfg,
		Outbound:      outboundStack,
		LocalIdentity: cfg.LocalIdentity,
		TLSConfig:     tlsConfig,
		Drain:         watch,
		OwnPort:       inbound.OwnPortFromListen(cfg.InboundListen),
	})

	ln, err := net.Listen("tcp", cfg.InboundListen)
	if err != nil {
		ui.LogStatus("error", "failed to listen on "+cfg.InboundListen+": "+err.Error())
		os.Exit(1)
	}
	ui.LogStatus("success", "inbound listening on "+cfg.InboundListen)

	serveErrs := make(chan error, 1)
	go func() {
		serveErrs <- pipeline.Serve(ctx, ln)
	}()

	select {
	case <-ctx.Done():
		ui.LogStatus("info", "shutdown signal received, draining")
	case err := <-serveErrs:
		if err != nil {
			ui.LogStatus("error", "inbound accept loop failed: "+err.Error())
		}
	case err := <-metricsErrs:
		ui.LogStatus("error", "metrics server failed: "+err.Error())
	}

	watch.Signal()
	_ = ln.Close()

	if !watch.AwaitDrain(context.Background(), cfg.DrainGrace) {
		ui.LogStatus("warning", "drain grace window elapsed with work still in flight")
	}

	if err := metricsSrv.Shutdown(context.Background(), cfg.DrainGrace); err != nil {
		log.Printf("metrics server shutdown: %v", err)
	}

	ui.PrintFooter("meshcore stopped")
}
