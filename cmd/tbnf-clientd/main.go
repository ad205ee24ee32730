// Command tbnf-clientd is a thin operational daemon that connects to a
// TBNF host (directly or via UDP discovery), maintains the connection with
// automatic reconnect, and exposes Prometheus metrics. It registers only
// the built-in system messages; a real game client links the
// endpoint/clientendpoint packages directly and registers its own message
// variants alongside messages.BuiltIns().
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tbnf-go/tbnf/internal/clientendpoint"
	"github.com/tbnf-go/tbnf/internal/dispatch"
	"github.com/tbnf-go/tbnf/internal/discovery"
	"github.com/tbnf-go/tbnf/internal/endpoint"
	"github.com/tbnf-go/tbnf/internal/messages"
	"github.com/tbnf-go/tbnf/internal/metrics"
	"github.com/tbnf-go/tbnf/internal/registry"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("tbnf-clientd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	reg := registry.New()
	if err := reg.Register(messages.BuiltIns()...); err != nil {
		l.Error("registry_init_error", "error", err)
		os.Exit(1)
	}
	metrics.SetRegistrySize(reg.Len())
	d := dispatch.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostAddr := cfg.hostAddr
	if cfg.discover {
		found, err := discoverHost(ctx, cfg, l)
		if err != nil {
			l.Error("discovery_failed", "error", err)
			os.Exit(1)
		}
		hostAddr = found
	}

	identity, err := clientendpoint.LocalIdentity(0)
	if err != nil {
		l.Error("local_identity_failed", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	ep := clientendpoint.New(ctx, hostAddr, identity, reg, d,
		endpoint.Config{InactivityCheckInterval: cfg.inactivityInterval, ConnectionTimeout: cfg.connectionTimeout},
		endpoint.Events{
			OnConnectionSuccess: func(b *endpoint.Base) {
				id, _ := b.NetworkIdentifier()
				l.Info("connected", "network_id", id, "host", hostAddr)
			},
			OnConnectionFailure: func(b *endpoint.Base, err error) {
				l.Warn("connect_failed", "host", hostAddr, "error", err)
			},
			OnDisconnection: func(b *endpoint.Base) {
				l.Warn("disconnected", "host", hostAddr)
			},
		},
		l,
	)
	ep.RequestConnection(cfg.connectionTimeout)

	metrics.SetReadinessFunc(func() bool {
		_, connected := ep.NetworkIdentifier()
		return connected
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	ep.Dispose()
	wg.Wait()
}

// discoverHost broadcasts a discovery query and returns the first matching
// answer's dialable TCP address.
func discoverHost(ctx context.Context, cfg *appConfig, l *slog.Logger) (string, error) {
	answers, err := discovery.Discover(ctx, cfg.discoveryPort, cfg.discoveryGame, cfg.discoveryTimeout)
	if err != nil {
		return "", err
	}
	if len(answers) == 0 {
		return "", fmt.Errorf("no host answered discovery within %s", cfg.discoveryTimeout)
	}
	best := answers[0]
	l.Info("discovered_host", "name", best.Name, "addr", best.IP.String(), "port", best.Port)
	return net.JoinHostPort(best.IP.String(), fmt.Sprintf("%d", best.Port)), nil
}
