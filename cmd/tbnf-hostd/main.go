// Command tbnf-hostd is a thin operational daemon that listens for TBNF
// clients, answers discovery queries, and exposes Prometheus metrics. It
// registers only the built-in system messages; a real game host links the
// endpoint/host/discovery packages directly and registers its own message
// variants alongside messages.BuiltIns().
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/tbnf-go/tbnf/internal/dispatch"
	"github.com/tbnf-go/tbnf/internal/discovery"
	"github.com/tbnf-go/tbnf/internal/endpoint"
	"github.com/tbnf-go/tbnf/internal/host"
	"github.com/tbnf-go/tbnf/internal/messages"
	"github.com/tbnf-go/tbnf/internal/metrics"
	"github.com/tbnf-go/tbnf/internal/registry"
	"github.com/tbnf-go/tbnf/internal/remoteendpoint"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("tbnf-hostd %s (commit %s, built %s)\n", version, commit, date)
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

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	authenticator := host.New(ctx, cfg.listenAddr, reg, d,
		host.WithInactivityCheckInterval(cfg.inactivityInterval),
		host.WithConnectionTimeout(cfg.connectionTimeout),
		host.WithLogger(l),
		host.WithRemoteEvents(endpoint.Events{
			OnConnectionSuccess: func(b *endpoint.Base) {
				id, _ := b.NetworkIdentifier()
				l.Info("client_connected", "network_id", id)
			},
			OnConnectionFailure: func(b *endpoint.Base, err error) {
				l.Warn("client_handshake_failed", "error", err)
			},
			OnDisconnection: func(b *endpoint.Base) {
				id, _ := b.NetworkIdentifier()
				l.Info("client_disconnected", "network_id", id)
			},
		}),
	)
	authenticator.OnRegistered = func(a *host.Authenticator, ep *remoteendpoint.Endpoint) {
		id, _ := ep.NetworkIdentifier()
		l.Info("client_registered", "network_id", id, "hw_addr", ep.HardwareAddress)
	}

	if err := authenticator.Start(); err != nil {
		l.Error("listen_error", "error", err)
		os.Exit(1)
	}
	<-authenticator.Ready()
	l.Info("listening", "addr", authenticator.Addr())

	var answerer *discovery.Answerer
	if cfg.discoveryPort > 0 {
		answerer = discovery.NewAnswerer(discovery.Descriptor{
			Name:           cfg.discoveryName,
			GameIdentifier: cfg.discoveryGame,
		}, tcpPortOf(authenticator.Addr()), cfg.discoveryPort)
		if err := answerer.Start(ctx); err != nil {
			l.Warn("discovery_start_failed", "error", err)
			answerer = nil
		} else {
			l.Info("discovery_listening", "port", cfg.discoveryPort)
			if cfg.mdnsEnable {
				if err := answerer.EnableMDNS(cfg.mdnsName); err != nil {
					l.Warn("mdns_start_failed", "error", err)
				} else {
					l.Info("mdns_started", "name", cfg.mdnsName)
				}
			}
		}
	}

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-authenticator.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
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
	if answerer != nil {
		_ = answerer.Close()
	}
	authenticator.Dispose()
	wg.Wait()
}

// tcpPortOf extracts the numeric port from a bound "host:port" address,
// returning 0 if it can't be parsed.
func tcpPortOf(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
