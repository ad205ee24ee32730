package main

import (
	"os"
	"testing"
	"time"
)

func TestHostdApplyEnvOverridesBasic(t *testing.T) {
	base := validHostdConfig()

	os.Setenv("TBNF_HOSTD_LISTEN", ":9999")
	os.Setenv("TBNF_HOSTD_MDNS_ENABLE", "true")
	os.Setenv("TBNF_HOSTD_CONNECTION_TIMEOUT", "5s")
	os.Setenv("TBNF_HOSTD_LOG_METRICS_INTERVAL", "10s")
	t.Cleanup(func() {
		os.Unsetenv("TBNF_HOSTD_LISTEN")
		os.Unsetenv("TBNF_HOSTD_MDNS_ENABLE")
		os.Unsetenv("TBNF_HOSTD_CONNECTION_TIMEOUT")
		os.Unsetenv("TBNF_HOSTD_LOG_METRICS_INTERVAL")
	})

	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.listenAddr != ":9999" {
		t.Fatalf("expected listenAddr override, got %q", base.listenAddr)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.connectionTimeout != 5*time.Second {
		t.Fatalf("expected connectionTimeout 5s, got %v", base.connectionTimeout)
	}
	if base.logMetricsEvery != 10*time.Second {
		t.Fatalf("expected logMetricsEvery 10s, got %v", base.logMetricsEvery)
	}
}

func TestHostdApplyEnvOverridesFlagPrecedence(t *testing.T) {
	base := validHostdConfig()
	base.listenAddr = ":1234"
	os.Setenv("TBNF_HOSTD_LISTEN", ":9999")
	t.Cleanup(func() { os.Unsetenv("TBNF_HOSTD_LISTEN") })

	if err := applyEnvOverrides(base, map[string]struct{}{"listen": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.listenAddr != ":1234" {
		t.Fatalf("expected listenAddr unchanged, got %q", base.listenAddr)
	}
}

func TestHostdApplyEnvOverridesBadInt(t *testing.T) {
	base := validHostdConfig()
	os.Setenv("TBNF_HOSTD_DISCOVERY_PORT", "notanumber")
	t.Cleanup(func() { os.Unsetenv("TBNF_HOSTD_DISCOVERY_PORT") })

	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}
