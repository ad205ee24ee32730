package main

import (
	"testing"
	"time"
)

func validHostdConfig() *appConfig {
	return &appConfig{
		listenAddr:         ":9876",
		logFormat:          "text",
		logLevel:           "info",
		inactivityInterval: 30 * time.Second,
		connectionTimeout:  10 * time.Second,
		discoveryPort:      54656,
	}
}

func TestHostdConfigValidateOK(t *testing.T) {
	if err := validHostdConfig().validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestHostdConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badInactivity", func(c *appConfig) { c.inactivityInterval = 0 }},
		{"badConnTimeout", func(c *appConfig) { c.connectionTimeout = 0 }},
		{"badDiscoveryPortLow", func(c *appConfig) { c.discoveryPort = -1 }},
		{"badDiscoveryPortHigh", func(c *appConfig) { c.discoveryPort = 70000 }},
		{"badLogMetrics", func(c *appConfig) { c.logMetricsEvery = -1 }},
	}
	for _, tc := range tests {
		cfg := validHostdConfig()
		tc.mod(cfg)
		if err := cfg.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestHostdConfigValidateNil(t *testing.T) {
	var cfg *appConfig
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
