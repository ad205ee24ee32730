package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	hostAddr           string
	discover           bool
	discoveryPort      int
	discoveryGame      string
	discoveryTimeout   time.Duration
	logFormat          string
	logLevel           string
	metricsAddr        string
	inactivityInterval time.Duration
	connectionTimeout  time.Duration
	logMetricsEvery    time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	hostAddr := flag.String("host", "", "Host TCP address to connect to (e.g., 192.168.1.10:9876); required unless -discover is set")
	discover := flag.Bool("discover", false, "Discover a host via UDP broadcast instead of using -host")
	discoveryPort := flag.Int("discovery-port", 54656, "UDP discovery port to query")
	discoveryGame := flag.String("discovery-game", "", "Game identifier to filter discovery answers by")
	discoveryTimeout := flag.Duration("discovery-timeout", 2*time.Second, "How long to wait for discovery answers")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9101); empty disables")
	inactivityInterval := flag.Duration("inactivity-check-interval", 30*time.Second, "Idle interval before sending a keepalive")
	connectionTimeout := flag.Duration("connection-timeout", 10*time.Second, "Dial+handshake timeout per attempt")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.hostAddr = *hostAddr
	cfg.discover = *discover
	cfg.discoveryPort = *discoveryPort
	cfg.discoveryGame = *discoveryGame
	cfg.discoveryTimeout = *discoveryTimeout
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.inactivityInterval = *inactivityInterval
	cfg.connectionTimeout = *connectionTimeout
	cfg.logMetricsEvery = *logMetricsEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.hostAddr == "" && !c.discover {
		return errors.New("either -host or -discover must be given")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.discoveryPort < 0 || c.discoveryPort > 65535 {
		return fmt.Errorf("discovery-port must be in [0, 65535]")
	}
	if c.discoveryTimeout <= 0 {
		return fmt.Errorf("discovery-timeout must be > 0")
	}
	if c.inactivityInterval <= 0 {
		return fmt.Errorf("inactivity-check-interval must be > 0")
	}
	if c.connectionTimeout <= 0 {
		return fmt.Errorf("connection-timeout must be > 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps TBNF_CLIENTD_* environment variables onto cfg,
// unless the corresponding flag was explicitly set (flags win).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["host"]; !ok {
		if v, ok := get("TBNF_CLIENTD_HOST"); ok && v != "" {
			c.hostAddr = v
		}
	}
	if _, ok := set["discover"]; !ok {
		if v, ok := get("TBNF_CLIENTD_DISCOVER"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.discover = true
			case "0", "false", "no", "off":
				c.discover = false
			}
		}
	}
	if _, ok := set["discovery-port"]; !ok {
		if v, ok := get("TBNF_CLIENTD_DISCOVERY_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.discoveryPort = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TBNF_CLIENTD_DISCOVERY_PORT: %w", err)
			}
		}
	}
	if _, ok := set["discovery-game"]; !ok {
		if v, ok := get("TBNF_CLIENTD_DISCOVERY_GAME"); ok && v != "" {
			c.discoveryGame = v
		}
	}
	if _, ok := set["discovery-timeout"]; !ok {
		if v, ok := get("TBNF_CLIENTD_DISCOVERY_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.discoveryTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TBNF_CLIENTD_DISCOVERY_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("TBNF_CLIENTD_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("TBNF_CLIENTD_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("TBNF_CLIENTD_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["inactivity-check-interval"]; !ok {
		if v, ok := get("TBNF_CLIENTD_INACTIVITY_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.inactivityInterval = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TBNF_CLIENTD_INACTIVITY_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["connection-timeout"]; !ok {
		if v, ok := get("TBNF_CLIENTD_CONNECTION_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.connectionTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TBNF_CLIENTD_CONNECTION_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("TBNF_CLIENTD_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TBNF_CLIENTD_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
