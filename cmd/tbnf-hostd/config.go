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
	listenAddr          string
	logFormat           string
	logLevel            string
	metricsAddr         string
	inactivityInterval  time.Duration
	connectionTimeout   time.Duration
	discoveryPort       int
	discoveryName       string
	discoveryGame       string
	mdnsEnable          bool
	mdnsName            string
	logMetricsEvery     time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", ":9876", "TCP listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	inactivityInterval := flag.Duration("inactivity-check-interval", 30*time.Second, "Idle interval before an endpoint sends a keepalive")
	connectionTimeout := flag.Duration("connection-timeout", 10*time.Second, "Dial+handshake timeout per attempt")
	discoveryPort := flag.Int("discovery-port", 54656, "UDP discovery port to answer on (0 disables)")
	discoveryName := flag.String("discovery-name", "", "Discoverable host name advertised to clients")
	discoveryGame := flag.String("discovery-game", "", "Game identifier advertised and matched by discovering clients")
	mdnsEnable := flag.Bool("mdns-enable", false, "Also advertise via mDNS/Avahi alongside UDP broadcast discovery")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default <discovery-name>-<hostname>)")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.inactivityInterval = *inactivityInterval
	cfg.connectionTimeout = *connectionTimeout
	cfg.discoveryPort = *discoveryPort
	cfg.discoveryName = *discoveryName
	cfg.discoveryGame = *discoveryGame
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
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

// validate performs basic semantic validation of the parsed configuration.
// It never opens a socket; it only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
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
	if c.inactivityInterval <= 0 {
		return fmt.Errorf("inactivity-check-interval must be > 0")
	}
	if c.connectionTimeout <= 0 {
		return fmt.Errorf("connection-timeout must be > 0")
	}
	if c.discoveryPort < 0 || c.discoveryPort > 65535 {
		return fmt.Errorf("discovery-port must be in [0, 65535]")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps TBNF_HOSTD_* environment variables onto cfg,
// unless the corresponding flag was explicitly set (flags win).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("TBNF_HOSTD_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("TBNF_HOSTD_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("TBNF_HOSTD_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("TBNF_HOSTD_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["inactivity-check-interval"]; !ok {
		if v, ok := get("TBNF_HOSTD_INACTIVITY_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.inactivityInterval = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TBNF_HOSTD_INACTIVITY_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["connection-timeout"]; !ok {
		if v, ok := get("TBNF_HOSTD_CONNECTION_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.connectionTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TBNF_HOSTD_CONNECTION_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["discovery-port"]; !ok {
		if v, ok := get("TBNF_HOSTD_DISCOVERY_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.discoveryPort = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TBNF_HOSTD_DISCOVERY_PORT: %w", err)
			}
		}
	}
	if _, ok := set["discovery-name"]; !ok {
		if v, ok := get("TBNF_HOSTD_DISCOVERY_NAME"); ok && v != "" {
			c.discoveryName = v
		}
	}
	if _, ok := set["discovery-game"]; !ok {
		if v, ok := get("TBNF_HOSTD_DISCOVERY_GAME"); ok && v != "" {
			c.discoveryGame = v
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("TBNF_HOSTD_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("TBNF_HOSTD_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("TBNF_HOSTD_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid TBNF_HOSTD_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
