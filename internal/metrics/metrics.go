// Package metrics exposes the Prometheus counters and gauges every TBNF
// component reports against, plus an atomic-mirrored snapshot for periodic
// log lines and a pluggable readiness probe for /ready.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tbnf-go/tbnf/internal/logging"
)

// Frame and connection counters, incremented by internal/endpoint on
// behalf of both the client and host sides.
var (
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbnf_frames_sent_total",
		Help: "Total framed messages written to a socket by any endpoint.",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbnf_frames_received_total",
		Help: "Total framed messages successfully decoded by any endpoint.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbnf_malformed_frames_total",
		Help: "Total frames rejected for an unknown or undecodable type tag.",
	})
	ConnectionsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbnf_connections_succeeded_total",
		Help: "Total handshakes that completed successfully.",
	})
	ConnectionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbnf_connections_failed_total",
		Help: "Total connection attempts that failed to dial or handshake.",
	})
	Disconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbnf_disconnections_total",
		Help: "Total times an endpoint's send/receive loops exited.",
	})
	OutboundQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tbnf_outbound_queue_depth",
		Help: "Outbound queue depth of the endpoint that most recently ran its send loop.",
	})
)

// Discovery counters, incremented by internal/discovery.
var (
	DiscoveryQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbnf_discovery_queries_total",
		Help: "Total discovery query datagrams sent by Discover callers.",
	})
	DiscoveryAnswers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbnf_discovery_answers_total",
		Help: "Total discovery answer datagrams sent by an Answerer.",
	})
)

// Authenticator and registry gauges, set by internal/host and at process
// startup respectively.
var (
	RegisteredClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tbnf_registered_clients",
		Help: "Current number of distinct client identities known to an authenticator.",
	})
	RegistrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tbnf_registry_size",
		Help: "Number of message variants registered in the process-wide registry.",
	})
)

// Build metadata and classified errors, shared across every component.
var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tbnf_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbnf_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
)

var (
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label values for the Errors counter vector (stable values to bound
// cardinality). ErrDial covers clientendpoint's dial phase; ErrHandshake
// covers both sides' handshake phase (a failed dial never reaches
// HandleEndConnection, so the two are mutually exclusive per attempt).
const (
	ErrDial           = "dial"
	ErrHandshake      = "handshake"
	ErrFrameWrite     = "frame_write"
	ErrFrameRead      = "frame_read"
	ErrDiscoveryQuery = "discovery_query"
	ErrDiscoveryReply = "discovery_reply"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters, read back by Snap for periodic log lines without
// scraping Prometheus in-process.
var (
	localFramesSent        uint64
	localFramesReceived    uint64
	localConnSucceeded     uint64
	localConnFailed        uint64
	localDisconnections    uint64
	localDiscoveryQueries  uint64
	localDiscoveryAnswers  uint64
	localErrors            uint64
	localRegisteredClients uint64
	localMalformed         uint64
	localQueueDepth        uint64
)

// Snapshot is a cheap copy of the local mirrored counters.
type Snapshot struct {
	FramesSent        uint64
	FramesReceived    uint64
	ConnSucceeded     uint64
	ConnFailed        uint64
	Disconnections    uint64
	DiscoveryQueries  uint64
	DiscoveryAnswers  uint64
	Errors            uint64 // sum across error labels
	RegisteredClients uint64
	Malformed         uint64
	QueueDepth        uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesSent:        atomic.LoadUint64(&localFramesSent),
		FramesReceived:    atomic.LoadUint64(&localFramesReceived),
		ConnSucceeded:     atomic.LoadUint64(&localConnSucceeded),
		ConnFailed:        atomic.LoadUint64(&localConnFailed),
		Disconnections:    atomic.LoadUint64(&localDisconnections),
		DiscoveryQueries:  atomic.LoadUint64(&localDiscoveryQueries),
		DiscoveryAnswers:  atomic.LoadUint64(&localDiscoveryAnswers),
		Errors:            atomic.LoadUint64(&localErrors),
		RegisteredClients: atomic.LoadUint64(&localRegisteredClients),
		Malformed:         atomic.LoadUint64(&localMalformed),
		QueueDepth:        atomic.LoadUint64(&localQueueDepth),
	}
}

func IncFrameSent() {
	FramesSent.Inc()
	atomic.AddUint64(&localFramesSent, 1)
}

func IncFrameReceived() {
	FramesReceived.Inc()
	atomic.AddUint64(&localFramesReceived, 1)
}

func IncConnectionSucceeded() {
	ConnectionsSucceeded.Inc()
	atomic.AddUint64(&localConnSucceeded, 1)
}

func IncConnectionFailed() {
	ConnectionsFailed.Inc()
	atomic.AddUint64(&localConnFailed, 1)
}

func IncDisconnection() {
	Disconnections.Inc()
	atomic.AddUint64(&localDisconnections, 1)
}

func IncDiscoveryQuery() {
	DiscoveryQueries.Inc()
	atomic.AddUint64(&localDiscoveryQueries, 1)
}

func IncDiscoveryAnswer() {
	DiscoveryAnswers.Inc()
	atomic.AddUint64(&localDiscoveryAnswers, 1)
}

func SetRegisteredClients(n int) {
	RegisteredClients.Set(float64(n))
	atomic.StoreUint64(&localRegisteredClients, uint64(n))
}

func SetRegistrySize(n int) {
	RegistrySize.Set(float64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// SetQueueDepth records the outbound queue depth of whichever endpoint's
// send loop most recently observed it. There is no registry of live
// endpoints to aggregate across, so this is a last-writer-wins sample
// rather than a true max/avg over the fleet.
func SetQueueDepth(depth int) {
	OutboundQueueDepth.Set(float64(depth))
	atomic.StoreUint64(&localQueueDepth, uint64(depth))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so the first error does not pay registration latency.
	for _, lbl := range []string{ErrDial, ErrHandshake, ErrFrameWrite, ErrFrameRead, ErrDiscoveryQuery, ErrDiscoveryReply} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
