package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ivigns/mipt-cis-networks/internal/logging"
)

// Prometheus counters
var (
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csmacd_ticks_total",
		Help: "Total simulation ticks processed.",
	})
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csmacd_frames_sent_total",
		Help: "Total frames fully transmitted by stations.",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csmacd_frames_received_total",
		Help: "Total frames successfully received by addressed stations.",
	})
	Collisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csmacd_collisions_total",
		Help: "Total bus collision events (one per emission that joins another carrier in the same tick).",
	})
	Retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csmacd_retries_total",
		Help: "Total send retries entered after collisions.",
	})
	PayloadsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csmacd_payloads_dropped_total",
		Help: "Total payloads discarded after exceeding the retry limit.",
	})
	CorruptedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csmacd_corrupted_frames_total",
		Help: "Total corrupted-frame observations (bad SFD or checksum).",
	})
	MissedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csmacd_missed_frames_total",
		Help: "Total frames addressed to a station that never latched reception.",
	})
	ReceiveInterrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csmacd_receive_interrupts_total",
		Help: "Total in-progress receptions aborted by jams or foreign frames.",
	})
	Stations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csmacd_stations",
		Help: "Number of stations attached to the bus.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "csmacd_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
)

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localTicks      uint64
	localSent       uint64
	localReceived   uint64
	localCollisions uint64
	localRetries    uint64
	localDropped    uint64
	localCorrupted  uint64
	localMissed     uint64
	localInterrupts uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Ticks             uint64
	FramesSent        uint64
	FramesReceived    uint64
	Collisions        uint64
	Retries           uint64
	PayloadsDropped   uint64
	CorruptedFrames   uint64
	MissedFrames      uint64
	ReceiveInterrupts uint64
}

func Snap() Snapshot {
	return Snapshot{
		Ticks:             atomic.LoadUint64(&localTicks),
		FramesSent:        atomic.LoadUint64(&localSent),
		FramesReceived:    atomic.LoadUint64(&localReceived),
		Collisions:        atomic.LoadUint64(&localCollisions),
		Retries:           atomic.LoadUint64(&localRetries),
		PayloadsDropped:   atomic.LoadUint64(&localDropped),
		CorruptedFrames:   atomic.LoadUint64(&localCorrupted),
		MissedFrames:      atomic.LoadUint64(&localMissed),
		ReceiveInterrupts: atomic.LoadUint64(&localInterrupts),
	}
}

// Wrapper helpers to keep call sites simple.
func IncTick() {
	Ticks.Inc()
	atomic.AddUint64(&localTicks, 1)
}

func IncFrameSent() {
	FramesSent.Inc()
	atomic.AddUint64(&localSent, 1)
}

func IncFrameReceived() {
	FramesReceived.Inc()
	atomic.AddUint64(&localReceived, 1)
}

func IncCollision() {
	Collisions.Inc()
	atomic.AddUint64(&localCollisions, 1)
}

func IncRetry() {
	Retries.Inc()
	atomic.AddUint64(&localRetries, 1)
}

func IncPayloadDropped() {
	PayloadsDropped.Inc()
	atomic.AddUint64(&localDropped, 1)
}

func IncCorruptedFrame() {
	CorruptedFrames.Inc()
	atomic.AddUint64(&localCorrupted, 1)
}

func IncMissedFrame() {
	MissedFrames.Inc()
	atomic.AddUint64(&localMissed, 1)
}

func IncReceiveInterrupt() {
	ReceiveInterrupts.Inc()
	atomic.AddUint64(&localInterrupts, 1)
}

// SetStations records the station count for the current run.
func SetStations(n int) { Stations.Set(float64(n)) }

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// StartHTTP serves Prometheus metrics at /metrics on addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
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
