package server

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crystal-mush/mushcore/pkg/queue"
)

// Metrics holds Prometheus metric descriptors for the game server. Each
// Metrics has its own registry so tests can build as many as they like.
type Metrics struct {
	reg       *prometheus.Registry
	startTime time.Time

	mu   sync.Mutex
	last queue.Stats

	playersConnected prometheus.Gauge
	commandsTotal    *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
	queueEvents      *prometheus.CounterVec
	pidsInUse        prometheus.Gauge
	uptimeSeconds    prometheus.Gauge
	memoryHeapBytes  prometheus.Gauge
	goroutines       prometheus.Gauge
}

// NewMetrics creates and registers the game's metrics.
func NewMetrics(startTime time.Time) *Metrics {
	m := &Metrics{
		reg:       prometheus.NewRegistry(),
		startTime: startTime,
		playersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcore_players_connected",
			Help: "Number of currently connected players.",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushcore_commands_total",
			Help: "Commands dispatched since server start, by command.",
		}, []string{"command"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mushcore_queue_depth",
			Help: "Current scheduler queue depth by queue.",
		}, []string{"queue"}),
		queueEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mushcore_queue_events_total",
			Help: "Scheduler events since server start, by kind.",
		}, []string{"event"}),
		pidsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcore_queue_pids_in_use",
			Help: "Signal table slots bound to live entries.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcore_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcore_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mushcore_goroutines",
			Help: "Number of active goroutines.",
		}),
	}
	m.reg.MustRegister(
		m.playersConnected,
		m.commandsTotal,
		m.queueDepth,
		m.queueEvents,
		m.pidsInUse,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)
	return m
}

// CommandRun counts one dispatched command.
func (m *Metrics) CommandRun(name string) {
	m.commandsTotal.WithLabelValues(name).Inc()
}

// Update refreshes the gauges from a scheduler snapshot and advances the
// event counters by what changed since the previous call.
func (m *Metrics) Update(st queue.Stats, players int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.playersConnected.Set(float64(players))
	m.queueDepth.WithLabelValues("player").Set(float64(st.Player))
	m.queueDepth.WithLabelValues("object").Set(float64(st.Object))
	m.queueDepth.WithLabelValues("wait").Set(float64(st.Wait))
	m.queueDepth.WithLabelValues("semaphore").Set(float64(st.Sem))
	m.pidsInUse.Set(float64(st.PIDsInUse))

	add := func(event string, cur, prev uint64) {
		if cur > prev {
			m.queueEvents.WithLabelValues(event).Add(float64(cur - prev))
		}
	}
	add("executed", st.Executed, m.last.Executed)
	add("runaway", st.Runaways, m.last.Runaways)
	add("cpu_abort", st.CPUAborts, m.last.CPUAborts)
	add("dropped", st.Dropped, m.last.Dropped)
	add("halted", st.Halted, m.last.Halted)
	add("no_pid", st.NoPID, m.last.NoPID)
	add("panic", st.Panics, m.last.Panics)
	m.last = st

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
