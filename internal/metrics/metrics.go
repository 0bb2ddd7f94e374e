package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/brew-scheduler/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Timer engine

	TimersRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "brew",
		Name:      "timers_running",
		Help:      "Number of timers currently counting down across all batches.",
	})

	TimerGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "brew",
		Name:      "timer_groups",
		Help:      "Number of batches with a loaded timer group.",
	})

	TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "brew",
		Name:      "clock_ticks_total",
		Help:      "Total clock ticks processed by the timer engine.",
	})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "brew",
		Name:      "clock_tick_duration_seconds",
		Help:      "Time taken for one pass over all timers.",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	})

	TimerNotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brew",
		Name:      "timer_notifications_total",
		Help:      "Notifications raised by timers, by kind.",
	}, []string{"kind"})

	// Navigator

	StepTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brew",
		Name:      "step_transitions_total",
		Help:      "Committed step changes, by action.",
	}, []string{"action"})

	// Write-behind persistence

	WriteQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "brew",
		Name:      "write_queue_depth",
		Help:      "Persistence tasks waiting in the write-behind queue.",
	})

	PersistFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brew",
		Name:      "persist_failures_total",
		Help:      "Failed fire-and-forget persistence calls, by operation.",
	}, []string{"op"})

	// Alert dispatcher

	AlertsDispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "brew",
		Name:      "alerts_dispatched_total",
		Help:      "Calendar alerts delivered by the alert sweep.",
	})

	AlertSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "brew",
		Name:      "alert_sweep_duration_seconds",
		Help:      "Time taken for one alert sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "brew",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brew",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		TimersRunning,
		TimerGroups,
		TicksTotal,
		TickDuration,
		TimerNotificationsTotal,
		StepTransitionsTotal,
		WriteQueueDepth,
		PersistFailuresTotal,
		AlertsDispatchedTotal,
		AlertSweepDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer serves /metrics plus liveness and readiness probes.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, res health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if res.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(res)
}
