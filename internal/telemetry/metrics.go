package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"durable-queue/internal/models"
	"durable-queue/internal/store"
)

// Recorder turns store transition events into Prometheus series. It
// implements store.Observer.
type Recorder struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	purged      prometheus.Counter
	depth       *prometheus.GaugeVec
	oldestAge   *prometheus.GaugeVec
}

// NewRecorder builds a recorder with its own registry so several recorders
// (one per test, say) never collide.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_job_transitions_total",
			Help: "Job state transitions by queue and event.",
		}, []string{"queue", "event"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_jobs_purged_total",
			Help: "Jobs removed by purge.",
		}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_jobs",
			Help: "Jobs per queue and status as of the last stats refresh.",
		}, []string{"queue", "status"}),
		oldestAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_oldest_pending_age_seconds",
			Help: "Age of the oldest pending job per queue; 0 when none are pending.",
		}, []string{"queue"}),
	}
	r.registry.MustRegister(
		r.transitions,
		r.purged,
		r.depth,
		r.oldestAge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe implements store.Observer.
func (r *Recorder) Observe(ev store.Event) {
	switch ev.Kind {
	case store.EventPurged:
		r.purged.Add(float64(ev.Count))
	case store.EventDeleted:
		// deletes carry no queue label
	default:
		r.transitions.WithLabelValues(ev.Queue, string(ev.Kind)).Add(float64(max(ev.Count, 1)))
	}
}

// SetQueueStats refreshes the depth and age gauges from a stats snapshot.
func (r *Recorder) SetQueueStats(stats []models.QueueStats) {
	for _, st := range stats {
		r.depth.WithLabelValues(st.Queue, string(models.StatusPending)).Set(float64(st.Pending))
		r.depth.WithLabelValues(st.Queue, string(models.StatusActive)).Set(float64(st.Active))
		r.depth.WithLabelValues(st.Queue, string(models.StatusCompleted)).Set(float64(st.Completed))
		r.depth.WithLabelValues(st.Queue, string(models.StatusFailed)).Set(float64(st.Failed))
		r.depth.WithLabelValues(st.Queue, string(models.StatusDead)).Set(float64(st.Dead))
		age := 0.0
		if st.OldestPendingAgeMS != nil {
			age = float64(*st.OldestPendingAgeMS) / 1000
		}
		r.oldestAge.WithLabelValues(st.Queue).Set(age)
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler exposes /metrics for this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
