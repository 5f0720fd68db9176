package out

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sightsync/internal/modules/history/domain"
)

type PromMetrics struct {
	syncRuns     *prometheus.CounterVec
	syncDuration prometheus.Histogram
	persisted    *prometheus.CounterVec
	duplicates   *prometheus.CounterVec
	frames       *prometheus.CounterVec
	notifyFails  prometheus.Counter
}

// NewPromMetrics registers the sync collectors on reg. The daemon serves reg on /metrics.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sightsync_sync_runs_total",
			Help: "History sync runs by outcome.",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sightsync_sync_duration_seconds",
			Help:    "Wall time of a history sync from lease acquisition to reconciliation.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sightsync_events_persisted_total",
			Help: "Newly persisted history events by kind.",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sightsync_events_duplicate_total",
			Help: "History events skipped because they were already stored.",
		}, []string{"kind"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sightsync_frames_skipped_total",
			Help: "Raw frames not turned into events, by reason.",
		}, []string{"reason"}),
		notifyFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sightsync_notify_failures_total",
			Help: "Notifications that could not be published.",
		}),
	}
	reg.MustRegister(m.syncRuns, m.syncDuration, m.persisted, m.duplicates, m.frames, m.notifyFails)
	return m
}

func (m *PromMetrics) SyncFinished(outcome string, elapsed time.Duration) {
	m.syncRuns.WithLabelValues(outcome).Inc()
	m.syncDuration.Observe(elapsed.Seconds())
}

func (m *PromMetrics) EventPersisted(kind domain.Kind) {
	m.persisted.WithLabelValues(string(kind)).Inc()
}

func (m *PromMetrics) DuplicateSkipped(kind domain.Kind) {
	m.duplicates.WithLabelValues(string(kind)).Inc()
}

func (m *PromMetrics) FrameSkipped(reason string) {
	m.frames.WithLabelValues(reason).Inc()
}

func (m *PromMetrics) NotifyFailed() {
	m.notifyFails.Inc()
}
