package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/bytewatch/internal/progress"
)

// PrometheusSink turns progress events into resolution and session metrics.
type PrometheusSink struct {
	resolutionsStarted   prometheus.Counter
	resolutionsCompleted *prometheus.CounterVec
	resolutionsRunning   prometheus.Gauge
	resolutionRuntime    *prometheus.HistogramVec

	sessions          *prometheus.CounterVec
	sessionDuration   *prometheus.HistogramVec
	sessionCandidates *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		resolutionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bytewatch_resolutions_started_total",
			Help: "Resolutions that missed the cache and started extraction.",
		}),
		resolutionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bytewatch_resolutions_completed_total",
			Help: "Finished resolutions partitioned by result.",
		}, []string{"result"}),
		resolutionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bytewatch_resolutions_running",
			Help: "Resolutions currently in flight.",
		}),
		resolutionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bytewatch_resolution_runtime_seconds",
			Help:    "Wall time per finished resolution.",
			Buckets: []float64{0.01, 0.5, 1, 2.5, 5, 10, 15, 20, 30, 60},
		}, []string{"result"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bytewatch_sessions_total",
			Help: "Extraction sessions partitioned by source and final status.",
		}, []string{"source", "status"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bytewatch_session_duration_seconds",
			Help:    "Extraction session duration per source.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 15, 20, 25},
		}, []string{"source"}),
		sessionCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bytewatch_session_candidates_total",
			Help: "Candidate stream URLs collected per source.",
		}, []string{"source"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.resolutionsStarted,
		s.resolutionsCompleted,
		s.resolutionsRunning,
		s.resolutionRuntime,
		s.sessions,
		s.sessionDuration,
		s.sessionCandidates,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageResolveStart:
			s.resolutionsStarted.Inc()
			if s.tracker.start(evt.ResolutionID) {
				s.resolutionsRunning.Inc()
			}
		case progress.StageCacheHit:
			s.finish(evt, "cache_hit")
		case progress.StageResolveDone:
			result := "found"
			if evt.Candidates == 0 {
				result = "empty"
			}
			s.finish(evt, result)
		case progress.StageResolveError:
			s.finish(evt, "error")
		case progress.StageSessionDone:
			s.observeSession(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.resolutionsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.resolutionRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.ResolutionID) {
		s.resolutionsRunning.Dec()
	}
}

func (s *PrometheusSink) observeSession(evt progress.Event) {
	s.sessions.WithLabelValues(evt.Source, evt.Status).Inc()
	if evt.Dur > 0 {
		s.sessionDuration.WithLabelValues(evt.Source).Observe(evt.Dur.Seconds())
	}
	if evt.Candidates > 0 {
		s.sessionCandidates.WithLabelValues(evt.Source).Add(float64(evt.Candidates))
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// runTracker keeps the running gauge honest when a resolution finishes
// without a start event, or emits start twice.
type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
