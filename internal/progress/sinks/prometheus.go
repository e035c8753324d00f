package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/contact-harvester/internal/progress"
)

// Entity result labels.
const (
	resultEmail   = "email"
	resultNoEmail = "no_email"
	resultPartial = "partial"
)

// PrometheusSink turns progress events into run and entity level metrics.
type PrometheusSink struct {
	entitiesStarted   prometheus.Counter
	entitiesCompleted *prometheus.CounterVec
	entitiesRunning   prometheus.Gauge
	entityRuntime     *prometheus.HistogramVec
	emailsFound       prometheus.Counter
	entitiesPending   prometheus.Gauge
	fetchCompletions  *prometheus.CounterVec

	tracker *entityTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		entitiesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_entities_started_total",
			Help: "Entities whose pipeline has started.",
		}),
		entitiesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_entities_completed_total",
			Help: "Entities recorded, partitioned by result.",
		}, []string{"result"}),
		entitiesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_entities_running",
			Help: "Entity pipelines currently in progress.",
		}),
		entityRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_entity_runtime_seconds",
			Help:    "Wall time per entity pipeline.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"result"}),
		emailsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_emails_found_total",
			Help: "Distinct candidate addresses found across recorded entities.",
		}),
		entitiesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_entities_pending",
			Help: "Entities still pending at the start of the current run.",
		}),
		fetchCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_progress_fetches_total",
			Help: "Fetch completions by role and HTTP status class.",
		}, []string{"role", "status_class"}),
		tracker: newEntityTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.entitiesStarted,
		s.entitiesCompleted,
		s.entitiesRunning,
		s.entityRuntime,
		s.emailsFound,
		s.entitiesPending,
		s.fetchCompletions,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.entitiesPending.Set(float64(evt.Count))
	case progress.StageEntityStart:
		s.entitiesStarted.Inc()
		if s.tracker.start(evt.EntityID) {
			s.entitiesRunning.Inc()
		}
	case progress.StageEntityDone, progress.StageEntityPartial:
		s.handleEntityDone(evt)
	case progress.StageFetchDone:
		class := string(evt.StatusClass)
		if class == "" {
			class = string(progress.StatusOther)
		}
		s.fetchCompletions.WithLabelValues(evt.Role, class).Inc()
	}
}

func (s *PrometheusSink) handleEntityDone(evt progress.Event) {
	result := resultNoEmail
	switch {
	case evt.Stage == progress.StageEntityPartial:
		result = resultPartial
	case evt.Count > 0:
		result = resultEmail
	}
	s.entitiesCompleted.WithLabelValues(result).Inc()
	if evt.Count > 0 {
		s.emailsFound.Add(float64(evt.Count))
	}
	if evt.Dur > 0 {
		s.entityRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.EntityID) {
		s.entitiesRunning.Dec()
	}
	s.entitiesPending.Dec()
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type entityTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newEntityTracker() *entityTracker {
	return &entityTracker{running: make(map[string]struct{})}
}

func (t *entityTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *entityTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
