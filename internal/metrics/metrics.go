// ABOUTME: Prometheus metrics for the audio engine
// ABOUTME: Counts instance lifecycle events and exports pool statistics on scrape
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harperreed/stagesound/pkg/stage"
)

// StatsFunc returns a snapshot of engine statistics
type StatsFunc func() stage.Stats

// EngineMetrics contains Prometheus metrics for engine operations
type EngineMetrics struct {
	registry *prometheus.Registry
	stats    StatsFunc

	instances    *prometheus.CounterVec
	loadFailures *prometheus.CounterVec
	bgmSwitches  prometheus.Counter
	evictions    prometheus.Counter

	poolResources *prometheus.Desc
	poolIdle      *prometheus.Desc
	poolHits      *prometheus.Desc
	poolMisses    *prometheus.Desc
	poolExhausted *prometheus.Desc
	poolEvictions *prometheus.Desc
	activeByLayer *prometheus.Desc

	// collectors is a slice of all event collectors for easier iteration
	collectors []prometheus.Collector
}

// New creates and registers engine metrics.
// stats is read on every scrape.
func New(registry *prometheus.Registry, stats StatsFunc) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry, stats: stats}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() {
	m.instances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagesound_instances_total",
			Help: "Instance lifecycle transitions by layer",
		},
		[]string{"layer", "kind"},
	)

	m.loadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagesound_load_failures_total",
			Help: "Sources that failed to load, by requesting layer",
		},
		[]string{"layer"},
	)

	m.bgmSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stagesound_bgm_switches_total",
		Help: "Completed music track switches",
	})

	m.evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stagesound_evicted_events_total",
		Help: "Eviction events observed on the engine event stream",
	})

	m.poolResources = prometheus.NewDesc("stagesound_pool_resources", "Resources held by the pool", nil, nil)
	m.poolIdle = prometheus.NewDesc("stagesound_pool_idle_resources", "Resources with no active instance", nil, nil)
	m.poolHits = prometheus.NewDesc("stagesound_pool_hits_total", "Acquires served from the pool", nil, nil)
	m.poolMisses = prometheus.NewDesc("stagesound_pool_misses_total", "Acquires that started a load", nil, nil)
	m.poolExhausted = prometheus.NewDesc("stagesound_pool_exhausted_total", "Misses with no idle resource to evict", nil, nil)
	m.poolEvictions = prometheus.NewDesc("stagesound_pool_evictions_total", "Resources evicted by the pool", nil, nil)
	m.activeByLayer = prometheus.NewDesc("stagesound_active_instances", "Sounding instances by layer", []string{"layer"}, nil)

	m.collectors = []prometheus.Collector{m.instances, m.loadFailures, m.bgmSwitches, m.evictions}
}

// Describe implements the Collector interface
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
	ch <- m.poolResources
	ch <- m.poolIdle
	ch <- m.poolHits
	ch <- m.poolMisses
	ch <- m.poolExhausted
	ch <- m.poolEvictions
	ch <- m.activeByLayer
}

// Collect implements the Collector interface
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
	if m.stats == nil {
		return
	}

	s := m.stats()
	ch <- prometheus.MustNewConstMetric(m.poolResources, prometheus.GaugeValue, float64(s.Pool.Resources))
	ch <- prometheus.MustNewConstMetric(m.poolIdle, prometheus.GaugeValue, float64(s.Pool.Idle))
	ch <- prometheus.MustNewConstMetric(m.poolHits, prometheus.CounterValue, float64(s.Pool.Hits))
	ch <- prometheus.MustNewConstMetric(m.poolMisses, prometheus.CounterValue, float64(s.Pool.Misses))
	ch <- prometheus.MustNewConstMetric(m.poolExhausted, prometheus.CounterValue, float64(s.Pool.Exhausted))
	ch <- prometheus.MustNewConstMetric(m.poolEvictions, prometheus.CounterValue, float64(s.Pool.Evictions))

	bgm := 0
	if s.Bgm.InstanceID != "" {
		bgm = 1
	}
	ch <- prometheus.MustNewConstMetric(m.activeByLayer, prometheus.GaugeValue, float64(bgm), string(stage.LayerBgm))
	ch <- prometheus.MustNewConstMetric(m.activeByLayer, prometheus.GaugeValue, float64(s.Sfx), string(stage.LayerSfx))
	ch <- prometheus.MustNewConstMetric(m.activeByLayer, prometheus.GaugeValue, float64(s.Voice), string(stage.LayerVoice))
}

// Observe records one engine event
func (m *EngineMetrics) Observe(ev stage.Event) {
	switch ev.Kind {
	case stage.EventStarted, stage.EventEnded, stage.EventStopped:
		m.instances.WithLabelValues(string(ev.Layer), string(ev.Kind)).Inc()
	case stage.EventLoadFailed:
		m.loadFailures.WithLabelValues(string(ev.Layer)).Inc()
	case stage.EventBgmSwitched:
		m.bgmSwitches.Inc()
	case stage.EventEvicted:
		m.evictions.Inc()
	}
}

// Run observes events until the channel closes or ctx is done
func (m *EngineMetrics) Run(ctx context.Context, events <-chan stage.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}
