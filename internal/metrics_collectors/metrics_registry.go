package metrics_collectors

import (
	"context"

	"github.com/rs/zerolog"
)

// MetricsRegistry holds the collectors sampled for each heartbeat, in registration order.
type MetricsRegistry struct {
	collectors []MetricCollector
	logger     zerolog.Logger
}

// NewMetricsRegistry creates a new MetricsRegistry instance.
func NewMetricsRegistry(logger zerolog.Logger) *MetricsRegistry {
	return &MetricsRegistry{logger: logger}
}

// NewDefaultRegistry registers CPU, memory, goroutine and disk collectors. diskPath selects the
// filesystem whose usage is reported, normally the one holding the queue database.
func NewDefaultRegistry(diskPath string, logger zerolog.Logger) *MetricsRegistry {
	r := NewMetricsRegistry(logger)
	r.Register(&CPUMetricCollector{})
	r.Register(&MemoryMetricCollector{})
	r.Register(&GoroutineMetricCollector{})
	r.Register(&DiskMetricCollector{Path: diskPath})
	return r
}

// Register adds a collector. A collector with the same name replaces the earlier one.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	for i, c := range r.collectors {
		if c.Name() == collector.Name() {
			r.collectors[i] = collector
			return
		}
	}
	r.collectors = append(r.collectors, collector)
}

// Snapshot collects every metric. Failing collectors are logged and left out.
func (r *MetricsRegistry) Snapshot(ctx context.Context) map[string]float64 {
	out := make(map[string]float64, len(r.collectors))
	for _, c := range r.collectors {
		v, err := c.Collect(ctx)
		if err != nil {
			r.logger.Debug().Err(err).Str("metric", c.Name()).Msg("Failed to collect metric")
			continue
		}
		out[c.Name()] = v
	}
	return out
}
