package metrics_collectors

import (
	"context"
)

// MetricCollector samples a single host vital reported in the heartbeat.
type MetricCollector interface {
	Name() string                                 // Key in the heartbeat host map (e.g. "cpu", "memory")
	Collect(ctx context.Context) (float64, error) // Current value
}
