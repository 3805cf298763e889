package metrics_collectors

import (
	"context"
	"runtime"
)

// GoroutineMetricCollector reports the number of live goroutines.
type GoroutineMetricCollector struct{}

// Name returns the identifier for the goroutine metric collector.
func (g *GoroutineMetricCollector) Name() string {
	return "goroutines"
}

// Collect retrieves the number of active goroutines.
func (g *GoroutineMetricCollector) Collect(ctx context.Context) (float64, error) {
	return float64(runtime.NumGoroutine()), nil
}
