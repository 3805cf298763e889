package metrics_collectors

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryMetricCollector reports used virtual memory, in percent.
type MemoryMetricCollector struct{}

// Name returns the identifier for the memory metric collector.
func (m *MemoryMetricCollector) Name() string {
	return "memory"
}

// Collect retrieves the percentage of used virtual memory.
func (m *MemoryMetricCollector) Collect(ctx context.Context) (float64, error) {
	memStats, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return memStats.UsedPercent, nil
}
