package metrics_collectors

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUMetricCollector reports CPU utilization across all cores, in percent.
type CPUMetricCollector struct{}

func (c *CPUMetricCollector) Name() string {
	return "cpu"
}

func (c *CPUMetricCollector) Collect(ctx context.Context) (float64, error) {
	cpuPercentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(cpuPercentages) == 0 {
		return 0, errors.New("cpu usage data is empty")
	}
	return cpuPercentages[0], nil
}
