package metrics_collectors

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskMetricCollector reports used space on the filesystem holding Path, in percent. A full
// disk stops the queue from accepting samples.
type DiskMetricCollector struct {
	Path string
}

func (d *DiskMetricCollector) Name() string {
	return "disk"
}

func (d *DiskMetricCollector) Collect(ctx context.Context) (float64, error) {
	path := d.Path
	if path == "" {
		path = "/"
	}
	diskStats, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return diskStats.UsedPercent, nil
}
