package metrics_collectors

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type staticCollector struct {
	name  string
	value float64
	err   error
}

func (s staticCollector) Name() string { return s.name }

func (s staticCollector) Collect(context.Context) (float64, error) { return s.value, s.err }

func TestMetricsRegistry_SnapshotSkipsFailures(t *testing.T) {
	r := NewMetricsRegistry(zerolog.Nop())
	r.Register(staticCollector{name: "a", value: 1})
	r.Register(staticCollector{name: "b", err: errors.New("unsupported")})

	assert.Equal(t, map[string]float64{"a": 1}, r.Snapshot(context.Background()))
}

func TestMetricsRegistry_RegisterReplacesByName(t *testing.T) {
	r := NewMetricsRegistry(zerolog.Nop())
	r.Register(staticCollector{name: "a", value: 1})
	r.Register(staticCollector{name: "a", value: 2})

	assert.Equal(t, map[string]float64{"a": 2}, r.Snapshot(context.Background()))
}

func TestDefaultRegistry_ReportsGoroutines(t *testing.T) {
	snapshot := NewDefaultRegistry(t.TempDir(), zerolog.Nop()).Snapshot(context.Background())

	assert.GreaterOrEqual(t, snapshot["goroutines"], float64(1))
	assert.Contains(t, snapshot, "memory")
	assert.Contains(t, snapshot, "disk")
}
