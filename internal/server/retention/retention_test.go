package retention

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPruner struct {
	mu             sync.Mutex
	locationCutoff []time.Time
	nonceCutoff    []time.Time
	locationErr    error
	runs           chan struct{}
}

func (p *recordingPruner) PruneLocations(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locationCutoff = append(p.locationCutoff, cutoff)
	if p.locationErr != nil {
		return 0, p.locationErr
	}
	return 3, nil
}

func (p *recordingPruner) PruneNonces(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	p.nonceCutoff = append(p.nonceCutoff, cutoff)
	p.mu.Unlock()
	if p.runs != nil {
		p.runs <- struct{}{}
	}
	return 7, nil
}

var clock = time.Date(2024, 9, 10, 13, 30, 0, 0, time.UTC)

func newTestJob(p Pruner, hour int) *Job {
	j := NewJob(Config{Horizon: 90 * 24 * time.Hour, ReplayWindow: 10 * time.Minute, RunHour: hour}, p, zerolog.Nop())
	j.now = func() time.Time { return clock }
	return j
}

func TestJob_RunOnceCutoffs(t *testing.T) {
	p := &recordingPruner{}
	res, err := newTestJob(p, 2).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Locations: 3, Nonces: 7}, res)
	assert.Equal(t, []time.Time{clock.Add(-90 * 24 * time.Hour)}, p.locationCutoff)
	assert.Equal(t, []time.Time{clock.Add(-10 * time.Minute)}, p.nonceCutoff)
}

func TestJob_RunOnceContinuesAfterFailure(t *testing.T) {
	p := &recordingPruner{locationErr: errors.New("db down")}
	res, err := newTestJob(p, 2).RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prune locations")
	assert.Equal(t, int64(7), res.Nonces)
	assert.Len(t, p.nonceCutoff, 1)
}

func TestJob_NextRun(t *testing.T) {
	tests := []struct {
		name string
		hour int
		want time.Time
	}{
		{"later today", 20, time.Date(2024, 9, 10, 20, 0, 0, 0, time.UTC)},
		{"already passed", 2, time.Date(2024, 9, 11, 2, 0, 0, 0, time.UTC)},
		{"current hour passed", 13, time.Date(2024, 9, 11, 13, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, newTestJob(&recordingPruner{}, tc.hour).nextRun(clock))
		})
	}
}

func TestJob_NextRunConvertsToUTC(t *testing.T) {
	zone := time.FixedZone("UTC+3", 3*3600)
	j := newTestJob(&recordingPruner{}, 2)
	// 01:00 local is 22:00 UTC the previous day.
	got := j.nextRun(time.Date(2024, 9, 11, 1, 0, 0, 0, zone))
	assert.Equal(t, time.Date(2024, 9, 11, 2, 0, 0, 0, time.UTC), got)
}

func TestJob_ScheduledRun(t *testing.T) {
	p := &recordingPruner{runs: make(chan struct{}, 4)}
	j := newTestJob(p, 2)

	waits := make(chan time.Duration, 1)
	var calls atomic.Int32
	j.after = func(d time.Duration) <-chan time.Time {
		if calls.Add(1) > 1 {
			// Park the loop until Stop.
			return nil
		}
		waits <- d
		c := make(chan time.Time, 1)
		c <- clock
		return c
	}

	require.NoError(t, j.Start())
	select {
	case <-p.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("retention run did not fire")
	}
	require.NoError(t, j.Stop())

	assert.Equal(t, 12*time.Hour+30*time.Minute, <-waits)
	assert.Error(t, j.Stop())
}
