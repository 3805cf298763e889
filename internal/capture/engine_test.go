package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/pkg/location"
)

type harness struct {
	engine   *Engine
	clock    *fakeClock
	high     *fakeSource
	balanced *fakeSource
	samples  chan models.Sample
	errs     chan error
}

func newHarness(t *testing.T, power PowerReader) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		high:     &fakeSource{},
		balanced: &fakeSource{},
		samples:  make(chan models.Sample, 16),
		errs:     make(chan error, 16),
	}
	h.engine = NewEngine(h.high, h.balanced, power, h.clock, DefaultConfig(), zerolog.Nop())
	h.engine.Subscribe(func(s models.Sample) { h.samples <- s })
	h.engine.SubscribeErrors(func(err error) { h.errs <- err })
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

func (h *harness) fixAt(lat, lng float64) location.Fix {
	return location.Fix{Latitude: lat, Longitude: lng, Accuracy: 8, Timestamp: h.clock.Now()}
}

func TestEngine_GPSFixBeforeTimeoutPreventsFallback(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))
	assert.True(t, h.engine.Status().FallbackArmed)

	h.clock.Advance(19 * time.Second)
	h.high.latest().onFix(h.fixAt(48.85, 2.35))

	status := h.engine.Status()
	assert.False(t, status.FallbackArmed)
	assert.False(t, status.FallbackActive)

	h.clock.Advance(5 * time.Second)
	status = h.engine.Status()
	assert.False(t, status.FallbackActive)
	assert.Equal(t, 0, h.balanced.watchCount())

	sample := <-h.samples
	assert.Equal(t, "gps", sample.Provider)
	assert.Equal(t, models.HighAccuracy, sample.AccuracyMode)
}

func TestEngine_FallbackAfterTimeout(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))

	h.clock.Advance(20 * time.Second)
	status := h.engine.Status()
	assert.True(t, status.Tracking)
	assert.True(t, status.FallbackActive)
	assert.True(t, h.high.watch(0).cancelled())
	require.Equal(t, 1, h.balanced.watchCount())
	assert.Equal(t, 50.0, h.balanced.latest().opts.DistanceFilter)

	h.balanced.latest().onFix(h.fixAt(48.85, 2.35))
	h.engine.Status()

	sample := <-h.samples
	assert.Equal(t, "network_fallback", sample.Provider)
	assert.Equal(t, models.HighAccuracy, sample.AccuracyMode)
}

func TestEngine_ImmediateHardFailureFallsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.high.watchErr = location.ErrSourceUnavailable

	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))
	status := h.engine.Status()
	assert.True(t, status.Tracking)
	assert.True(t, status.FallbackActive)
	assert.False(t, status.FallbackArmed)
	assert.Equal(t, 1, h.balanced.watchCount())
}

func TestEngine_WatchErrorBeforeFirstFixFallsBack(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))

	h.high.latest().onError(location.ErrTimeout)
	assert.False(t, h.engine.Status().FallbackActive)

	h.high.latest().onError(errors.New("gps stream closed"))
	assert.True(t, h.engine.Status().FallbackActive)
	assert.Len(t, h.errs, 2)
}

func TestEngine_BackgroundHighHasNoFallback(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start(Background, models.HighAccuracy))
	assert.False(t, h.engine.Status().FallbackArmed)

	h.clock.Advance(time.Minute)
	assert.False(t, h.engine.Status().FallbackActive)
	assert.Equal(t, 0, h.balanced.watchCount())
}

func TestEngine_BackgroundHighStartFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.high.watchErr = location.ErrSourceUnavailable

	err := h.engine.Start(Background, models.HighAccuracy)
	assert.ErrorIs(t, err, location.ErrSourceUnavailable)
	assert.False(t, h.engine.Status().Tracking)
}

func TestEngine_StaleTimerIgnored(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))
	require.NoError(t, h.engine.Stop())
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))

	// The first session's timer fires anyway, as if it raced with Stop.
	h.clock.timer(0).f()

	status := h.engine.Status()
	assert.False(t, status.FallbackActive)
	assert.True(t, status.FallbackArmed)
	assert.Equal(t, 0, h.balanced.watchCount())
}

func TestEngine_StopCancelsWatchAndTimer(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))
	require.NoError(t, h.engine.Stop())

	assert.True(t, h.high.watch(0).cancelled())
	status := h.engine.Status()
	assert.False(t, status.Tracking)
	assert.False(t, status.FallbackArmed)

	h.high.watch(0).onFix(h.fixAt(1, 1))
	h.engine.Status()
	assert.Empty(t, h.samples)
}

func TestEngine_ModeChangeRestartsWatch(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))

	require.NoError(t, h.engine.SetMode(Background))
	assert.True(t, h.high.watch(0).cancelled())
	require.Equal(t, 2, h.high.watchCount())
	assert.False(t, h.high.watch(1).cancelled())

	status := h.engine.Status()
	assert.Equal(t, Background, status.Mode)
	assert.False(t, status.FallbackArmed)

	require.NoError(t, h.engine.SetAccuracy(models.BalancedPower))
	assert.True(t, h.high.watch(1).cancelled())
	require.Equal(t, 1, h.balanced.watchCount())
	assert.Equal(t, 60*time.Second, h.balanced.latest().opts.MaximumAge)

	h.balanced.latest().onFix(h.fixAt(10, 10))
	h.engine.Status()
	sample := <-h.samples
	assert.Equal(t, "network", sample.Provider)
	assert.Equal(t, models.BalancedPower, sample.AccuracyMode)
}

func TestEngine_AccuracyChangeResetsFallback(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))
	h.clock.Advance(20 * time.Second)
	require.True(t, h.engine.Status().FallbackActive)

	require.NoError(t, h.engine.SetAccuracy(models.BalancedPower))
	assert.False(t, h.engine.Status().FallbackActive)

	require.NoError(t, h.engine.SetAccuracy(models.HighAccuracy))
	status := h.engine.Status()
	assert.False(t, status.FallbackActive)
	assert.True(t, status.FallbackArmed)
	assert.Equal(t, 2, h.high.watchCount())
}

func TestEngine_InvalidFixDropped(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))

	h.high.latest().onFix(h.fixAt(95, 10))
	status := h.engine.Status()
	assert.Empty(t, h.samples)
	assert.True(t, status.FallbackArmed)
	assert.True(t, status.LastFixAt.IsZero())
}

func TestEngine_EnrichesWithPowerState(t *testing.T) {
	battery, charging := 42.0, false
	h := newHarness(t, fakePower{state: PowerState{BatteryPct: &battery, IsCharging: &charging}})
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))

	h.high.latest().onFix(h.fixAt(1, 2))
	h.engine.Status()
	sample := <-h.samples
	require.NotNil(t, sample.BatteryPct)
	assert.Equal(t, 42.0, *sample.BatteryPct)
	assert.False(t, *sample.IsCharging)
}

func TestEngine_PowerFailureIgnored(t *testing.T) {
	h := newHarness(t, fakePower{err: errors.New("no sysfs")})
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))

	h.high.latest().onFix(h.fixAt(1, 2))
	h.engine.Status()
	sample := <-h.samples
	assert.Nil(t, sample.BatteryPct)
	assert.Nil(t, sample.IsCharging)
}

func TestEngine_ClosedRejectsCalls(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Start(Foreground, models.HighAccuracy))
	require.NoError(t, h.engine.Close())

	assert.True(t, h.high.watch(0).cancelled())
	assert.ErrorIs(t, h.engine.Start(Foreground, models.HighAccuracy), ErrClosed)
	assert.Equal(t, Status{}, h.engine.Status())
}

func TestEngine_Locate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.balanced.last = location.Fix{Latitude: 5, Longitude: 6, Accuracy: 40, Timestamp: h.clock.Now().Add(-time.Minute)}
	h.balanced.hasLast = true
	sample, err := h.engine.Locate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "network", sample.Provider)
	assert.Equal(t, 5.0, sample.Latitude)

	h.clock.Advance(2 * time.Minute)
	h.high.current = location.Fix{Latitude: 7, Longitude: 8, Accuracy: 5, Timestamp: h.clock.Now()}
	sample, err = h.engine.Locate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gps", sample.Provider)
	assert.Equal(t, 7.0, sample.Latitude)

	h.high.currentErr = location.ErrTimeout
	_, err = h.engine.Locate(ctx)
	assert.ErrorIs(t, err, ErrPositionUnavailable)
	assert.Empty(t, h.samples)
}
