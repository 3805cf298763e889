package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsync/offsync/internal/capture"
	"github.com/offsync/offsync/internal/models"
)

func sampleAt(sec int, lat float64) models.Sample {
	return models.Sample{
		CapturedAt:   time.Date(2024, 5, 1, 12, 0, sec, 0, time.UTC),
		Latitude:     lat,
		Longitude:    2.35,
		AccuracyM:    12,
		Provider:     "gps",
		AccuracyMode: models.HighAccuracy,
	}
}

func TestCaptureService_StagesSamplesInOrder(t *testing.T) {
	q := openTestQueue(t)
	tracker := newFakeTracker()
	notifier := &countingNotifier{}

	svc := NewCaptureService(CaptureConfig{}, tracker, q, notifier, zerolog.Nop())
	require.NoError(t, svc.Start())

	for i := 0; i < 3; i++ {
		tracker.samples.Publish(sampleAt(i, 48.85+float64(i)/1000))
	}
	require.NoError(t, svc.Stop())

	pending, err := q.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.InDelta(t, 48.85, pending[0].Latitude, 1e-9)
	assert.InDelta(t, 48.852, pending[2].Latitude, 1e-9)
	assert.Equal(t, 3, notifier.count())
	assert.Empty(t, tracker.reportedErrors())
}

func TestCaptureService_ReportsStorageFailure(t *testing.T) {
	q := openTestQueue(t)
	tracker := newFakeTracker()
	notifier := &countingNotifier{}

	var seen []error
	tracker.SubscribeErrors(func(err error) { seen = append(seen, err) })

	svc := NewCaptureService(CaptureConfig{}, tracker, q, notifier, zerolog.Nop())
	require.NoError(t, svc.Start())
	tracker.samples.Publish(sampleAt(0, 95))
	require.NoError(t, svc.Stop())

	reported := tracker.reportedErrors()
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "stage sample")
	assert.Len(t, seen, 1)
	assert.Zero(t, notifier.count())
}

func TestCaptureService_AutoStartTracking(t *testing.T) {
	tracker := newFakeTracker()
	svc := NewCaptureService(CaptureConfig{AutoStart: true, Mode: capture.Background, Accuracy: models.BalancedPower},
		tracker, openTestQueue(t), nil, zerolog.Nop())

	require.NoError(t, svc.Start())
	assert.Equal(t, []capture.Mode{capture.Background}, tracker.started)
	assert.Error(t, svc.Start())

	require.NoError(t, svc.Stop())
	assert.Equal(t, 1, tracker.stopped)
	assert.Error(t, svc.Stop())
}

func TestCaptureService_AutoStartFailure(t *testing.T) {
	tracker := newFakeTracker()
	tracker.startErr = errors.New("no location source")

	svc := NewCaptureService(CaptureConfig{AutoStart: true}, tracker, openTestQueue(t), nil, zerolog.Nop())
	assert.ErrorContains(t, svc.Start(), "no location source")
	assert.Zero(t, tracker.samples.Count())
}
