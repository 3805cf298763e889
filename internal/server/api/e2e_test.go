package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/queue"
	"github.com/offsync/offsync/internal/server/store"
	"github.com/offsync/offsync/internal/services"
	"github.com/offsync/offsync/internal/transport"
	"github.com/offsync/offsync/pkg/credentials"
	"github.com/offsync/offsync/pkg/encryption"
	"github.com/offsync/offsync/pkg/file"
	"github.com/offsync/offsync/pkg/identity"
)

// agent is the device side of the pipeline wired against a test server.
type agent struct {
	deviceInfo identity.DeviceInfoInterface
	queue      *queue.Queue
	client     *transport.Client
	enroller   *transport.Enroller
	creds      *credentials.CredentialStore
	sync       *services.SyncService
}

func newAgent(t *testing.T, baseURL string) *agent {
	t.Helper()
	dir := t.TempDir()
	fs := file.NewFileService()

	deviceInfo := identity.NewDeviceInfo(filepath.Join(dir, "identity.json"), "van-7", "pi4", fs)
	require.NoError(t, deviceInfo.LoadDeviceInfo())

	em := encryption.NewEncryptionManager(fs)
	require.NoError(t, em.Initialize(filepath.Join(dir, "aes.key")))
	creds := credentials.NewCredentialStore(filepath.Join(dir, "credentials.enc"), fs, em)
	require.NoError(t, creds.Load())

	q, err := queue.Open(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	client := transport.NewClient(transport.Options{BaseURL: baseURL, MaxRetries: 1, RetryBaseDelay: time.Millisecond}, deviceInfo, creds, zerolog.Nop())
	enroller := transport.NewEnroller(client, deviceInfo, creds, testEnrollmentKey, zerolog.Nop())

	return &agent{
		deviceInfo: deviceInfo,
		queue:      q,
		client:     client,
		enroller:   enroller,
		creds:      creds,
		sync:       services.NewSyncService(services.SyncConfig{BatchSize: 5}, q, client, enroller, zerolog.Nop()),
	}
}

func captured(i int) models.Sample {
	return models.Sample{
		CapturedAt:   time.Date(2024, 9, 1, 7, 0, i, 0, time.UTC),
		Latitude:     48.85 + float64(i)/1000,
		Longitude:    2.35,
		AccuracyM:    8,
		Provider:     "gps",
		AccuracyMode: models.HighAccuracy,
	}
}

func TestPipeline_OfflineCaptureThenSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := newAgent(t, f.server.URL)

	require.NoError(t, a.enroller.EnsureEnrolled(ctx, a.creds))

	// Captured while offline.
	var staged []models.Sample
	for i := 0; i < 7; i++ {
		s := captured(i)
		_, err := a.queue.Enqueue(ctx, s)
		require.NoError(t, err)
		staged = append(staged, s)
	}

	uploaded, err := a.sync.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, uploaded)

	pending, err := a.queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	device, err := f.store.FindDeviceByHardwareID(ctx, a.deviceInfo.GetDeviceID())
	require.NoError(t, err)
	assert.Equal(t, "van-7", device.Name)

	history, err := f.store.LocationHistory(ctx, device.ID, store.HistoryQuery{Limit: 100})
	require.NoError(t, err)
	require.Len(t, history, 7)
	assert.True(t, history[0].CapturedAt.Equal(staged[6].CapturedAt))

	// A batch resent after a lost acknowledgement is accepted without duplicates.
	points := make([]models.IngestPoint, 0, 5)
	for _, s := range staged[:5] {
		points = append(points, models.NewIngestPoint(s))
	}
	resp, err := a.client.PostLocations(ctx, points)
	require.NoError(t, err)
	assert.Zero(t, resp.Inserted)

	history, err = f.store.LocationHistory(ctx, device.ID, store.HistoryQuery{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, history, 7)
}

func TestPipeline_ReenrollsAfterSecretRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := newAgent(t, f.server.URL)

	require.NoError(t, a.enroller.EnsureEnrolled(ctx, a.creds))
	stale, err := a.creds.Token()
	require.NoError(t, err)

	// Someone rotates the secret behind the agent's back.
	f.enroll(t, a.deviceInfo.GetDeviceID())

	_, err = a.queue.Enqueue(ctx, captured(0))
	require.NoError(t, err)

	uploaded, err := a.sync.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, uploaded)

	fresh, err := a.creds.Token()
	require.NoError(t, err)
	assert.NotEqual(t, stale, fresh)

	status, err := a.sync.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Pending)
	assert.Zero(t, status.Failures)
}

func TestPipeline_UnreachableBackendKeepsSamples(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "http://127.0.0.1:1")

	_, err := a.queue.Enqueue(ctx, captured(0))
	require.NoError(t, err)

	_, err = a.sync.SyncNow(ctx)
	require.Error(t, err)

	pending, err := a.queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}
