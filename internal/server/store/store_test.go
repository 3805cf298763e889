package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsync/offsync/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "server.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func point(at time.Time, lat float64) models.LocationInput {
	mode := "high_accuracy"
	return models.LocationInput{CapturedAt: at, Lat: lat, Lng: 2, AccuracyMode: &mode}
}

func TestStore_SaveDeviceTokenCreatesAndRotates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.SaveDeviceToken(ctx, "hw-1", "Pixel", "7a", "hash-1")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)

	rotated, err := s.SaveDeviceToken(ctx, "hw-1", "", "", "hash-2")
	require.NoError(t, err)
	assert.Equal(t, created.ID, rotated.ID)

	found, err := s.FindDeviceByHardwareID(ctx, "hw-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", found.TokenHash)
	assert.Equal(t, "Pixel", found.Name)

	_, err = s.FindDeviceByHardwareID(ctx, "hw-unknown")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestStore_RecordNonceRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	device, err := s.SaveDeviceToken(ctx, "hw-1", "", "", "hash")
	require.NoError(t, err)

	require.NoError(t, s.RecordNonce(ctx, device.ID, "abc"))
	assert.ErrorIs(t, s.RecordNonce(ctx, device.ID, "abc"), ErrNonceExists)
	assert.NoError(t, s.RecordNonce(ctx, device.ID, "abd"))
}

func TestStore_PruneNonces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	device, err := s.SaveDeviceToken(ctx, "hw-1", "", "", "hash")
	require.NoError(t, err)
	require.NoError(t, s.RecordNonce(ctx, device.ID, "old"))

	pruned, err := s.PruneNonces(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	// The hash is free again once pruned.
	assert.NoError(t, s.RecordNonce(ctx, device.ID, "old"))
}

func TestStore_InsertLocationsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	device, err := s.SaveDeviceToken(ctx, "hw-1", "", "", "hash")
	require.NoError(t, err)

	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	batch := []models.LocationInput{point(base, 10), point(base.Add(time.Second), 11)}

	inserted, err := s.InsertLocations(ctx, device.ID, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	inserted, err = s.InsertLocations(ctx, device.ID, batch)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	batch = append(batch, point(base.Add(2*time.Second), 12))
	inserted, err = s.InsertLocations(ctx, device.ID, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inserted)

	// The same instant on another device is a different point.
	other, err := s.SaveDeviceToken(ctx, "hw-2", "", "", "hash")
	require.NoError(t, err)
	inserted, err = s.InsertLocations(ctx, other.ID, batch[:1])
	require.NoError(t, err)
	assert.Equal(t, int64(1), inserted)
}

func TestStore_LatestAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	device, err := s.SaveDeviceToken(ctx, "hw-1", "", "", "hash")
	require.NoError(t, err)

	_, err = s.LatestLocation(ctx, device.ID)
	assert.ErrorIs(t, err, ErrNoLocation)

	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	var batch []models.LocationInput
	for i := 0; i < 5; i++ {
		batch = append(batch, point(base.Add(time.Duration(i)*time.Minute), float64(i)))
	}
	_, err = s.InsertLocations(ctx, device.ID, batch)
	require.NoError(t, err)

	latest, err := s.LatestLocation(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, latest.Lat)
	assert.Equal(t, "high_accuracy", *latest.AccuracyMode)

	history, err := s.LocationHistory(ctx, device.ID, HistoryQuery{
		From:  base.Add(time.Minute),
		To:    base.Add(3 * time.Minute),
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 3.0, history[0].Lat)
	assert.Equal(t, 2.0, history[1].Lat)
}

func TestStore_PruneLocations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	device, err := s.SaveDeviceToken(ctx, "hw-1", "", "", "hash")
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = s.InsertLocations(ctx, device.ID, []models.LocationInput{
		point(now.Add(-100*24*time.Hour), 1),
		point(now.Add(-time.Hour), 2),
	})
	require.NoError(t, err)

	pruned, err := s.PruneLocations(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	latest, err := s.LatestLocation(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, latest.Lat)
}
