package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/offsync/offsync/internal/models"
)

const insertBatchSize = 500

// HistoryQuery bounds a history read. Zero From/To leave that side open.
type HistoryQuery struct {
	From  time.Time
	To    time.Time
	Limit int
}

// InsertLocations stores the points for deviceID in one transaction. Points whose
// (device, captured-at) already exists are skipped. It returns the number actually inserted.
func (s *Store) InsertLocations(ctx context.Context, deviceID uuid.UUID, inputs []models.LocationInput) (int64, error) {
	if len(inputs) == 0 {
		return 0, nil
	}

	receivedAt := time.Now().UTC()
	rows := make([]LocationPoint, len(inputs))
	for i, in := range inputs {
		rows[i] = LocationPoint{
			DeviceID:     deviceID,
			CapturedAt:   in.CapturedAt.UTC(),
			Lat:          in.Lat,
			Lng:          in.Lng,
			AccuracyM:    in.AccuracyM,
			Provider:     in.Provider,
			AccuracyMode: in.AccuracyMode,
			BatteryPct:   in.BatteryPct,
			IsCharging:   in.IsCharging,
			ReceivedAt:   receivedAt,
		}
	}

	var inserted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "captured_at"}},
			DoNothing: true,
		}).CreateInBatches(&rows, insertBatchSize)
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert location batch: %w", err)
	}
	return inserted, nil
}

// LatestLocation returns the point with the newest captured-at for deviceID.
func (s *Store) LatestLocation(ctx context.Context, deviceID uuid.UUID) (*LocationPoint, error) {
	var point LocationPoint
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("captured_at DESC").
		First(&point).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoLocation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest location: %w", err)
	}
	return &point, nil
}

// LocationHistory returns points for deviceID, newest captured-at first.
func (s *Store) LocationHistory(ctx context.Context, deviceID uuid.UUID, q HistoryQuery) ([]LocationPoint, error) {
	tx := s.db.WithContext(ctx).Where("device_id = ?", deviceID)
	if !q.From.IsZero() {
		tx = tx.Where("captured_at >= ?", q.From.UTC())
	}
	if !q.To.IsZero() {
		tx = tx.Where("captured_at <= ?", q.To.UTC())
	}

	points := []LocationPoint{}
	if err := tx.Order("captured_at DESC").Limit(q.Limit).Find(&points).Error; err != nil {
		return nil, fmt.Errorf("failed to read location history: %w", err)
	}
	return points, nil
}

// PruneLocations deletes points captured before cutoff.
func (s *Store) PruneLocations(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("captured_at < ?", cutoff.UTC()).Delete(&LocationPoint{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune locations: %w", result.Error)
	}
	return result.RowsAffected, nil
}
