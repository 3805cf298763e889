package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/server/store"
)

var (
	// ErrEmptyBatch is returned for a batch with no points.
	ErrEmptyBatch = errors.New("batch is empty")
	// ErrBatchTooLarge is returned for a batch above constants.MaxIngestBatch points.
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d points", constants.MaxIngestBatch)
	// ErrInvalidLimit is returned for a history limit outside 1..MaxHistoryLimit.
	ErrInvalidLimit = fmt.Errorf("limit must be between 1 and %d", constants.MaxHistoryLimit)
	// ErrInvalidRange is returned when from is after to.
	ErrInvalidRange = errors.New("from must not be after to")
)

// LocationStore persists and reads location points.
type LocationStore interface {
	InsertLocations(ctx context.Context, deviceID uuid.UUID, inputs []models.LocationInput) (int64, error)
	LatestLocation(ctx context.Context, deviceID uuid.UUID) (*store.LocationPoint, error)
	LocationHistory(ctx context.Context, deviceID uuid.UUID, q store.HistoryQuery) ([]store.LocationPoint, error)
}

// Service ingests device batches and serves the read paths.
type Service struct {
	store  LocationStore
	logger zerolog.Logger
}

// NewService creates a Service.
func NewService(locations LocationStore, logger zerolog.Logger) *Service {
	return &Service{store: locations, logger: logger.With().Str("component", "ingest").Logger()}
}

// Ingest validates the whole batch and stores it for deviceID. A malformed point rejects the
// batch with a *models.ValidationError before anything is written. Points already stored for
// the same captured-at are skipped, so the returned count only covers new points.
func (s *Service) Ingest(ctx context.Context, deviceID uuid.UUID, points []models.IngestPoint) (int64, error) {
	if len(points) == 0 {
		return 0, ErrEmptyBatch
	}
	if len(points) > constants.MaxIngestBatch {
		return 0, ErrBatchTooLarge
	}

	inputs, err := models.ParseBatch(points)
	if err != nil {
		return 0, err
	}

	inserted, err := s.store.InsertLocations(ctx, deviceID, inputs)
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Str("device", deviceID.String()).
		Int("received", len(points)).
		Int64("inserted", inserted).
		Msg("Batch ingested")
	return inserted, nil
}

// Latest returns the newest point for deviceID.
func (s *Service) Latest(ctx context.Context, deviceID uuid.UUID) (*store.LocationPoint, error) {
	return s.store.LatestLocation(ctx, deviceID)
}

// History returns points in [from, to], newest first. A zero limit takes the default.
func (s *Service) History(ctx context.Context, deviceID uuid.UUID, from, to time.Time, limit int) ([]store.LocationPoint, error) {
	if limit == 0 {
		limit = constants.DefaultHistoryLimit
	}
	if limit < 1 || limit > constants.MaxHistoryLimit {
		return nil, ErrInvalidLimit
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, ErrInvalidRange
	}
	return s.store.LocationHistory(ctx, deviceID, store.HistoryQuery{From: from, To: to, Limit: limit})
}
