package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// RecordNonce stores a signature hash for deviceID. It returns ErrNonceExists when the hash
// is already present; the unique index decides, so concurrent replays cannot both pass.
func (s *Store) RecordNonce(ctx context.Context, deviceID uuid.UUID, signatureHash string) error {
	nonce := RequestNonce{DeviceID: deviceID, SignatureHash: signatureHash}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "signature_hash"}}, DoNothing: true}).
		Create(&nonce)
	if result.Error != nil {
		return fmt.Errorf("failed to record nonce: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNonceExists
	}
	return nil
}

// PruneNonces deletes nonce records created before cutoff.
func (s *Store) PruneNonces(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&RequestNonce{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune nonces: %w", result.Error)
	}
	return result.RowsAffected, nil
}
