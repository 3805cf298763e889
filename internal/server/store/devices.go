package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// FindDeviceByHardwareID returns the device enrolled under hardwareID.
func (s *Store) FindDeviceByHardwareID(ctx context.Context, hardwareID string) (*Device, error) {
	var device Device
	err := s.db.WithContext(ctx).Where("hardware_id = ?", hardwareID).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up device: %w", err)
	}
	return &device, nil
}

// SaveDeviceToken creates the device or rotates its token hash. Non-empty name and model
// overwrite the stored ones.
func (s *Store) SaveDeviceToken(ctx context.Context, hardwareID, name, model, tokenHash string) (*Device, error) {
	var device Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("hardware_id = ?", hardwareID).First(&device).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			device = Device{HardwareID: hardwareID, Name: name, Model: model, TokenHash: tokenHash}
			return tx.Create(&device).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"token_hash": tokenHash}
		if name != "" {
			updates["name"] = name
		}
		if model != "" {
			updates["model"] = model
		}
		return tx.Model(&device).Updates(updates).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save device token: %w", err)
	}
	return &device, nil
}
