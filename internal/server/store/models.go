package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Device is an enrolled tracked device. TokenHash is the bcrypt hash of its shared secret.
type Device struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	HardwareID string    `gorm:"size:128;not null;uniqueIndex" json:"hardwareId"`
	TokenHash  string    `gorm:"not null" json:"-"`
	OwnerID    *string   `gorm:"size:128" json:"ownerId,omitempty"`
	Name       string    `gorm:"size:255" json:"name,omitempty"`
	Model      string    `gorm:"size:255" json:"model,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (d *Device) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// RequestNonce records the hash of a verified request signature. The unique index on
// SignatureHash is what rejects replays.
type RequestNonce struct {
	ID            uint      `gorm:"primaryKey"`
	SignatureHash string    `gorm:"size:64;not null;uniqueIndex"`
	DeviceID      uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

// LocationPoint is a stored location sample. (DeviceID, CapturedAt) is unique.
type LocationPoint struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_location_points_device_captured,priority:1" json:"deviceId"`
	CapturedAt   time.Time `gorm:"not null;uniqueIndex:idx_location_points_device_captured,priority:2;index" json:"capturedAt"`
	Lat          float64   `gorm:"not null" json:"lat"`
	Lng          float64   `gorm:"not null" json:"lng"`
	AccuracyM    *float64  `json:"accuracyM,omitempty"`
	Provider     *string   `gorm:"size:32" json:"provider,omitempty"`
	AccuracyMode *string   `gorm:"size:32" json:"accuracyMode,omitempty"`
	BatteryPct   *float64  `json:"batteryPct,omitempty"`
	IsCharging   *bool     `json:"isCharging,omitempty"`
	ReceivedAt   time.Time `gorm:"not null" json:"receivedAt"`
}

func (p *LocationPoint) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
