package models

import "time"

// Heartbeat is the periodic health message published over MQTT.
type Heartbeat struct {
	DeviceID   string             `json:"device_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Status     string             `json:"status"`
	Sync       *SyncHealth        `json:"sync,omitempty"`
	Tracking   *TrackingHealth    `json:"tracking,omitempty"`
	BatteryPct *float64           `json:"battery_pct,omitempty"`
	IsCharging *bool              `json:"is_charging,omitempty"`
	Host       map[string]float64 `json:"host,omitempty"`
}

// SyncHealth summarizes the upload backlog.
type SyncHealth struct {
	Pending       int        `json:"pending"`
	Online        bool       `json:"online"`
	Paused        bool       `json:"paused"`
	Failures      int        `json:"consecutive_failures"`
	LastError     string     `json:"last_error,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

// TrackingHealth summarizes the capture engine.
type TrackingHealth struct {
	Tracking       bool         `json:"tracking"`
	Mode           string       `json:"mode,omitempty"`
	Accuracy       AccuracyMode `json:"accuracy,omitempty"`
	FallbackActive bool         `json:"fallback_active"`
	LastFixAt      *time.Time   `json:"last_fix_at,omitempty"`
}
