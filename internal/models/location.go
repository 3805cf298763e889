package models

import (
	"time"
)

// AccuracyMode is the user-selected tradeoff between positioning precision and power draw.
type AccuracyMode string

const (
	HighAccuracy  AccuracyMode = "high_accuracy"
	BalancedPower AccuracyMode = "balanced_power"
)

// Valid reports whether m is one of the known accuracy modes.
func (m AccuracyMode) Valid() bool {
	return m == HighAccuracy || m == BalancedPower
}

// ParseAccuracyMode maps a persisted or configured value to an AccuracyMode, defaulting to HighAccuracy.
func ParseAccuracyMode(s string) AccuracyMode {
	if AccuracyMode(s) == BalancedPower {
		return BalancedPower
	}
	return HighAccuracy
}

// DeliveryState tracks whether a sample has been acknowledged by the backend.
type DeliveryState string

const (
	Pending   DeliveryState = "pending"
	Delivered DeliveryState = "delivered"
)

// Sample represents one captured location observation staged on the device.
type Sample struct {
	ID           int64         `json:"id,omitempty"`
	CapturedAt   time.Time     `json:"captured_at"`
	Latitude     float64       `json:"latitude"`
	Longitude    float64       `json:"longitude"`
	AccuracyM    float64       `json:"accuracy_m"`
	Provider     string        `json:"provider"`
	AccuracyMode AccuracyMode  `json:"accuracy_mode"`
	BatteryPct   *float64      `json:"battery_pct,omitempty"`
	IsCharging   *bool         `json:"is_charging,omitempty"`
	State        DeliveryState `json:"state"`
}

// Validate checks the invariants a sample must hold before it may be staged.
func (s Sample) Validate() error {
	if s.CapturedAt.IsZero() {
		return &ValidationError{Field: "captured_at", Message: "captured_at is required"}
	}
	if err := validateCoordinates(s.Latitude, s.Longitude); err != nil {
		return err
	}
	if s.AccuracyM < 0 {
		return &ValidationError{Field: "accuracy_m", Message: "accuracy_m must be non-negative"}
	}
	if s.BatteryPct != nil && (*s.BatteryPct < 0 || *s.BatteryPct > 100) {
		return &ValidationError{Field: "battery_pct", Message: "battery_pct must be between 0 and 100"}
	}
	return nil
}

// LiveLocation is the message published on the live feed for each captured sample.
type LiveLocation struct {
	DeviceID     string       `json:"device_id"`
	Timestamp    time.Time    `json:"timestamp"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	Accuracy     float64      `json:"accuracy"`
	Provider     string       `json:"provider"`
	AccuracyMode AccuracyMode `json:"accuracy_mode"`
	BatteryPct   *float64     `json:"battery_pct,omitempty"`
	IsCharging   *bool        `json:"is_charging,omitempty"`
}
