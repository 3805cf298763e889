package models

import (
	"fmt"
	"time"
)

// WireTimeFormat is the ISO-8601 layout used for capturedAt on the wire.
const WireTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// IngestPoint is one element of the POST /ingest/locations body.
type IngestPoint struct {
	CapturedAt   string   `json:"capturedAt"`
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	AccuracyM    *float64 `json:"accuracyM,omitempty"`
	Provider     *string  `json:"provider,omitempty"`
	AccuracyMode *string  `json:"accuracyMode,omitempty"`
	BatteryPct   *float64 `json:"batteryPct,omitempty"`
	IsCharging   *bool    `json:"isCharging,omitempty"`
}

// IngestResponse is returned by the ingestion endpoint.
type IngestResponse struct {
	Inserted int64 `json:"inserted"`
}

// NewIngestPoint converts a staged sample into its wire representation.
func NewIngestPoint(s Sample) IngestPoint {
	lat, lng, acc := s.Latitude, s.Longitude, s.AccuracyM
	p := IngestPoint{
		CapturedAt: s.CapturedAt.UTC().Format(WireTimeFormat),
		Lat:        &lat,
		Lng:        &lng,
		AccuracyM:  &acc,
		BatteryPct: s.BatteryPct,
		IsCharging: s.IsCharging,
	}
	if s.Provider != "" {
		provider := s.Provider
		p.Provider = &provider
	}
	if s.AccuracyMode != "" {
		mode := string(s.AccuracyMode)
		p.AccuracyMode = &mode
	}
	return p
}

// LocationInput is a validated ingestion point ready for persistence.
type LocationInput struct {
	CapturedAt   time.Time
	Lat          float64
	Lng          float64
	AccuracyM    *float64
	Provider     *string
	AccuracyMode *string
	BatteryPct   *float64
	IsCharging   *bool
}

// Parse validates the wire point and converts it to a LocationInput.
func (p IngestPoint) Parse() (LocationInput, error) {
	if p.CapturedAt == "" {
		return LocationInput{}, &ValidationError{Field: "capturedAt", Message: "capturedAt is required"}
	}
	capturedAt, err := time.Parse(time.RFC3339Nano, p.CapturedAt)
	if err != nil {
		return LocationInput{}, &ValidationError{Field: "capturedAt", Message: "capturedAt must be an ISO-8601 datetime"}
	}
	if p.Lat == nil {
		return LocationInput{}, &ValidationError{Field: "lat", Message: "lat is required"}
	}
	if p.Lng == nil {
		return LocationInput{}, &ValidationError{Field: "lng", Message: "lng is required"}
	}
	if err := validateCoordinates(*p.Lat, *p.Lng); err != nil {
		return LocationInput{}, err
	}
	if p.BatteryPct != nil && (*p.BatteryPct < 0 || *p.BatteryPct > 100) {
		return LocationInput{}, &ValidationError{Field: "batteryPct", Message: "batteryPct must be between 0 and 100"}
	}
	if p.AccuracyMode != nil && !AccuracyMode(*p.AccuracyMode).Valid() {
		return LocationInput{}, &ValidationError{Field: "accuracyMode", Message: "accuracyMode must be high_accuracy or balanced_power"}
	}

	return LocationInput{
		CapturedAt:   capturedAt.UTC(),
		Lat:          *p.Lat,
		Lng:          *p.Lng,
		AccuracyM:    p.AccuracyM,
		Provider:     p.Provider,
		AccuracyMode: p.AccuracyMode,
		BatteryPct:   p.BatteryPct,
		IsCharging:   p.IsCharging,
	}, nil
}

// ParseBatch validates every point of a batch. A single malformed entry rejects the whole batch.
func ParseBatch(points []IngestPoint) ([]LocationInput, error) {
	inputs := make([]LocationInput, 0, len(points))
	for i, p := range points {
		in, err := p.Parse()
		if err != nil {
			if verr, ok := err.(*ValidationError); ok {
				return nil, &ValidationError{Field: fmt.Sprintf("%d.%s", i, verr.Field), Message: verr.Message}
			}
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
