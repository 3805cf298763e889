package models

import (
	"fmt"
	"math"
)

// ValidationError represents a validation error on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error [%s]: %s", e.Field, e.Message)
}

func validateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return &ValidationError{Field: "lat", Message: "lat must be between -90 and 90"}
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return &ValidationError{Field: "lng", Message: "lng must be between -180 and 180"}
	}
	return nil
}
