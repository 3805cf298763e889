package location

import "time"

// Fix is a single position reported by a location source.
type Fix struct {
	Latitude  float64
	Longitude float64
	// Accuracy is the estimated horizontal error radius in meters.
	Accuracy  float64
	Timestamp time.Time
}

// Options tune a watch or one-shot request.
type Options struct {
	// Timeout bounds how long the source may go without producing a fix before reporting ErrTimeout.
	Timeout time.Duration
	// MaximumAge is the oldest cached fix a request accepts instead of asking the hardware again.
	MaximumAge time.Duration
	// DistanceFilter suppresses fixes closer than this many meters to the previously delivered one.
	DistanceFilter float64
}

// FixHandler receives fixes from a running watch.
type FixHandler func(Fix)

// ErrorHandler receives non-fatal errors from a running watch.
type ErrorHandler func(error)
