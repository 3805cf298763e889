package constants

import "time"

// Backend defaults.
const (
	// DefaultMaxClockSkew is the accepted distance between a request timestamp and server time.
	DefaultMaxClockSkew = 5 * time.Minute

	// DefaultReplayWindow is how long nonce records are kept before pruning.
	DefaultReplayWindow = 10 * time.Minute

	// DefaultRetention is how long stored location points are kept.
	DefaultRetention = 90 * 24 * time.Hour

	// DefaultHistoryLimit and MaxHistoryLimit bound the history page size.
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000

	// MaxIngestBatch caps the number of points accepted in one ingestion request.
	MaxIngestBatch = 1000
)
