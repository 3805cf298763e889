package constants

import "time"

const (
	DefaultSyncInterval     = 30 * time.Second
	DefaultSyncBatchSize    = 50
	DefaultMaxFailures      = 3
	DefaultCaptureThreshold = 5
)

const (
	// DefaultRequestTimeout is the fixed per-request HTTP timeout.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultHTTPRetries is the number of automatic retries for network errors and 429s.
	DefaultHTTPRetries = 3
	// DefaultRetryBaseDelay is the first backoff step; each retry doubles it.
	DefaultRetryBaseDelay = 1 * time.Second
)

// IngestPath is the request path of the batch ingestion endpoint.
const IngestPath = "/ingest/locations"

// EnrollPath is the request path of the device enrollment endpoint.
const EnrollPath = "/devices/enroll"
