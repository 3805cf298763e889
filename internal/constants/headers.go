package constants

// Device authentication headers.
const (
	HeaderDeviceID      = "x-device-id"
	HeaderDeviceToken   = "x-device-token"
	HeaderTimestamp     = "x-timestamp"
	HeaderSignature     = "x-signature"
	HeaderEnrollmentKey = "x-enrollment-key"
	HeaderRequestID     = "x-request-id"
	HeaderAPIKey        = "x-api-key"
)
