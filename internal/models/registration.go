package models

// EnrollmentRequest is sent by a device to obtain (or rotate) its shared secret.
type EnrollmentRequest struct {
	// HardwareID is the stable client-generated identifier of the device.
	HardwareID string `json:"hardwareId"`

	// Name is the display name of the device.
	Name string `json:"name,omitempty"`

	// Model describes the device hardware.
	Model string `json:"model,omitempty"`
}

// EnrollmentResponse carries the freshly issued shared secret.
type EnrollmentResponse struct {
	// HardwareID echoes the enrolled device.
	HardwareID string `json:"hardwareId"`

	// Token is the new shared secret. The server only keeps its hash.
	Token string `json:"token"`
}
