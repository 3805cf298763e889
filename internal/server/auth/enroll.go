package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/server/store"
)

var (
	// ErrEnrollmentDisabled is returned when no enrollment key is configured.
	ErrEnrollmentDisabled = errors.New("enrollment is disabled")
	// ErrBadEnrollmentKey is returned when the presented key does not match.
	ErrBadEnrollmentKey = errors.New("enrollment key mismatch")
	// ErrMissingHardwareID is returned for an enrollment without a hardware id.
	ErrMissingHardwareID = errors.New("hardwareId is required")
)

// DeviceWriter stores device token hashes.
type DeviceWriter interface {
	SaveDeviceToken(ctx context.Context, hardwareID, name, model, tokenHash string) (*store.Device, error)
}

// Enrollment issues and rotates device secrets.
type Enrollment struct {
	devices DeviceWriter
	key     string
	cost    int
	logger  zerolog.Logger
}

// NewEnrollment creates an Enrollment. An empty key disables Enroll but not Register.
func NewEnrollment(devices DeviceWriter, key string, bcryptCost int, logger zerolog.Logger) *Enrollment {
	return &Enrollment{
		devices: devices,
		key:     key,
		cost:    bcryptCost,
		logger:  logger.With().Str("component", "enrollment").Logger(),
	}
}

// Enroll checks the pre-shared key and issues a fresh secret for the device, replacing any
// previous one.
func (e *Enrollment) Enroll(ctx context.Context, presentedKey string, req models.EnrollmentRequest) (models.EnrollmentResponse, error) {
	if e.key == "" {
		return models.EnrollmentResponse{}, ErrEnrollmentDisabled
	}
	if subtle.ConstantTimeCompare([]byte(presentedKey), []byte(e.key)) != 1 {
		return models.EnrollmentResponse{}, ErrBadEnrollmentKey
	}

	token, err := GenerateToken()
	if err != nil {
		return models.EnrollmentResponse{}, err
	}
	if err := e.Register(ctx, req, token); err != nil {
		return models.EnrollmentResponse{}, err
	}
	return models.EnrollmentResponse{HardwareID: req.HardwareID, Token: token}, nil
}

// Register stores token as the device secret without a key check. It backs the operator CLI.
func (e *Enrollment) Register(ctx context.Context, req models.EnrollmentRequest, token string) error {
	if req.HardwareID == "" {
		return ErrMissingHardwareID
	}
	if token == "" {
		return errors.New("token is required")
	}

	hash, err := HashToken(token, e.cost)
	if err != nil {
		return err
	}
	device, err := e.devices.SaveDeviceToken(ctx, req.HardwareID, req.Name, req.Model, hash)
	if err != nil {
		return fmt.Errorf("failed to store device secret: %w", err)
	}

	e.logger.Info().
		Str("hardware_id", device.HardwareID).
		Str("device", device.ID.String()).
		Msg("Device secret issued")
	return nil
}
