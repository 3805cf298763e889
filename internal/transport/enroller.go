package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/pkg/credentials"
	"github.com/offsync/offsync/pkg/identity"
)

// ErrReauthenticationRequired means the device could not obtain a working secret and needs
// operator attention (usually a wrong enrollment key).
var ErrReauthenticationRequired = errors.New("device re-authentication required")

// CredentialWriter persists a newly issued secret.
type CredentialWriter interface {
	Save(hardwareID, token string) error
}

// Enroller obtains and rotates the device secret through POST /devices/enroll.
type Enroller struct {
	client        *Client
	deviceInfo    identity.DeviceInfoInterface
	store         CredentialWriter
	enrollmentKey string
	logger        zerolog.Logger
}

// NewEnroller creates an Enroller that reuses client's transport and retry policy.
func NewEnroller(client *Client, deviceInfo identity.DeviceInfoInterface, store CredentialWriter, enrollmentKey string, logger zerolog.Logger) *Enroller {
	return &Enroller{
		client:        client,
		deviceInfo:    deviceInfo,
		store:         store,
		enrollmentKey: enrollmentKey,
		logger:        logger.With().Str("component", "enroller").Logger(),
	}
}

// Enroll requests a fresh secret and stores it, replacing the previous one.
func (e *Enroller) Enroll(ctx context.Context) error {
	if e.enrollmentKey == "" {
		return fmt.Errorf("%w: no enrollment key configured", ErrReauthenticationRequired)
	}

	ident := e.deviceInfo.GetDeviceIdentity()
	body, err := json.Marshal(models.EnrollmentRequest{
		HardwareID: ident.ID,
		Name:       ident.Name,
		Model:      ident.Model,
	})
	if err != nil {
		return fmt.Errorf("encode enrollment: %w", err)
	}

	respBody, err := e.client.do(ctx, http.MethodPost, constants.EnrollPath, body, func(req *http.Request) error {
		req.Header.Set(constants.HeaderEnrollmentKey, e.enrollmentKey)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return fmt.Errorf("%w: enrollment key rejected", ErrReauthenticationRequired)
		}
		return fmt.Errorf("enroll: %w", err)
	}

	var resp models.EnrollmentResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("decode enrollment response: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("%w: empty token in enrollment response", ErrReauthenticationRequired)
	}

	if err := e.store.Save(ident.ID, resp.Token); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}

	e.logger.Info().Str("hardware_id", ident.ID).Msg("Device enrolled, secret rotated")
	return nil
}

// Reauthenticate rotates the secret after the backend rejected the current one.
func (e *Enroller) Reauthenticate(ctx context.Context) error {
	return e.Enroll(ctx)
}

// EnsureEnrolled enrolls only when no secret is stored yet.
func (e *Enroller) EnsureEnrolled(ctx context.Context, tokens TokenSource) error {
	if _, err := tokens.Token(); err == nil {
		return nil
	} else if !errors.Is(err, credentials.ErrNoCredentials) {
		return err
	}
	return e.Enroll(ctx)
}
