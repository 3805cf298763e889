package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/internal/server/store"
	"github.com/offsync/offsync/pkg/encryption"
)

// DeviceStore is the persistence the guard needs.
type DeviceStore interface {
	FindDeviceByHardwareID(ctx context.Context, hardwareID string) (*store.Device, error)
	RecordNonce(ctx context.Context, deviceID uuid.UUID, signatureHash string) error
}

type rejection string

const (
	rejectMissingCredentials rejection = "missing device credentials"
	rejectUnknownDevice      rejection = "unknown device"
	rejectBadToken           rejection = "token mismatch"
	rejectMissingSignature   rejection = "missing timestamp or signature"
	rejectBadTimestamp       rejection = "timestamp invalid or outside skew"
	rejectBadSignature       rejection = "signature mismatch"
	rejectReplay             rejection = "replayed signature"
	rejectNonceStore         rejection = "nonce store failure"
	rejectLookupFailure      rejection = "device lookup failure"
	rejectBody               rejection = "unreadable body"
)

// Guard authenticates device requests: shared secret, timestamp freshness, HMAC signature
// over the exact request and one-time use of every signature.
type Guard struct {
	store   DeviceStore
	maxSkew time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewGuard creates a Guard. maxSkew <= 0 takes the default.
func NewGuard(deviceStore DeviceStore, maxSkew time.Duration, logger zerolog.Logger) *Guard {
	if maxSkew <= 0 {
		maxSkew = constants.DefaultMaxClockSkew
	}
	return &Guard{
		store:   deviceStore,
		maxSkew: maxSkew,
		now:     time.Now,
		logger:  logger.With().Str("component", "device_guard").Logger(),
	}
}

// Middleware rejects unauthenticated requests with 401 and attaches the device to the context
// of authenticated ones. The body is buffered for verification and restored for next.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device, body, reason, err := g.authenticate(r)
		if reason != "" {
			g.reject(w, r, reason, err)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), device)))
	})
}

func (g *Guard) authenticate(r *http.Request) (*store.Device, []byte, rejection, error) {
	ctx := r.Context()
	hardwareID := r.Header.Get(constants.HeaderDeviceID)
	token := r.Header.Get(constants.HeaderDeviceToken)
	if hardwareID == "" || token == "" {
		return nil, nil, rejectMissingCredentials, nil
	}

	device, err := g.store.FindDeviceByHardwareID(ctx, hardwareID)
	if errors.Is(err, store.ErrDeviceNotFound) {
		return nil, nil, rejectUnknownDevice, nil
	}
	if err != nil {
		return nil, nil, rejectLookupFailure, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(device.TokenHash), []byte(token)); err != nil {
		return nil, nil, rejectBadToken, nil
	}

	timestamp := r.Header.Get(constants.HeaderTimestamp)
	signature := r.Header.Get(constants.HeaderSignature)
	if timestamp == "" || signature == "" {
		return nil, nil, rejectMissingSignature, nil
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, nil, rejectBadTimestamp, nil
	}
	if skew := g.now().Sub(time.UnixMilli(ts)); skew > g.maxSkew || skew < -g.maxSkew {
		return nil, nil, rejectBadTimestamp, nil
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, nil, rejectBody, err
		}
	}

	if !encryption.VerifyRequestSignature([]byte(token), r.Method, requestPath(r), timestamp, body, signature) {
		return nil, nil, rejectBadSignature, nil
	}

	// Normalize so "0x" prefixes or hex case cannot mint a fresh nonce for the same signature.
	normalized := strings.ToLower(strings.TrimPrefix(signature, "0x"))
	if err := g.store.RecordNonce(ctx, device.ID, encryption.HashSignature(normalized)); err != nil {
		if errors.Is(err, store.ErrNonceExists) {
			return nil, nil, rejectReplay, nil
		}
		return nil, nil, rejectNonceStore, err
	}

	return device, body, "", nil
}

// requestPath is the path the client signed: the path plus the raw query when present.
func requestPath(r *http.Request) string {
	if r.URL.RawQuery != "" {
		return r.URL.Path + "?" + r.URL.RawQuery
	}
	return r.URL.Path
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, reason rejection, err error) {
	logger := zerolog.Ctx(r.Context())
	if logger.GetLevel() == zerolog.Disabled {
		logger = &g.logger
	}

	event := logger.Warn()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.
		Str("reason", string(reason)).
		Str("device_id", r.Header.Get(constants.HeaderDeviceID)).
		Str("path", r.URL.Path).
		Msg("Device request rejected")

	var maxBytesErr *http.MaxBytesError
	if reason == rejectBody && errors.As(err, &maxBytesErr) {
		writeMessage(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	writeMessage(w, http.StatusUnauthorized, "unauthorized")
}
