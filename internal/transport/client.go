package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/pkg/encryption"
)

// ErrUnauthorized is returned when the backend rejects the device credentials.
var ErrUnauthorized = errors.New("unauthorized")

// HTTPError is a non-2xx response other than 401.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// TokenSource supplies the device's current shared secret.
type TokenSource interface {
	Token() (string, error)
}

// DeviceIDSource supplies the hardware id sent in x-device-id.
type DeviceIDSource interface {
	GetDeviceID() string
}

// Options configure the client. Zero values take the defaults.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Client talks to the backend, signing device requests.
type Client struct {
	baseURL   string
	http      *http.Client
	device    DeviceIDSource
	tokens    TokenSource
	retries   int
	baseDelay time.Duration
	logger    zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client.
func NewClient(opts Options, device DeviceIDSource, tokens TokenSource, logger zerolog.Logger) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = constants.DefaultRequestTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = constants.DefaultRetryBaseDelay
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		http:      &http.Client{Timeout: opts.RequestTimeout},
		device:    device,
		tokens:    tokens,
		retries:   opts.MaxRetries,
		baseDelay: opts.RetryBaseDelay,
		logger:    logger.With().Str("component", "transport").Logger(),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// PostLocations submits one batch to the ingestion endpoint.
func (c *Client) PostLocations(ctx context.Context, points []models.IngestPoint) (models.IngestResponse, error) {
	body, err := json.Marshal(points)
	if err != nil {
		return models.IngestResponse{}, fmt.Errorf("encode batch: %w", err)
	}

	respBody, err := c.doSigned(ctx, http.MethodPost, constants.IngestPath, body)
	if err != nil {
		return models.IngestResponse{}, err
	}

	var resp models.IngestResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return models.IngestResponse{}, fmt.Errorf("decode ingest response: %w", err)
	}
	return resp, nil
}

// doSigned sends a request carrying the device headers. Every attempt is signed with a fresh
// timestamp, since the server refuses a signature it has already seen.
func (c *Client) doSigned(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	return c.do(ctx, method, path, body, func(req *http.Request) error {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
		req.Header.Set(constants.HeaderDeviceID, c.device.GetDeviceID())
		req.Header.Set(constants.HeaderDeviceToken, token)
		req.Header.Set(constants.HeaderTimestamp, timestamp)
		req.Header.Set(constants.HeaderSignature, encryption.SignRequest([]byte(token), method, path, timestamp, body))
		return nil
	})
}

// do runs the request with up to c.retries retries on network errors and 429 responses,
// backing off exponentially from c.baseDelay.
func (c *Client) do(ctx context.Context, method, path string, body []byte, decorate func(*http.Request) error) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			if ra, ok := retryAfter(lastErr); ok && ra > delay {
				delay = ra
			}
			c.logger.Debug().Err(lastErr).Int("attempt", attempt).Dur("delay", delay).Str("path", path).Msg("Retrying request")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if decorate != nil {
			if err := decorate(req); err != nil {
				return nil, err
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%s %s: %w", method, path, err)
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &rateLimitedError{retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
			continue
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, ErrUnauthorized
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		}
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}
		return respBody, nil
	}

	return nil, lastErr
}

type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return "rate limited (429)"
}

func retryAfter(err error) (time.Duration, bool) {
	var rl *rateLimitedError
	if errors.As(err, &rl) && rl.retryAfter > 0 {
		return rl.retryAfter, true
	}
	return 0, false
}

func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
