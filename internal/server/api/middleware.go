package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/internal/server/auth"
)

func middlewareRequestID() func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rid := r.Header.Get(constants.HeaderRequestID)
			if len(rid) == 0 {
				rid = uuid.NewString()
			}

			w.Header().Set(constants.HeaderRequestID, rid)
			r = r.WithContext(WithRequestID(ctx, rid))

			h.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func middlewareLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rid := RequestID(ctx)
			lg := logger.With().Str("request_id", rid).Logger()
			r = r.WithContext(lg.WithContext(ctx))
			start := time.Now()
			lg.Debug().
				Str("method", r.Method).
				Str("request_uri", r.RequestURI).
				Msg("accepted")

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			h.ServeHTTP(rec, r)

			lg.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Str("took", time.Since(start).String()).
				Msg("served")
		})
	}
}

func middlewareBodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 {
				if r.ContentLength > limit {
					asMessage(w, http.StatusRequestEntityTooLarge, "payload too large")
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			h.ServeHTTP(w, r)
		})
	}
}

// middlewareRateLimit throttles by client address. It runs before authentication, so it
// never trusts identity headers.
func middlewareRateLimit(limiter *rateLimiter) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientIP(r)) {
				rejectRateLimited(w, r, clientIP(r))
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

// middlewareDeviceRateLimit throttles by the device the guard authenticated. It must be
// mounted behind the guard.
func middlewareDeviceRateLimit(limiter *rateLimiter) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			device, ok := auth.DeviceFromContext(r.Context())
			if !ok {
				asMessage(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !limiter.allow(device.HardwareID) {
				rejectRateLimited(w, r, device.HardwareID)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request, key string) {
	zerolog.Ctx(r.Context()).Warn().
		Str("key", key).
		Str("path", r.URL.Path).
		Msg("rate limit exceeded")
	w.Header().Set("Retry-After", "1")
	asMessage(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
}

// middlewareAPIKey requires the x-api-key header to equal key. An empty key disables the check.
func middlewareAPIKey(key string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(constants.HeaderAPIKey)), []byte(key)) != 1 {
				asMessage(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
