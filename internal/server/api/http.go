package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/server/store"
)

const MaxHeaderBytes = 64 * (1 << 10) // 64 KiB

// IngestService stores device batches and serves the read paths.
type IngestService interface {
	Ingest(ctx context.Context, deviceID uuid.UUID, points []models.IngestPoint) (int64, error)
	Latest(ctx context.Context, deviceID uuid.UUID) (*store.LocationPoint, error)
	History(ctx context.Context, deviceID uuid.UUID, from, to time.Time, limit int) ([]store.LocationPoint, error)
}

// DeviceLookup resolves hardware ids.
type DeviceLookup interface {
	FindDeviceByHardwareID(ctx context.Context, hardwareID string) (*store.Device, error)
}

// Enroller issues device secrets.
type Enroller interface {
	Enroll(ctx context.Context, presentedKey string, req models.EnrollmentRequest) (models.EnrollmentResponse, error)
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure the HTTP surface.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
	RateLimit    float64
	RateBurst    int
	ReadAPIKey   string
}

// Dependencies are the services the handlers call.
type Dependencies struct {
	DeviceAuth func(http.Handler) http.Handler
	Ingest     IngestService
	Devices    DeviceLookup
	Enrollment Enroller
	Health     Pinger
}

// HTTP is the backend API server.
type HTTP struct {
	srv           *http.Server
	opts          Options
	deps          Dependencies
	limiter       *rateLimiter
	deviceLimiter *rateLimiter
	logger        zerolog.Logger

	cancel context.CancelFunc
}

// NewHTTP prepares the API server.
func NewHTTP(opts Options, deps Dependencies, logger zerolog.Logger) *HTTP {
	srv := &http.Server{
		Addr:              opts.Addr,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		MaxHeaderBytes:    MaxHeaderBytes,
	}

	api := &HTTP{
		srv:           srv,
		opts:          opts,
		deps:          deps,
		limiter:       newRateLimiter(opts.RateLimit, opts.RateBurst),
		deviceLimiter: newRateLimiter(opts.RateLimit, opts.RateBurst),
		logger:        logger.With().Str("component", "http").Logger(),
	}
	api.setupRoutes()
	return api
}

func (api *HTTP) setupRoutes() {
	router := mux.NewRouter()
	router.Use(
		middlewareRequestID(),
		middlewareLogger(api.logger),
		middlewareRateLimit(api.limiter),
		middlewareBodyLimit(api.opts.MaxBodyBytes),
	)

	router.HandleFunc("/health", api.handleHealth).Methods(http.MethodGet)
	router.HandleFunc(constants.EnrollPath, api.handleEnroll).Methods(http.MethodPost)
	ingest := middlewareDeviceRateLimit(api.deviceLimiter)(http.HandlerFunc(api.handleIngest))
	router.Handle(constants.IngestPath, api.deps.DeviceAuth(ingest)).Methods(http.MethodPost)

	reads := router.PathPrefix("/devices/{hardwareId}").Subrouter()
	reads.Use(middlewareAPIKey(api.opts.ReadAPIKey))
	reads.HandleFunc("/last-location", api.handleLastLocation).Methods(http.MethodGet)
	reads.HandleFunc("/locations", api.handleLocations).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		asMessage(w, http.StatusNotFound, "not found")
	})

	api.srv.Handler = router
}

// Handler returns the routed handler.
func (api *HTTP) Handler() http.Handler {
	return api.srv.Handler
}

// Serve connections. The returned channel receives the listener error when the server
// stops for any reason other than Shutdown, and is closed once the server has exited.
func (api *HTTP) Serve() <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	api.cancel = cancel
	go api.limiter.run(ctx)
	go api.deviceLimiter.run(ctx)

	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		api.logger.Info().Str("listen", api.srv.Addr).Msg("serving http")
		err := api.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			api.logger.Error().Err(err).Msg("interrupted")
			errs <- err
		}
	}()
	return errs
}

// Shutdown the server
func (api *HTTP) Shutdown(ctx context.Context) error {
	if api.cancel != nil {
		api.cancel()
	}
	return api.srv.Shutdown(ctx)
}
