package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/transport"
)

// SampleQueue is the part of the durable queue the sync engine reads and acknowledges.
type SampleQueue interface {
	Pending(ctx context.Context, limit int) ([]models.Sample, error)
	Acknowledge(ctx context.Context, ids []int64) error
	CountPending(ctx context.Context) (int, error)
}

// Uploader submits one batch to the backend.
type Uploader interface {
	PostLocations(ctx context.Context, points []models.IngestPoint) (models.IngestResponse, error)
}

// Reauthenticator refreshes the device secret after a 401.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// Connectivity reports the current network state and its transitions.
type Connectivity interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) func()
}

// TriggerKind says why a sync pass was requested.
type TriggerKind int

const (
	TriggerPeriodic TriggerKind = iota
	TriggerOnline
	TriggerThreshold
	TriggerManual
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerPeriodic:
		return "periodic"
	case TriggerOnline:
		return "online"
	case TriggerThreshold:
		return "threshold"
	case TriggerManual:
		return "manual"
	}
	return "unknown"
}

// SyncStatus is the observable state of the sync engine.
type SyncStatus struct {
	Pending       int       `json:"pending"`
	Online        bool      `json:"online"`
	Failures      int       `json:"consecutive_failures"`
	Paused        bool      `json:"paused"`
	InFlight      bool      `json:"in_flight"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
}

// SyncConfig tunes the sync engine. Zero values take the defaults.
type SyncConfig struct {
	Interval         time.Duration
	BatchSize        int
	MaxFailures      int
	CaptureThreshold int
}

// SyncService drains the durable queue to the backend. A single worker goroutine consumes
// one trigger channel, so at most one pass is in flight.
type SyncService struct {
	// Configuration fields
	interval    time.Duration
	batchSize   int
	maxFailures int
	threshold   int

	// Dependencies
	queue    SampleQueue
	uploader Uploader
	reauth   Reauthenticator
	logger   zerolog.Logger

	triggers chan TriggerKind

	connectivity  Connectivity
	unsubscribeFn func()

	mu            sync.Mutex
	online        bool
	failures      int
	inFlight      bool
	captured      int
	lastErr       error
	lastErrAt     time.Time
	lastSuccessAt time.Time

	// Internal state management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSyncService creates a SyncService. reauth may be nil.
func NewSyncService(cfg SyncConfig, queue SampleQueue, uploader Uploader, reauth Reauthenticator, logger zerolog.Logger) *SyncService {
	if cfg.Interval <= 0 {
		cfg.Interval = constants.DefaultSyncInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultSyncBatchSize
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = constants.DefaultMaxFailures
	}
	if cfg.CaptureThreshold <= 0 {
		cfg.CaptureThreshold = constants.DefaultCaptureThreshold
	}
	return &SyncService{
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxFailures: cfg.MaxFailures,
		threshold:   cfg.CaptureThreshold,
		queue:       queue,
		uploader:    uploader,
		reauth:      reauth,
		logger:      logger.With().Str("service", "sync").Logger(),
		triggers:    make(chan TriggerKind, 1),
		online:      true,
	}
}

// WithConnectivity makes the service follow c for its online state once started.
func (s *SyncService) WithConnectivity(c Connectivity) *SyncService {
	s.connectivity = c
	return s
}

// Start launches the sync worker and the periodic trigger.
func (s *SyncService) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("SyncService is already running")
		return errors.New("sync service is already running")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	if s.connectivity != nil {
		s.online = s.connectivity.IsOnline()
	}
	s.mu.Unlock()

	if s.connectivity != nil {
		s.unsubscribeFn = s.connectivity.Subscribe(s.SetOnline)
	}

	s.wg.Add(1)
	go s.worker()

	s.logger.Info().
		Dur("interval", s.interval).
		Int("batch_size", s.batchSize).
		Int("max_failures", s.maxFailures).
		Bool("online", s.isOnline()).
		Msg("SyncService started")

	// Drain whatever accumulated while the agent was down.
	s.Trigger(TriggerPeriodic)
	return nil
}

// Stop cancels the worker and waits for it to exit.
func (s *SyncService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("SyncService is not running")
		return errors.New("sync service is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.unsubscribeFn != nil {
		s.unsubscribeFn()
		s.unsubscribeFn = nil
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("SyncService stopped")
	return nil
}

func (s *SyncService) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Trigger(TriggerPeriodic)
		case kind := <-s.triggers:
			if !s.tryBegin() {
				s.logger.Debug().Stringer("trigger", kind).Msg("Sync pass already in flight")
				continue
			}
			s.run(s.ctx, kind)
		}
	}
}

// Trigger requests a sync pass and reports whether one will run. Online transitions and
// manual retries reset the failure counter. Automatic triggers are dropped while offline or
// while the circuit breaker is open, and any trigger is dropped while a pass is in flight.
func (s *SyncService) Trigger(kind TriggerKind) bool {
	s.mu.Lock()
	if kind == TriggerOnline || kind == TriggerManual {
		s.failures = 0
	}
	accepted := true
	switch {
	case s.inFlight:
		accepted = false
	case kind != TriggerManual && !s.online:
		accepted = false
	case (kind == TriggerPeriodic || kind == TriggerThreshold) && s.failures >= s.maxFailures:
		accepted = false
	}
	s.mu.Unlock()

	if !accepted {
		s.logger.Debug().Stringer("trigger", kind).Msg("Sync trigger ignored")
		return false
	}

	select {
	case s.triggers <- kind:
		return true
	default:
		// Coalesced into the pass already queued.
		return true
	}
}

// SetOnline records a connectivity change. Going online triggers a pass.
func (s *SyncService) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if changed && online {
		s.Trigger(TriggerOnline)
	}
}

func (s *SyncService) isOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// NotifyCaptured counts a newly staged sample and triggers a pass every threshold captures.
func (s *SyncService) NotifyCaptured() {
	s.mu.Lock()
	s.captured++
	fire := s.captured >= s.threshold
	if fire {
		s.captured = 0
	}
	s.mu.Unlock()

	if fire {
		s.Trigger(TriggerThreshold)
	}
}

// Retry resets the circuit breaker and requests a pass.
func (s *SyncService) Retry() bool {
	return s.Trigger(TriggerManual)
}

// SyncNow runs passes synchronously until the queue is drained or a pass fails. It ignores the
// circuit breaker and is meant for one-off invocations.
func (s *SyncService) SyncNow(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return 0, errors.New("sync already in progress")
	}
	s.inFlight = true
	s.failures = 0
	s.mu.Unlock()

	return s.run(ctx, TriggerManual)
}

// Status returns the current sync state.
func (s *SyncService) Status(ctx context.Context) (SyncStatus, error) {
	pending, err := s.queue.CountPending(ctx)
	if err != nil {
		return SyncStatus{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := SyncStatus{
		Pending:       pending,
		Online:        s.online,
		Failures:      s.failures,
		Paused:        s.failures >= s.maxFailures,
		InFlight:      s.inFlight,
		LastErrorAt:   s.lastErrAt,
		LastSuccessAt: s.lastSuccessAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st, nil
}

// tryBegin marks a pass in flight unless one already is.
func (s *SyncService) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

// run executes passes back to back while each one uploads a full batch. The caller marks
// the pass in flight; run clears the flag when it returns.
func (s *SyncService) run(ctx context.Context, kind TriggerKind) (int, error) {
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	total := 0
	for {
		n, err := s.pass(ctx)
		if err != nil {
			s.recordFailure(err, kind)
			return total, err
		}
		total += n
		if n > 0 {
			s.recordSuccess()
		}
		if n < s.batchSize || ctx.Err() != nil {
			if total > 0 {
				s.logger.Info().Int("uploaded", total).Stringer("trigger", kind).Msg("Sync complete")
			}
			return total, nil
		}
	}
}

// pass uploads at most one batch and acknowledges exactly the submitted samples.
func (s *SyncService) pass(ctx context.Context) (int, error) {
	samples, err := s.queue.Pending(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("read pending samples: %w", err)
	}
	if len(samples) == 0 {
		return 0, nil
	}

	points := make([]models.IngestPoint, len(samples))
	ids := make([]int64, len(samples))
	for i, sample := range samples {
		points[i] = models.NewIngestPoint(sample)
		ids[i] = sample.ID
	}

	resp, err := s.uploader.PostLocations(ctx, points)
	if errors.Is(err, transport.ErrUnauthorized) && s.reauth != nil {
		s.logger.Warn().Msg("Backend rejected device credentials, re-enrolling")
		if rerr := s.reauth.Reauthenticate(ctx); rerr != nil {
			return 0, fmt.Errorf("%w: %v", transport.ErrReauthenticationRequired, rerr)
		}
		resp, err = s.uploader.PostLocations(ctx, points)
	}
	if errors.Is(err, transport.ErrUnauthorized) {
		return 0, fmt.Errorf("%w: %v", transport.ErrReauthenticationRequired, err)
	}
	if err != nil {
		return 0, fmt.Errorf("upload batch: %w", err)
	}

	if err := s.queue.Acknowledge(ctx, ids); err != nil {
		return 0, fmt.Errorf("acknowledge batch: %w", err)
	}

	s.logger.Debug().
		Int("batch", len(samples)).
		Int64("inserted", resp.Inserted).
		Msg("Batch uploaded")
	return len(samples), nil
}

func (s *SyncService) recordFailure(err error, kind TriggerKind) {
	s.mu.Lock()
	s.failures++
	s.lastErr = err
	s.lastErrAt = time.Now()
	failures := s.failures
	s.mu.Unlock()

	event := s.logger.Error()
	if failures >= s.maxFailures {
		event = event.Bool("paused", true)
	}
	event.Err(err).Int("failures", failures).Stringer("trigger", kind).Msg("Sync pass failed")
}

func (s *SyncService) recordSuccess() {
	s.mu.Lock()
	s.failures = 0
	s.lastSuccessAt = time.Now()
	s.mu.Unlock()
}
