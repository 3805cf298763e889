package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/capture"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/utils"
)

// Tracker is the capture engine surface used by the agent services.
type Tracker interface {
	Subscribe(fn func(models.Sample)) func()
	SubscribeErrors(fn func(error)) func()
	ReportError(err error)
	Start(mode capture.Mode, accuracy models.AccuracyMode) error
	Stop() error
}

// SampleStore stages captured samples durably.
type SampleStore interface {
	Enqueue(ctx context.Context, s models.Sample) (int64, error)
}

// CaptureNotifier is told about every staged sample.
type CaptureNotifier interface {
	NotifyCaptured()
}

// CaptureConfig controls whether tracking starts with the service.
type CaptureConfig struct {
	AutoStart bool
	Mode      capture.Mode
	Accuracy  models.AccuracyMode
}

const (
	captureQueueSize    = 256
	captureWriteTimeout = 5 * time.Second
)

// CaptureService persists every sample emitted by the tracker, in emission order, and nudges
// the sync engine after each successful write.
type CaptureService struct {
	cfg      CaptureConfig
	tracker  Tracker
	store    SampleStore
	notifier CaptureNotifier
	logger   zerolog.Logger

	mu          sync.Mutex
	pool        *utils.WorkerPool
	unsubscribe []func()
	tracking    bool
	running     bool
}

// NewCaptureService creates a CaptureService. notifier may be nil.
func NewCaptureService(cfg CaptureConfig, tracker Tracker, store SampleStore, notifier CaptureNotifier, logger zerolog.Logger) *CaptureService {
	return &CaptureService{
		cfg:      cfg,
		tracker:  tracker,
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("service", "capture").Logger(),
	}
}

// Start subscribes to the tracker and, when configured, starts tracking.
func (c *CaptureService) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.logger.Warn().Msg("CaptureService is already running")
		return errors.New("capture service is already running")
	}

	// One worker keeps writes in emission order.
	c.pool = utils.NewWorkerPool(1, captureQueueSize)
	c.unsubscribe = []func(){
		c.tracker.Subscribe(c.onSample),
		c.tracker.SubscribeErrors(c.onError),
	}

	if c.cfg.AutoStart {
		if err := c.tracker.Start(c.cfg.Mode, c.cfg.Accuracy); err != nil {
			c.teardown()
			return fmt.Errorf("start tracking: %w", err)
		}
		c.tracking = true
	}

	c.running = true
	c.logger.Info().
		Bool("auto_start", c.cfg.AutoStart).
		Str("mode", string(c.cfg.Mode)).
		Str("accuracy", string(c.cfg.Accuracy)).
		Msg("CaptureService started")
	return nil
}

// Stop stops tracking it started, then drains pending writes.
func (c *CaptureService) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		c.logger.Warn().Msg("CaptureService is not running")
		return errors.New("capture service is not running")
	}

	var err error
	if c.tracking {
		if stopErr := c.tracker.Stop(); stopErr != nil && !errors.Is(stopErr, capture.ErrClosed) {
			err = stopErr
		}
		c.tracking = false
	}
	c.teardown()
	c.running = false

	c.logger.Info().Msg("CaptureService stopped")
	return err
}

func (c *CaptureService) teardown() {
	for _, unsubscribe := range c.unsubscribe {
		unsubscribe()
	}
	c.unsubscribe = nil
	c.pool.Shutdown()
}

// onSample runs on the tracker goroutine and must not block.
func (c *CaptureService) onSample(sample models.Sample) {
	if !c.pool.TrySubmit(func() { c.persist(sample) }) {
		err := errors.New("capture write queue is full")
		c.logger.Error().Err(err).Time("captured_at", sample.CapturedAt).Msg("Dropping sample")
		c.tracker.ReportError(err)
	}
}

func (c *CaptureService) persist(sample models.Sample) {
	ctx, cancel := context.WithTimeout(context.Background(), captureWriteTimeout)
	defer cancel()

	id, err := c.store.Enqueue(ctx, sample)
	if err != nil {
		c.logger.Error().Err(err).Time("captured_at", sample.CapturedAt).Msg("Failed to stage sample")
		c.tracker.ReportError(fmt.Errorf("stage sample: %w", err))
		return
	}

	c.logger.Debug().
		Int64("id", id).
		Str("provider", sample.Provider).
		Float64("accuracy_m", sample.AccuracyM).
		Msg("Sample staged")

	if c.notifier != nil {
		c.notifier.NotifyCaptured()
	}
}

func (c *CaptureService) onError(err error) {
	c.logger.Warn().Err(err).Msg("Capture pipeline error")
}
