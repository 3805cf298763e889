package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/utils"
	"github.com/offsync/offsync/pkg/location"
)

// Mode tells whether tracking runs with the app in the foreground or in the background.
type Mode string

const (
	Foreground Mode = "foreground"
	Background Mode = "background"
)

// ParseMode maps a configured value to a Mode, defaulting to Foreground.
func ParseMode(s string) Mode {
	if Mode(s) == Background {
		return Background
	}
	return Foreground
}

var (
	// ErrClosed is returned by engine calls after Close.
	ErrClosed = errors.New("capture engine closed")
	// ErrPositionUnavailable is returned by Locate when neither a cached nor a fresh fix exists.
	ErrPositionUnavailable = errors.New("position unavailable")
)

// Profile is the watch configuration used for one accuracy mode.
type Profile struct {
	Options  location.Options
	Provider string
}

// Config tunes the engine. Zero values take the defaults.
type Config struct {
	FallbackTimeout time.Duration
	CachedMaxAge    time.Duration
	FreshFixTimeout time.Duration
	High            Profile
	Balanced        Profile
}

// DefaultConfig returns the watch profiles of the mobile client.
func DefaultConfig() Config {
	return Config{
		FallbackTimeout: constants.DefaultFallbackTimeout,
		CachedMaxAge:    constants.DefaultCachedMaxAge,
		FreshFixTimeout: constants.DefaultFreshFixTimeout,
		High: Profile{
			Options:  location.Options{Timeout: 15 * time.Second, MaximumAge: 0, DistanceFilter: 10},
			Provider: constants.ProviderGPS,
		},
		Balanced: Profile{
			Options:  location.Options{Timeout: 30 * time.Second, MaximumAge: 60 * time.Second, DistanceFilter: 50},
			Provider: constants.ProviderNetwork,
		},
	}
}

// Status is a snapshot of the engine state.
type Status struct {
	Tracking       bool
	Mode           Mode
	Accuracy       models.AccuracyMode
	FallbackArmed  bool
	FallbackActive bool
	LastFixAt      time.Time
}

// Engine turns position fixes into samples. All state lives on a single event loop goroutine;
// public methods post events and wait for the reply. Observers run on the loop goroutine and
// must not call back into the engine.
type Engine struct {
	high     location.Source
	balanced location.Source
	power    PowerReader
	clock    Clock
	cfg      Config
	logger   zerolog.Logger

	samples *utils.Observable[models.Sample]
	errs    *utils.Observable[error]

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}

	// owned by the loop goroutine
	state engineState
}

type engineState struct {
	tracking    bool
	mode        Mode
	accuracy    models.AccuracyMode
	gen         uint64
	cancelWatch context.CancelFunc
	provider    string

	fallbackTimer  Timer
	fallbackActive bool
	gotFix         bool
	lastFixAt      time.Time
}

type event interface{}

type startEvent struct {
	mode     Mode
	accuracy models.AccuracyMode
	reply    chan error
}

type stopEvent struct{ reply chan error }

type setModeEvent struct {
	mode  Mode
	reply chan error
}

type setAccuracyEvent struct {
	accuracy models.AccuracyMode
	reply    chan error
}

type statusEvent struct{ reply chan Status }

type fixEvent struct {
	gen uint64
	fix location.Fix
}

type watchErrorEvent struct {
	gen uint64
	err error
}

type fallbackTimerEvent struct{ gen uint64 }

// NewEngine creates and starts the engine loop. power and clock may be nil.
func NewEngine(high, balanced location.Source, power PowerReader, clock Clock, cfg Config, logger zerolog.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = defaults.FallbackTimeout
	}
	if cfg.CachedMaxAge <= 0 {
		cfg.CachedMaxAge = defaults.CachedMaxAge
	}
	if cfg.FreshFixTimeout <= 0 {
		cfg.FreshFixTimeout = defaults.FreshFixTimeout
	}
	if cfg.High.Provider == "" {
		cfg.High = defaults.High
	}
	if cfg.Balanced.Provider == "" {
		cfg.Balanced = defaults.Balanced
	}
	if clock == nil {
		clock = RealClock()
	}

	e := &Engine{
		high:     high,
		balanced: balanced,
		power:    power,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With().Str("component", "capture").Logger(),
		samples:  utils.NewObservable[models.Sample](),
		errs:     utils.NewObservable[error](),
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		state:    engineState{mode: Foreground, accuracy: models.HighAccuracy},
	}
	go e.loop()
	return e
}

// Subscribe registers a sample observer and returns its unsubscribe function.
func (e *Engine) Subscribe(fn func(models.Sample)) func() {
	return e.samples.Subscribe(fn)
}

// SubscribeErrors registers an observer for watch and pipeline errors.
func (e *Engine) SubscribeErrors(fn func(error)) func() {
	return e.errs.Subscribe(fn)
}

// ReportError forwards an error from a downstream stage to the error observers.
func (e *Engine) ReportError(err error) {
	e.errs.Publish(err)
}

// Start begins tracking. Calling it while tracking with different settings restarts the watch.
func (e *Engine) Start(mode Mode, accuracy models.AccuracyMode) error {
	reply := make(chan error, 1)
	if err := e.post(startEvent{mode: mode, accuracy: accuracy, reply: reply}); err != nil {
		return err
	}
	return e.await(reply)
}

// Stop ends tracking, cancelling the watch and the fallback timer.
func (e *Engine) Stop() error {
	reply := make(chan error, 1)
	if err := e.post(stopEvent{reply: reply}); err != nil {
		return err
	}
	return e.await(reply)
}

// SetMode switches between foreground and background tracking.
func (e *Engine) SetMode(mode Mode) error {
	reply := make(chan error, 1)
	if err := e.post(setModeEvent{mode: mode, reply: reply}); err != nil {
		return err
	}
	return e.await(reply)
}

// SetAccuracy switches the accuracy mode and resets the GPS fallback.
func (e *Engine) SetAccuracy(accuracy models.AccuracyMode) error {
	reply := make(chan error, 1)
	if err := e.post(setAccuracyEvent{accuracy: accuracy, reply: reply}); err != nil {
		return err
	}
	return e.await(reply)
}

// Status returns a snapshot. Every event posted before the call has been handled when it returns.
func (e *Engine) Status() Status {
	reply := make(chan Status, 1)
	if err := e.post(statusEvent{reply: reply}); err != nil {
		return Status{}
	}
	select {
	case s := <-reply:
		return s
	case <-e.stopped:
		return Status{}
	}
}

// Close stops tracking and terminates the loop.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		<-e.stopped
	})
	return nil
}

func (e *Engine) post(ev event) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	select {
	case e.events <- ev:
		return nil
	case <-e.done:
		return ErrClosed
	}
}

func (e *Engine) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-e.stopped:
		return ErrClosed
	}
}

func (e *Engine) loop() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			e.endSession()
			return
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev event) {
	s := &e.state
	switch ev := ev.(type) {
	case startEvent:
		if !ev.accuracy.Valid() {
			ev.reply <- fmt.Errorf("unknown accuracy mode %q", ev.accuracy)
			return
		}
		if s.tracking && s.mode == ev.mode && s.accuracy == ev.accuracy {
			ev.reply <- nil
			return
		}
		e.endSession()
		s.mode, s.accuracy = ev.mode, ev.accuracy
		ev.reply <- e.beginSession()

	case stopEvent:
		if s.tracking {
			e.endSession()
			e.logger.Info().Msg("Tracking stopped")
		}
		ev.reply <- nil

	case setModeEvent:
		if s.mode == ev.mode {
			ev.reply <- nil
			return
		}
		s.mode = ev.mode
		if !s.tracking {
			ev.reply <- nil
			return
		}
		e.endSession()
		ev.reply <- e.beginSession()

	case setAccuracyEvent:
		if !ev.accuracy.Valid() {
			ev.reply <- fmt.Errorf("unknown accuracy mode %q", ev.accuracy)
			return
		}
		if s.accuracy == ev.accuracy {
			ev.reply <- nil
			return
		}
		s.accuracy = ev.accuracy
		if !s.tracking {
			ev.reply <- nil
			return
		}
		e.endSession()
		ev.reply <- e.beginSession()

	case statusEvent:
		ev.reply <- Status{
			Tracking:       s.tracking,
			Mode:           s.mode,
			Accuracy:       s.accuracy,
			FallbackArmed:  s.fallbackTimer != nil,
			FallbackActive: s.fallbackActive,
			LastFixAt:      s.lastFixAt,
		}

	case fixEvent:
		if !s.tracking || ev.gen != s.gen {
			return
		}
		e.handleFix(ev.fix)

	case watchErrorEvent:
		if !s.tracking || ev.gen != s.gen {
			return
		}
		e.handleWatchError(ev.err)

	case fallbackTimerEvent:
		if !s.tracking || ev.gen != s.gen || s.fallbackTimer == nil {
			return
		}
		s.fallbackTimer = nil
		e.logger.Warn().Dur("timeout", e.cfg.FallbackTimeout).Msg("No GPS fix in time, switching to network fallback")
		e.engageFallback()
	}
}

// beginSession enters tracking for the current mode and accuracy.
func (e *Engine) beginSession() error {
	s := &e.state
	s.fallbackActive = false
	s.gotFix = false

	if s.accuracy == models.BalancedPower {
		if err := e.startWatch(e.balanced, e.cfg.Balanced); err != nil {
			e.errs.Publish(err)
			return err
		}
		s.tracking = true
		e.logSessionStart()
		return nil
	}

	err := e.startWatch(e.high, e.cfg.High)
	if err != nil {
		if s.mode != Foreground {
			e.errs.Publish(err)
			return err
		}
		e.logger.Warn().Err(err).Msg("High accuracy watch failed to start, switching to network fallback")
		s.tracking = true
		if err := e.engageFallback(); err != nil {
			return err
		}
		e.logSessionStart()
		return nil
	}

	s.tracking = true
	if s.mode == Foreground {
		gen := s.gen
		s.fallbackTimer = e.clock.AfterFunc(e.cfg.FallbackTimeout, func() {
			_ = e.post(fallbackTimerEvent{gen: gen})
		})
	}
	e.logSessionStart()
	return nil
}

func (e *Engine) logSessionStart() {
	e.logger.Info().
		Str("mode", string(e.state.mode)).
		Str("accuracy", string(e.state.accuracy)).
		Bool("fallback_active", e.state.fallbackActive).
		Msg("Tracking started")
}

// endSession cancels the watch and the fallback timer and returns to idle.
func (e *Engine) endSession() {
	s := &e.state
	e.disarmFallback()
	e.cancelCurrentWatch()
	s.tracking = false
	s.fallbackActive = false
	s.gotFix = false
}

func (e *Engine) startWatch(src location.Source, p Profile) error {
	if src == nil {
		return location.ErrSourceUnavailable
	}

	s := &e.state
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())

	err := src.Watch(ctx, p.Options,
		func(f location.Fix) { _ = e.post(fixEvent{gen: gen, fix: f}) },
		func(err error) { _ = e.post(watchErrorEvent{gen: gen, err: err}) },
	)
	if err != nil {
		cancel()
		return err
	}

	s.cancelWatch = cancel
	s.provider = p.Provider
	return nil
}

func (e *Engine) cancelCurrentWatch() {
	s := &e.state
	if s.cancelWatch != nil {
		s.cancelWatch()
		s.cancelWatch = nil
	}
	// Invalidate events still in flight from the cancelled watch.
	s.gen++
}

func (e *Engine) disarmFallback() {
	s := &e.state
	if s.fallbackTimer != nil {
		s.fallbackTimer.Stop()
		s.fallbackTimer = nil
	}
}

// engageFallback replaces the high accuracy watch with a balanced one. Samples keep the user's
// accuracy mode but are labelled network_fallback.
func (e *Engine) engageFallback() error {
	s := &e.state
	e.disarmFallback()
	e.cancelCurrentWatch()

	if err := e.startWatch(e.balanced, e.cfg.Balanced); err != nil {
		err = fmt.Errorf("network fallback: %w", err)
		e.logger.Error().Err(err).Msg("Failed to start network fallback watch")
		e.errs.Publish(err)
		s.tracking = false
		return err
	}

	s.fallbackActive = true
	s.provider = constants.ProviderNetworkFallback
	return nil
}

func (e *Engine) handleFix(fix location.Fix) {
	s := &e.state

	capturedAt := fix.Timestamp
	if capturedAt.IsZero() {
		capturedAt = e.clock.Now()
	}

	sample := models.Sample{
		CapturedAt:   capturedAt.UTC(),
		Latitude:     fix.Latitude,
		Longitude:    fix.Longitude,
		AccuracyM:    fix.Accuracy,
		Provider:     s.provider,
		AccuracyMode: s.accuracy,
		State:        models.Pending,
	}
	if err := sample.Validate(); err != nil {
		e.logger.Warn().Err(err).
			Float64("lat", fix.Latitude).
			Float64("lng", fix.Longitude).
			Msg("Dropping invalid fix")
		return
	}

	if !s.fallbackActive && s.fallbackTimer != nil {
		e.disarmFallback()
		e.logger.Debug().Msg("GPS fix received, fallback disarmed for this session")
	}
	s.gotFix = true
	s.lastFixAt = sample.CapturedAt

	e.enrich(&sample)
	e.samples.Publish(sample)
}

// handleWatchError treats an error before the first fix of a foreground high accuracy session
// as a hard failure. Timeouts are left to the fallback timer.
func (e *Engine) handleWatchError(err error) {
	s := &e.state
	e.logger.Warn().Err(err).Str("provider", s.provider).Msg("Position watch error")
	e.errs.Publish(err)

	if s.accuracy == models.HighAccuracy && s.mode == Foreground && !s.fallbackActive && !s.gotFix &&
		!errors.Is(err, location.ErrTimeout) {
		_ = e.engageFallback()
	}
}

func (e *Engine) enrich(sample *models.Sample) {
	if e.power == nil {
		return
	}
	state, err := e.power.Read()
	if err != nil {
		return
	}
	sample.BatteryPct = state.BatteryPct
	sample.IsCharging = state.IsCharging
}
