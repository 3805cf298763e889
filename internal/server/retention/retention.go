// Package retention deletes expired location history and replay nonces once a day.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pruner deletes rows older than a cutoff.
type Pruner interface {
	PruneLocations(ctx context.Context, cutoff time.Time) (int64, error)
	PruneNonces(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config tunes the retention job.
type Config struct {
	Horizon      time.Duration // location points captured before now-Horizon are deleted
	ReplayWindow time.Duration // nonces recorded before now-ReplayWindow are deleted
	RunHour      int           // UTC hour of the daily run
}

// Result reports what a single run deleted.
type Result struct {
	Locations int64
	Nonces    int64
}

// Job runs the retention pass daily at Config.RunHour UTC.
type Job struct {
	cfg    Config
	store  Pruner
	logger zerolog.Logger

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewJob creates a retention Job.
func NewJob(cfg Config, store Pruner, logger zerolog.Logger) *Job {
	return &Job{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("service", "retention").Logger(),
		now:    time.Now,
		after:  time.After,
	}
}

// Start schedules the daily run.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return errors.New("retention job is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.running = true

	j.wg.Add(1)
	go j.loop(ctx)

	j.logger.Info().
		Int("run_hour_utc", j.cfg.RunHour).
		Dur("horizon", j.cfg.Horizon).
		Time("next_run", j.nextRun(j.now())).
		Msg("Retention job started")
	return nil
}

// Stop cancels the schedule and waits for a run in progress.
func (j *Job) Stop() error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return errors.New("retention job is not running")
	}
	j.running = false
	j.cancel()
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info().Msg("Retention job stopped")
	return nil
}

func (j *Job) loop(ctx context.Context) {
	defer j.wg.Done()
	for {
		now := j.now()
		wait := j.nextRun(now).Sub(now)
		select {
		case <-ctx.Done():
			return
		case <-j.after(wait):
		}
		// Failures are retried on the next day's run.
		_, _ = j.RunOnce(ctx)
	}
}

// nextRun returns the first RunHour:00 UTC strictly after now.
func (j *Job) nextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), j.cfg.RunHour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce prunes both tables immediately. A nonce failure does not stop location pruning.
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	now := j.now()
	var res Result
	var errs []error

	if j.cfg.Horizon > 0 {
		n, err := j.store.PruneLocations(ctx, now.Add(-j.cfg.Horizon))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune locations: %w", err))
		}
		res.Locations = n
	}
	if j.cfg.ReplayWindow > 0 {
		n, err := j.store.PruneNonces(ctx, now.Add(-j.cfg.ReplayWindow))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune nonces: %w", err))
		}
		res.Nonces = n
	}

	if err := errors.Join(errs...); err != nil {
		j.logger.Error().Err(err).Msg("Retention run failed")
		return res, err
	}
	j.logger.Info().
		Int64("locations_deleted", res.Locations).
		Int64("nonces_deleted", res.Nonces).
		Msg("Retention run complete")
	return res, nil
}
