package capture

import (
	"context"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/pkg/location"
)

// Locate answers a one-shot position query without touching the queue. A cached fix younger
// than CachedMaxAge from either source wins; otherwise a fresh high accuracy fix is requested,
// bounded by FreshFixTimeout.
func (e *Engine) Locate(ctx context.Context) (models.Sample, error) {
	now := e.clock.Now()

	var (
		best     location.Fix
		provider string
		found    bool
	)
	for _, candidate := range []struct {
		src      location.Source
		provider string
	}{
		{e.high, e.cfg.High.Provider},
		{e.balanced, e.cfg.Balanced.Provider},
	} {
		if candidate.src == nil {
			continue
		}
		fix, ok := candidate.src.LastKnown()
		if !ok || now.Sub(fix.Timestamp) > e.cfg.CachedMaxAge {
			continue
		}
		if !found || fix.Timestamp.After(best.Timestamp) {
			best, provider, found = fix, candidate.provider, true
		}
	}

	if !found && e.high != nil {
		fix, err := e.high.CurrentPosition(ctx, location.Options{Timeout: e.cfg.FreshFixTimeout})
		if err != nil {
			e.logger.Debug().Err(err).Msg("Fresh high accuracy fix failed")
		} else {
			best, provider, found = fix, e.cfg.High.Provider, true
		}
	}

	if !found {
		return models.Sample{}, ErrPositionUnavailable
	}

	if best.Timestamp.IsZero() {
		best.Timestamp = now
	}
	if provider == "" {
		provider = constants.ProviderGPS
	}
	sample := models.Sample{
		CapturedAt:   best.Timestamp.UTC(),
		Latitude:     best.Latitude,
		Longitude:    best.Longitude,
		AccuracyM:    best.Accuracy,
		Provider:     provider,
		AccuracyMode: models.HighAccuracy,
	}
	if err := sample.Validate(); err != nil {
		return models.Sample{}, ErrPositionUnavailable
	}
	e.enrich(&sample)
	return sample, nil
}
