package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"
)

// defaultPollInterval is how often the balanced source asks the geolocation API during a watch.
const defaultPollInterval = 30 * time.Second

// Geolocator is the part of the Maps client the provider depends on.
type Geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// SignalScanner collects nearby radio signals to improve network positioning.
type SignalScanner func(ctx context.Context) ([]maps.WiFiAccessPoint, []maps.CellTower)

// GoogleGeolocationProvider uses the Google Maps API to get location data.
type GoogleGeolocationProvider struct {
	client       Geolocator // Maps API client for making geolocation requests
	scan         SignalScanner
	pollInterval time.Duration
	now          func() time.Time
	last         lastKnown
}

// NewGoogleGeolocationProvider creates a new GoogleGeolocationProvider instance.
func NewGoogleGeolocationProvider(apiKey string, modemIndex int, pollInterval time.Duration) (*GoogleGeolocationProvider, error) {
	if apiKey == "" {
		return nil, errors.New("google geolocation api key is required")
	}
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return NewGeolocationProviderWithClient(c, systemSignalScanner(modemIndex), pollInterval, nil), nil
}

// NewGeolocationProviderWithClient wires a provider around an existing Geolocator.
func NewGeolocationProviderWithClient(client Geolocator, scan SignalScanner, pollInterval time.Duration, now func() time.Time) *GoogleGeolocationProvider {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if now == nil {
		now = time.Now
	}
	return &GoogleGeolocationProvider{
		client:       client,
		scan:         scan,
		pollInterval: pollInterval,
		now:          now,
	}
}

// Watch polls the geolocation API every poll interval until ctx is cancelled. Cached fixes
// younger than opts.MaximumAge are reused instead of calling the API.
func (g *GoogleGeolocationProvider) Watch(ctx context.Context, opts Options, onFix FixHandler, onError ErrorHandler) error {
	if g.client == nil {
		return ErrSourceUnavailable
	}

	go func() {
		filter := distanceFilter{meters: opts.DistanceFilter}
		ticker := time.NewTicker(g.pollInterval)
		defer ticker.Stop()

		for {
			fix, err := g.CurrentPosition(ctx, opts)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if onError != nil {
					onError(err)
				}
			} else if filter.accept(fix) {
				onFix(fix)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return nil
}

// CurrentPosition retrieves the device's location using the Google Maps Geolocation API.
func (g *GoogleGeolocationProvider) CurrentPosition(ctx context.Context, opts Options) (Fix, error) {
	if fix, ok := g.last.get(); ok && opts.MaximumAge > 0 && g.now().Sub(fix.Timestamp) <= opts.MaximumAge {
		return fix, nil
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// Prepare the geolocation request with whatever signals are available
	req := &maps.GeolocationRequest{ConsiderIP: true}
	if g.scan != nil {
		req.WiFiAccessPoints, req.CellTowers = g.scan(ctx)
	}

	resp, err := g.client.Geolocate(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Fix{}, ErrTimeout
		}
		return Fix{}, fmt.Errorf("geolocate: %w", err)
	}
	if resp == nil {
		return Fix{}, ErrNoFix
	}

	fix := Fix{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
		Accuracy:  resp.Accuracy,
		Timestamp: g.now(),
	}
	g.last.set(fix)
	return fix, nil
}

// LastKnown returns the most recent API answer.
func (g *GoogleGeolocationProvider) LastKnown() (Fix, bool) {
	return g.last.get()
}
