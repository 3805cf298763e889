package location

import (
	"context"
	"errors"
	"math"
	"sync"
)

var (
	// ErrSourceUnavailable means the source could not be started at all.
	ErrSourceUnavailable = errors.New("location source unavailable")
	// ErrTimeout means no fix arrived within Options.Timeout.
	ErrTimeout = errors.New("location request timed out")
	// ErrNoFix means the source produced no usable position.
	ErrNoFix = errors.New("no valid position data")
)

// Source is a positioning backend.
//
// Watch starts a continuous position watch and returns once the watch is running. A non-nil
// error means the watch could not start. Fixes and later errors are delivered on the source's
// own goroutine until ctx is cancelled.
type Source interface {
	Watch(ctx context.Context, opts Options, onFix FixHandler, onError ErrorHandler) error
	CurrentPosition(ctx context.Context, opts Options) (Fix, error)
	LastKnown() (Fix, bool)
}

const earthRadiusMeters = 6371008.8

// Distance returns the great-circle distance between two fixes in meters.
func Distance(a, b Fix) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// lastKnown caches the most recent fix of a source.
type lastKnown struct {
	mu  sync.RWMutex
	fix Fix
	ok  bool
}

func (l *lastKnown) set(f Fix) {
	l.mu.Lock()
	l.fix, l.ok = f, true
	l.mu.Unlock()
}

func (l *lastKnown) get() (Fix, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fix, l.ok
}

// distanceFilter drops fixes that moved less than the configured distance. Only the watch
// goroutine touches it.
type distanceFilter struct {
	meters float64
	prev   *Fix
}

func (d *distanceFilter) accept(f Fix) bool {
	if d.meters <= 0 || d.prev == nil || Distance(*d.prev, f) >= d.meters {
		d.prev = &f
		return true
	}
	return false
}
