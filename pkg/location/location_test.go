package location

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

const (
	sampleGGA        = "$GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,*76"
	sampleRMC        = "$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70"
	sampleInvalidGGA = "$GPGGA,092750.000,5321.6802,N,00630.3372,W,0,8,1.03,61.7,M,55.2,M,,*77"
)

var fixedNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestParseSentence(t *testing.T) {
	fix, ok := parseSentence(sampleGGA, fixedNow)
	require.True(t, ok)
	assert.InDelta(t, 53.361337, fix.Latitude, 1e-5)
	assert.InDelta(t, -6.505620, fix.Longitude, 1e-5)
	assert.InDelta(t, 5.15, fix.Accuracy, 1e-9)
	assert.Equal(t, fixedNow, fix.Timestamp)

	fix, ok = parseSentence(sampleRMC, fixedNow)
	require.True(t, ok)
	assert.InDelta(t, 51.563667, fix.Latitude, 1e-5)

	_, ok = parseSentence(sampleInvalidGGA, fixedNow)
	assert.False(t, ok)

	_, ok = parseSentence("garbage", fixedNow)
	assert.False(t, ok)
}

func TestDistance(t *testing.T) {
	a := Fix{Latitude: 0, Longitude: 0}
	b := Fix{Latitude: 0, Longitude: 1}
	assert.InDelta(t, 111195, Distance(a, b), 5)
	assert.Zero(t, Distance(a, a))
}

func TestDistanceFilter(t *testing.T) {
	f := distanceFilter{meters: 10}
	assert.True(t, f.accept(Fix{Latitude: 0, Longitude: 0}))
	assert.False(t, f.accept(Fix{Latitude: 0.00001, Longitude: 0}))
	assert.True(t, f.accept(Fix{Latitude: 0.001, Longitude: 0}))
}

func TestDeviceSensorProvider_Watch(t *testing.T) {
	reader, writer := io.Pipe()
	provider := NewDeviceSensorProviderFromReader(func() (io.ReadCloser, error) {
		return reader, nil
	}, func() time.Time { return fixedNow })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fixes := make(chan Fix, 4)
	err := provider.Watch(ctx, Options{DistanceFilter: 10}, func(f Fix) { fixes <- f }, nil)
	require.NoError(t, err)

	go func() {
		_, _ = io.WriteString(writer, sampleInvalidGGA+"\n"+sampleGGA+"\n"+sampleGGA+"\n"+sampleRMC+"\n")
	}()

	first := <-fixes
	assert.InDelta(t, 53.361337, first.Latitude, 1e-5)
	second := <-fixes
	assert.InDelta(t, 51.563667, second.Latitude, 1e-5)

	last, ok := provider.LastKnown()
	require.True(t, ok)
	assert.Equal(t, second, last)

	cancel()
	_ = writer.Close()
}

func TestDeviceSensorProvider_WatchOpenFailure(t *testing.T) {
	provider := NewDeviceSensorProviderFromReader(func() (io.ReadCloser, error) {
		return nil, errors.New("no such device")
	}, nil)

	err := provider.Watch(context.Background(), Options{}, func(Fix) {}, nil)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestDeviceSensorProvider_CurrentPositionTimeout(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()
	provider := NewDeviceSensorProviderFromReader(func() (io.ReadCloser, error) {
		return reader, nil
	}, nil)

	_, err := provider.CurrentPosition(context.Background(), Options{Timeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, ErrTimeout)
}

type fakeGeolocator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeGeolocator) Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &maps.GeolocationResult{Location: maps.LatLng{Lat: 10, Lng: 20}, Accuracy: 40}, nil
}

func (f *fakeGeolocator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestGoogleGeolocationProvider_CurrentPositionUsesCache(t *testing.T) {
	geo := &fakeGeolocator{}
	now := fixedNow
	provider := NewGeolocationProviderWithClient(geo, nil, time.Minute, func() time.Time { return now })

	fix, err := provider.CurrentPosition(context.Background(), Options{MaximumAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 10.0, fix.Latitude)
	assert.Equal(t, 40.0, fix.Accuracy)

	now = now.Add(30 * time.Second)
	_, err = provider.CurrentPosition(context.Background(), Options{MaximumAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 1, geo.count())

	now = now.Add(time.Minute)
	_, err = provider.CurrentPosition(context.Background(), Options{MaximumAge: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 2, geo.count())
}

func TestGoogleGeolocationProvider_WatchReportsErrors(t *testing.T) {
	geo := &fakeGeolocator{err: errors.New("quota exceeded")}
	provider := NewGeolocationProviderWithClient(geo, nil, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 1)
	require.NoError(t, provider.Watch(ctx, Options{}, func(Fix) {}, func(err error) { errs <- err }))
	assert.ErrorContains(t, <-errs, "quota exceeded")
}

func TestParseWiFiList(t *testing.T) {
	out := "AA\\:BB\\:CC\\:DD\\:EE\\:FF:72\nbogus\n11\\:22\\:33\\:44\\:55\\:66:abc\n"
	aps, err := parseWiFiList(out)
	require.NoError(t, err)
	require.Len(t, aps, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", aps[0].MACAddress)
	assert.Equal(t, 72.0, aps[0].SignalStrength)
}

func TestParseCellTower(t *testing.T) {
	out := "modem.3gpp.mcc : 262\nmodem.3gpp.mnc : 1\nmodem.3gpp.lac : 1A2B\nmodem.3gpp.cid : 00FF\n"
	towers, err := parseCellTower(out)
	require.NoError(t, err)
	require.Len(t, towers, 1)
	assert.Equal(t, 262, towers[0].MobileCountryCode)
	assert.Equal(t, 0x1A2B, towers[0].LocationAreaCode)
	assert.Equal(t, 0xFF, towers[0].CellID)

	_, err = parseCellTower("modem.3gpp.mcc : 262\n")
	assert.Error(t, err)
}
