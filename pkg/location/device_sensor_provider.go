package location

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"
)

// userEquivalentRangeError converts HDOP into an approximate error radius in meters.
const userEquivalentRangeError = 5.0

// DeviceSensorProvider reads NMEA sentences from a GPS receiver on a serial port.
type DeviceSensorProvider struct {
	port     string // Serial port to which the GPS device is connected
	baudRate int    // Baud rate for the serial communication

	open func() (io.ReadCloser, error)
	now  func() time.Time
	last lastKnown
}

// NewDeviceSensorProvider creates a new instance of DeviceSensorProvider with the specified port and baud rate.
func NewDeviceSensorProvider(port string, baudRate int) *DeviceSensorProvider {
	d := &DeviceSensorProvider{
		port:     port,
		baudRate: baudRate,
		now:      time.Now,
	}
	d.open = func() (io.ReadCloser, error) {
		return serial.OpenPort(&serial.Config{Name: d.port, Baud: d.baudRate})
	}
	return d
}

// NewDeviceSensorProviderFromReader builds a provider that reads NMEA from an arbitrary stream
// opener, such as a gpsd raw socket or a replay file.
func NewDeviceSensorProviderFromReader(open func() (io.ReadCloser, error), now func() time.Time) *DeviceSensorProvider {
	if now == nil {
		now = time.Now
	}
	return &DeviceSensorProvider{open: open, now: now}
}

// Watch opens the serial port and streams fixes until ctx is cancelled.
func (d *DeviceSensorProvider) Watch(ctx context.Context, opts Options, onFix FixHandler, onError ErrorHandler) error {
	stream, err := d.open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, d.port, err)
	}

	go d.watch(ctx, stream, opts, onFix, onError)
	return nil
}

func (d *DeviceSensorProvider) watch(ctx context.Context, stream io.ReadCloser, opts Options, onFix FixHandler, onError ErrorHandler) {
	defer stream.Close()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stream)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			scanErr <- err
			return
		}
		scanErr <- io.EOF
	}()

	var timeout <-chan time.Time
	var timer *time.Timer
	if opts.Timeout > 0 {
		timer = time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	filter := distanceFilter{meters: opts.DistanceFilter}
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-lines:
			fix, ok := parseSentence(line, d.now())
			if !ok {
				continue
			}
			d.last.set(fix)
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(opts.Timeout)
			}
			if filter.accept(fix) && ctx.Err() == nil {
				onFix(fix)
			}
		case err := <-scanErr:
			if ctx.Err() == nil && onError != nil {
				onError(fmt.Errorf("gps stream closed: %w", err))
			}
			return
		case <-timeout:
			if onError != nil {
				onError(ErrTimeout)
			}
			timer.Reset(opts.Timeout)
		}
	}
}

// CurrentPosition returns a cached fix younger than opts.MaximumAge, or reads the receiver
// until the first valid fix or opts.Timeout.
func (d *DeviceSensorProvider) CurrentPosition(ctx context.Context, opts Options) (Fix, error) {
	if fix, ok := d.last.get(); ok && opts.MaximumAge > 0 && d.now().Sub(fix.Timestamp) <= opts.MaximumAge {
		return fix, nil
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()

	fixes := make(chan Fix, 1)
	errs := make(chan error, 1)
	err := d.Watch(watchCtx, Options{}, func(f Fix) {
		select {
		case fixes <- f:
		default:
		}
	}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	if err != nil {
		return Fix{}, err
	}

	select {
	case fix := <-fixes:
		return fix, nil
	case err := <-errs:
		return Fix{}, err
	case <-ctx.Done():
		return Fix{}, ErrTimeout
	}
}

// LastKnown returns the most recent fix read from the receiver.
func (d *DeviceSensorProvider) LastKnown() (Fix, bool) {
	return d.last.get()
}

// parseSentence extracts a fix from GGA and RMC sentences of any talker. Sentences without a
// valid fix are ignored.
func parseSentence(line string, now time.Time) (Fix, bool) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		if s.FixQuality == nmea.Invalid || s.FixQuality == "" {
			return Fix{}, false
		}
		return Fix{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Accuracy:  s.HDOP * userEquivalentRangeError,
			Timestamp: now,
		}, true
	case nmea.RMC:
		if s.Validity != nmea.ValidRMC {
			return Fix{}, false
		}
		return Fix{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Timestamp: now,
		}, true
	}

	return Fix{}, false
}
