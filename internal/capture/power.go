package capture

import (
	"errors"

	"github.com/distatus/battery"
)

// PowerState is the best-effort battery reading attached to each sample.
type PowerState struct {
	BatteryPct *float64
	IsCharging *bool
}

// PowerReader reads the current power state.
type PowerReader interface {
	Read() (PowerState, error)
}

// ErrNoBattery is returned when no battery supply is present.
var ErrNoBattery = errors.New("no battery found")

// BatteryPowerReader reads the host batteries through the platform power APIs.
type BatteryPowerReader struct {
	getAll func() ([]*battery.Battery, error)
}

// NewBatteryPowerReader creates a reader over every battery the OS reports.
func NewBatteryPowerReader() *BatteryPowerReader {
	return &BatteryPowerReader{getAll: battery.GetAll}
}

// Read reports the first usable battery's charge level and charging state. Fields the
// platform could not read are left nil.
func (r *BatteryPowerReader) Read() (PowerState, error) {
	batteries, err := r.getAll()
	if len(batteries) == 0 {
		if err != nil {
			return PowerState{}, err
		}
		return PowerState{}, ErrNoBattery
	}

	var perBattery battery.Errors
	errors.As(err, &perBattery)

	for i, b := range batteries {
		if b == nil {
			continue
		}
		var partial battery.ErrPartial
		if i < len(perBattery) && perBattery[i] != nil {
			if !errors.As(perBattery[i], &partial) {
				continue
			}
		}

		var state PowerState
		if partial.Current == nil && partial.Full == nil && b.Full > 0 {
			pct := b.Current / b.Full * 100
			if pct > 100 {
				pct = 100
			}
			if pct >= 0 {
				state.BatteryPct = &pct
			}
		}
		if partial.State == nil {
			state.IsCharging = chargingFromState(b.State.Raw)
		}
		if state.BatteryPct != nil || state.IsCharging != nil {
			return state, nil
		}
	}
	if err != nil {
		return PowerState{}, err
	}
	return PowerState{}, ErrNoBattery
}

func chargingFromState(state battery.AgnosticState) *bool {
	var charging bool
	switch state {
	case battery.Charging, battery.Full:
		charging = true
	case battery.Discharging, battery.Empty, battery.Idle:
		charging = false
	default:
		return nil
	}
	return &charging
}
