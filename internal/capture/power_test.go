package capture

import (
	"errors"
	"testing"

	"github.com/distatus/battery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readerWith(batteries []*battery.Battery, err error) *BatteryPowerReader {
	return &BatteryPowerReader{getAll: func() ([]*battery.Battery, error) { return batteries, err }}
}

func TestBatteryPowerReader_Charging(t *testing.T) {
	state, err := readerWith([]*battery.Battery{{
		State:   battery.State{Raw: battery.Charging},
		Current: 36500,
		Full:    50000,
	}}, nil).Read()
	require.NoError(t, err)
	assert.Equal(t, 73.0, *state.BatteryPct)
	assert.True(t, *state.IsCharging)
}

func TestBatteryPowerReader_Discharging(t *testing.T) {
	state, err := readerWith([]*battery.Battery{{
		State:   battery.State{Raw: battery.Discharging},
		Current: 6000,
		Full:    50000,
	}}, nil).Read()
	require.NoError(t, err)
	assert.Equal(t, 12.0, *state.BatteryPct)
	assert.False(t, *state.IsCharging)
}

func TestBatteryPowerReader_UnknownStateKeepsLevel(t *testing.T) {
	state, err := readerWith([]*battery.Battery{{
		State:   battery.State{Raw: battery.Unknown},
		Current: 51000,
		Full:    50000,
	}}, nil).Read()
	require.NoError(t, err)
	assert.Equal(t, 100.0, *state.BatteryPct)
	assert.Nil(t, state.IsCharging)
}

func TestBatteryPowerReader_PartialReadings(t *testing.T) {
	batteries := []*battery.Battery{
		{State: battery.State{Raw: battery.Charging}},
		{State: battery.State{Raw: battery.Discharging}, Current: 20000, Full: 40000},
	}
	errs := battery.Errors{
		battery.ErrFatal{Err: errors.New("unreadable")},
		battery.ErrPartial{State: errors.New("no status")},
	}

	state, err := readerWith(batteries, errs).Read()
	require.NoError(t, err)
	assert.Equal(t, 50.0, *state.BatteryPct)
	assert.Nil(t, state.IsCharging)
}

func TestBatteryPowerReader_NoBattery(t *testing.T) {
	_, err := readerWith(nil, nil).Read()
	assert.ErrorIs(t, err, ErrNoBattery)

	fatal := battery.ErrFatal{Err: errors.New("no power supply class")}
	_, err = readerWith(nil, fatal).Read()
	assert.Error(t, err)
}
