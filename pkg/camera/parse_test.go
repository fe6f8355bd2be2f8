package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/nanit-relay/pkg/protocol"
	"github.com/ethan/nanit-relay/pkg/state"
)

func i32(v int32) *int32 { return &v }

func TestApplySensorDataMilliPreferred(t *testing.T) {
	var s state.SensorState
	changed := applySensorData([]*protocol.SensorData{
		{SensorType: protocol.SensorTemperature, Value: i32(21), ValueMilli: i32(21537)},
		{SensorType: protocol.SensorHumidity, ValueMilli: i32(48200)},
	}, &s)

	require.True(t, changed)
	require.NotNil(t, s.Temperature)
	assert.InDelta(t, 21.537, *s.Temperature, 0.0001)
	require.NotNil(t, s.Humidity)
	assert.InDelta(t, 48.2, *s.Humidity, 0.0001)
}

func TestApplySensorDataValueFallback(t *testing.T) {
	var s state.SensorState
	applySensorData([]*protocol.SensorData{
		{SensorType: protocol.SensorTemperature, Value: i32(22)},
	}, &s)

	require.NotNil(t, s.Temperature)
	assert.Equal(t, 22.0, *s.Temperature)
}

func TestApplySensorDataRetainsUnmentioned(t *testing.T) {
	s := state.SensorState{
		Temperature: state.Float64(21.5),
		Humidity:    state.Float64(44),
		SoundAlert:  true,
	}
	applySensorData([]*protocol.SensorData{
		{SensorType: protocol.SensorHumidity, ValueMilli: i32(50000)},
	}, &s)

	require.NotNil(t, s.Temperature)
	assert.Equal(t, 21.5, *s.Temperature)
	assert.Equal(t, 50.0, *s.Humidity)
	assert.True(t, s.SoundAlert)
}

func TestApplySensorDataAlertsAndNight(t *testing.T) {
	var s state.SensorState
	applySensorData([]*protocol.SensorData{
		{SensorType: protocol.SensorSound, IsAlert: true},
		{SensorType: protocol.SensorMotion, IsAlert: false},
		{SensorType: protocol.SensorNight, Value: i32(1)},
		{SensorType: protocol.SensorLight, Value: i32(7)},
	}, &s)

	assert.True(t, s.SoundAlert)
	assert.False(t, s.MotionAlert)
	assert.True(t, s.Night)
	require.NotNil(t, s.Light)
	assert.Equal(t, int32(7), *s.Light)
}

func TestApplySettings(t *testing.T) {
	nv := true
	vol := int32(65)
	band := protocol.WifiBand50
	mode := protocol.MountingTravel

	var s state.SettingsState
	changed := applySettings(&protocol.Settings{
		NightVision:  &nv,
		Volume:       &vol,
		WifiBand:     &band,
		MountingMode: &mode,
	}, &s)

	require.True(t, changed)
	assert.True(t, *s.NightVision)
	assert.Equal(t, int32(65), *s.Volume)
	assert.Equal(t, "5ghz", *s.WifiBand)
	assert.Equal(t, "travel", *s.MountingMode)
	assert.Nil(t, s.SleepMode) // untouched
}

func TestApplySettingsNilAndEmpty(t *testing.T) {
	var s state.SettingsState
	assert.False(t, applySettings(nil, &s))
	assert.False(t, applySettings(&protocol.Settings{}, &s))
}

func TestApplyControl(t *testing.T) {
	on := protocol.NightLightOn
	var s state.ControlState
	changed := applyControl(&protocol.Control{
		NightLight:        &on,
		NightLightTimeout: i32(300),
		SensorDataTransfer: &protocol.SensorDataTransfer{
			Sound: true, Motion: true, Temperature: true,
			Humidity: true, Light: true, Night: true,
		},
	}, &s)

	require.True(t, changed)
	assert.Equal(t, state.NightLightOn, *s.NightLight)
	assert.Equal(t, int32(300), *s.NightLightTimeout)
	assert.True(t, *s.SensorDataTransferEnabled)

	off := protocol.NightLightOff
	applyControl(&protocol.Control{
		NightLight:         &off,
		SensorDataTransfer: &protocol.SensorDataTransfer{},
	}, &s)
	assert.Equal(t, state.NightLightOff, *s.NightLight)
	assert.False(t, *s.SensorDataTransferEnabled)
}

func TestApplyStatus(t *testing.T) {
	conn := protocol.ServerConnected
	mode := protocol.MountingStand

	var s state.StatusState
	changed := applyStatus(&protocol.Status{
		ConnectionToServer: &conn,
		CurrentVersion:     "5.10.4",
		HardwareVersion:    "rev-b",
		Mode:               &mode,
	}, &s)

	require.True(t, changed)
	assert.True(t, *s.ConnectedToServer)
	assert.Equal(t, "5.10.4", *s.FirmwareVersion)
	assert.Equal(t, "rev-b", *s.HardwareVersion)
	assert.Equal(t, "stand", *s.MountingMode)
}
