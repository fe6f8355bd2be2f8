package camera

import (
	"github.com/ethan/nanit-relay/pkg/protocol"
	"github.com/ethan/nanit-relay/pkg/state"
)

// applySensorData merges a sensor report into the snapshot. Only sensors
// mentioned in the report change; the rest keep their last value.
func applySensorData(data []*protocol.SensorData, s *state.SensorState) bool {
	changed := false
	for _, sd := range data {
		switch sd.SensorType {
		case protocol.SensorTemperature:
			if v, ok := milliValue(sd); ok {
				s.Temperature = state.Float64(v)
				changed = true
			}
		case protocol.SensorHumidity:
			if v, ok := milliValue(sd); ok {
				s.Humidity = state.Float64(v)
				changed = true
			}
		case protocol.SensorLight:
			if sd.Value != nil {
				s.Light = state.Int32(*sd.Value)
				changed = true
			}
		case protocol.SensorSound:
			s.SoundAlert = sd.IsAlert
			changed = true
		case protocol.SensorMotion:
			s.MotionAlert = sd.IsAlert
			changed = true
		case protocol.SensorNight:
			s.Night = boolValue(sd)
			changed = true
		}
	}
	return changed
}

// milliValue prefers the milli-scaled reading and falls back to the integer
// one.
func milliValue(sd *protocol.SensorData) (float64, bool) {
	if sd.ValueMilli != nil {
		return float64(*sd.ValueMilli) / 1000, true
	}
	if sd.Value != nil {
		return float64(*sd.Value), true
	}
	return 0, false
}

func boolValue(sd *protocol.SensorData) bool {
	if sd.Value != nil {
		return *sd.Value != 0
	}
	if sd.ValueMilli != nil {
		return *sd.ValueMilli != 0
	}
	return false
}

func applySettings(in *protocol.Settings, s *state.SettingsState) bool {
	if in == nil {
		return false
	}
	changed := false
	if in.NightVision != nil {
		s.NightVision = state.Bool(*in.NightVision)
		changed = true
	}
	if in.Volume != nil {
		s.Volume = state.Int32(*in.Volume)
		changed = true
	}
	if in.SleepMode != nil {
		s.SleepMode = state.Bool(*in.SleepMode)
		changed = true
	}
	if in.StatusLightOn != nil {
		s.StatusLightOn = state.Bool(*in.StatusLightOn)
		changed = true
	}
	if in.MicMuteOn != nil {
		s.MicMuteOn = state.Bool(*in.MicMuteOn)
		changed = true
	}
	if in.WifiBand != nil {
		s.WifiBand = state.String(wifiBandName(*in.WifiBand))
		changed = true
	}
	if in.MountingMode != nil {
		s.MountingMode = state.String(mountingModeName(*in.MountingMode))
		changed = true
	}
	return changed
}

func applyControl(in *protocol.Control, s *state.ControlState) bool {
	if in == nil {
		return false
	}
	changed := false
	if in.NightLight != nil {
		nl := state.NightLightOff
		if *in.NightLight == protocol.NightLightOn {
			nl = state.NightLightOn
		}
		s.NightLight = &nl
		changed = true
	}
	if in.NightLightTimeout != nil {
		s.NightLightTimeout = state.Int32(*in.NightLightTimeout)
		changed = true
	}
	if in.SensorDataTransfer != nil {
		t := in.SensorDataTransfer
		enabled := t.Sound || t.Motion || t.Temperature || t.Humidity || t.Light || t.Night
		s.SensorDataTransferEnabled = state.Bool(enabled)
		changed = true
	}
	return changed
}

func applyStatus(in *protocol.Status, s *state.StatusState) bool {
	if in == nil {
		return false
	}
	changed := false
	if in.ConnectionToServer != nil {
		s.ConnectedToServer = state.Bool(*in.ConnectionToServer == protocol.ServerConnected)
		changed = true
	}
	if in.CurrentVersion != "" {
		s.FirmwareVersion = state.String(in.CurrentVersion)
		changed = true
	}
	if in.HardwareVersion != "" {
		s.HardwareVersion = state.String(in.HardwareVersion)
		changed = true
	}
	if in.Mode != nil {
		s.MountingMode = state.String(mountingModeName(*in.Mode))
		changed = true
	}
	return changed
}

func wifiBandName(b protocol.WifiBand) string {
	switch b {
	case protocol.WifiBand24:
		return "2.4ghz"
	case protocol.WifiBand50:
		return "5ghz"
	default:
		return "any"
	}
}

func mountingModeName(m protocol.MountingMode) string {
	switch m {
	case protocol.MountingTravel:
		return "travel"
	case protocol.MountingSwitch:
		return "switch"
	default:
		return "stand"
	}
}
