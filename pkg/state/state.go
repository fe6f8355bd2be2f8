// Package state defines the immutable value snapshots that describe
// everything known about one Nanit camera. A new snapshot is produced for
// every change; readers never observe a partially applied update.
package state

import "time"

// TransportKind identifies which WebSocket path the camera is reached over.
type TransportKind string

const (
	TransportLocal TransportKind = "local"
	TransportCloud TransportKind = "cloud"
	TransportNone  TransportKind = "none"
)

// ConnectionState is the lifecycle state of the WebSocket transport.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateConnecting   ConnectionState = "connecting"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
)

// NightLight is the camera's night light switch position.
type NightLight string

const (
	NightLightOn  NightLight = "on"
	NightLightOff NightLight = "off"
)

// SensorState holds the latest reading for each camera sensor. Nil means the
// camera has not reported that sensor yet.
type SensorState struct {
	Temperature *float64 `json:"temperature,omitempty"` // Celsius
	Humidity    *float64 `json:"humidity,omitempty"`    // percent
	Light       *int32   `json:"light,omitempty"`       // lux
	SoundAlert  bool     `json:"sound_alert"`
	MotionAlert bool     `json:"motion_alert"`
	Night       bool     `json:"night"`
}

// SettingsState mirrors the camera's reported settings. Nil fields were not
// present in the last report.
type SettingsState struct {
	NightVision   *bool   `json:"night_vision,omitempty"`
	Volume        *int32  `json:"volume,omitempty"` // 0-100
	SleepMode     *bool   `json:"sleep_mode,omitempty"`
	StatusLightOn *bool   `json:"status_light_on,omitempty"`
	MicMuteOn     *bool   `json:"mic_mute_on,omitempty"`
	WifiBand      *string `json:"wifi_band,omitempty"`     // "any", "2.4ghz", "5ghz"
	MountingMode  *string `json:"mounting_mode,omitempty"` // "stand", "travel", "switch"
}

// ControlState mirrors the camera's control plane.
type ControlState struct {
	NightLight                *NightLight `json:"night_light,omitempty"`
	NightLightTimeout         *int32      `json:"night_light_timeout,omitempty"` // seconds
	SensorDataTransferEnabled *bool       `json:"sensor_data_transfer_enabled,omitempty"`
}

// StatusState mirrors the camera's device status report.
type StatusState struct {
	ConnectedToServer *bool   `json:"connected_to_server,omitempty"`
	FirmwareVersion   *string `json:"firmware_version,omitempty"`
	HardwareVersion   *string `json:"hardware_version,omitempty"`
	MountingMode      *string `json:"mounting_mode,omitempty"`
}

// ConnectionInfo describes the transport from the consumer's point of view.
type ConnectionInfo struct {
	State             ConnectionState `json:"state"`
	Transport         TransportKind   `json:"transport"`
	LastSeen          *time.Time      `json:"last_seen,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	ReconnectAttempts int             `json:"reconnect_attempts"`
}

// CameraState is the single authoritative snapshot per camera.
type CameraState struct {
	Connection ConnectionInfo `json:"connection"`
	Sensors    SensorState    `json:"sensors"`
	Settings   SettingsState  `json:"settings"`
	Control    ControlState   `json:"control"`
	Status     StatusState    `json:"status"`
}

// NewCameraState returns the zero snapshot: disconnected, nothing reported.
func NewCameraState() CameraState {
	return CameraState{
		Connection: ConnectionInfo{
			State:     StateDisconnected,
			Transport: TransportNone,
		},
	}
}

// EventKind classifies which part of the snapshot an event changed.
type EventKind string

const (
	EventSensorUpdate     EventKind = "sensor_update"
	EventSettingsUpdate   EventKind = "settings_update"
	EventControlUpdate    EventKind = "control_update"
	EventStatusUpdate     EventKind = "status_update"
	EventConnectionChange EventKind = "connection_change"
)

// CameraEvent is delivered to subscribers. State is the full snapshot after
// the change was applied.
type CameraEvent struct {
	Kind  EventKind
	State CameraState
}

// Baby is a baby profile from the Nanit account. Fields are opaque strings
// from the cloud API.
type Baby struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	CameraUID string `json:"camera_uid"`
}

// CloudEvent is a motion/sound notification from the cloud messages endpoint.
// These are poll-only and deliberately kept apart from the push channel.
type CloudEvent struct {
	EventType string  `json:"event_type"`
	Timestamp float64 `json:"timestamp"` // unix seconds
	BabyUID   string  `json:"baby_uid"`
}

// Helpers for building pointer-typed optional fields in one expression.

func Bool(v bool) *bool          { return &v }
func Int32(v int32) *int32       { return &v }
func Float64(v float64) *float64 { return &v }
func String(v string) *string    { return &v }
