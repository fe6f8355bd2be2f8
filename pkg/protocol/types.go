// Package protocol implements the framed protobuf envelope spoken over the
// Nanit WebSocket channel. The message types mirror nanit.proto and are
// marshalled by hand with encoding/protowire, so the package has no generated
// code and no descriptor dependency.
package protocol

// MessageType discriminates the three envelope variants.
type MessageType int32

const (
	MessageKeepalive MessageType = 0
	MessageRequest   MessageType = 1
	MessageResponse  MessageType = 2
)

// RequestType identifies the operation carried by a Request, and echoes back
// in the matching Response. PUT_* types also arrive unsolicited as push
// requests originated by the camera.
type RequestType int32

const (
	RequestGetSensorData RequestType = 1
	RequestPutSensorData RequestType = 2
	RequestGetSettings   RequestType = 3
	RequestPutSettings   RequestType = 4
	RequestGetControl    RequestType = 5
	RequestPutControl    RequestType = 6
	RequestGetStatus     RequestType = 7
	RequestPutStatus     RequestType = 8
	RequestPutStreaming  RequestType = 9
	RequestGetLogs       RequestType = 10
)

// String returns the wire-schema name of the request type.
func (t RequestType) String() string {
	switch t {
	case RequestGetSensorData:
		return "GET_SENSOR_DATA"
	case RequestPutSensorData:
		return "PUT_SENSOR_DATA"
	case RequestGetSettings:
		return "GET_SETTINGS"
	case RequestPutSettings:
		return "PUT_SETTINGS"
	case RequestGetControl:
		return "GET_CONTROL"
	case RequestPutControl:
		return "PUT_CONTROL"
	case RequestGetStatus:
		return "GET_STATUS"
	case RequestPutStatus:
		return "PUT_STATUS"
	case RequestPutStreaming:
		return "PUT_STREAMING"
	case RequestGetLogs:
		return "GET_LOGS"
	default:
		return "UNKNOWN"
	}
}

// SensorType identifies one entry in a sensor data payload.
type SensorType int32

const (
	SensorSound       SensorType = 0
	SensorMotion      SensorType = 1
	SensorTemperature SensorType = 2
	SensorHumidity    SensorType = 3
	SensorLight       SensorType = 4
	SensorNight       SensorType = 5
)

// NightLightMode is Control.NightLight on the wire.
type NightLightMode int32

const (
	NightLightOff NightLightMode = 0
	NightLightOn  NightLightMode = 1
)

// WifiBand is Settings.WifiBand on the wire.
type WifiBand int32

const (
	WifiBandAny WifiBand = 0
	WifiBand24  WifiBand = 1
	WifiBand50  WifiBand = 2
)

// MountingMode is shared between Settings and Status.
type MountingMode int32

const (
	MountingStand  MountingMode = 0
	MountingTravel MountingMode = 1
	MountingSwitch MountingMode = 2
)

// ConnectionToServer is Status.ConnectionToServer on the wire.
type ConnectionToServer int32

const (
	ServerDisconnected ConnectionToServer = 0
	ServerConnected    ConnectionToServer = 1
)

// StreamIdentifier is Streaming.Identifier on the wire.
type StreamIdentifier int32

const (
	StreamMobile StreamIdentifier = 0
	StreamDVR    StreamIdentifier = 1
)

// StreamingStatus is Streaming.Status on the wire.
type StreamingStatus int32

const (
	StreamingStarted StreamingStatus = 0
	StreamingStopped StreamingStatus = 1
	StreamingPaused  StreamingStatus = 2
)

// Message is the top-level envelope. Exactly one of Request/Response is set
// for the REQUEST/RESPONSE variants; KEEPALIVE carries neither.
type Message struct {
	Type     MessageType
	Request  *Request
	Response *Response
}

// Request carries one typed payload selected by Type. The repeated SensorData
// field is populated on PUT_SENSOR_DATA pushes from the camera.
type Request struct {
	ID            uint32
	Type          RequestType
	GetSensorData *GetSensorData
	GetStatus     *GetStatus
	GetControl    *GetControl
	Control       *Control
	Settings      *Settings
	Streaming     *Streaming
	SensorData    []*SensorData
	Status        *Status
	GetLogs       *GetLogs
}

// Response correlates back to a Request via RequestID and mirrors the typed
// payload fields of the request family.
type Response struct {
	RequestID   uint32
	RequestType RequestType
	StatusCode  int32
	SensorData  []*SensorData
	Status      *Status
	Settings    *Settings
	Control     *Control
}

// SensorData is one sensor reading. Value and ValueMilli use pointer
// presence: temperature and humidity arrive in ValueMilli (millidegrees /
// milli-percent) with Value as the integer fallback.
type SensorData struct {
	SensorType SensorType
	Timestamp  *int32
	Value      *int32
	ValueMilli *int32
	IsAlert    bool
}

// GetSensorData asks the camera for a full sensor report.
type GetSensorData struct {
	All bool
}

// GetStatus asks the camera for a full status report.
type GetStatus struct {
	All bool
}

// GetControl asks the camera for its control plane; NightLight requests the
// night light field explicitly.
type GetControl struct {
	NightLight bool
}

// GetLogs asks the camera to upload its logs to the given URL.
type GetLogs struct {
	URL string
}

// SensorDataTransfer selects which sensors the camera pushes unsolicited.
type SensorDataTransfer struct {
	Sound       bool
	Motion      bool
	Temperature bool
	Humidity    bool
	Light       bool
	Night       bool
}

// Control is the camera control plane. Nil fields are not sent, so a partial
// Control acts as a partial update on PUT_CONTROL.
type Control struct {
	NightLight         *NightLightMode
	NightLightTimeout  *int32
	SensorDataTransfer *SensorDataTransfer
}

// Settings is the camera settings plane, partial on PUT_SETTINGS the same way
// Control is.
type Settings struct {
	NightVision   *bool
	Volume        *int32
	SleepMode     *bool
	StatusLightOn *bool
	MicMuteOn     *bool
	WifiBand      *WifiBand
	MountingMode  *MountingMode
}

// Status is the camera's device status report.
type Status struct {
	ConnectionToServer *ConnectionToServer
	CurrentVersion     string
	HardwareVersion    string
	Mode               *MountingMode
}

// Streaming starts or stops an RTMPS push from the camera.
type Streaming struct {
	ID      StreamIdentifier
	Status  StreamingStatus
	RTMPURL string
}
