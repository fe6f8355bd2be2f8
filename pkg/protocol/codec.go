package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DecodeError is raised for any inbound frame that fails to parse. Upper
// layers never see raw protowire errors.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeMessage serializes an envelope to wire bytes.
func EncodeMessage(m *Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	if m.Request != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRequest(m.Request))
	}
	if m.Response != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalResponse(m.Response))
	}
	return b
}

// DecodeMessage parses wire bytes into an envelope. Empty input is the wire
// idiom for the empty KEEPALIVE envelope and decodes without error.
func DecodeMessage(data []byte) (*Message, error) {
	m := &Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, &DecodeError{Err: protowire.ParseError(n)}
		}
		data = data[n:]
		var err error
		switch num {
		case 1:
			var v uint64
			if v, data, err = consumeVarint(data, typ); err == nil {
				m.Type = MessageType(v)
			}
		case 2:
			var sub []byte
			if sub, data, err = consumeBytes(data, typ); err == nil {
				m.Request, err = unmarshalRequest(sub)
			}
		case 3:
			var sub []byte
			if sub, data, err = consumeBytes(data, typ); err == nil {
				m.Response, err = unmarshalResponse(sub)
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return nil, &DecodeError{Err: err}
		}
	}
	return m, nil
}

// BuildKeepalive returns the serialized KEEPALIVE envelope.
func BuildKeepalive() []byte {
	return EncodeMessage(&Message{Type: MessageKeepalive})
}

// BuildRequest wraps a request in a REQUEST envelope and serializes it.
func BuildRequest(req *Request) []byte {
	return EncodeMessage(&Message{Type: MessageRequest, Request: req})
}

// ExtractResponse returns the response payload of a RESPONSE envelope, or nil.
func ExtractResponse(m *Message) *Response {
	if m.Type == MessageResponse {
		return m.Response
	}
	return nil
}

// ExtractRequest returns the request payload of a REQUEST envelope, or nil.
// Inbound REQUEST envelopes are push events originated by the camera.
func ExtractRequest(m *Message) *Request {
	if m.Type == MessageRequest {
		return m.Request
	}
	return nil
}

// ----------------------------------------------------------------------
// Marshalling
// ----------------------------------------------------------------------

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	return appendVarintField(b, num, uint64(int64(v)))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	return appendVarintField(b, num, protowire.EncodeBool(v))
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendMessageField(b []byte, num protowire.Number, sub []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func marshalRequest(r *Request) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(r.ID))
	b = appendInt32Field(b, 2, int32(r.Type))
	if r.GetSensorData != nil {
		b = appendMessageField(b, 3, marshalGetSensorData(r.GetSensorData))
	}
	if r.GetStatus != nil {
		b = appendMessageField(b, 4, marshalGetStatus(r.GetStatus))
	}
	if r.GetControl != nil {
		b = appendMessageField(b, 5, marshalGetControl(r.GetControl))
	}
	if r.Control != nil {
		b = appendMessageField(b, 6, marshalControl(r.Control))
	}
	if r.Settings != nil {
		b = appendMessageField(b, 7, marshalSettings(r.Settings))
	}
	if r.Streaming != nil {
		b = appendMessageField(b, 8, marshalStreaming(r.Streaming))
	}
	for _, sd := range r.SensorData {
		b = appendMessageField(b, 9, marshalSensorData(sd))
	}
	if r.Status != nil {
		b = appendMessageField(b, 10, marshalStatus(r.Status))
	}
	if r.GetLogs != nil {
		b = appendMessageField(b, 11, marshalGetLogs(r.GetLogs))
	}
	return b
}

func marshalResponse(r *Response) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(r.RequestID))
	b = appendInt32Field(b, 2, int32(r.RequestType))
	b = appendInt32Field(b, 3, r.StatusCode)
	for _, sd := range r.SensorData {
		b = appendMessageField(b, 4, marshalSensorData(sd))
	}
	if r.Status != nil {
		b = appendMessageField(b, 5, marshalStatus(r.Status))
	}
	if r.Settings != nil {
		b = appendMessageField(b, 6, marshalSettings(r.Settings))
	}
	if r.Control != nil {
		b = appendMessageField(b, 7, marshalControl(r.Control))
	}
	return b
}

func marshalSensorData(sd *SensorData) []byte {
	var b []byte
	b = appendInt32Field(b, 1, int32(sd.SensorType))
	if sd.Timestamp != nil {
		b = appendInt32Field(b, 2, *sd.Timestamp)
	}
	if sd.Value != nil {
		b = appendInt32Field(b, 3, *sd.Value)
	}
	if sd.ValueMilli != nil {
		b = appendInt32Field(b, 4, *sd.ValueMilli)
	}
	if sd.IsAlert {
		b = appendBoolField(b, 5, true)
	}
	return b
}

func marshalGetSensorData(g *GetSensorData) []byte {
	var b []byte
	if g.All {
		b = appendBoolField(b, 1, true)
	}
	return b
}

func marshalGetStatus(g *GetStatus) []byte {
	var b []byte
	if g.All {
		b = appendBoolField(b, 1, true)
	}
	return b
}

func marshalGetControl(g *GetControl) []byte {
	var b []byte
	if g.NightLight {
		b = appendBoolField(b, 1, true)
	}
	return b
}

func marshalGetLogs(g *GetLogs) []byte {
	var b []byte
	if g.URL != "" {
		b = appendStringField(b, 1, g.URL)
	}
	return b
}

func marshalSensorDataTransfer(t *SensorDataTransfer) []byte {
	var b []byte
	b = appendBoolField(b, 1, t.Sound)
	b = appendBoolField(b, 2, t.Motion)
	b = appendBoolField(b, 3, t.Temperature)
	b = appendBoolField(b, 4, t.Humidity)
	b = appendBoolField(b, 5, t.Light)
	b = appendBoolField(b, 6, t.Night)
	return b
}

func marshalControl(c *Control) []byte {
	var b []byte
	if c.NightLight != nil {
		b = appendInt32Field(b, 1, int32(*c.NightLight))
	}
	if c.NightLightTimeout != nil {
		b = appendInt32Field(b, 2, *c.NightLightTimeout)
	}
	if c.SensorDataTransfer != nil {
		b = appendMessageField(b, 3, marshalSensorDataTransfer(c.SensorDataTransfer))
	}
	return b
}

func marshalSettings(s *Settings) []byte {
	var b []byte
	if s.NightVision != nil {
		b = appendBoolField(b, 1, *s.NightVision)
	}
	if s.Volume != nil {
		b = appendInt32Field(b, 2, *s.Volume)
	}
	if s.SleepMode != nil {
		b = appendBoolField(b, 3, *s.SleepMode)
	}
	if s.StatusLightOn != nil {
		b = appendBoolField(b, 4, *s.StatusLightOn)
	}
	if s.MicMuteOn != nil {
		b = appendBoolField(b, 5, *s.MicMuteOn)
	}
	if s.WifiBand != nil {
		b = appendInt32Field(b, 6, int32(*s.WifiBand))
	}
	if s.MountingMode != nil {
		b = appendInt32Field(b, 7, int32(*s.MountingMode))
	}
	return b
}

func marshalStatus(s *Status) []byte {
	var b []byte
	if s.ConnectionToServer != nil {
		b = appendInt32Field(b, 1, int32(*s.ConnectionToServer))
	}
	if s.CurrentVersion != "" {
		b = appendStringField(b, 2, s.CurrentVersion)
	}
	if s.HardwareVersion != "" {
		b = appendStringField(b, 3, s.HardwareVersion)
	}
	if s.Mode != nil {
		b = appendInt32Field(b, 4, int32(*s.Mode))
	}
	return b
}

func marshalStreaming(s *Streaming) []byte {
	var b []byte
	b = appendInt32Field(b, 1, int32(s.ID))
	b = appendInt32Field(b, 2, int32(s.Status))
	if s.RTMPURL != "" {
		b = appendStringField(b, 3, s.RTMPURL)
	}
	return b
}

// ----------------------------------------------------------------------
// Unmarshalling
// ----------------------------------------------------------------------

func consumeVarint(data []byte, typ protowire.Type) (uint64, []byte, error) {
	if typ != protowire.VarintType {
		return 0, nil, fmt.Errorf("unexpected wire type %v for varint field", typ)
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, nil, protowire.ParseError(n)
	}
	return v, data[n:], nil
}

func consumeBytes(data []byte, typ protowire.Type) ([]byte, []byte, error) {
	if typ != protowire.BytesType {
		return nil, nil, fmt.Errorf("unexpected wire type %v for bytes field", typ)
	}
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, nil, protowire.ParseError(n)
	}
	return v, data[n:], nil
}

func skipField(data []byte, num protowire.Number, typ protowire.Type) ([]byte, error) {
	n := protowire.ConsumeFieldValue(num, typ, data)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return data[n:], nil
}

func unmarshalRequest(data []byte) (*Request, error) {
	r := &Request{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		var v uint64
		var sub []byte
		switch num {
		case 1:
			if v, data, err = consumeVarint(data, typ); err == nil {
				r.ID = uint32(v)
			}
		case 2:
			if v, data, err = consumeVarint(data, typ); err == nil {
				r.Type = RequestType(int32(v))
			}
		case 3:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				r.GetSensorData, err = unmarshalGetSensorData(sub)
			}
		case 4:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				r.GetStatus, err = unmarshalGetStatus(sub)
			}
		case 5:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				r.GetControl, err = unmarshalGetControl(sub)
			}
		case 6:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				r.Control, err = unmarshalControl(sub)
			}
		case 7:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				r.Settings, err = unmarshalSettings(sub)
			}
		case 8:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				r.Streaming, err = unmarshalStreaming(sub)
			}
		case 9:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				var sd *SensorData
				if sd, err = unmarshalSensorData(sub); err == nil {
					r.SensorData = append(r.SensorData, sd)
				}
			}
		case 10:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				r.Status, err = unmarshalStatus(sub)
			}
		case 11:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				r.GetLogs, err = unmarshalGetLogs(sub)
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func unmarshalResponse(data []byte) (*Response, error) {
	r := &Response{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		var v uint64
		var sub []byte
		switch num {
		case 1:
			if v, data, err = consumeVarint(data, typ); err == nil {
				r.RequestID = uint32(v)
			}
		case 2:
			if v, data, err = consumeVarint(data, typ); err == nil {
				r.RequestType = RequestType(int32(v))
			}
		case 3:
			if v, data, err = consumeVarint(data, typ); err == nil {
				r.StatusCode = int32(v)
			}
		case 4:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				var sd *SensorData
				if sd, err = unmarshalSensorData(sub); err == nil {
					r.SensorData = append(r.SensorData, sd)
				}
			}
		case 5:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				r.Status, err = unmarshalStatus(sub)
			}
		case 6:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				r.Settings, err = unmarshalSettings(sub)
			}
		case 7:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				r.Control, err = unmarshalControl(sub)
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func unmarshalSensorData(data []byte) (*SensorData, error) {
	sd := &SensorData{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		var v uint64
		switch num {
		case 1:
			if v, data, err = consumeVarint(data, typ); err == nil {
				sd.SensorType = SensorType(int32(v))
			}
		case 2:
			if v, data, err = consumeVarint(data, typ); err == nil {
				ts := int32(v)
				sd.Timestamp = &ts
			}
		case 3:
			if v, data, err = consumeVarint(data, typ); err == nil {
				val := int32(v)
				sd.Value = &val
			}
		case 4:
			if v, data, err = consumeVarint(data, typ); err == nil {
				val := int32(v)
				sd.ValueMilli = &val
			}
		case 5:
			if v, data, err = consumeVarint(data, typ); err == nil {
				sd.IsAlert = protowire.DecodeBool(v)
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return sd, nil
}

func unmarshalBoolField1(data []byte) (bool, error) {
	var out bool
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return false, protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		if num == 1 {
			var v uint64
			if v, data, err = consumeVarint(data, typ); err == nil {
				out = protowire.DecodeBool(v)
			}
		} else {
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return false, err
		}
	}
	return out, nil
}

func unmarshalGetSensorData(data []byte) (*GetSensorData, error) {
	all, err := unmarshalBoolField1(data)
	if err != nil {
		return nil, err
	}
	return &GetSensorData{All: all}, nil
}

func unmarshalGetStatus(data []byte) (*GetStatus, error) {
	all, err := unmarshalBoolField1(data)
	if err != nil {
		return nil, err
	}
	return &GetStatus{All: all}, nil
}

func unmarshalGetControl(data []byte) (*GetControl, error) {
	nl, err := unmarshalBoolField1(data)
	if err != nil {
		return nil, err
	}
	return &GetControl{NightLight: nl}, nil
}

func unmarshalGetLogs(data []byte) (*GetLogs, error) {
	g := &GetLogs{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		if num == 1 {
			var sub []byte
			if sub, data, err = consumeBytes(data, typ); err == nil {
				g.URL = string(sub)
			}
		} else {
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return g, nil
}

func unmarshalSensorDataTransfer(data []byte) (*SensorDataTransfer, error) {
	t := &SensorDataTransfer{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		var v uint64
		switch num {
		case 1, 2, 3, 4, 5, 6:
			if v, data, err = consumeVarint(data, typ); err == nil {
				on := protowire.DecodeBool(v)
				switch num {
				case 1:
					t.Sound = on
				case 2:
					t.Motion = on
				case 3:
					t.Temperature = on
				case 4:
					t.Humidity = on
				case 5:
					t.Light = on
				case 6:
					t.Night = on
				}
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

func unmarshalControl(data []byte) (*Control, error) {
	c := &Control{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		var v uint64
		switch num {
		case 1:
			if v, data, err = consumeVarint(data, typ); err == nil {
				mode := NightLightMode(int32(v))
				c.NightLight = &mode
			}
		case 2:
			if v, data, err = consumeVarint(data, typ); err == nil {
				timeout := int32(v)
				c.NightLightTimeout = &timeout
			}
		case 3:
			var sub []byte
			if sub, data, err = consumeBytes(data, typ); err == nil {
				c.SensorDataTransfer, err = unmarshalSensorDataTransfer(sub)
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func unmarshalSettings(data []byte) (*Settings, error) {
	s := &Settings{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		var v uint64
		switch num {
		case 1:
			if v, data, err = consumeVarint(data, typ); err == nil {
				b := protowire.DecodeBool(v)
				s.NightVision = &b
			}
		case 2:
			if v, data, err = consumeVarint(data, typ); err == nil {
				vol := int32(v)
				s.Volume = &vol
			}
		case 3:
			if v, data, err = consumeVarint(data, typ); err == nil {
				b := protowire.DecodeBool(v)
				s.SleepMode = &b
			}
		case 4:
			if v, data, err = consumeVarint(data, typ); err == nil {
				b := protowire.DecodeBool(v)
				s.StatusLightOn = &b
			}
		case 5:
			if v, data, err = consumeVarint(data, typ); err == nil {
				b := protowire.DecodeBool(v)
				s.MicMuteOn = &b
			}
		case 6:
			if v, data, err = consumeVarint(data, typ); err == nil {
				band := WifiBand(int32(v))
				s.WifiBand = &band
			}
		case 7:
			if v, data, err = consumeVarint(data, typ); err == nil {
				mode := MountingMode(int32(v))
				s.MountingMode = &mode
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func unmarshalStatus(data []byte) (*Status, error) {
	s := &Status{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		var v uint64
		var sub []byte
		switch num {
		case 1:
			if v, data, err = consumeVarint(data, typ); err == nil {
				conn := ConnectionToServer(int32(v))
				s.ConnectionToServer = &conn
			}
		case 2:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				s.CurrentVersion = string(sub)
			}
		case 3:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				s.HardwareVersion = string(sub)
			}
		case 4:
			if v, data, err = consumeVarint(data, typ); err == nil {
				mode := MountingMode(int32(v))
				s.Mode = &mode
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func unmarshalStreaming(data []byte) (*Streaming, error) {
	s := &Streaming{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		var err error
		var v uint64
		var sub []byte
		switch num {
		case 1:
			if v, data, err = consumeVarint(data, typ); err == nil {
				s.ID = StreamIdentifier(int32(v))
			}
		case 2:
			if v, data, err = consumeVarint(data, typ); err == nil {
				s.Status = StreamingStatus(int32(v))
			}
		case 3:
			if sub, data, err = consumeBytes(data, typ); err == nil {
				s.RTMPURL = string(sub)
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}
