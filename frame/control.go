package frame

import "github.com/ardnew/mcubus/pkg"

// ControlHeaderSize is the number of bytes preceding detail in a request
// or response payload.
const ControlHeaderSize = 2

// ControlMessage is the decoded payload of a request or response [Frame]:
// a target device_id, a control_code, and an opaque detail block.
//
// A response whose DeviceID equals [ErrorDeviceID] is not addressed to any
// device; ControlCode then holds the peer's error code and Detail is
// empty.
type ControlMessage struct {
	DeviceID    byte
	ControlCode byte
	Detail      []byte
}

// IsError reports whether m is the reserved peer-error sentinel.
func (m *ControlMessage) IsError() bool {
	return m.DeviceID == ErrorDeviceID
}

// ParseControlMessage decodes payload into out. It returns
// [pkg.ErrNoSpace] if payload is shorter than [ControlHeaderSize].
func ParseControlMessage(payload []byte, out *ControlMessage) error {
	if len(payload) < ControlHeaderSize {
		return pkg.ErrNoSpace
	}
	out.DeviceID = payload[0]
	out.ControlCode = payload[1]
	out.Detail = payload[ControlHeaderSize:]
	return nil
}

// MarshalTo serializes m to buf and returns the number of bytes written.
// It returns 0 if buf is too small to hold the header and Detail.
func (m *ControlMessage) MarshalTo(buf []byte) int {
	need := ControlHeaderSize + len(m.Detail)
	if len(buf) < need {
		return 0
	}
	buf[0] = m.DeviceID
	buf[1] = m.ControlCode
	copy(buf[ControlHeaderSize:], m.Detail)
	return need
}

// NewControlPayload builds the payload bytes for a request or response
// addressed to deviceID with the given control code and detail.
func NewControlPayload(deviceID, controlCode byte, detail []byte) []byte {
	buf := make([]byte, ControlHeaderSize+len(detail))
	m := ControlMessage{DeviceID: deviceID, ControlCode: controlCode, Detail: detail}
	m.MarshalTo(buf)
	return buf
}

// NewErrorPayload builds the payload bytes for a peer-error response
// carrying errCode.
func NewErrorPayload(errCode byte) []byte {
	return NewControlPayload(ErrorDeviceID, errCode, nil)
}
