package value_object

import "fmt"

// FrameType identifies what a hop-to-hop frame carries.
type FrameType uint8

const (
	FrameEnvelope FrameType = 0x01 // request: one encoded OnionEnvelope
	FrameResponse FrameType = 0x02 // reply: opaque wrapped blob
	FrameError    FrameType = 0x03 // reply: plaintext Reply, sent when no hop key is available
	FramePing     FrameType = 0x04
	FramePong     FrameType = 0x05
	FrameAccepted FrameType = 0x06 // async acknowledgement
	FrameDeliver  FrameType = 0x07 // async delivery to a terminus
)

func (t FrameType) String() string {
	switch t {
	case FrameEnvelope:
		return "ENVELOPE"
	case FrameResponse:
		return "RESPONSE"
	case FrameError:
		return "ERROR"
	case FramePing:
		return "PING"
	case FramePong:
		return "PONG"
	case FrameAccepted:
		return "ACCEPTED"
	case FrameDeliver:
		return "DELIVER"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

func (t FrameType) IsValid() bool {
	return t >= FrameEnvelope && t <= FrameDeliver
}
