package value_object

import "fmt"

// ProtocolVersion is carried by every frame and every envelope.
type ProtocolVersion uint8

const ProtocolV1 ProtocolVersion = 0x01

func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolV1:
		return "v1"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(v))
	}
}

func (v ProtocolVersion) IsSupported() bool { return v == ProtocolV1 }
