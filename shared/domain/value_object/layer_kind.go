package value_object

import "fmt"

// LayerKind is the explicit tag on a decrypted onion layer. The peeler reads
// it; it never guesses the kind from whether the body happens to parse.
type LayerKind uint8

const (
	LayerForward  LayerKind = 0x01
	LayerTerminal LayerKind = 0x02
)

func (k LayerKind) String() string {
	switch k {
	case LayerForward:
		return "FORWARD"
	case LayerTerminal:
		return "TERMINAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

func (k LayerKind) IsValid() bool { return k == LayerForward || k == LayerTerminal }

// ReturnKind tags one layer of the backward path.
type ReturnKind uint8

const (
	// ReturnRelayed wraps the downstream hop's blob; keep unwrapping.
	ReturnRelayed ReturnKind = 0x01
	// ReturnFinal wraps an encoded Reply; stop unwrapping.
	ReturnFinal ReturnKind = 0x02
)

func (k ReturnKind) String() string {
	switch k {
	case ReturnRelayed:
		return "RELAYED"
	case ReturnFinal:
		return "FINAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

func (k ReturnKind) IsValid() bool { return k == ReturnRelayed || k == ReturnFinal }

// RoutingStyle selects how the entry relay sends the response back.
type RoutingStyle string

const (
	StyleSync  RoutingStyle = "sync"
	StyleAsync RoutingStyle = "async"
)

func ParseRoutingStyle(s string) (RoutingStyle, error) {
	switch RoutingStyle(s) {
	case StyleSync, "":
		return StyleSync, nil
	case StyleAsync:
		return StyleAsync, nil
	default:
		return "", fmt.Errorf("unknown routing style %q", s)
	}
}
