package card

import "fmt"

// CardState is the lifecycle state reported by GET_STATE.
type CardState byte

const (
	StateUndefined         CardState = 0x00
	StateNotInitialized    CardState = 0x02
	StateInitialized       CardState = 0x04
	StateActivatedLocked   CardState = 0x08
	StateActivatedUnlocked CardState = 0x0F
)

// ParseState maps a raw state byte. Unknown values map to StateUndefined.
func ParseState(b byte) CardState {
	switch s := CardState(b); s {
	case StateNotInitialized, StateInitialized, StateActivatedLocked, StateActivatedUnlocked:
		return s
	default:
		return StateUndefined
	}
}

func (s CardState) String() string {
	switch s {
	case StateUndefined:
		return "undefined"
	case StateNotInitialized:
		return "not-initialized"
	case StateInitialized:
		return "initialized"
	case StateActivatedLocked:
		return "activated-locked"
	case StateActivatedUnlocked:
		return "activated-unlocked"
	default:
		return fmt.Sprintf("CardState(0x%02X)", byte(s))
	}
}

func (s CardState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
