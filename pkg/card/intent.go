package card

import "fmt"

// Intent is what a session was created to do.
type Intent int

const (
	IntentReadInfo Intent = iota
	IntentProvision
	IntentChangePIN
	IntentExportPrivateKeyOnce
	IntentSign
	IntentPay
)

func (i Intent) String() string {
	switch i {
	case IntentReadInfo:
		return "read-info"
	case IntentProvision:
		return "provision"
	case IntentChangePIN:
		return "change-pin"
	case IntentExportPrivateKeyOnce:
		return "export-private-key"
	case IntentSign:
		return "sign"
	case IntentPay:
		return "pay"
	default:
		return fmt.Sprintf("Intent(%d)", int(i))
	}
}

// ParseIntent is the inverse of Intent.String.
func ParseIntent(s string) (Intent, error) {
	for i := IntentReadInfo; i <= IntentPay; i++ {
		if i.String() == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown intent %q", s)
}

// Scheme selects the signature algorithm of a SignItem.
type Scheme int

const (
	SchemeECDSA Scheme = iota
	SchemeEdDSA
)

func (s Scheme) String() string {
	switch s {
	case SchemeECDSA:
		return "ecdsa"
	case SchemeEdDSA:
		return "eddsa"
	default:
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
}

// EdDSAAux is the optional material sent along an EdDSA signing request.
type EdDSAAux struct {
	PublicKey    []byte
	PrivateNonce []byte
	PublicNonce  []byte
}

// SignItem is one payload to sign.
type SignItem struct {
	Scheme  Scheme
	Payload []byte

	// Aux overrides the session-wide EdDSA material for this item.
	Aux *EdDSAAux

	// GatewaySignature replaces the PIN when the processing framing is used.
	GatewaySignature []byte
}

// PayOptions tunes the pay flow.
type PayOptions struct {
	// PINRequired false signs with the processing instruction and the gateway
	// signature, without unlocking the card.
	PINRequired bool
}

// Phase is the position of a session in its state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnected
	PhaseStateKnown
	PhaseHandshakeDone
	PhaseUnlocked
	PhaseWorking
	PhaseOpen
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnected:
		return "connected"
	case PhaseStateKnown:
		return "state-known"
	case PhaseHandshakeDone:
		return "handshake-done"
	case PhaseUnlocked:
		return "unlocked"
	case PhaseWorking:
		return "working"
	case PhaseOpen:
		return "open"
	case PhaseTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}
