package card

import "fmt"

// Issuer identifies the organisation that personalised the card.
type Issuer byte

const (
	IssuerTrustody Issuer = 0x01
	IssuerCelo     Issuer = 0x02
	IssuerRamp     Issuer = 0x03
)

func (i Issuer) String() string {
	switch i {
	case IssuerTrustody:
		return "trustody"
	case IssuerCelo:
		return "celo"
	case IssuerRamp:
		return "ramp"
	default:
		return fmt.Sprintf("Issuer(0x%02X)", byte(i))
	}
}

func (i Issuer) MarshalText() ([]byte, error) { return []byte(i.String()), nil }
