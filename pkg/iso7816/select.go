package iso7816

import (
	"errors"
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// SELECT COMMAND LOGIC (ISO 7816-4):
// The SELECT command (INS 'A4') opens a file or an application. The wallet
// applet is always reached by name (P1 = 04), and answers with an FCI template
// (tag '6F') whose DF Name (tag '84') echoes the AID that was actually selected.

// SelectionMethod defines how the file is targeted (P1).
type SelectionMethod byte

const (
	SelectByFileID SelectionMethod = 0x00
	SelectByDFName SelectionMethod = 0x04 // Select by AID
)

func (s SelectionMethod) String() string {
	switch s {
	case SelectByFileID:
		return "Select by File ID"
	case SelectByDFName:
		return "Select by DF Name (AID)"
	default:
		return fmt.Sprintf("Unknown Method (0x%02X)", byte(s))
	}
}

// SelectionControl defines what data to return (Bits 3-4 of P2).
type SelectionControl byte

const (
	ReturnFCI    SelectionControl = 0b0000_00_00
	ReturnNoData SelectionControl = 0b0000_11_00
)

// ErrNoDFName is returned when an FCI carries no DF Name.
var ErrNoDFName = errors.New("FCI has no DF name")

// FCI tags.
const (
	tagFCITemplate = "6F"
	tagDFName      = "84"
)

// SelectByAID creates a SELECT command to select an application by its name (AID).
func SelectByAID(cla byte, aid []byte) *CommandAPDU {
	// T=0 Protocol Compatibility (CASE 3): Lc and Le cannot be sent together.
	// The card will respond with '61 XX' and the Client fetches the FCI.
	return NewCommandAPDU(cla, INS_SELECT, byte(SelectByDFName), byte(ReturnFCI), aid, 0)
}

// DFName extracts the DF Name (tag 84) from an FCI template (tag 6F).
func DFName(fci []byte) ([]byte, error) {
	packets, err := bertlv.Decode(fci)
	if err != nil {
		return nil, fmt.Errorf("decoding FCI: %w", err)
	}

	for _, p := range packets {
		if !strings.EqualFold(p.Tag, tagFCITemplate) {
			continue
		}
		for _, child := range p.TLVs {
			if strings.EqualFold(child.Tag, tagDFName) {
				return child.Value, nil
			}
		}
	}
	return nil, ErrNoDFName
}

// EncodeFCI builds a minimal FCI template carrying only the DF Name.
func EncodeFCI(dfName []byte) ([]byte, error) {
	return bertlv.Encode([]bertlv.TLV{
		{Tag: tagFCITemplate, TLVs: []bertlv.TLV{
			{Tag: tagDFName, Value: dfName},
		}},
	})
}
