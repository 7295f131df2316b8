package iso7816

import (
	"bytes"
	"fmt"
)

// COMMAND APDU (C-APDU):
// A command consists of a mandatory Header (4 bytes) and an optional Body.
//
//   - Header: CLA, INS, P1, P2.
//   - Body:   Lc (data length), Data, Le (expected response length).
//
// The wallet applet only understands Short Length encoding, so Lc is limited
// to 255 bytes and Le to 256 (encoded as 0x00).
//
// RESPONSE APDU (R-APDU):
// An optional data field followed by the mandatory 2-byte Status Word.

// APDU limits for Short Length encoding (ISO 7816-3).
const (
	// MaxShortLc is the maximum data length (Nc) encodable on one byte.
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length (Ne). 0x00 encodes 256.
	MaxShortLe = 256
)

// CommandAPDU represents a command sent to the card.
type CommandAPDU struct {
	Class       byte
	Instruction InsCode
	P1, P2      byte
	Data        []byte
	Ne          int // Expected response length (0 means none)
}

// NewCommandAPDU creates a basic command.
func NewCommandAPDU(cla byte, ins InsCode, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Ne:          ne,
	}
}

// Bytes encodes the CommandAPDU into its Short Length byte representation.
func (c *CommandAPDU) Bytes() ([]byte, error) {
	if c.Class == 0xFF {
		return nil, fmt.Errorf("invalid CLA value: 0xFF is reserved")
	}
	if hi := byte(c.Instruction) & 0xF0; hi == 0x60 || hi == 0x90 {
		return nil, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", byte(c.Instruction))
	}

	nc := len(c.Data)
	if nc > MaxShortLc {
		return nil, fmt.Errorf("data field too long: %d bytes (max %d)", nc, MaxShortLc)
	}
	if c.Ne < 0 || c.Ne > MaxShortLe {
		return nil, fmt.Errorf("expected length out of range: %d (max %d)", c.Ne, MaxShortLe)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 4+1+nc+1))
	buf.Write([]byte{c.Class, byte(c.Instruction), c.P1, c.P2})

	if nc > 0 {
		buf.WriteByte(byte(nc))
		buf.Write(c.Data)
	}

	if c.Ne > 0 {
		// byte(256) wraps to 0x00, which is exactly the Short Le encoding of 256.
		buf.WriteByte(byte(c.Ne))
	}

	return buf.Bytes(), nil
}

// String returns a readable representation of the command meta-data.
// Data is deliberately left out: it may carry a PIN block.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Instruction, c.P1, c.P2, len(c.Data), c.Ne)
}

// ParseCommandAPDU decodes a Short Length command. It is the card-side
// counterpart of Bytes.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("command too short: length %d", len(raw))
	}
	cmd := NewCommandAPDU(raw[0], InsCode(raw[1]), raw[2], raw[3], nil, 0)

	body := raw[4:]
	switch {
	case len(body) == 0:
		return cmd, nil
	case len(body) == 1:
		cmd.Ne = shortLe(body[0])
		return cmd, nil
	}

	nc := int(body[0])
	if nc == 0 {
		return nil, fmt.Errorf("extended length commands are not supported")
	}
	switch len(body) {
	case 1 + nc:
	case 2 + nc:
		cmd.Ne = shortLe(body[1+nc])
	default:
		return nil, fmt.Errorf("body of %d bytes does not match Lc=%d", len(body), nc)
	}
	cmd.Data = append([]byte(nil), body[1:1+nc]...)
	return cmd, nil
}

func shortLe(b byte) int {
	if b == 0 {
		return MaxShortLe
	}
	return int(b)
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU splits raw bytes received from the card into data and status.
// The input must contain at least 2 bytes (SW1, SW2).
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}

	indexSW1 := len(raw) - 2
	data := make([]byte, indexSW1)
	copy(data, raw[:indexSW1])

	return &ResponseAPDU{
		Data:   data,
		Status: NewStatusWord(raw[indexSW1], raw[indexSW1+1]),
	}, nil
}

// Bytes encodes the response back into its wire form (Data || SW1 || SW2).
func (r *ResponseAPDU) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, r.Status.SW1(), r.Status.SW2())
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
