package iso7816

import (
	"fmt"
)

// CLIENT & PROTOCOL LOGIC:
// The Client acts as a high-level driver over the physical connection.
// It implements the automatic handling of ISO 7816-3 transport behaviors that are
// often exposed to the application layer in T=0 protocols:
//
// 1. "61 XX" (Response Available):
//    The card indicates that XX bytes are waiting. The client automatically generates
//    and sends a GET RESPONSE command to retrieve them.
//
// 2. "6C XX" (Wrong Length):
//    The card indicates that the expected length (Le) was incorrect and suggests XX.
//    The client automatically re-sends the original command with Le = XX.
//
// The Send() method returns a Trace, which is a log of all atomic transactions
// occurred to fulfill the logical request.

// maxFollowUps bounds the 61XX/6CXX chain so a misbehaving card cannot loop forever.
const maxFollowUps = 8

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// TransmitError reports a failure of the physical link, as opposed to a
// status word returned by the card.
type TransmitError struct {
	Ins InsCode
	Err error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("transmission error on %s: %v", e.Ins, e.Err)
}

func (e *TransmitError) Unwrap() error { return e.Err }

// Client manages the high-level communication with the card.
type Client struct {
	Card Transmitter
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits a command and handles protocol logic (61xx, 6Cxx).
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	return c.send(cmd, 0)
}

func (c *Client) send(cmd *CommandAPDU, depth int) (Trace, error) {
	if depth > maxFollowUps {
		return nil, fmt.Errorf("too many chained responses for %s", cmd.Instruction)
	}

	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		return nil, &TransmitError{Ins: cmd.Instruction, Err: err}
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, err
	}

	trace := Trace{{Command: cmd, Response: resp}}

	sw1 := resp.Status.SW1()
	sw2 := resp.Status.SW2()

	var next *CommandAPDU
	switch sw1 {
	case 0x61:
		// Case 61XX: More data available -> Issue GET RESPONSE on the same class.
		ne := int(sw2)
		if ne == 0 {
			ne = MaxShortLe
		}
		next = NewCommandAPDU(cmd.Class, INS_GET_RESPONSE, 0x00, 0x00, nil, ne)
	case 0x6C:
		// Case 6CXX: Wrong Length -> Re-issue original command with correct Le.
		// Clone command to update Le without mutating the original pointer.
		clone := *cmd
		clone.Ne = int(sw2)
		if clone.Ne == 0 {
			clone.Ne = MaxShortLe
		}
		next = &clone
	default:
		return trace, nil
	}

	subTrace, err := c.send(next, depth+1)
	if err != nil {
		return trace, err
	}
	return append(trace, subTrace...), nil
}
