/*
Package iso7816 implements the APDU layer used to talk to the wallet card.

It covers the pieces of ISO/IEC 7816-3 and 7816-4 the card application relies on:
short Command and Response APDUs, Status Word analysis, the card's proprietary
instruction set, and the SELECT by AID command used to pick the on-card applet.

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

Only one command may be outstanding at a time. The Client does not queue or
pipeline; callers that model several logical queries must serialize their
calls to Send.

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK).
  - 0x61XX: Response data is still available (XX bytes). Handled by the Client.
  - 0x6CXX: Wrong length expectation (XX is the correct length). Handled by the Client.
  - Other: a domain failure, reported with its literal code (see StatusWord.Hex).

# Usage Example

	client := iso7816.NewClient(tag)

	trace, err := client.Send(iso7816.NewCommandAPDU(0x00, iso7816.INS_GET_STATE, 0, 0, nil, 0))
	if err != nil {
	    return err // transport failure
	}

	last := trace.Last()
	if !last.IsSuccess() {
	    return fmt.Errorf("GET_STATE failed with %s", last.Response.Status.Hex())
	}
*/
package iso7816
