package iso7816

import "fmt"

// Instruction Byte (INS) Logic.
//
// The wallet applet uses a proprietary instruction set in the 0x01-0x17 range,
// plus the two interindustry commands needed to reach it (SELECT, GET RESPONSE).
//
// Reserved Ranges:
// INS values where the upper nibble is '6' or '9' (0x6X or 0x9X) are invalid.
// These values are reserved for Status Words (SW1) or transport layer control
// procedures (ISO/IEC 7816-3). CommandAPDU.Bytes rejects them.
//
// The EdDSA signing and ECDH handshake codes moved between firmware revisions;
// the active code is picked from the version policy, never hard-coded by callers.

// InsCode is a typed representation of the instruction byte.
type InsCode byte

// Wallet applet instruction codes.
const (
	INS_GET_STATE                  InsCode = 0x01
	INS_INIT                       InsCode = 0x02
	INS_GET_CARD_GUID              InsCode = 0x03
	INS_GET_CARD_ISSUER            InsCode = 0x04
	INS_GET_CARD_SERIES            InsCode = 0x05
	INS_GET_PROCESSING_PUBLIC_KEY  InsCode = 0x06
	INS_SET_PROCESSING_PUBLIC_KEY  InsCode = 0x07
	INS_ACTIVATE                   InsCode = 0x08
	INS_ACTIVATE_WITH_KEYS         InsCode = 0x09
	INS_LOCK                       InsCode = 0x0A
	INS_UNLOCK                     InsCode = 0x0B
	INS_CHANGE_PIN                 InsCode = 0x0C
	INS_GET_PIN_RETRIES            InsCode = 0x0D
	INS_GET_PUBLIC_KEY             InsCode = 0x0E
	INS_EXPORT_PRIVATE_KEY         InsCode = 0x0F
	INS_DISABLE_PRIVATE_KEY_EXPORT InsCode = 0x10
	INS_SIGN_DATA                  InsCode = 0x11
	INS_SIGN_PROCESSING_DATA       InsCode = 0x12
	INS_SIGN_ED_DATA               InsCode = 0x13
	INS_GET_ED_PUBLIC_KEY          InsCode = 0x14
	INS_ECDH                       InsCode = 0x15
	INS_SIGN_ED_DATA_V2            InsCode = 0x16
	INS_ECDH_V2                    InsCode = 0x17
)

// Interindustry instruction codes (ISO/IEC 7816-4).
const (
	INS_SELECT       InsCode = 0xA4
	INS_GET_RESPONSE InsCode = 0xC0
)

var insNames = map[InsCode]string{
	INS_GET_STATE:                  "INS_GET_STATE",
	INS_INIT:                       "INS_INIT",
	INS_GET_CARD_GUID:              "INS_GET_CARD_GUID",
	INS_GET_CARD_ISSUER:            "INS_GET_CARD_ISSUER",
	INS_GET_CARD_SERIES:            "INS_GET_CARD_SERIES",
	INS_GET_PROCESSING_PUBLIC_KEY:  "INS_GET_PROCESSING_PUBLIC_KEY",
	INS_SET_PROCESSING_PUBLIC_KEY:  "INS_SET_PROCESSING_PUBLIC_KEY",
	INS_ACTIVATE:                   "INS_ACTIVATE",
	INS_ACTIVATE_WITH_KEYS:         "INS_ACTIVATE_WITH_KEYS",
	INS_LOCK:                       "INS_LOCK",
	INS_UNLOCK:                     "INS_UNLOCK",
	INS_CHANGE_PIN:                 "INS_CHANGE_PIN",
	INS_GET_PIN_RETRIES:            "INS_GET_PIN_RETRIES",
	INS_GET_PUBLIC_KEY:             "INS_GET_PUBLIC_KEY",
	INS_EXPORT_PRIVATE_KEY:         "INS_EXPORT_PRIVATE_KEY",
	INS_DISABLE_PRIVATE_KEY_EXPORT: "INS_DISABLE_PRIVATE_KEY_EXPORT",
	INS_SIGN_DATA:                  "INS_SIGN_DATA",
	INS_SIGN_PROCESSING_DATA:       "INS_SIGN_PROCESSING_DATA",
	INS_SIGN_ED_DATA:               "INS_SIGN_ED_DATA",
	INS_GET_ED_PUBLIC_KEY:          "INS_GET_ED_PUBLIC_KEY",
	INS_ECDH:                       "INS_ECDH",
	INS_SIGN_ED_DATA_V2:            "INS_SIGN_ED_DATA_V2",
	INS_ECDH_V2:                    "INS_ECDH_V2",
	INS_SELECT:                     "INS_SELECT",
	INS_GET_RESPONSE:               "INS_GET_RESPONSE",
}

func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("InsCode(0x%02X)", byte(i))
}
