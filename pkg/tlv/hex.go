package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hex constructs a byte slice from a series of hex strings.
// It panics on malformed input and is meant for fixtures and constant frames.
func Hex(parts ...string) []byte {
	fullHex := strings.Join(parts, "")
	// Clean up spaces to allow format like "06 06 01 02 03"
	cleanHex := strings.ReplaceAll(fullHex, " ", "")

	data, err := hex.DecodeString(cleanHex)
	if err != nil {
		panic(fmt.Sprintf("invalid input '%s': %v", cleanHex, err))
	}
	return data
}

// String renders a record as "TT LL VV..." in upper-case hex, for logs and test failures.
func (r Record) String() string {
	return fmt.Sprintf("%02X %02X %s", r.Tag, r.Length, strings.ToUpper(hex.EncodeToString(r.Value)))
}
