package card

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/google/uuid"

	"github.com/gregLibert/hwcard/pkg/tlv"
)

// ValidatePIN checks that pin is made of decimal digits only.
func ValidatePIN(pin string) error {
	if pin == "" {
		return ErrNoPIN
	}
	for i, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: non-digit at position %d", ErrInvalidPIN, i)
		}
	}
	return nil
}

// BuildPINBlock encodes pin as TLV(PIN) with the length the policy mandates.
// Each digit becomes its numeric value; shorter PINs are padded with 0xFF.
// Sessions never send a padded block: they require the exact length first.
func BuildPINBlock(pin string, p Policy) ([]byte, error) {
	if p.PINLength == 0 {
		return nil, ErrUnknownVersion
	}
	if err := ValidatePIN(pin); err != nil {
		return nil, err
	}
	if len(pin) > p.PINLength {
		return nil, fmt.Errorf("%w: %d digits, %s accepts %d", ErrInvalidPIN, len(pin), p.Name, p.PINLength)
	}

	value := make([]byte, p.PINLength)
	for i := range value {
		if i < len(pin) {
			value[i] = pin[i] - '0'
		} else {
			value[i] = pinFiller
		}
	}
	return tlv.Encode(TagPIN, value)
}

// BuildGUID renders 16 bytes as a lowercase 8-4-4-4-12 identifier.
func BuildGUID(b []byte) (string, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return "", fmt.Errorf("guid of %d bytes: %w", len(b), err)
	}
	return id.String(), nil
}

// Command frames.

func changePINFrame(oldPIN, newPIN string, p Policy) ([]byte, error) {
	oldBlock, err := BuildPINBlock(oldPIN, p)
	if err != nil {
		return nil, err
	}
	newBlock, err := BuildPINBlock(newPIN, p)
	if err != nil {
		return nil, fmt.Errorf("new PIN: %w", err)
	}
	return tlv.Concat(oldBlock, newBlock), nil
}

func ecdsaSignFrame(pinBlock, payload []byte) ([]byte, error) {
	data, err := tlv.Encode(TagDataForSign, payload)
	if err != nil {
		return nil, err
	}
	return tlv.Concat(pinBlock, data), nil
}

func eddsaSignFrame(pinBlock, payload []byte, aux *EdDSAAux) ([]byte, error) {
	frames := [][]byte{pinBlock}
	if aux != nil {
		for _, f := range []struct {
			tag   byte
			value []byte
		}{
			{TagEdCardPublicKeyEncoded, aux.PublicKey},
			{TagEdPrivateNonce, aux.PrivateNonce},
			{TagEdPublicNonce, aux.PublicNonce},
		} {
			if len(f.value) == 0 {
				continue
			}
			enc, err := tlv.Encode(f.tag, f.value)
			if err != nil {
				return nil, err
			}
			frames = append(frames, enc)
		}
	}
	data, err := tlv.Encode(TagDataForSign, payload)
	if err != nil {
		return nil, err
	}
	return tlv.Concat(append(frames, data)...), nil
}

func processingSignFrame(payload, gatewaySig []byte) ([]byte, error) {
	data, err := tlv.Encode(TagDataForSign, payload)
	if err != nil {
		return nil, err
	}
	sig, err := tlv.Encode(TagDataSignature, gatewaySig)
	if err != nil {
		return nil, err
	}
	return tlv.Concat(data, sig), nil
}

// Response parsers.

func expectRecord(op string, data []byte, tag byte) (tlv.Record, error) {
	rec, err := tlv.Decode(data)
	if err != nil {
		return tlv.Record{}, &FormatError{Op: op, Err: err}
	}
	if rec.Tag != tag {
		return tlv.Record{}, &FormatError{Op: op, Err: fmt.Errorf("tag 0x%02X, want 0x%02X", rec.Tag, tag)}
	}
	return rec, nil
}

func expectLen(op string, rec tlv.Record, n int) error {
	if len(rec.Value) != n {
		return &FormatError{Op: op, Err: fmt.Errorf("%d bytes, want %d", len(rec.Value), n)}
	}
	return nil
}

func parseState(data []byte) (CardState, error) {
	rec, err := expectRecord("state", data, TagState)
	if err != nil {
		return StateUndefined, err
	}
	if len(rec.Value) == 0 {
		return StateUndefined, &FormatError{Op: "state", Err: fmt.Errorf("empty value")}
	}
	return ParseState(rec.Value[0]), nil
}

func parseGUID(data []byte) (string, error) {
	rec, err := expectRecord("guid", data, TagGUID)
	if err != nil {
		return "", err
	}
	guid, err := BuildGUID(rec.Value)
	if err != nil {
		return "", &FormatError{Op: "guid", Err: err}
	}
	return guid, nil
}

// parseIssuer reads the issuer code from the last byte of the value.
func parseIssuer(data []byte) (Issuer, error) {
	rec, err := expectRecord("issuer", data, TagIssuer)
	if err != nil {
		return 0, err
	}
	if len(rec.Value) == 0 {
		return 0, &FormatError{Op: "issuer", Err: fmt.Errorf("empty value")}
	}
	return Issuer(rec.Value[len(rec.Value)-1]), nil
}

func parsePublicKey(data []byte) (string, error) {
	rec, err := expectRecord("public key", data, TagCardPublicKey)
	if err != nil {
		return "", err
	}
	if err := expectLen("public key", rec, PublicKeyLen); err != nil {
		return "", err
	}
	if _, err := secp256k1.ParsePubKey(rec.Value); err != nil {
		return "", &FormatError{Op: "public key", Err: err}
	}
	return hex.EncodeToString(rec.Value), nil
}

func parsePrivateKey(data []byte) (string, error) {
	rec, err := expectRecord("private key", data, TagCardPrivateKey)
	if err != nil {
		return "", err
	}
	if err := expectLen("private key", rec, PrivateKeyLen); err != nil {
		return "", err
	}
	return hex.EncodeToString(rec.Value), nil
}

func parsePINRetries(data []byte) (int, error) {
	rec, err := expectRecord("pin retries", data, TagPINRetries)
	if err != nil {
		return 0, err
	}
	if err := expectLen("pin retries", rec, 1); err != nil {
		return 0, err
	}
	return int(rec.Value[0]), nil
}

func parseEdPublicKey(data []byte) (string, error) {
	rec, err := expectRecord("eddsa public key", data, TagEdCardPublicKey)
	if err != nil {
		return "", err
	}
	if err := expectLen("eddsa public key", rec, EdPublicKeyLen); err != nil {
		return "", err
	}
	return hex.EncodeToString(rec.Value), nil
}

// parseSignature accepts TLV(DATA_SIGNATURE) or TLV(ED_DATA_SIGNATURE).
// ECDSA signatures must be valid DER.
func parseSignature(data []byte, scheme Scheme) (string, error) {
	rec, err := tlv.Decode(data)
	if err != nil {
		return "", &FormatError{Op: "signature", Err: err}
	}
	switch rec.Tag {
	case TagDataSignature, TagEdDataSignature:
	default:
		return "", &FormatError{Op: "signature", Err: fmt.Errorf("unexpected tag 0x%02X", rec.Tag)}
	}

	switch scheme {
	case SchemeECDSA:
		if _, err := ecdsa.ParseDERSignature(rec.Value); err != nil {
			return "", &FormatError{Op: "signature", Err: err}
		}
	case SchemeEdDSA:
		if err := expectLen("signature", rec, EdSignatureLen); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(rec.Value), nil
}

// ParseInvoice decodes the JSON a terminal returns. Non-string or missing
// fields are left empty, except amount which defaults to "0".
func ParseInvoice(data []byte) (Invoice, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Invoice{}, &FormatError{Op: "invoice", Err: err}
	}

	str := func(key string) string {
		s, _ := raw[key].(string)
		return s
	}
	inv := Invoice{
		Amount:        str("amount"),
		Address:       str("address"),
		AssetID:       str("assetID"),
		TransactionID: str("transactionID"),
	}
	if inv.Amount == "" {
		inv.Amount = "0"
	}
	return inv, nil
}
