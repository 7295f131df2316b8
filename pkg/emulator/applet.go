package emulator

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/gregLibert/hwcard/pkg/card"
	"github.com/gregLibert/hwcard/pkg/iso7816"
	"github.com/gregLibert/hwcard/pkg/tlv"
)

var (
	swOK          = iso7816.SW_NO_ERROR
	swNotAllowed  = iso7816.SW_ERR_COND_OF_USE_NOT_SAT
	swBadData     = iso7816.SW_ERR_INCORRECT_PARAMS_DATA
	swBlocked     = iso7816.SW_ERR_AUTH_METHOD_BLOCKED
	swUnsupported = iso7816.SW_ERR_INS_INVALID
)

// dispatch runs one plaintext applet command. mu is held.
func (c *Card) dispatch(ins iso7816.InsCode, data []byte) ([]byte, iso7816.StatusWord) {
	if c.policy.Terminal {
		if ins == iso7816.INS_GET_STATE {
			return c.invoice, swOK
		}
		return nil, swUnsupported
	}

	switch ins {
	case iso7816.INS_GET_STATE:
		return record(card.TagState, []byte{byte(c.state)})
	case iso7816.INS_GET_CARD_GUID:
		return record(card.TagGUID, c.guid[:])
	case iso7816.INS_GET_CARD_ISSUER:
		return record(card.TagIssuer, []byte{0x00, byte(c.issuer)})
	case iso7816.INS_GET_PIN_RETRIES:
		return record(card.TagPINRetries, []byte{byte(c.retries)})
	case iso7816.INS_GET_PUBLIC_KEY:
		return record(card.TagCardPublicKey, c.key.PubKey().SerializeUncompressed())
	case iso7816.INS_GET_ED_PUBLIC_KEY:
		if !c.policy.EdDSAPublicKeyExport {
			return nil, swUnsupported
		}
		return record(card.TagEdCardPublicKey, c.EdPublicKey())
	case iso7816.INS_ACTIVATE:
		return c.activate(data)
	case iso7816.INS_UNLOCK:
		return c.unlock(data)
	case iso7816.INS_CHANGE_PIN:
		return c.changePIN(data)
	case iso7816.INS_EXPORT_PRIVATE_KEY:
		return c.export(data)
	case iso7816.INS_DISABLE_PRIVATE_KEY_EXPORT:
		if !c.unlocked || !c.checkPIN(data) {
			return nil, swNotAllowed
		}
		c.exportDisabled = true
		return nil, swOK
	case iso7816.INS_SIGN_PROCESSING_DATA:
		if !c.policy.Processing {
			return nil, swUnsupported
		}
		return c.signProcessing(data)
	}

	switch {
	case ins == c.policy.SignIns && ins != 0:
		return c.signECDSA(data)
	case ins == c.policy.EdDSASignIns && ins != 0:
		return c.signEdDSA(data)
	}
	return nil, swUnsupported
}

func record(tag byte, value []byte) ([]byte, iso7816.StatusWord) {
	out, err := tlv.Encode(tag, value)
	if err != nil {
		return nil, iso7816.SW_ERR_UNKNOWN
	}
	return out, swOK
}

// pinBlock is the block the host must present for the current PIN.
func (c *Card) pinBlock() []byte {
	block, err := card.BuildPINBlock(c.pin, c.policy)
	if err != nil {
		return nil
	}
	return block
}

// checkPIN reports whether data starts with the current PIN block.
func (c *Card) checkPIN(data []byte) bool {
	want := c.pinBlock()
	return want != nil && bytes.HasPrefix(data, want)
}

func (c *Card) activate(data []byte) ([]byte, iso7816.StatusWord) {
	if c.state != card.StateInitialized {
		return nil, swNotAllowed
	}
	rec, err := tlv.Decode(data)
	if err != nil || rec.Tag != card.TagPIN || len(rec.Value) != c.policy.PINLength {
		return nil, swBadData
	}
	var pin []byte
	for _, d := range rec.Value {
		if d == 0xFF {
			break
		}
		pin = append(pin, '0'+d)
	}
	c.pin = string(pin)
	c.state = card.StateActivatedLocked
	c.retries = c.policy.MaxPINAttempts
	return nil, swOK
}

func (c *Card) unlock(data []byte) ([]byte, iso7816.StatusWord) {
	if c.state != card.StateActivatedLocked {
		return nil, swNotAllowed
	}
	if c.retries == 0 {
		return nil, swBlocked
	}
	if !bytes.Equal(data, c.pinBlock()) {
		c.retries--
		return nil, iso7816.NewStatusWord(0x63, 0xC0|byte(c.retries&0x0F))
	}
	c.retries = c.policy.MaxPINAttempts
	c.unlocked = true
	return nil, swOK
}

func (c *Card) changePIN(data []byte) ([]byte, iso7816.StatusWord) {
	if !c.unlocked || !c.checkPIN(data) {
		return nil, swNotAllowed
	}
	c.state = card.StateInitialized
	_, sw := c.activate(data[len(c.pinBlock()):])
	if !sw.IsSuccess() {
		c.state = card.StateActivatedLocked
		return nil, sw
	}
	c.unlocked = true
	return nil, swOK
}

func (c *Card) export(data []byte) ([]byte, iso7816.StatusWord) {
	if !c.unlocked || c.exportDisabled || !c.checkPIN(data) {
		return nil, swNotAllowed
	}
	return record(card.TagCardPrivateKey, c.key.Serialize())
}

// payload extracts TLV(DATA_FOR_SIGN) from a signing frame.
func payload(records []tlv.Record) ([]byte, bool) {
	rec, ok := tlv.Find(records, card.TagDataForSign)
	return rec.Value, ok
}

func (c *Card) signECDSA(data []byte) ([]byte, iso7816.StatusWord) {
	if !c.unlocked || !c.checkPIN(data) {
		return nil, swNotAllowed
	}
	records, err := tlv.DecodeAll(data)
	if err != nil {
		return nil, swBadData
	}
	msg, ok := payload(records)
	if !ok {
		return nil, swBadData
	}
	hash := sha256.Sum256(msg)
	return record(card.TagDataSignature, ecdsa.Sign(c.key, hash[:]).Serialize())
}

func (c *Card) signEdDSA(data []byte) ([]byte, iso7816.StatusWord) {
	if !c.unlocked || !c.checkPIN(data) {
		return nil, swNotAllowed
	}
	records, err := tlv.DecodeAll(data)
	if err != nil {
		return nil, swBadData
	}
	msg, ok := payload(records)
	if !ok {
		return nil, swBadData
	}
	return record(card.TagEdDataSignature, ed25519.Sign(c.edKey, msg))
}

func (c *Card) signProcessing(data []byte) ([]byte, iso7816.StatusWord) {
	if c.state != card.StateActivatedLocked {
		return nil, swNotAllowed
	}
	records, err := tlv.DecodeAll(data)
	if err != nil {
		return nil, swBadData
	}
	msg, ok := payload(records)
	gateway, hasGateway := tlv.Find(records, card.TagDataSignature)
	if !ok || !hasGateway || len(gateway.Value) == 0 {
		return nil, swBadData
	}

	hash := sha256.Sum256(msg)
	if c.processingKey != nil {
		sig, err := ecdsa.ParseDERSignature(gateway.Value)
		if err != nil || !sig.Verify(hash[:], c.processingKey) {
			return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
		}
	}
	return record(card.TagDataSignature, ecdsa.Sign(c.key, hash[:]).Serialize())
}
