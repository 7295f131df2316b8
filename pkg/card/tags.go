package card

// TLV tags of the wallet applet.
const (
	TagState               byte = 0x01
	TagGUID                byte = 0x02
	TagIssuer              byte = 0x03
	TagSeries              byte = 0x04
	TagProcessingPublicKey byte = 0x05
	TagPIN                 byte = 0x06
	TagPINRetries          byte = 0x07
	TagCardPublicKey       byte = 0x08
	TagCardPrivateKey      byte = 0x09
	TagDataForSign         byte = 0x0A
	TagDataSignature       byte = 0x0B

	TagEdCardPublicKey        byte = 0x0C
	TagEdCardPublicKeyEncoded byte = 0x0D
	TagEdPrivateNonce         byte = 0x0E
	TagEdPublicNonce          byte = 0x0F
	TagEdDataSignature        byte = 0x10
)

// Field sizes fixed by the applet.
const (
	GUIDLen        = 16
	PublicKeyLen   = 65
	PrivateKeyLen  = 32
	EdPublicKeyLen = 32
	EdSignatureLen = 64
	pinFiller      = 0xFF
)
