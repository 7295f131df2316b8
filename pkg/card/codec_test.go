package card

import (
	"errors"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/hwcard/pkg/tlv"
)

func TestBuildPINBlock(t *testing.T) {
	v1 := LookupVersion("706F727465425443")
	v6 := LookupVersion("A0000008820004")

	tests := []struct {
		name   string
		pin    string
		policy Policy
		want   []byte
	}{
		{"padded to five", "1234", v1, tlv.Hex("06 05", "01020304FF")},
		{"full five", "90817", v1, tlv.Hex("06 05", "0900080107")},
		{"padded to six", "1234", v6, tlv.Hex("06 06", "01020304FFFF")},
		{"full six", "000000", v6, tlv.Hex("06 06", "000000000000")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildPINBlock(tt.pin, tt.policy)
			if err != nil {
				t.Fatalf("BuildPINBlock: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			if len(got) != 2+tt.policy.PINLength {
				t.Errorf("len = %d, want %d", len(got), 2+tt.policy.PINLength)
			}
		})
	}
}

func TestBuildPINBlock_Errors(t *testing.T) {
	v1 := LookupVersion("706F727465425443")

	tests := []struct {
		name   string
		pin    string
		policy Policy
		want   error
	}{
		{"empty", "", v1, ErrNoPIN},
		{"letters", "12a4", v1, ErrInvalidPIN},
		{"too long", "123456", v1, ErrInvalidPIN},
		{"undefined version", "1234", LookupVersion("0102"), ErrUnknownVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildPINBlock(tt.pin, tt.policy)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuildGUID(t *testing.T) {
	got, err := BuildGUID(tlv.Hex("00112233445566778899AABBCCDDEEFF"))
	if err != nil {
		t.Fatalf("BuildGUID: %v", err)
	}
	if want := "00112233-4455-6677-8899-aabbccddeeff"; got != want {
		t.Errorf("BuildGUID = %q, want %q", got, want)
	}

	if _, err := BuildGUID(tlv.Hex("0011")); err == nil {
		t.Error("BuildGUID accepted 2 bytes")
	}
}

func TestSignFrames(t *testing.T) {
	pin := tlv.Hex("06 06", "01020304FFFF")

	got, err := ecdsaSignFrame(pin, tlv.Hex("CAFE"))
	if err != nil {
		t.Fatalf("ecdsaSignFrame: %v", err)
	}
	if diff := cmp.Diff(tlv.Hex("06 06 01020304FFFF", "0A 02 CAFE"), got); diff != "" {
		t.Errorf("ecdsa mismatch (-want +got):\n%s", diff)
	}

	aux := &EdDSAAux{PublicKey: tlv.Hex("AA"), PublicNonce: tlv.Hex("CC")}
	got, err = eddsaSignFrame(pin, tlv.Hex("CAFE"), aux)
	if err != nil {
		t.Fatalf("eddsaSignFrame: %v", err)
	}
	if diff := cmp.Diff(tlv.Hex("06 06 01020304FFFF", "0D 01 AA", "0F 01 CC", "0A 02 CAFE"), got); diff != "" {
		t.Errorf("eddsa mismatch (-want +got):\n%s", diff)
	}

	got, err = processingSignFrame(tlv.Hex("CAFE"), tlv.Hex("3006"))
	if err != nil {
		t.Fatalf("processingSignFrame: %v", err)
	}
	if diff := cmp.Diff(tlv.Hex("0A 02 CAFE", "0B 02 3006"), got); diff != "" {
		t.Errorf("processing mismatch (-want +got):\n%s", diff)
	}

	if _, err := ecdsaSignFrame(pin, make([]byte, 256)); !errors.Is(err, tlv.ErrValueTooLong) {
		t.Errorf("oversized payload err = %v, want ErrValueTooLong", err)
	}
}

func TestChangePINFrame(t *testing.T) {
	v1 := LookupVersion("706F727465425443")
	got, err := changePINFrame("1234", "54321", v1)
	if err != nil {
		t.Fatalf("changePINFrame: %v", err)
	}
	if diff := cmp.Diff(tlv.Hex("06 05 01020304FF", "06 05 0504030201"), got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParsers(t *testing.T) {
	state, err := parseState(tlv.Hex("01 01 08"))
	if err != nil || state != StateActivatedLocked {
		t.Errorf("parseState = %v, %v", state, err)
	}
	state, err = parseState(tlv.Hex("01 01 33"))
	if err != nil || state != StateUndefined {
		t.Errorf("parseState(unknown) = %v, %v", state, err)
	}

	issuer, err := parseIssuer(tlv.Hex("03 02 0002"))
	if err != nil || issuer != IssuerCelo {
		t.Errorf("parseIssuer = %v, %v", issuer, err)
	}

	retries, err := parsePINRetries(tlv.Hex("07 01 0A"))
	if err != nil || retries != 10 {
		t.Errorf("parsePINRetries = %d, %v", retries, err)
	}
}

func TestParsers_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		parse func([]byte) error
		data  []byte
	}{
		{"state wrong tag", func(b []byte) error { _, err := parseState(b); return err }, tlv.Hex("02 01 08")},
		{"state truncated", func(b []byte) error { _, err := parseState(b); return err }, tlv.Hex("01 04 08")},
		{"guid short", func(b []byte) error { _, err := parseGUID(b); return err }, tlv.Hex("02 02 0102")},
		{"issuer empty", func(b []byte) error { _, err := parseIssuer(b); return err }, tlv.Hex("03 00")},
		{"public key short", func(b []byte) error { _, err := parsePublicKey(b); return err }, tlv.Hex("08 01 04")},
		{"private key short", func(b []byte) error { _, err := parsePrivateKey(b); return err }, tlv.Hex("09 01 01")},
		{"retries two bytes", func(b []byte) error { _, err := parsePINRetries(b); return err }, tlv.Hex("07 02 0101")},
		{"ed key short", func(b []byte) error { _, err := parseEdPublicKey(b); return err }, tlv.Hex("0C 01 01")},
		{"signature not DER", func(b []byte) error { _, err := parseSignature(b, SchemeECDSA); return err }, tlv.Hex("0B 02 0102")},
		{"ed signature short", func(b []byte) error { _, err := parseSignature(b, SchemeEdDSA); return err }, tlv.Hex("10 02 0102")},
		{"signature wrong tag", func(b []byte) error { _, err := parseSignature(b, SchemeEdDSA); return err }, tlv.Hex("0A 02 0102")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.parse(tt.data)
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Errorf("err = %v, want *FormatError", err)
			}
		})
	}
}

func TestParsePublicKeyAndSignature(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	pub := key.PubKey().SerializeUncompressed()

	got, err := parsePublicKey(tlv.MustEncode(TagCardPublicKey, pub))
	if err != nil {
		t.Fatalf("parsePublicKey: %v", err)
	}
	if len(got) != 2*PublicKeyLen {
		t.Errorf("hex length = %d, want %d", len(got), 2*PublicKeyLen)
	}

	der := ecdsa.Sign(key, make([]byte, 32)).Serialize()
	sig, err := parseSignature(tlv.MustEncode(TagDataSignature, der), SchemeECDSA)
	if err != nil {
		t.Fatalf("parseSignature: %v", err)
	}
	if len(sig) != 2*len(der) {
		t.Errorf("signature hex length = %d, want %d", len(sig), 2*len(der))
	}
}

func TestParseInvoice(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Invoice
	}{
		{
			name: "complete",
			json: `{"amount":"12.5","address":"0xabc","assetID":"usdc","transactionID":"tx1"}`,
			want: Invoice{Amount: "12.5", Address: "0xabc", AssetID: "usdc", TransactionID: "tx1"},
		},
		{
			name: "missing amount",
			json: `{"address":"0xabc"}`,
			want: Invoice{Amount: "0", Address: "0xabc"},
		},
		{
			name: "non-string fields",
			json: `{"amount":12,"address":true,"assetID":null}`,
			want: Invoice{Amount: "0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInvoice([]byte(tt.json))
			if err != nil {
				t.Fatalf("ParseInvoice: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	var fe *FormatError
	if _, err := ParseInvoice([]byte("not json")); !errors.As(err, &fe) {
		t.Errorf("err = %v, want *FormatError", err)
	}
}
