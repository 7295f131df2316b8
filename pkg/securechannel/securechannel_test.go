package securechannel

import (
	"bytes"
	"context"
	"crypto/cipher"
	"errors"
	"testing"

	"github.com/gregLibert/hwcard/pkg/tlv"
)

func testSecret() []byte {
	return bytes.Repeat([]byte{0x42}, SecretLen)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	suite := Secp256k1{}
	secret := testSecret()

	for _, n := range []int{0, 1, 15, 16, 17, 32, 70, 200} {
		payload := bytes.Repeat([]byte{0xA5}, n)

		ct, err := suite.Encrypt(secret, payload)
		if err != nil {
			t.Fatalf("Encrypt(%d bytes) failed: %v", n, err)
		}
		if len(ct) < IVLen+16 || (len(ct)-IVLen)%16 != 0 {
			t.Fatalf("Encrypt(%d bytes) produced %d bytes", n, len(ct))
		}

		pt, err := suite.Decrypt(secret, ct)
		if err != nil {
			t.Fatalf("Decrypt(%d bytes) failed: %v", n, err)
		}
		if !bytes.Equal(pt, payload) {
			t.Errorf("round trip of %d bytes = %X, want %X", n, pt, payload)
		}
	}
}

func TestEncrypt_FreshIV(t *testing.T) {
	suite := Secp256k1{}
	a, _ := suite.Encrypt(testSecret(), []byte("same"))
	b, _ := suite.Encrypt(testSecret(), []byte("same"))
	if bytes.Equal(a[:IVLen], b[:IVLen]) {
		t.Error("two encryptions reused the same IV")
	}
}

func TestEncrypt_Padding(t *testing.T) {
	// Zero IV makes the first block predictable for inspection.
	suite := Secp256k1{Rand: bytes.NewReader(make([]byte, IVLen))}
	ct, err := suite.Encrypt(testSecret(), tlv.Hex("01 02 03"))
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	block, _ := newCipher(testSecret())
	plain := make([]byte, 16)
	block.Decrypt(plain, ct[IVLen:])

	want := tlv.Hex("01 02 03 80 00 00 00 00 00 00 00 00 00 00 00 00")
	if !bytes.Equal(plain, want) {
		t.Errorf("padded block = %X, want %X", plain, want)
	}
}

func TestDecrypt_Errors(t *testing.T) {
	suite := Secp256k1{}
	good, _ := suite.Encrypt(testSecret(), []byte("payload"))

	// A block encrypted without any 0x80 marker.
	unpadded := make([]byte, IVLen+16)
	block, _ := newCipher(testSecret())
	cipher.NewCBCEncrypter(block, unpadded[:IVLen]).CryptBlocks(unpadded[IVLen:], bytes.Repeat([]byte{0x01}, 16))

	tests := []struct {
		name    string
		secret  []byte
		payload []byte
		wantErr error
	}{
		{"Secret too short", testSecret()[:16], good, ErrSecretLength},
		{"Secret too long", append(testSecret(), 0x00), good, ErrSecretLength},
		{"Empty secret", nil, good, ErrSecretLength},
		{"IV only", testSecret(), good[:IVLen], ErrCiphertext},
		{"Not block aligned", testSecret(), good[:len(good)-1], ErrCiphertext},
		{"Missing padding marker", testSecret(), unpadded, ErrPadding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := suite.Decrypt(tt.secret, tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decrypt() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncrypt_BadSecret(t *testing.T) {
	if _, err := (Secp256k1{}).Encrypt(make([]byte, 31), []byte("x")); !errors.Is(err, ErrSecretLength) {
		t.Errorf("Encrypt() error = %v, want ErrSecretLength", err)
	}
}

func TestHandshake_AgreesWithCard(t *testing.T) {
	suite := Secp256k1{}
	nonce := tlv.Hex("00 11 22 33 44 55 66 77")

	var card *Session
	exchange := func(_ context.Context, frame []byte) ([]byte, error) {
		rec, err := tlv.Decode(frame)
		if err != nil {
			return nil, err
		}
		if rec.Tag != TagCardPublicKey || rec.Length != PublicKeyLen {
			t.Errorf("handshake frame = tag %02X len %d", rec.Tag, rec.Length)
		}
		s, reply, err := Accept(suite, frame, nonce)
		card = s
		return reply, err
	}

	host, err := Handshake(context.Background(), suite, exchange)
	if err != nil {
		t.Fatalf("Handshake() failed: %v", err)
	}
	if !bytes.Equal(host.secret, card.secret) {
		t.Fatal("host and card derived different secrets")
	}
	if len(host.secret) != SecretLen {
		t.Errorf("secret is %d bytes", len(host.secret))
	}

	ct, err := host.Encrypt([]byte("unlock"))
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	pt, err := card.Decrypt(ct)
	if err != nil || string(pt) != "unlock" {
		t.Errorf("card Decrypt() = %q, %v", pt, err)
	}
}

func TestHandshake_Failures(t *testing.T) {
	linkErr := errors.New("tag lost")
	validPub := func() []byte {
		kp, _ := Secp256k1{}.GenerateKey()
		return kp.Public
	}

	tests := []struct {
		name    string
		reply   []byte
		err     error
		wantErr error
	}{
		{"Transport error", nil, linkErr, linkErr},
		{"Empty reply", nil, nil, ErrHandshakeReply},
		{"Key without nonce", validPub(), nil, ErrHandshakeReply},
		{"Card key not on curve", append(append([]byte{0x04}, bytes.Repeat([]byte{0x01}, 64)...), 0x99), nil, ErrPublicKey},
		{"Compressed card key", append(append([]byte{0x02}, bytes.Repeat([]byte{0x01}, 64)...), 0x99), nil, ErrPublicKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchange := func(context.Context, []byte) ([]byte, error) { return tt.reply, tt.err }
			s, err := Handshake(context.Background(), Secp256k1{}, exchange)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Handshake() error = %v, want %v", err, tt.wantErr)
			}
			if s != nil {
				t.Error("failed handshake returned a session")
			}
		})
	}
}

func TestSession_Close(t *testing.T) {
	secret := testSecret()
	priv := bytes.Repeat([]byte{0x07}, 32)
	s := &Session{suite: Secp256k1{}, secret: secret, priv: priv}

	s.Close()
	s.Close()

	if !s.Closed() {
		t.Error("Closed() = false after Close")
	}
	if !bytes.Equal(secret, make([]byte, SecretLen)) || !bytes.Equal(priv, make([]byte, 32)) {
		t.Error("Close() did not zero key material")
	}
	if _, err := s.Encrypt([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Encrypt() after Close error = %v, want ErrClosed", err)
	}
	if _, err := s.Decrypt(make([]byte, 32)); !errors.Is(err, ErrClosed) {
		t.Errorf("Decrypt() after Close error = %v, want ErrClosed", err)
	}
}
