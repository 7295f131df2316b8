package securechannel

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Secp256k1 is the default Suite: secp256k1 ECDH and AES-256-CBC.
type Secp256k1 struct {
	// Rand is the IV source. Nil means crypto/rand.
	Rand io.Reader
}

var _ Suite = Secp256k1{}

func (s Secp256k1) reader() io.Reader {
	if s.Rand != nil {
		return s.Rand
	}
	return rand.Reader
}

// GenerateKey returns a fresh ephemeral key pair.
func (Secp256k1) GenerateKey() (KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, err
	}
	defer priv.Zero()

	return KeyPair{
		Private: priv.Serialize(),
		Public:  priv.PubKey().SerializeUncompressed(),
	}, nil
}

// SharedSecret returns the 32-byte ECDH x-coordinate.
func (Secp256k1) SharedSecret(privBytes, peerPub []byte) ([]byte, error) {
	if len(peerPub) != PublicKeyLen || peerPub[0] != 0x04 {
		return nil, fmt.Errorf("%w: expected %d-byte uncompressed point", ErrPublicKey, PublicKeyLen)
	}
	pub, err := secp256k1.ParsePubKey(peerPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublicKey, err)
	}

	priv := secp256k1.PrivKeyFromBytes(privBytes)
	defer priv.Zero()

	return secp256k1.GenerateSharedSecret(priv, pub), nil
}

// Encrypt returns IV || AES-256-CBC(pad(payload)).
func (s Secp256k1) Encrypt(secret, payload []byte) ([]byte, error) {
	block, err := newCipher(secret)
	if err != nil {
		return nil, err
	}

	padded := pad(payload)
	out := make([]byte, IVLen+len(padded))
	iv := out[:IVLen]
	if _, err := io.ReadFull(s.reader(), iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[IVLen:], padded)
	return out, nil
}

// Decrypt reverses Encrypt.
func (Secp256k1) Decrypt(secret, payload []byte) ([]byte, error) {
	block, err := newCipher(secret)
	if err != nil {
		return nil, err
	}

	if len(payload) < IVLen+aes.BlockSize || (len(payload)-IVLen)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertext, len(payload))
	}

	iv, ct := payload[:IVLen], payload[IVLen:]
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)

	return unpad(out)
}

func newCipher(secret []byte) (cipher.Block, error) {
	if len(secret) != SecretLen {
		return nil, fmt.Errorf("%w: got %d", ErrSecretLength, len(secret))
	}
	return aes.NewCipher(secret)
}

// pad applies ISO/IEC 7816-4 padding: 0x80 then zeros to the next block.
func pad(data []byte) []byte {
	padded := make([]byte, (len(data)/aes.BlockSize+1)*aes.BlockSize)
	copy(padded, data)
	padded[len(data)] = 0x80
	return padded
}

func unpad(data []byte) ([]byte, error) {
	for i := len(data) - 1; i >= 0 && i >= len(data)-aes.BlockSize; i-- {
		switch data[i] {
		case 0x80:
			return data[:i], nil
		case 0x00:
			continue
		default:
			return nil, ErrPadding
		}
	}
	return nil, ErrPadding
}
