/*
Package securechannel establishes the encrypted tunnel used by the newer
firmware revisions of the wallet card.

# Handshake

 1. The host generates an ephemeral secp256k1 key pair.
 2. The host sends its 65-byte uncompressed public key, TLV-wrapped under the
    card public key tag, with the firmware's handshake instruction.
 3. The card replies with its own 65-byte public key followed by a nonce that
    takes up the rest of the response.
 4. Both sides compute the ECDH x-coordinate and derive the session secret as
    SHA-256(x || nonce).

# Framing

Every non-empty payload exchanged after the handshake is encrypted with
AES-256-CBC under the session secret. Plaintext is padded per ISO/IEC 7816-4
(0x80 followed by zeros up to the block boundary) and a fresh random IV is
prepended to the ciphertext: IV(16) || ciphertext.

A Session lives for one physical tag encounter. Close wipes the secret and the
ephemeral private key; nothing is ever persisted.
*/
package securechannel

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/gregLibert/hwcard/pkg/tlv"
)

// Sizes fixed by the wire format.
const (
	PublicKeyLen = 65
	SecretLen    = 32
	IVLen        = 16

	// TagCardPublicKey wraps the host public key in the handshake frame.
	TagCardPublicKey byte = 0x08
)

var (
	ErrSecretLength   = errors.New("securechannel: secret must be 32 bytes")
	ErrCiphertext     = errors.New("securechannel: malformed ciphertext")
	ErrPadding        = errors.New("securechannel: invalid padding")
	ErrPublicKey      = errors.New("securechannel: invalid public key")
	ErrHandshakeReply = errors.New("securechannel: malformed handshake reply")
	ErrClosed         = errors.New("securechannel: session closed")
)

// KeyPair is an ephemeral key-agreement key pair. Public is the 65-byte
// uncompressed point.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// Suite is the set of primitives the channel is built on.
type Suite interface {
	GenerateKey() (KeyPair, error)
	// SharedSecret returns the x-coordinate of priv * peerPub.
	SharedSecret(priv, peerPub []byte) ([]byte, error)
	Encrypt(secret, payload []byte) ([]byte, error)
	Decrypt(secret, payload []byte) ([]byte, error)
}

// Exchange sends one handshake frame to the card and returns the plaintext
// response data. The caller owns instruction selection and status checking.
type Exchange func(ctx context.Context, frame []byte) ([]byte, error)

// DeriveSecret returns SHA-256(shared || nonce).
func DeriveSecret(shared, nonce []byte) []byte {
	h := sha256.New()
	h.Write(shared)
	h.Write(nonce)
	return h.Sum(nil)
}

// Session holds the secret of one established channel.
type Session struct {
	suite Suite

	mu     sync.Mutex
	secret []byte
	priv   []byte

	// PublicKey is the ephemeral public key this side sent to its peer.
	PublicKey []byte
}

// Handshake runs the host side of the key agreement over exchange.
func Handshake(ctx context.Context, suite Suite, exchange Exchange) (*Session, error) {
	kp, err := suite.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	if len(kp.Public) != PublicKeyLen {
		return nil, fmt.Errorf("%w: host key is %d bytes", ErrPublicKey, len(kp.Public))
	}

	frame, err := tlv.Encode(TagCardPublicKey, kp.Public)
	if err != nil {
		return nil, err
	}

	reply, err := exchange(ctx, frame)
	if err != nil {
		wipe(kp.Private)
		return nil, err
	}
	if len(reply) <= PublicKeyLen {
		wipe(kp.Private)
		return nil, fmt.Errorf("%w: %d bytes, need card key and nonce", ErrHandshakeReply, len(reply))
	}

	cardPub, nonce := reply[:PublicKeyLen], reply[PublicKeyLen:]
	shared, err := suite.SharedSecret(kp.Private, cardPub)
	if err != nil {
		wipe(kp.Private)
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}
	defer wipe(shared)

	return &Session{
		suite:     suite,
		secret:    DeriveSecret(shared, nonce),
		priv:      kp.Private,
		PublicKey: kp.Public,
	}, nil
}

// Accept runs the card side of the key agreement: it answers the host's
// handshake frame with a fresh key pair and the given nonce. It returns the
// session and the reply to send back.
func Accept(suite Suite, frame []byte, nonce []byte) (*Session, []byte, error) {
	rec, err := tlv.Decode(frame)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding handshake frame: %w", err)
	}
	if rec.Tag != TagCardPublicKey || len(rec.Value) != PublicKeyLen {
		return nil, nil, fmt.Errorf("%w: tag 0x%02X with %d bytes", ErrPublicKey, rec.Tag, len(rec.Value))
	}
	if len(nonce) == 0 {
		return nil, nil, fmt.Errorf("%w: empty nonce", ErrHandshakeReply)
	}

	kp, err := suite.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generating card key: %w", err)
	}
	shared, err := suite.SharedSecret(kp.Private, rec.Value)
	if err != nil {
		wipe(kp.Private)
		return nil, nil, fmt.Errorf("computing shared secret: %w", err)
	}
	defer wipe(shared)

	reply := make([]byte, 0, len(kp.Public)+len(nonce))
	reply = append(reply, kp.Public...)
	reply = append(reply, nonce...)

	return &Session{
		suite:     suite,
		secret:    DeriveSecret(shared, nonce),
		priv:      kp.Private,
		PublicKey: kp.Public,
	}, reply, nil
}

// Encrypt wraps payload for the peer.
func (s *Session) Encrypt(payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secret == nil {
		return nil, ErrClosed
	}
	return s.suite.Encrypt(s.secret, payload)
}

// Decrypt unwraps a payload received from the peer.
func (s *Session) Decrypt(payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secret == nil {
		return nil, ErrClosed
	}
	return s.suite.Decrypt(s.secret, payload)
}

// Close zeroes the secret and the ephemeral private key. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	wipe(s.secret)
	wipe(s.priv)
	s.secret = nil
	s.priv = nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secret == nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
