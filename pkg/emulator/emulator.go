// Package emulator implements the wallet applet in memory.
//
// A Card answers the same APDUs as the physical card, including the ECDH
// secure channel of recent versions, and can be told to fail on demand. It
// satisfies card.Tag, so sessions run against it unchanged.
//
//	c := emulator.New("A0000008820004", emulator.WithPIN("123456"))
//	s := card.NewSession(card.Options{Intent: card.IntentReadInfo, Sink: sink})
//	_ = s.SetPIN("123456")
//	_ = s.Begin(ctx, c)
package emulator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/rs/zerolog"

	"github.com/gregLibert/hwcard/pkg/card"
	"github.com/gregLibert/hwcard/pkg/iso7816"
	"github.com/gregLibert/hwcard/pkg/securechannel"
)

// NonceLen is the length of the handshake nonce the card appends to its key.
const NonceLen = 16

// Card is an in-memory wallet applet.
type Card struct {
	selector string
	policy   card.Policy

	mu             sync.Mutex
	state          card.CardState
	guid           [card.GUIDLen]byte
	issuer         card.Issuer
	pin            string
	retries        int
	unlocked       bool
	exportDisabled bool
	key            *secp256k1.PrivateKey
	edKey          ed25519.PrivateKey
	processingKey  *secp256k1.PublicKey
	invoice        []byte
	suite          securechannel.Suite
	channel        *securechannel.Session
	selected       bool

	statuses   map[iso7816.InsCode]iso7816.StatusWord
	failAfter  int
	failErr    error
	connectErr error
	onCommand  func(iso7816.InsCode)
	log        zerolog.Logger

	history  []iso7816.InsCode
	inFlight atomic.Int32
	overlap  atomic.Bool
}

var _ card.Tag = (*Card)(nil)

// Option configures a Card.
type Option func(*Card)

// WithState sets the lifecycle state. The default is activated-locked.
func WithState(s card.CardState) Option { return func(c *Card) { c.state = s } }

// WithPIN sets the PIN of an activated card.
func WithPIN(pin string) Option { return func(c *Card) { c.pin = pin } }

// WithRetries sets the remaining PIN attempts. The default is the version maximum.
func WithRetries(n int) Option { return func(c *Card) { c.retries = n } }

// WithIssuer sets the issuer code.
func WithIssuer(i card.Issuer) Option { return func(c *Card) { c.issuer = i } }

// WithGUID sets the card identifier.
func WithGUID(guid [card.GUIDLen]byte) Option { return func(c *Card) { c.guid = guid } }

// WithKey sets the secp256k1 wallet key.
func WithKey(k *secp256k1.PrivateKey) Option { return func(c *Card) { c.key = k } }

// WithEdKey sets the ed25519 wallet key.
func WithEdKey(k ed25519.PrivateKey) Option { return func(c *Card) { c.edKey = k } }

// WithProcessingKey makes processing signatures verify the gateway signature.
func WithProcessingKey(pub *secp256k1.PublicKey) Option {
	return func(c *Card) { c.processingKey = pub }
}

// WithInvoice sets the JSON a terminal returns to GET_STATE.
func WithInvoice(json []byte) Option { return func(c *Card) { c.invoice = json } }

// WithSuite replaces the secure channel suite.
func WithSuite(s securechannel.Suite) Option { return func(c *Card) { c.suite = s } }

// WithLogger traces every command at debug level.
func WithLogger(l zerolog.Logger) Option { return func(c *Card) { c.log = l } }

// OnCommand registers a hook run before each command is processed, outside
// any lock. Tests use it to block or cancel mid-flow.
func OnCommand(fn func(iso7816.InsCode)) Option { return func(c *Card) { c.onCommand = fn } }

// New returns a card answering to the version selector.
func New(selector string, opts ...Option) *Card {
	c := &Card{
		selector: selector,
		policy:   card.LookupVersion(selector),
		state:    card.StateActivatedLocked,
		issuer:   card.IssuerTrustody,
		retries:  -1,
		suite:    securechannel.Secp256k1{},
		statuses: make(map[iso7816.InsCode]iso7816.StatusWord),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retries < 0 {
		c.retries = c.policy.MaxPINAttempts
	}
	if c.key == nil {
		k, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			panic(err)
		}
		c.key = k
	}
	if c.edKey == nil {
		_, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			panic(err)
		}
		c.edKey = k
	}
	if c.guid == [card.GUIDLen]byte{} {
		_, _ = rand.Read(c.guid[:])
	}
	return c
}

// FailWith makes every following ins command answer sw.
func (c *Card) FailWith(ins iso7816.InsCode, sw iso7816.StatusWord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[ins] = sw
}

// DropAfter makes Transmit return err once n commands have been processed.
func (c *Card) DropAfter(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAfter = n
	c.failErr = err
}

// FailConnect makes Connect return err.
func (c *Card) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

// Connect powers the card up and selects the applet. Channel and unlock
// status do not survive a new connection.
func (c *Card) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	c.unlocked = false
	c.selected = true
	return nil
}

// VersionSelector returns the AID the card was built with.
func (c *Card) VersionSelector() string { return c.selector }

// History returns the instructions received so far, in order.
func (c *Card) History() []iso7816.InsCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]iso7816.InsCode(nil), c.history...)
}

// Overlapped reports whether two commands were ever in flight at once.
func (c *Card) Overlapped() bool { return c.overlap.Load() }

// PIN returns the current PIN.
func (c *Card) PIN() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pin
}

// State returns the lifecycle state.
func (c *Card) State() card.CardState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retries returns the remaining PIN attempts.
func (c *Card) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// GUID returns the identifier as the host renders it.
func (c *Card) GUID() string {
	guid, _ := card.BuildGUID(c.guid[:])
	return guid
}

// PublicKey returns the secp256k1 wallet key.
func (c *Card) PublicKey() *secp256k1.PublicKey { return c.key.PubKey() }

// EdPublicKey returns the ed25519 wallet key.
func (c *Card) EdPublicKey() ed25519.PublicKey {
	return c.edKey.Public().(ed25519.PublicKey)
}

// PrivateKeyHex returns the exportable wallet key.
func (c *Card) PrivateKeyHex() string {
	return hex.EncodeToString(c.key.Serialize())
}

// ExportDisabled reports whether the one-time export has been consumed.
func (c *Card) ExportDisabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exportDisabled
}

// Transmit processes one command APDU.
func (c *Card) Transmit(raw []byte) ([]byte, error) {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.inFlight.Add(-1)

	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		return status(iso7816.SW_ERR_WRONG_LENGTH), nil
	}
	if c.onCommand != nil {
		c.onCommand(cmd.Instruction)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failErr != nil && len(c.history) >= c.failAfter {
		return nil, c.failErr
	}
	c.history = append(c.history, cmd.Instruction)

	resp := c.process(cmd)
	c.log.Debug().
		Stringer("ins", cmd.Instruction).
		Int("lc", len(cmd.Data)).
		Str("sw", resp.Status.Hex()).
		Msg("emulator")
	return resp.Bytes(), nil
}

func status(sw iso7816.StatusWord) []byte {
	return []byte{sw.SW1(), sw.SW2()}
}

// process must be called with mu held.
func (c *Card) process(cmd *iso7816.CommandAPDU) *iso7816.ResponseAPDU {
	if cmd.Instruction == iso7816.INS_SELECT {
		return c.doSelect(cmd.Data)
	}
	if sw, ok := c.statuses[cmd.Instruction]; ok {
		return &iso7816.ResponseAPDU{Status: sw}
	}
	if !c.selected {
		return &iso7816.ResponseAPDU{Status: iso7816.SW_ERR_COND_OF_USE_NOT_SAT}
	}

	if c.policy.RequiresHandshake() && cmd.Instruction == c.policy.HandshakeIns {
		return c.handshake(cmd.Data)
	}

	data := cmd.Data
	if len(data) > 0 && c.policy.RequiresHandshake() {
		if c.channel == nil {
			return &iso7816.ResponseAPDU{Status: iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT}
		}
		plain, err := c.channel.Decrypt(data)
		if err != nil {
			return &iso7816.ResponseAPDU{Status: iso7816.SW_ERR_INCORRECT_PARAMS_DATA}
		}
		data = plain
	}

	out, sw := c.dispatch(cmd.Instruction, data)
	if !sw.IsSuccess() {
		return &iso7816.ResponseAPDU{Status: sw}
	}
	if len(out) > 0 && c.channel != nil {
		enc, err := c.channel.Encrypt(out)
		if err != nil {
			return &iso7816.ResponseAPDU{Status: iso7816.SW_ERR_UNKNOWN}
		}
		out = enc
	}
	return &iso7816.ResponseAPDU{Data: out, Status: sw}
}

func (c *Card) doSelect(aid []byte) *iso7816.ResponseAPDU {
	want, err := hex.DecodeString(c.selector)
	if err != nil || hex.EncodeToString(aid) != hex.EncodeToString(want) {
		return &iso7816.ResponseAPDU{Status: iso7816.SW_ERR_FILE_NOT_FOUND}
	}
	fci, err := iso7816.EncodeFCI(want)
	if err != nil {
		return &iso7816.ResponseAPDU{Status: iso7816.SW_ERR_UNKNOWN}
	}
	c.selected = true
	return &iso7816.ResponseAPDU{Data: fci, Status: iso7816.SW_NO_ERROR}
}

func (c *Card) handshake(frame []byte) *iso7816.ResponseAPDU {
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return &iso7816.ResponseAPDU{Status: iso7816.SW_ERR_UNKNOWN}
	}
	ch, reply, err := securechannel.Accept(c.suite, frame, nonce)
	if err != nil {
		return &iso7816.ResponseAPDU{Status: iso7816.SW_ERR_INCORRECT_PARAMS_DATA}
	}
	if c.channel != nil {
		c.channel.Close()
	}
	c.channel = ch
	return &iso7816.ResponseAPDU{Data: reply, Status: iso7816.SW_NO_ERROR}
}
