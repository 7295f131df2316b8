package card

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gregLibert/hwcard/pkg/iso7816"
	"github.com/gregLibert/hwcard/pkg/securechannel"
)

// Tag is a card presented to the reader.
type Tag interface {
	iso7816.Transmitter

	// Connect opens the link. A session calls it once.
	Connect(ctx context.Context) error

	// VersionSelector returns the hex AID the tag answered to.
	VersionSelector() string
}

// Options configures a Session.
type Options struct {
	Intent Intent
	Sink   Sink

	// Suite defaults to securechannel.Secp256k1 with crypto/rand.
	Suite securechannel.Suite

	// Logger receives debug traces of every exchange. The zero value is silent.
	Logger zerolog.Logger

	// Class is the CLA byte of applet commands.
	Class byte
}

// Session drives one encounter with a card. All card I/O and every event
// happen on a single worker goroutine started by Begin.
type Session struct {
	intent Intent
	sink   Sink
	suite  securechannel.Suite
	log    zerolog.Logger
	cla    byte

	mu         sync.Mutex
	phase      Phase
	begun      bool
	pin        string
	newPIN     string
	aux        *EdDSAAux
	gateway    []byte
	items      []SignItem
	payOpts    PayOptions
	invalidMsg string
	err        error
	cancel     context.CancelFunc

	// Owned by the worker.
	tag      Tag
	client   *iso7816.Client
	policy   Policy
	state    CardState
	channel  *securechannel.Session
	unlocked bool

	// wire keeps a single command in flight.
	wire sync.Mutex

	jobs chan job
	done chan struct{}
}

type outcome struct {
	final Event
	open  bool
	err   error
}

type job func(ctx context.Context) outcome

func fail(err error) outcome { return outcome{err: err} }

// NewSession returns an idle session.
func NewSession(opts Options) *Session {
	s := &Session{
		intent:  opts.Intent,
		sink:    opts.Sink,
		suite:   opts.Suite,
		log:     opts.Logger.With().Str("intent", opts.Intent.String()).Logger(),
		cla:     opts.Class,
		payOpts: PayOptions{PINRequired: true},
		jobs:    make(chan job, 1),
		done:    make(chan struct{}),
	}
	if s.suite == nil {
		s.suite = securechannel.Secp256k1{}
	}
	if s.sink == nil {
		s.sink = SinkFunc(func(Event) {})
	}
	return s
}

// SetPIN stores the PIN used to unlock the card.
func (s *Session) SetPIN(pin string) error {
	if err := ValidatePIN(pin); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseTerminated {
		return ErrClosed
	}
	s.pin = pin
	return nil
}

// SetNewPIN stores the replacement PIN of a change-pin session.
func (s *Session) SetNewPIN(pin string) error {
	if err := ValidatePIN(pin); err != nil {
		return fmt.Errorf("new PIN: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseTerminated {
		return ErrClosed
	}
	s.newPIN = pin
	return nil
}

// SetEdDSAAux sets the EdDSA material used by items that carry none.
func (s *Session) SetEdDSAAux(aux EdDSAAux) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aux = &aux
}

// SetGatewaySignature sets the processing signature used by items that carry none.
func (s *Session) SetGatewaySignature(sig []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gateway = append([]byte(nil), sig...)
}

// Phase returns the current position in the state machine.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Done is closed once the session has terminated and emitted its last event.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, or nil on success or while running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Begin validates the preconditions of the intent and starts the worker.
// Precondition failures are returned and no event is emitted.
func (s *Session) Begin(ctx context.Context, tag Tag) error {
	if tag == nil {
		return ErrNoTag
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.phase == PhaseTerminated:
		return ErrClosed
	case s.begun:
		return ErrBusy
	}

	switch s.intent {
	case IntentSign:
		if s.pin == "" {
			return ErrNoPIN
		}
		if len(s.items) == 0 {
			return ErrNoItems
		}
	case IntentPay:
		if len(s.items) == 0 {
			return ErrNoItems
		}
	case IntentChangePIN:
		if s.pin == "" || s.newPIN == "" {
			return ErrNoPIN
		}
	case IntentExportPrivateKeyOnce:
		if s.pin == "" {
			return ErrNoPIN
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.begun = true
	s.tag = tag
	s.client = iso7816.NewClient(tag)
	go s.run(ctx, s.start)
	return nil
}

// Sign queues items before Begin, or signs them on an open session.
func (s *Session) Sign(items []SignItem) error {
	return s.submit(items, PayOptions{PINRequired: true})
}

// Pay is Sign with the pay options. Without PINRequired every item needs a
// gateway signature, its own or the session default.
func (s *Session) Pay(items []SignItem, opts PayOptions) error {
	if !opts.PINRequired {
		s.mu.Lock()
		hasDefault := len(s.gateway) > 0
		s.mu.Unlock()
		for i, item := range items {
			if len(item.GatewaySignature) == 0 && !hasDefault {
				return fmt.Errorf("item %d: %w", i, ErrMissingGatewaySignature)
			}
		}
	}
	return s.submit(items, opts)
}

func (s *Session) submit(items []SignItem, opts PayOptions) error {
	if len(items) == 0 {
		return ErrNoItems
	}
	items = append([]SignItem(nil), items...)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.phase == PhaseTerminated:
		return ErrClosed
	case !s.begun:
		s.items = items
		s.payOpts = opts
		return nil
	case s.phase != PhaseOpen:
		return ErrBusy
	}

	if opts.PINRequired && s.pin == "" {
		return ErrNoPIN
	}
	s.phase = PhaseWorking
	s.jobs <- func(ctx context.Context) outcome {
		return s.signFlow(ctx, items, opts)
	}
	return nil
}

// Invalidate cancels the session. In-flight results are discarded and the
// session ends with ErrInvalidated; msg, if set, is emitted first.
func (s *Session) Invalidate(msg string) {
	s.mu.Lock()
	if s.phase == PhaseTerminated {
		s.mu.Unlock()
		return
	}
	s.invalidMsg = msg
	if !s.begun {
		s.phase = PhaseTerminated
		s.err = s.invalidation()
		s.pin, s.newPIN = "", ""
		close(s.done)
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
}

// invalidation must be called with mu held.
func (s *Session) invalidation() error {
	if s.invalidMsg != "" {
		return fmt.Errorf("%w: %s", ErrInvalidated, s.invalidMsg)
	}
	return ErrInvalidated
}

func (s *Session) run(ctx context.Context, next job) {
	for {
		out := next(ctx)
		if ctx.Err() != nil {
			out = outcome{err: s.cancelled()}
		}
		if !out.open {
			s.finish(out)
			return
		}

		s.setPhase(PhaseOpen)
		s.emit(ProgressEvent{Value: 1})
		s.emit(out.final)

		select {
		case next = <-s.jobs:
		case <-ctx.Done():
			s.finish(outcome{err: s.cancelled()})
			return
		}
	}
}

func (s *Session) cancelled() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidation()
}

func (s *Session) finish(out outcome) {
	if errors.Is(out.err, ErrInvalidated) {
		s.mu.Lock()
		msg := s.invalidMsg
		s.mu.Unlock()
		if msg != "" {
			s.emit(MessageEvent{Text: msg})
		}
	}

	s.emit(ProgressEvent{Value: 1})
	if out.err != nil {
		s.log.Debug().Err(out.err).Msg("session failed")
		s.emit(ErrorEvent{Err: out.err})
	} else if out.final != nil {
		s.emit(out.final)
	}

	if s.channel != nil {
		s.channel.Close()
	}

	s.mu.Lock()
	s.phase = PhaseTerminated
	s.err = out.err
	s.pin, s.newPIN = "", ""
	s.gateway = nil
	s.items = nil
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	close(s.done)
}

func (s *Session) emit(e Event) {
	s.sink.Emit(e)
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	s.log.Debug().Stringer("phase", p).Msg("phase")
}

func (s *Session) pinValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pin
}

// transmit sends one applet command and returns its plaintext response.
// Payloads go through the secure channel once it is established.
func (s *Session) transmit(ctx context.Context, ins iso7816.InsCode, payload []byte) ([]byte, error) {
	return s.exchange(ctx, ins, payload, s.channel != nil)
}

func (s *Session) exchange(ctx context.Context, ins iso7816.InsCode, payload []byte, secure bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := payload
	if secure && len(payload) > 0 {
		enc, err := s.channel.Encrypt(payload)
		if err != nil {
			return nil, &CryptoError{Op: "encrypt " + ins.String(), Err: err}
		}
		data = enc
	}

	ne := iso7816.MaxShortLe
	if len(data) > 0 {
		ne = 0
	}
	cmd := iso7816.NewCommandAPDU(s.cla, ins, 0x00, 0x00, data, ne)

	s.wire.Lock()
	trace, err := s.client.Send(cmd)
	s.wire.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		var te *iso7816.TransmitError
		if errors.As(err, &te) {
			return nil, &TransportError{Op: ins.String(), Err: te.Err}
		}
		return nil, &FormatError{Op: ins.String() + " response", Err: err}
	}

	sw := trace.Status()
	resp := trace.Data()
	s.log.Debug().
		Stringer("ins", ins).
		Str("sw", sw.Hex()).
		Int("lc", len(data)).
		Int("len", len(resp)).
		Bool("secure", secure).
		Msg("exchange")

	if !sw.IsSuccess() {
		return nil, &StatusError{Ins: ins, Status: sw}
	}
	if secure && len(resp) > 0 {
		plain, err := s.channel.Decrypt(resp)
		if err != nil {
			return nil, &CryptoError{Op: "decrypt " + ins.String(), Err: err}
		}
		resp = plain
	}
	return resp, nil
}

// group runs calls concurrently. The first failure cancels the others and is
// returned once every call has come back.
func (s *Session) group(ctx context.Context, calls ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	for _, call := range calls {
		wg.Add(1)
		go func(call func(context.Context) error) {
			defer wg.Done()
			if err := call(ctx); err != nil {
				once.Do(func() {
					first = err
					cancel()
				})
			}
		}(call)
	}
	wg.Wait()
	return first
}
