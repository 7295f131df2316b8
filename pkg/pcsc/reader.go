// Package pcsc connects sessions to a physical reader through PC/SC.
package pcsc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"github.com/rs/zerolog"

	"github.com/gregLibert/hwcard/pkg/card"
	"github.com/gregLibert/hwcard/pkg/iso7816"
)

var (
	ErrNoReader     = errors.New("no smart card reader found")
	ErrNoApplet     = errors.New("no known wallet applet on the card")
	ErrNotConnected = errors.New("reader not connected")
)

// pollInterval bounds each wait for card presence so ctx is honoured.
const pollInterval = 500 * time.Millisecond

// Reader is a card.Tag backed by a PC/SC reader.
type Reader struct {
	// Name selects the reader. Empty means the first one listed.
	Name string

	// Selectors are the AIDs probed on connect, in order. Empty means every
	// card version followed by the terminal.
	Selectors []string

	Logger zerolog.Logger

	mu       sync.Mutex
	ctx      *scard.Context
	card     *scard.Card
	selector string
}

var _ card.Tag = (*Reader)(nil)

// ListReaders returns the names of the attached readers.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish context: %w", err)
	}
	defer func() { _ = ctx.Release() }()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("list readers: %w", err)
	}
	return readers, nil
}

// Connect waits for a card, connects with T=0 or T=1 and finds the applet.
func (r *Reader) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.card != nil {
		return nil
	}

	sctx, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("establish context: %w", err)
	}

	name, err := r.readerName(sctx)
	if err == nil {
		err = waitForCard(ctx, sctx, name)
	}
	if err != nil {
		_ = sctx.Release()
		return err
	}

	// Force T=0 or T=1 to avoid "Parameter Incorrect" errors.
	c, err := sctx.Connect(name, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		_ = sctx.Release()
		return fmt.Errorf("connect to %s: %w", name, err)
	}
	r.ctx, r.card = sctx, c

	selector, err := Probe(iso7816.NewClient(cardTransmitter{c}), r.selectors())
	if err != nil {
		r.closeLocked()
		return err
	}
	r.selector = selector
	r.Logger.Debug().Str("reader", name).Str("selector", selector).Msg("applet selected")
	return nil
}

func (r *Reader) readerName(sctx *scard.Context) (string, error) {
	readers, err := sctx.ListReaders()
	if err != nil {
		return "", fmt.Errorf("list readers: %w", err)
	}
	if len(readers) == 0 {
		return "", ErrNoReader
	}
	if r.Name == "" {
		return readers[0], nil
	}
	for _, name := range readers {
		if strings.Contains(name, r.Name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: none matches %q", ErrNoReader, r.Name)
}

func waitForCard(ctx context.Context, sctx *scard.Context, name string) error {
	states := []scard.ReaderState{{Reader: name, CurrentState: scard.StateUnaware}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := sctx.GetStatusChange(states, pollInterval)
		switch {
		case errors.Is(err, scard.ErrTimeout):
		case err != nil:
			return fmt.Errorf("wait for card on %s: %w", name, err)
		}
		if states[0].EventState&scard.StatePresent != 0 {
			return nil
		}
		states[0].CurrentState = states[0].EventState
	}
}

func (r *Reader) selectors() []string {
	if len(r.Selectors) > 0 {
		return r.Selectors
	}
	var out []string
	for _, p := range card.Versions() {
		out = append(out, p.Selector)
	}
	return append(out, card.TerminalPolicy.Selector)
}

// Probe selects each AID in turn and returns the first one the card accepts,
// preferring the DF name of its FCI when present.
func Probe(client *iso7816.Client, selectors []string) (string, error) {
	for _, sel := range selectors {
		aid, err := hex.DecodeString(sel)
		if err != nil {
			return "", fmt.Errorf("selector %q: %w", sel, err)
		}
		trace, err := client.Send(iso7816.SelectByAID(0x00, aid))
		if err != nil {
			return "", err
		}
		if !trace.IsSuccess() {
			continue
		}
		if name, err := iso7816.DFName(trace.Data()); err == nil {
			return strings.ToUpper(hex.EncodeToString(name)), nil
		}
		return strings.ToUpper(sel), nil
	}
	return "", ErrNoApplet
}

// Transmit sends one APDU.
func (r *Reader) Transmit(cmd []byte) ([]byte, error) {
	r.mu.Lock()
	c := r.card
	r.mu.Unlock()
	if c == nil {
		return nil, ErrNotConnected
	}
	return c.Transmit(cmd)
}

// VersionSelector returns the AID found by Connect.
func (r *Reader) VersionSelector() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selector
}

// Close disconnects and releases the PC/SC context.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Reader) closeLocked() error {
	var errs []error
	if r.card != nil {
		if err := r.card.Disconnect(scard.LeaveCard); err != nil {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}
		r.card = nil
	}
	if r.ctx != nil {
		if err := r.ctx.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release context: %w", err))
		}
		r.ctx = nil
	}
	r.selector = ""
	return errors.Join(errs...)
}

// cardTransmitter lets Probe run while Connect holds the lock.
type cardTransmitter struct{ c *scard.Card }

func (t cardTransmitter) Transmit(cmd []byte) ([]byte, error) { return t.c.Transmit(cmd) }
