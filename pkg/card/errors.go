package card

import (
	"errors"
	"fmt"

	"github.com/gregLibert/hwcard/pkg/iso7816"
)

var (
	ErrStateUndefined          = errors.New("card state undefined")
	ErrUnsupportedState        = errors.New("card state not supported for this intent")
	ErrNoPIN                   = errors.New("no PIN set")
	ErrInvalidPIN              = errors.New("invalid PIN")
	ErrNoTag                   = errors.New("no tag")
	ErrNoItems                 = errors.New("no items to sign")
	ErrBusy                    = errors.New("session busy")
	ErrClosed                  = errors.New("session closed")
	ErrInvalidated             = errors.New("session invalidated")
	ErrUnknownVersion          = errors.New("unknown card version")
	ErrEdDSAUnsupported        = errors.New("card version does not support EdDSA")
	ErrProcessingUnsupported   = errors.New("card version does not support processing signatures")
	ErrMissingGatewaySignature = errors.New("missing gateway signature")
)

// TransportError is a link failure: the tag went away or timed out.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a command the card answered with anything but 9000.
type StatusError struct {
	Ins    iso7816.InsCode
	Status iso7816.StatusWord
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("card command %s failed with SW=%s (%s)", e.Ins, e.Status.Hex(), e.Status.Verbose())
}

// PINError is a rejected unlock. Remaining counts the attempts left before
// the card locks for good.
type PINError struct {
	Status    iso7816.StatusWord
	Remaining int
	Max       int
}

func (e *PINError) Error() string {
	return fmt.Sprintf("incorrect PIN (SW=%s): %d of %d attempts remaining", e.Status.Hex(), e.Remaining, e.Max)
}

func (e *PINError) Unwrap() error {
	return &StatusError{Ins: iso7816.INS_UNLOCK, Status: e.Status}
}

// FormatError is a malformed TLV or JSON payload.
type FormatError struct {
	Op  string
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.Op, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// CryptoError is a handshake, key derivation or channel framing failure.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("secure channel %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// StateError means the card state or version cannot serve the intent.
type StateError struct {
	State  CardState
	Intent Intent
	Err    error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s in state %s: %v", e.Intent, e.State, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// IsPINError reports whether err carries a rejected PIN.
func IsPINError(err error) bool {
	var pe *PINError
	return errors.As(err, &pe)
}
