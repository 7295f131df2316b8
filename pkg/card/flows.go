package card

import (
	"context"
	"errors"
	"fmt"

	"github.com/gregLibert/hwcard/pkg/iso7816"
	"github.com/gregLibert/hwcard/pkg/securechannel"
)

// start is the first job of every session.
func (s *Session) start(ctx context.Context) outcome {
	s.emit(ProgressEvent{Value: 0.1})

	if err := s.tag.Connect(ctx); err != nil {
		return fail(&TransportError{Op: "connect", Err: err})
	}
	s.policy = LookupVersion(s.tag.VersionSelector())
	s.setPhase(PhaseConnected)
	s.log.Debug().
		Str("version", s.policy.Name).
		Str("selector", s.policy.Selector).
		Msg("tag connected")

	if s.policy.Terminal {
		return s.readInvoice(ctx)
	}

	s.mu.Lock()
	items, opts := s.items, s.payOpts
	pin, newPIN := s.pin, s.newPIN
	s.mu.Unlock()

	for _, p := range []string{pin, newPIN} {
		if err := s.checkPINLength(p); err != nil {
			return fail(err)
		}
	}

	if s.intent == IntentSign {
		return s.signFlow(ctx, items, PayOptions{PINRequired: true})
	}

	state, err := s.readState(ctx)
	if err != nil {
		return fail(err)
	}
	if state == StateUndefined {
		return fail(s.stateError(ErrStateUndefined))
	}
	s.setPhase(PhaseStateKnown)
	s.emit(ProgressEvent{Value: 0.2})

	if err := s.ensureChannel(ctx); err != nil {
		return fail(err)
	}

	switch {
	case state == StateActivatedLocked && s.intent == IntentPay && !opts.PINRequired:
		return s.signFlow(ctx, items, opts)

	case state == StateActivatedLocked && pin != "":
		if err := s.unlockWithRetries(ctx); err != nil {
			return fail(err)
		}
		switch s.intent {
		case IntentChangePIN:
			return s.changePIN(ctx)
		case IntentExportPrivateKeyOnce:
			return s.exportPrivateKey(ctx)
		case IntentPay:
			return s.signFlow(ctx, items, opts)
		default:
			info, err := s.readInfo(ctx)
			if err != nil {
				return fail(err)
			}
			return outcome{final: PublicInfoEvent{Info: info}}
		}

	case state == StateActivatedLocked:
		return s.readSlice(ctx)

	case state == StateInitialized && pin != "":
		return s.provision(ctx)

	case state == StateInitialized:
		return outcome{final: StateInfoEvent{State: state, Version: s.policy.Name}}

	default:
		return fail(s.stateError(ErrUnsupportedState))
	}
}

func (s *Session) stateError(err error) *StateError {
	return &StateError{State: s.state, Intent: s.intent, Err: err}
}

// checkPINLength rejects a PIN that is not exactly as long as the version
// mandates. Empty PINs and undefined versions are left to later steps.
func (s *Session) checkPINLength(pin string) error {
	if pin == "" || s.policy.PINLength == 0 || len(pin) == s.policy.PINLength {
		return nil
	}
	return s.stateError(fmt.Errorf("%w: %d digits, %s requires %d",
		ErrInvalidPIN, len(pin), s.policy.Name, s.policy.PINLength))
}

// pinBlock encodes the session PIN. An undefined version or a PIN of the
// wrong length is a state error.
func (s *Session) pinBlock() ([]byte, error) {
	pin := s.pinValue()
	if err := s.checkPINLength(pin); err != nil {
		return nil, err
	}
	block, err := BuildPINBlock(pin, s.policy)
	if errors.Is(err, ErrUnknownVersion) {
		return nil, s.stateError(err)
	}
	return block, err
}

func (s *Session) readState(ctx context.Context) (CardState, error) {
	data, err := s.transmit(ctx, iso7816.INS_GET_STATE, nil)
	if err != nil {
		return StateUndefined, err
	}
	state, err := parseState(data)
	if err != nil {
		return StateUndefined, err
	}
	s.state = state
	s.log.Debug().Stringer("state", state).Msg("card state")
	return state, nil
}

// ensureChannel runs the key agreement once, when the version requires it.
func (s *Session) ensureChannel(ctx context.Context) error {
	if !s.policy.RequiresHandshake() || s.channel != nil {
		return nil
	}
	ins := s.policy.HandshakeIns
	ch, err := securechannel.Handshake(ctx, s.suite, func(ctx context.Context, frame []byte) ([]byte, error) {
		return s.exchange(ctx, ins, frame, false)
	})
	if err != nil {
		return &CryptoError{Op: "handshake", Err: err}
	}
	s.channel = ch
	s.setPhase(PhaseHandshakeDone)
	s.emit(ProgressEvent{Value: 0.3})
	return nil
}

func (s *Session) readPINRetries(ctx context.Context) (int, error) {
	data, err := s.transmit(ctx, iso7816.INS_GET_PIN_RETRIES, nil)
	if err != nil {
		return 0, err
	}
	return parsePINRetries(data)
}

func (s *Session) unlockWithRetries(ctx context.Context) error {
	if err := s.checkPINLength(s.pinValue()); err != nil {
		return err
	}
	retries, err := s.readPINRetries(ctx)
	if err != nil {
		return err
	}
	return s.unlock(ctx, retries)
}

// unlock presents the PIN. retries is the counter before this attempt.
func (s *Session) unlock(ctx context.Context, retries int) error {
	block, err := s.pinBlock()
	if err != nil {
		return err
	}
	_, err = s.transmit(ctx, iso7816.INS_UNLOCK, block)

	var se *StatusError
	if errors.As(err, &se) && se.Ins == iso7816.INS_UNLOCK {
		remaining := max(retries-1, 0)
		s.emit(IncorrectPINEvent{Remaining: remaining, Max: s.policy.MaxPINAttempts})
		return &PINError{Status: se.Status, Remaining: remaining, Max: s.policy.MaxPINAttempts}
	}
	if err != nil {
		return err
	}

	s.unlocked = true
	s.setPhase(PhaseUnlocked)
	s.emit(ProgressEvent{Value: 0.5})
	return nil
}

// readInfo fetches the info group concurrently.
func (s *Session) readInfo(ctx context.Context) (PublicInfo, error) {
	info := PublicInfo{State: s.state, Version: s.policy.Name}

	calls := []func(context.Context) error{
		func(ctx context.Context) error {
			data, err := s.transmit(ctx, iso7816.INS_GET_CARD_GUID, nil)
			if err != nil {
				return err
			}
			info.GUID, err = parseGUID(data)
			return err
		},
		func(ctx context.Context) error {
			data, err := s.transmit(ctx, iso7816.INS_GET_PUBLIC_KEY, nil)
			if err != nil {
				return err
			}
			info.PublicKey, err = parsePublicKey(data)
			return err
		},
		func(ctx context.Context) error {
			data, err := s.transmit(ctx, iso7816.INS_GET_PIN_RETRIES, nil)
			if err != nil {
				return err
			}
			info.PINRetries, err = parsePINRetries(data)
			return err
		},
		func(ctx context.Context) error {
			data, err := s.transmit(ctx, iso7816.INS_GET_CARD_ISSUER, nil)
			if err != nil {
				return err
			}
			info.Issuer, err = parseIssuer(data)
			return err
		},
	}
	if s.policy.EdDSAPublicKeyExport {
		calls = append(calls, func(ctx context.Context) error {
			data, err := s.transmit(ctx, iso7816.INS_GET_ED_PUBLIC_KEY, nil)
			if err != nil {
				return err
			}
			info.EdDSAPublicKey, err = parseEdPublicKey(data)
			return err
		})
	}

	if err := s.group(ctx, calls...); err != nil {
		return PublicInfo{}, err
	}
	s.emit(ProgressEvent{Value: 0.9})
	return info, nil
}

// readSlice is what a locked card shows without a PIN. The session stays
// open for a later Sign or Pay.
func (s *Session) readSlice(ctx context.Context) outcome {
	ev := StateInfoEvent{State: s.state, Version: s.policy.Name}
	err := s.group(ctx,
		func(ctx context.Context) error {
			data, err := s.transmit(ctx, iso7816.INS_GET_CARD_GUID, nil)
			if err != nil {
				return err
			}
			ev.GUID, err = parseGUID(data)
			return err
		},
		func(ctx context.Context) error {
			data, err := s.transmit(ctx, iso7816.INS_GET_CARD_ISSUER, nil)
			if err != nil {
				return err
			}
			ev.Issuer, err = parseIssuer(data)
			return err
		},
	)
	if err != nil {
		return fail(err)
	}
	return outcome{final: ev, open: true}
}

func (s *Session) changePIN(ctx context.Context) outcome {
	s.mu.Lock()
	oldPIN, newPIN := s.pin, s.newPIN
	s.mu.Unlock()

	frame, err := changePINFrame(oldPIN, newPIN, s.policy)
	if err != nil {
		return fail(err)
	}
	if _, err := s.transmit(ctx, iso7816.INS_CHANGE_PIN, frame); err != nil {
		return fail(err)
	}
	return outcome{final: PINChangedEvent{}}
}

// exportPrivateKey reads the key once and disables further exports.
func (s *Session) exportPrivateKey(ctx context.Context) outcome {
	block, err := s.pinBlock()
	if err != nil {
		return fail(err)
	}

	var ev PrivateKeyEvent
	err = s.group(ctx,
		func(ctx context.Context) error {
			data, err := s.transmit(ctx, iso7816.INS_GET_CARD_ISSUER, nil)
			if err != nil {
				return err
			}
			ev.Issuer, err = parseIssuer(data)
			return err
		},
		func(ctx context.Context) error {
			data, err := s.transmit(ctx, iso7816.INS_EXPORT_PRIVATE_KEY, block)
			if err != nil {
				return err
			}
			ev.PrivateKey, err = parsePrivateKey(data)
			return err
		},
	)
	if err != nil {
		return fail(err)
	}

	if _, err := s.transmit(ctx, iso7816.INS_DISABLE_PRIVATE_KEY_EXPORT, block); err != nil {
		return fail(err)
	}
	return outcome{final: ev}
}

// provision activates an initialized card with the session PIN.
func (s *Session) provision(ctx context.Context) outcome {
	block, err := s.pinBlock()
	if err != nil {
		return fail(err)
	}
	if _, err := s.transmit(ctx, iso7816.INS_ACTIVATE, block); err != nil {
		return fail(err)
	}
	s.state = StateActivatedLocked
	s.emit(ProgressEvent{Value: 0.4})

	if err := s.unlock(ctx, s.policy.MaxPINAttempts); err != nil {
		return fail(err)
	}
	info, err := s.readInfo(ctx)
	if err != nil {
		return fail(err)
	}
	return outcome{final: ProvisionedEvent{Info: info, PIN: s.pinValue()}}
}

func (s *Session) readInvoice(ctx context.Context) outcome {
	data, err := s.transmit(ctx, iso7816.INS_GET_STATE, nil)
	if err != nil {
		return fail(err)
	}
	inv, err := ParseInvoice(data)
	if err != nil {
		return fail(err)
	}
	return outcome{final: InvoiceEvent{Invoice: inv}}
}
