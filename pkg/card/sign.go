package card

import (
	"context"
	"fmt"

	"github.com/gregLibert/hwcard/pkg/iso7816"
)

// signRequest is one prepared signing command.
type signRequest struct {
	ins    iso7816.InsCode
	frame  []byte
	scheme Scheme
}

// signFlow unlocks the card when needed and signs items. Signatures come
// back in input order; any failure discards them all.
func (s *Session) signFlow(ctx context.Context, items []SignItem, opts PayOptions) outcome {
	if err := s.ensureChannel(ctx); err != nil {
		return fail(err)
	}
	if opts.PINRequired && !s.unlocked {
		if err := s.unlockWithRetries(ctx); err != nil {
			return fail(err)
		}
	}

	reqs, err := s.prepareSign(items, opts)
	if err != nil {
		return fail(err)
	}

	sigs := make([]string, len(reqs))
	calls := make([]func(context.Context) error, len(reqs))
	for i, req := range reqs {
		calls[i] = func(ctx context.Context) error {
			data, err := s.transmit(ctx, req.ins, req.frame)
			if err != nil {
				return err
			}
			sigs[i], err = parseSignature(data, req.scheme)
			return err
		}
	}
	if err := s.group(ctx, calls...); err != nil {
		return fail(err)
	}

	s.log.Debug().Int("count", len(sigs)).Msg("items signed")
	return outcome{final: SignedEvent{Signatures: sigs}}
}

// prepareSign builds every frame before anything is sent.
func (s *Session) prepareSign(items []SignItem, opts PayOptions) ([]signRequest, error) {
	s.mu.Lock()
	defaultAux, defaultGateway := s.aux, s.gateway
	s.mu.Unlock()

	var pinBlock []byte
	if opts.PINRequired {
		var err error
		if pinBlock, err = s.pinBlock(); err != nil {
			return nil, err
		}
	} else if !s.policy.Processing {
		return nil, s.stateError(ErrProcessingUnsupported)
	}

	reqs := make([]signRequest, len(items))
	for i, item := range items {
		req := signRequest{scheme: item.Scheme}
		var err error
		switch {
		case !opts.PINRequired:
			gateway := item.GatewaySignature
			if len(gateway) == 0 {
				gateway = defaultGateway
			}
			if len(gateway) == 0 {
				return nil, fmt.Errorf("item %d: %w", i, ErrMissingGatewaySignature)
			}
			req.ins = iso7816.INS_SIGN_PROCESSING_DATA
			req.frame, err = processingSignFrame(item.Payload, gateway)

		case item.Scheme == SchemeEdDSA:
			if s.policy.EdDSASignIns == 0 {
				return nil, s.stateError(ErrEdDSAUnsupported)
			}
			aux := item.Aux
			if aux == nil {
				aux = defaultAux
			}
			req.ins = s.policy.EdDSASignIns
			req.frame, err = eddsaSignFrame(pinBlock, item.Payload, aux)

		default:
			req.ins = s.policy.SignIns
			req.frame, err = ecdsaSignFrame(pinBlock, item.Payload)
		}
		if err != nil {
			return nil, &FormatError{Op: fmt.Sprintf("sign item %d", i), Err: err}
		}
		reqs[i] = req
	}
	return reqs, nil
}
