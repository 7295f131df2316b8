package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/gregLibert/hwcard/internal/config"
	"github.com/gregLibert/hwcard/internal/logging"
	"github.com/gregLibert/hwcard/pkg/card"
	"github.com/gregLibert/hwcard/pkg/emulator"
	"github.com/gregLibert/hwcard/pkg/pcsc"
)

func main() {
	configPath := flag.String("config", "hwcard.yaml", "path to the run configuration")
	pin := flag.String("pin", os.Getenv("HWCARD_PIN"), "card PIN (default $HWCARD_PIN)")
	newPIN := flag.String("new-pin", "", "replacement PIN for intent change-pin")
	verbose := flag.Bool("v", false, "enable debug logging")
	askPIN := flag.Bool("ask-pin", false, "prompt for the PIN on the terminal")
	listReaders := flag.Bool("list-readers", false, "list PC/SC readers and exit")
	flag.Parse()

	if *listReaders {
		readers, err := pcsc.ListReaders()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list readers: %v\n", err)
			os.Exit(1)
		}
		for i, name := range readers {
			fmt.Printf("%d: %s\n", i, name)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if *askPIN {
		if *pin, err = readPIN("PIN: "); err != nil {
			fmt.Fprintf(os.Stderr, "read pin: %v\n", err)
			os.Exit(1)
		}
	}

	level := cfg.Log.Level
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Profile{App: "hwcard", Level: level, Format: logging.Format(cfg.Log.Format)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, *pin, *newPIN); err != nil {
		logger.Error().Err(err).Msg("session failed")
		os.Exit(1)
	}
}

// readPIN reads a line from the terminal without echo.
func readPIN(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func run(cfg *config.Config, logger zerolog.Logger, pin, newPIN string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tag, closeTag, err := buildTag(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTag()

	intent, _ := card.ParseIntent(cfg.Intent)
	p := &printer{log: logger}
	s := card.NewSession(card.Options{Intent: intent, Sink: p, Logger: logger})
	p.session = s

	if err := configure(s, cfg, intent, pin, newPIN); err != nil {
		return err
	}
	if err := s.Begin(ctx, tag); err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	select {
	case <-s.Done():
	case <-ctx.Done():
		s.Invalidate("interrupted")
		<-s.Done()
	}

	if err := s.Err(); err != nil && !(p.sawState && errors.Is(err, card.ErrInvalidated)) {
		return err
	}
	return nil
}

func configure(s *card.Session, cfg *config.Config, intent card.Intent, pin, newPIN string) error {
	if pin != "" {
		if err := s.SetPIN(pin); err != nil {
			return err
		}
	}
	if newPIN != "" {
		if err := s.SetNewPIN(newPIN); err != nil {
			return err
		}
	}

	gateway, err := cfg.GatewaySignature()
	if err != nil {
		return err
	}
	if len(gateway) > 0 {
		s.SetGatewaySignature(gateway)
	}
	edKey, err := cfg.EdDSAPublicKey()
	if err != nil {
		return err
	}
	if len(edKey) > 0 {
		s.SetEdDSAAux(card.EdDSAAux{PublicKey: edKey})
	}

	items, err := cfg.SignItems()
	if err != nil {
		return err
	}
	switch intent {
	case card.IntentSign:
		return s.Sign(items)
	case card.IntentPay:
		return s.Pay(items, card.PayOptions{PINRequired: cfg.PINRequired()})
	}
	return nil
}

func buildTag(cfg *config.Config, logger zerolog.Logger) (card.Tag, func(), error) {
	switch cfg.Transport {
	case config.TransportEmulator:
		opts := []emulator.Option{emulator.WithLogger(logger.With().Str("component", "emulator").Logger())}
		if cfg.Emulator.State != "" {
			st, err := config.ParseState(cfg.Emulator.State)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, emulator.WithState(st))
		}
		if cfg.Emulator.Issuer != "" {
			is, err := config.ParseIssuer(cfg.Emulator.Issuer)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, emulator.WithIssuer(is))
		}
		if cfg.Emulator.PIN != "" {
			opts = append(opts, emulator.WithPIN(cfg.Emulator.PIN))
		}
		if cfg.Emulator.InvoiceFile != "" {
			invoice, err := os.ReadFile(cfg.Emulator.InvoiceFile)
			if err != nil {
				return nil, nil, fmt.Errorf("read invoice: %w", err)
			}
			opts = append(opts, emulator.WithInvoice(invoice))
		}
		return emulator.New(cfg.Emulator.Selector, opts...), func() {}, nil

	default:
		r := &pcsc.Reader{Name: cfg.Reader.Name, Logger: logger}
		if cfg.Reader.WaitSeconds != nil && *cfg.Reader.WaitSeconds > 0 {
			return &waitingReader{Reader: r, wait: time.Duration(*cfg.Reader.WaitSeconds) * time.Second}, closer(r, logger), nil
		}
		return r, closer(r, logger), nil
	}
}

func closer(r *pcsc.Reader, logger zerolog.Logger) func() {
	return func() {
		if err := r.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to release reader")
		}
	}
}

// waitingReader bounds how long Connect waits for a card.
type waitingReader struct {
	*pcsc.Reader
	wait time.Duration
}

func (w *waitingReader) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.wait)
	defer cancel()
	return w.Reader.Connect(ctx)
}

// printer renders session events on stdout.
type printer struct {
	log      zerolog.Logger
	session  *card.Session
	sawState bool
}

func (p *printer) Emit(e card.Event) {
	switch ev := e.(type) {
	case card.ProgressEvent:
		p.log.Debug().Float64("progress", ev.Value).Msg("progress")
	case card.ErrorEvent:
		p.log.Debug().Err(ev.Err).Msg("error event")
	case card.StateInfoEvent:
		p.sawState = true
		printJSON(ev)
		// A locked card without PIN leaves the session open; nothing else to do.
		if ev.State == card.StateActivatedLocked {
			go p.session.Invalidate("")
		}
	case card.IncorrectPINEvent:
		fmt.Printf("incorrect PIN: %d of %d attempts remaining\n", ev.Remaining, ev.Max)
	case card.PINChangedEvent:
		fmt.Println("PIN changed")
	case card.MessageEvent:
		fmt.Println(ev.Text)
	default:
		printJSON(ev)
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", v)
		return
	}
	fmt.Println(string(out))
}
