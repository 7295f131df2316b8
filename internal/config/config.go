// Package config loads the YAML run configuration of the hwcard CLI.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gregLibert/hwcard/pkg/card"
)

// Transport names.
const (
	TransportPCSC     = "pcsc"
	TransportEmulator = "emulator"
)

type Config struct {
	Intent    string         `yaml:"intent"`
	Transport string         `yaml:"transport"`
	Reader    ReaderConfig   `yaml:"reader"`
	Emulator  EmulatorConfig `yaml:"emulator"`
	Sign      SignConfig     `yaml:"sign"`
	Log       LogConfig      `yaml:"log"`
}

type ReaderConfig struct {
	Name        string `yaml:"name"`
	WaitSeconds *int   `yaml:"wait_seconds"`
}

type EmulatorConfig struct {
	Selector    string `yaml:"selector"`
	State       string `yaml:"state"`
	PIN         string `yaml:"pin"`
	Issuer      string `yaml:"issuer"`
	InvoiceFile string `yaml:"invoice_file"`
}

type SignConfig struct {
	Items               []ItemConfig `yaml:"items"`
	PINRequired         *bool        `yaml:"pin_required"`
	GatewaySignatureHex string       `yaml:"gateway_signature_hex"`
	EdDSAPublicKeyHex   string       `yaml:"eddsa_public_key_hex"`
}

type ItemConfig struct {
	Scheme              string `yaml:"scheme"`
	PayloadHex          string `yaml:"payload_hex"`
	GatewaySignatureHex string `yaml:"gateway_signature_hex"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, resolves and validates the file at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	intent, err := card.ParseIntent(c.Intent)
	if err != nil {
		return fmt.Errorf("config.intent: %w", err)
	}

	switch c.Transport {
	case TransportPCSC:
		if c.Reader.WaitSeconds != nil && *c.Reader.WaitSeconds < 0 {
			return fmt.Errorf("config.reader.wait_seconds must be >= 0")
		}
	case TransportEmulator:
		if err := c.validateEmulator(); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("config.transport is required")
	default:
		return fmt.Errorf("config.transport must be %q or %q", TransportPCSC, TransportEmulator)
	}

	if intent == card.IntentSign || intent == card.IntentPay {
		if len(c.Sign.Items) == 0 {
			return fmt.Errorf("config.sign.items is required for intent %s", intent)
		}
	}
	if _, err := c.SignItems(); err != nil {
		return err
	}
	if intent == card.IntentPay && !c.PINRequired() {
		for i, item := range c.Sign.Items {
			if item.GatewaySignatureHex == "" && c.Sign.GatewaySignatureHex == "" {
				return fmt.Errorf("config.sign.items[%d].gateway_signature_hex is required without pin", i)
			}
		}
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

func (c *Config) validateEmulator() error {
	if strings.TrimSpace(c.Emulator.Selector) == "" {
		return fmt.Errorf("config.emulator.selector is required")
	}
	if !card.LookupVersion(c.Emulator.Selector).Known() {
		return fmt.Errorf("config.emulator.selector %q is not a known version", c.Emulator.Selector)
	}
	if c.Emulator.State != "" {
		if _, err := ParseState(c.Emulator.State); err != nil {
			return fmt.Errorf("config.emulator.state: %w", err)
		}
	}
	if c.Emulator.Issuer != "" {
		if _, err := ParseIssuer(c.Emulator.Issuer); err != nil {
			return fmt.Errorf("config.emulator.issuer: %w", err)
		}
	}
	if c.Emulator.PIN != "" {
		if err := card.ValidatePIN(c.Emulator.PIN); err != nil {
			return fmt.Errorf("config.emulator.pin: %w", err)
		}
	}
	if c.Emulator.InvoiceFile != "" {
		if err := validateReadableFile(c.Emulator.InvoiceFile, "config.emulator.invoice_file"); err != nil {
			return err
		}
	}
	return nil
}

// PINRequired defaults to true.
func (c *Config) PINRequired() bool {
	return c.Sign.PINRequired == nil || *c.Sign.PINRequired
}

// SignItems decodes the configured items.
func (c *Config) SignItems() ([]card.SignItem, error) {
	items := make([]card.SignItem, 0, len(c.Sign.Items))
	for i, ic := range c.Sign.Items {
		field := fmt.Sprintf("config.sign.items[%d]", i)

		var item card.SignItem
		switch strings.ToLower(ic.Scheme) {
		case "", "ecdsa":
			item.Scheme = card.SchemeECDSA
		case "eddsa":
			item.Scheme = card.SchemeEdDSA
		default:
			return nil, fmt.Errorf("%s.scheme must be ecdsa or eddsa", field)
		}

		payload, err := decodeHex(ic.PayloadHex, field+".payload_hex")
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 {
			return nil, fmt.Errorf("%s.payload_hex is required", field)
		}
		item.Payload = payload

		if item.GatewaySignature, err = decodeHex(ic.GatewaySignatureHex, field+".gateway_signature_hex"); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// GatewaySignature decodes the session-wide gateway signature.
func (c *Config) GatewaySignature() ([]byte, error) {
	return decodeHex(c.Sign.GatewaySignatureHex, "config.sign.gateway_signature_hex")
}

// EdDSAPublicKey decodes the EdDSA key sent along EdDSA items.
func (c *Config) EdDSAPublicKey() ([]byte, error) {
	return decodeHex(c.Sign.EdDSAPublicKeyHex, "config.sign.eddsa_public_key_hex")
}

// ParseState accepts the names printed by card.CardState.
func ParseState(s string) (card.CardState, error) {
	for _, st := range []card.CardState{
		card.StateNotInitialized, card.StateInitialized,
		card.StateActivatedLocked, card.StateActivatedUnlocked,
	} {
		if st.String() == s {
			return st, nil
		}
	}
	return card.StateUndefined, fmt.Errorf("unknown state %q", s)
}

// ParseIssuer accepts the names printed by card.Issuer.
func ParseIssuer(s string) (card.Issuer, error) {
	for _, i := range []card.Issuer{card.IssuerTrustody, card.IssuerCelo, card.IssuerRamp} {
		if i.String() == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown issuer %q", s)
}

func decodeHex(s, field string) ([]byte, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return b, nil
}

func (c *Config) resolvePaths(configPath string) {
	c.Emulator.InvoiceFile = resolvePath(filepath.Dir(configPath), c.Emulator.InvoiceFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
