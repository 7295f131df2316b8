package card

import (
	"testing"

	"github.com/gregLibert/hwcard/pkg/iso7816"
)

func TestLookupVersion(t *testing.T) {
	tests := []struct {
		selector     string
		name         string
		pinLength    int
		maxAttempts  int
		handshake    iso7816.InsCode
		eddsa        iso7816.InsCode
		edKeyExport  bool
		processing   bool
		terminal     bool
		wantKnown    bool
		wantSecure   bool
		wantSelector string
	}{
		{"706F727465425443", "v1", 5, 3, 0, 0, false, false, false, true, false, "706F727465425443"},
		{"63989600FF0001", "v2", 6, 3, 0, 0, false, false, false, true, false, "63989600FF0001"},
		{"A0000008820001", "v3", 6, 3, 0, 0, false, true, false, true, false, "A0000008820001"},
		{"A0000008820002", "v4", 6, 10, 0, iso7816.INS_SIGN_ED_DATA, true, true, false, true, false, "A0000008820002"},
		{"A0000008820003", "v5", 6, 10, iso7816.INS_ECDH, iso7816.INS_SIGN_ED_DATA, true, true, false, true, true, "A0000008820003"},
		{"a0000008820004", "v6", 6, 10, iso7816.INS_ECDH_V2, iso7816.INS_SIGN_ED_DATA_V2, true, true, false, true, true, "A0000008820004"},
		{" 77777777777777 ", "terminal", 0, 0, 0, 0, false, false, true, true, false, "77777777777777"},
		{"DEADBEEF", "undefined", 0, 0, 0, 0, false, false, false, false, false, "DEADBEEF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := LookupVersion(tt.selector)
			if p.Name != tt.name {
				t.Errorf("Name = %q, want %q", p.Name, tt.name)
			}
			if p.Selector != tt.wantSelector {
				t.Errorf("Selector = %q, want %q", p.Selector, tt.wantSelector)
			}
			if p.PINLength != tt.pinLength || p.MaxPINAttempts != tt.maxAttempts {
				t.Errorf("PIN = %d/%d, want %d/%d", p.PINLength, p.MaxPINAttempts, tt.pinLength, tt.maxAttempts)
			}
			if p.HandshakeIns != tt.handshake || p.RequiresHandshake() != tt.wantSecure {
				t.Errorf("handshake = %s (%v), want %s (%v)", p.HandshakeIns, p.RequiresHandshake(), tt.handshake, tt.wantSecure)
			}
			if p.EdDSASignIns != tt.eddsa || p.EdDSAPublicKeyExport != tt.edKeyExport {
				t.Errorf("eddsa = %s/%v, want %s/%v", p.EdDSASignIns, p.EdDSAPublicKeyExport, tt.eddsa, tt.edKeyExport)
			}
			if p.Processing != tt.processing || p.Terminal != tt.terminal {
				t.Errorf("processing/terminal = %v/%v, want %v/%v", p.Processing, p.Terminal, tt.processing, tt.terminal)
			}
			if p.Known() != tt.wantKnown {
				t.Errorf("Known = %v, want %v", p.Known(), tt.wantKnown)
			}
			if tt.pinLength > 0 && p.SignIns != iso7816.INS_SIGN_DATA {
				t.Errorf("SignIns = %s, want INS_SIGN_DATA", p.SignIns)
			}
		})
	}
}

func TestVersionsIsACopy(t *testing.T) {
	v := Versions()
	if len(v) != 6 {
		t.Fatalf("len(Versions) = %d, want 6", len(v))
	}
	v[0].PINLength = 99
	if LookupVersion(v[0].Selector).PINLength == 99 {
		t.Error("Versions exposed the table")
	}
}

func TestParseIntent(t *testing.T) {
	for i := IntentReadInfo; i <= IntentPay; i++ {
		got, err := ParseIntent(i.String())
		if err != nil || got != i {
			t.Errorf("ParseIntent(%q) = %v, %v", i.String(), got, err)
		}
	}
	if _, err := ParseIntent("format"); err == nil {
		t.Error("ParseIntent accepted an unknown intent")
	}
}
