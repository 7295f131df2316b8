package iso7816

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSelectByAID(t *testing.T) {
	aid, _ := hex.DecodeString("A0000008820001")
	raw, err := SelectByAID(0x00, aid).Bytes()
	if err != nil {
		t.Fatalf("Encoding failed: %v", err)
	}

	// CLA=00, INS=A4, P1=04 (by name), P2=00 (FCI), Lc=07, AID, no Le
	want := "00A4040007A0000008820001"
	if got := strings.ToUpper(hex.EncodeToString(raw)); got != want {
		t.Errorf("Mismatch\nExpected: %s\nGot:      %s", want, got)
	}
}

func TestDFName(t *testing.T) {
	tests := []struct {
		name    string
		fci     string
		want    []byte
		wantErr error
	}{
		{
			name: "FCI with DF name only",
			fci:  "6F0984 07A0000008820001",
			want: []byte{0xA0, 0x00, 0x00, 0x08, 0x82, 0x00, 0x01},
		},
		{
			name: "FCI with proprietary template after DF name",
			fci:  "6F0E 8407A0000008820003 A503 880101",
			want: []byte{0xA0, 0x00, 0x00, 0x08, 0x82, 0x00, 0x03},
		},
		{
			name:    "FCI without DF name",
			fci:     "6F03 880101",
			wantErr: ErrNoDFName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := hex.DecodeString(strings.ReplaceAll(tt.fci, " ", ""))
			if err != nil {
				t.Fatalf("bad fixture: %v", err)
			}

			got, err := DFName(raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DFName() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DFName() failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DF name mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeFCI_RoundTrip(t *testing.T) {
	aid := []byte{0x63, 0x98, 0x96, 0x00, 0xFF, 0x00, 0x01}

	fci, err := EncodeFCI(aid)
	if err != nil {
		t.Fatalf("EncodeFCI() failed: %v", err)
	}
	got, err := DFName(fci)
	if err != nil {
		t.Fatalf("DFName() failed: %v", err)
	}
	if diff := cmp.Diff(aid, got); diff != "" {
		t.Errorf("DF name mismatch (-want +got):\n%s", diff)
	}
}
