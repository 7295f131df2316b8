package pcsc

import (
	"errors"
	"testing"

	"github.com/gregLibert/hwcard/pkg/card"
	"github.com/gregLibert/hwcard/pkg/emulator"
	"github.com/gregLibert/hwcard/pkg/iso7816"
)

func TestProbe(t *testing.T) {
	tests := []struct {
		name     string
		selector string
	}{
		{"v1", "706F727465425443"},
		{"v5", "A0000008820003"},
		{"terminal", "77777777777777"},
	}

	r := &Reader{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := emulator.New(tt.selector)
			got, err := Probe(iso7816.NewClient(c), r.selectors())
			if err != nil {
				t.Fatalf("Probe: %v", err)
			}
			if got != tt.selector {
				t.Errorf("Probe = %s, want %s", got, tt.selector)
			}
			if p := card.LookupVersion(got); p.Name != tt.name {
				t.Errorf("resolved %s, want %s", p.Name, tt.name)
			}
		})
	}
}

func TestProbe_NoApplet(t *testing.T) {
	c := emulator.New("A0000008820004")
	_, err := Probe(iso7816.NewClient(c), []string{"A0000008820001", "A0000008820002"})
	if !errors.Is(err, ErrNoApplet) {
		t.Errorf("err = %v, want ErrNoApplet", err)
	}
	if n := len(c.History()); n != 2 {
		t.Errorf("card saw %d commands, want 2", n)
	}
}

func TestProbe_BadSelector(t *testing.T) {
	if _, err := Probe(iso7816.NewClient(emulator.New("A0000008820004")), []string{"XYZ"}); err == nil {
		t.Error("Probe accepted a non-hex selector")
	}
}

func TestTransmitBeforeConnect(t *testing.T) {
	r := &Reader{}
	if _, err := r.Transmit([]byte{0x00, 0x01, 0x00, 0x00}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close on an idle reader: %v", err)
	}
}
