package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		tag   byte
		value []byte
		want  []byte
	}{
		{"Empty value", 0x01, nil, Hex("01 00")},
		{"PIN block", 0x06, Hex("01 02 03 04 05 06"), Hex("06 06 01 02 03 04 05 06")},
		{"Max length", 0x0A, make([]byte, MaxValueLen), append(Hex("0A FF"), make([]byte, MaxValueLen)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.tag, tt.value)
			if err != nil {
				t.Fatalf("Encode() failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Encode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode_TooLong(t *testing.T) {
	_, err := Encode(0x0A, make([]byte, MaxValueLen+1))
	if !errors.Is(err, ErrValueTooLong) {
		t.Fatalf("Encode() error = %v, want ErrValueTooLong", err)
	}
}

func TestMustEncode_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustEncode() should panic on oversized values")
		}
	}()
	MustEncode(0x0A, make([]byte, MaxValueLen+1))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    Record
		wantErr error
	}{
		{
			name:  "Empty input yields zero record",
			input: nil,
			want:  Record{},
		},
		{
			name:  "State record",
			input: Hex("01 01 08"),
			want:  Record{Tag: 0x01, Length: 1, Value: Hex("08")},
		},
		{
			name:  "Zero length value",
			input: Hex("0B 00"),
			want:  Record{Tag: 0x0B, Length: 0},
		},
		{
			name:  "Trailing bytes are kept aside",
			input: Hex("03 01 02 07 01 03"),
			want:  Record{Tag: 0x03, Length: 1, Value: Hex("02"), Trailing: Hex("07 01 03")},
		},
		{
			name:    "Tag only",
			input:   Hex("08"),
			wantErr: ErrShortHeader,
		},
		{
			name:    "Declared length past the end",
			input:   Hex("08 41 04 AA"),
			wantErr: ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 16, 32, 65, 72, MaxValueLen} {
		value := bytes.Repeat([]byte{0x5A}, n)
		for _, tag := range []byte{0x00, 0x06, 0x10, 0xFF} {
			enc, err := Encode(tag, value)
			if err != nil {
				t.Fatalf("Encode(0x%02X, %d bytes) failed: %v", tag, n, err)
			}
			rec, err := Decode(enc)
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if rec.Tag != tag || int(rec.Length) != n || !bytes.Equal(rec.Value, value) {
				t.Errorf("round trip of tag 0x%02X with %d bytes gave %s", tag, n, rec)
			}
		}
	}
}

func TestDecodeAll(t *testing.T) {
	frame := Concat(
		MustEncode(0x06, Hex("01 02 03 04 05 06")),
		MustEncode(0x0A, Hex("AA BB")),
	)

	got, err := DecodeAll(frame)
	if err != nil {
		t.Fatalf("DecodeAll() failed: %v", err)
	}

	want := []Record{
		{Tag: 0x06, Length: 6, Value: Hex("01 02 03 04 05 06")},
		{Tag: 0x0A, Length: 2, Value: Hex("AA BB")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeAll() mismatch (-want +got):\n%s", diff)
	}

	sig, ok := Find(got, 0x0A)
	if !ok || !bytes.Equal(sig.Value, Hex("AA BB")) {
		t.Errorf("Find(0x0A) = %s, %v", sig, ok)
	}
	if _, ok := Find(got, 0x0B); ok {
		t.Error("Find(0x0B) should miss")
	}
}

func TestDecodeAll_Truncated(t *testing.T) {
	_, err := DecodeAll(Hex("06 01 01 0A 05 AA"))
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("DecodeAll() error = %v, want ErrTruncated", err)
	}
}
