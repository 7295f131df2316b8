// Package tlv implements the simple TLV framing spoken by the wallet applet.
//
// Every field on the wire is one record: a 1-byte tag, a 1-byte length, and
// up to 255 bytes of value. Records are concatenated without padding.
package tlv

import (
	"errors"
	"fmt"
)

// MaxValueLen is the largest value a single record can carry.
const MaxValueLen = 255

var (
	// ErrValueTooLong is returned when a value does not fit a 1-byte length.
	ErrValueTooLong = errors.New("tlv: value longer than 255 bytes")

	// ErrShortHeader is returned when the input holds a tag but no length byte.
	ErrShortHeader = errors.New("tlv: missing length byte")

	// ErrTruncated is returned when the declared length exceeds the remaining bytes.
	ErrTruncated = errors.New("tlv: value shorter than declared length")
)

// Record is one decoded tag/length/value unit.
type Record struct {
	Tag    byte
	Length byte
	Value  []byte

	// Trailing holds the bytes that followed the declared value, if any.
	Trailing []byte
}

// IsZero reports whether r is the empty record produced by decoding no input.
func (r Record) IsZero() bool {
	return r.Tag == 0 && r.Length == 0 && len(r.Value) == 0 && len(r.Trailing) == 0
}

// Encode produces tag || len(value) || value.
func Encode(tag byte, value []byte) ([]byte, error) {
	if len(value) > MaxValueLen {
		return nil, fmt.Errorf("%w: tag 0x%02X has %d bytes", ErrValueTooLong, tag, len(value))
	}
	out := make([]byte, 0, 2+len(value))
	out = append(out, tag, byte(len(value)))
	return append(out, value...), nil
}

// MustEncode is like Encode but panics on oversized values.
// It is meant for frames whose size is fixed by construction.
func MustEncode(tag byte, value []byte) []byte {
	out, err := Encode(tag, value)
	if err != nil {
		panic(err)
	}
	return out
}

// Decode reads the first record of b.
//
// Empty input yields a zero Record and no error. A declared length that runs
// past the end of b is rejected; bytes after the declared value are kept in
// Record.Trailing.
func Decode(b []byte) (Record, error) {
	if len(b) == 0 {
		return Record{}, nil
	}
	if len(b) < 2 {
		return Record{}, fmt.Errorf("%w: tag 0x%02X", ErrShortHeader, b[0])
	}

	tag, length := b[0], b[1]
	end := 2 + int(length)
	if end > len(b) {
		return Record{}, fmt.Errorf("%w: tag 0x%02X declares %d bytes, %d available",
			ErrTruncated, tag, length, len(b)-2)
	}

	rec := Record{
		Tag:    tag,
		Length: length,
		Value:  append([]byte(nil), b[2:end]...),
	}
	if end < len(b) {
		rec.Trailing = append([]byte(nil), b[end:]...)
	}
	return rec, nil
}

// DecodeAll reads consecutive records until b is exhausted.
func DecodeAll(b []byte) ([]Record, error) {
	var out []Record
	for len(b) > 0 {
		rec, err := Decode(b)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}
		b = rec.Trailing
		rec.Trailing = nil
		out = append(out, rec)
	}
	return out, nil
}

// Find returns the first record with the given tag.
func Find(records []Record, tag byte) (Record, bool) {
	for _, r := range records {
		if r.Tag == tag {
			return r, true
		}
	}
	return Record{}, false
}

// Concat joins already encoded records into one frame.
func Concat(frames ...[]byte) []byte {
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
