// Package wireformat implements the length-prefixed big-endian binary
// encoding used uniformly across MLS structures: signed content, key
// packages, leaf nodes, and update paths (RFC 9420 §1.3's TLS
// presentation language). Struct-level encoding is delegated to
// github.com/cisco/go-tls-syntax, which drives itself off `tls:"..."`
// struct tags (`head=N` for a length-prefixed field, `optional` for a
// presence-prefixed field, `omit` to skip a field entirely). The
// primitives below cover the cases call sites need before or instead of
// a full struct marshal: raw fixed-width integers and explicit
// length-prefixed byte strings, as used by package mls's hand-written
// tree encoding and its tagged-union MarshalTLS/UnmarshalTLS methods.
package wireformat

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cisco/go-tls-syntax"
)

// ErrMalformed is returned for truncated input, an over-length prefix
// that doesn't fit the remaining buffer, or trailing garbage after a
// decode that was expected to consume the whole buffer.
var ErrMalformed = errors.New("wireformat: malformed encoding")

// PrefixWidth is the width, in bytes, of a variable-length field's size
// prefix.
type PrefixWidth int

const (
	Prefix8  PrefixWidth = 1
	Prefix16 PrefixWidth = 2
	Prefix32 PrefixWidth = 4
)

// Writer accumulates an encoded byte stream. It mirrors the teacher's
// WriteStream but additionally exposes raw fixed-width and
// length-prefixed primitives for code that isn't encoding a tagged
// struct.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte { return w.buf }

// Marshal appends the tls-syntax encoding of val.
func (w *Writer) Marshal(val interface{}) error {
	enc, err := syntax.Marshal(val)
	if err != nil {
		return err
	}
	w.buf = append(w.buf, enc...)
	return nil
}

// MarshalAll marshals each value in order.
func (w *Writer) MarshalAll(vals ...interface{}) error {
	for _, v := range vals {
		if err := w.Marshal(v); err != nil {
			return err
		}
	}
	return nil
}

// Raw appends b without any length prefix.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Uint8 appends a single byte.
func (w *Writer) Uint8(v uint8) { w.buf = append(w.buf, v) }

// Uint16 appends a big-endian uint16.
func (w *Writer) Uint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Uint32 appends a big-endian uint32.
func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Uint64 appends a big-endian uint64.
func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// VarBytes appends a length-prefixed byte string, the prefix being
// `width` bytes wide. Fails if len(data) overflows the prefix width.
func (w *Writer) VarBytes(width PrefixWidth, data []byte) error {
	n := uint64(len(data))
	switch width {
	case Prefix8:
		if n > 0xff {
			return fmt.Errorf("%w: %d bytes overflows a u8 length prefix", ErrMalformed, n)
		}
		w.Uint8(uint8(n))
	case Prefix16:
		if n > 0xffff {
			return fmt.Errorf("%w: %d bytes overflows a u16 length prefix", ErrMalformed, n)
		}
		w.Uint16(uint16(n))
	case Prefix32:
		if n > 0xffffffff {
			return fmt.Errorf("%w: %d bytes overflows a u32 length prefix", ErrMalformed, n)
		}
		w.Uint32(uint32(n))
	default:
		return fmt.Errorf("%w: unsupported prefix width %d", ErrMalformed, width)
	}
	w.Raw(data)
	return nil
}

// Reader consumes an encoded byte stream produced by Writer.
type Reader struct {
	buf    []byte
	cursor int
}

// NewReader wraps data for sequential decoding.
func NewReader(data []byte) *Reader { return &Reader{buf: data} }

// Consumed returns the number of bytes read so far.
func (r *Reader) Consumed() int { return r.cursor }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.cursor }

// AtEnd reports whether every byte has been consumed; callers use this
// to reject trailing-garbage encodings.
func (r *Reader) AtEnd() bool { return r.cursor == len(r.buf) }

// Unmarshal decodes a tls-syntax struct starting at the cursor.
func (r *Reader) Unmarshal(val interface{}) error {
	n, err := syntax.Unmarshal(r.buf[r.cursor:], val)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	r.cursor += n
	return nil
}

// UnmarshalAll decodes each value in order.
func (r *Reader) UnmarshalAll(vals ...interface{}) error {
	for _, v := range vals {
		if err := r.Unmarshal(v); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrMalformed, n, r.Remaining())
	}
	return nil
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.cursor]
	r.cursor++
	return v, nil
}

// Uint16 reads a big-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.cursor:])
	r.cursor += 2
	return v, nil
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.cursor:])
	r.cursor += 4
	return v, nil
}

// Uint64 reads a big-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.cursor:])
	r.cursor += 8
	return v, nil
}

// VarBytes reads a length-prefixed byte string whose prefix is `width`
// bytes wide, returning a fresh copy of the payload.
func (r *Reader) VarBytes(width PrefixWidth) ([]byte, error) {
	var n uint64
	switch width {
	case Prefix8:
		v, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		n = uint64(v)
	case Prefix16:
		v, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		n = uint64(v)
	case Prefix32:
		v, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		n = uint64(v)
	default:
		return nil, fmt.Errorf("%w: unsupported prefix width %d", ErrMalformed, width)
	}

	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.cursor:r.cursor+int(n)])
	r.cursor += int(n)
	return out, nil
}

// Marshal is a one-shot convenience wrapper around Writer.Marshal.
func Marshal(val interface{}) ([]byte, error) {
	w := NewWriter()
	if err := w.Marshal(val); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Unmarshal is a one-shot convenience wrapper that also rejects trailing
// garbage: it fails unless val consumes the entire buffer.
func Unmarshal(data []byte, val interface{}) error {
	r := NewReader(data)
	if err := r.Unmarshal(val); err != nil {
		return err
	}
	if !r.AtEnd() {
		return fmt.Errorf("%w: %d trailing bytes after decode", ErrMalformed, r.Remaining())
	}
	return nil
}
