// Package codec implements the little-endian, discriminant-then-payload
// record encoding: u8 tags, u32 length prefixes for strings and vectors,
// raw 32-byte keys and a one-byte presence flag for optional fields.
package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortBuffer   = errors.New("codec: short buffer")
	ErrTrailingBytes = errors.New("codec: trailing bytes")
)

const (
	KeySize           = 32
	DiscriminatorSize = 8
	MaxLen            = 1 << 20
)

// Discriminator returns the 8-byte record type prefix for name.
func Discriminator(name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte(name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// Size helpers.
func StringSize(s string) int  { return 4 + len(s) }
func BytesSize(b []byte) int   { return 4 + len(b) }
func OptionSize(inner int) int { return 1 + inner }

type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer { return &Writer{buf: make([]byte, 0, capacity)} }

func (w *Writer) Data() []byte { return w.buf }
func (w *Writer) Len() int     { return len(w.buf) }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

func (w *Writer) U16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) U64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *Writer) Fixed(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) Key(k [KeySize]byte) { w.buf = append(w.buf, k[:]...) }

func (w *Writer) Bytes(b []byte) {
	w.U32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) String(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader decodes with a sticky error: after the first failure every read
// returns the zero value and Err reports the failure.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Fail records err unless an earlier error is already set.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d at offset %d, have %d", ErrShortBuffer, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool {
	switch v := r.U8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.Fail(fmt.Errorf("codec: invalid bool byte %d", v))
		return false
	}
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) Key() [KeySize]byte {
	var k [KeySize]byte
	copy(k[:], r.take(KeySize))
	return k
}

func (r *Reader) Fixed(n int) []byte {
	return append([]byte(nil), r.take(n)...)
}

// Len reads a u32 length prefix and bounds it by MaxLen.
func (r *Reader) Len() int {
	n := r.U32()
	if n > MaxLen {
		r.Fail(fmt.Errorf("codec: length %d exceeds limit", n))
		return 0
	}
	return int(n)
}

func (r *Reader) Bytes() []byte {
	n := r.Len()
	return append([]byte{}, r.take(n)...)
}

func (r *Reader) String() string {
	n := r.Len()
	return string(r.take(n))
}

// Expect consumes a discriminator and fails when it differs.
func (r *Reader) Expect(d [DiscriminatorSize]byte) {
	got := r.take(DiscriminatorSize)
	if got == nil {
		return
	}
	if [DiscriminatorSize]byte(got) != d {
		r.Fail(fmt.Errorf("codec: discriminator mismatch"))
	}
}

// Finish reports the sticky error, or ErrTrailingBytes when input remains.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, r.Remaining())
	}
	return nil
}
