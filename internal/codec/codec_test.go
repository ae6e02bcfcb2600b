package codec

import (
	"errors"
	"testing"
)

func TestWriterReader_Layout(t *testing.T) {
	w := NewWriter(0)
	w.U8(3)
	w.U16(0x0102)
	w.U32(7)
	w.U64(1 << 40)
	w.Bool(true)
	w.String("hi")
	w.Bytes([]byte{9})
	var k [KeySize]byte
	k[0] = 0xaa
	w.Key(k)

	want := 1 + 2 + 4 + 8 + 1 + StringSize("hi") + BytesSize([]byte{9}) + KeySize
	if w.Len() != want {
		t.Fatalf("len=%d want %d", w.Len(), want)
	}
	b := w.Data()
	if b[1] != 0x02 || b[2] != 0x01 {
		t.Fatalf("u16 not little endian: % x", b[1:3])
	}

	r := NewReader(b)
	if r.U8() != 3 || r.U16() != 0x0102 || r.U32() != 7 || r.U64() != 1<<40 || !r.Bool() {
		t.Fatalf("scalar mismatch")
	}
	if r.String() != "hi" {
		t.Fatalf("string mismatch")
	}
	if got := r.Bytes(); len(got) != 1 || got[0] != 9 {
		t.Fatalf("bytes mismatch: %v", got)
	}
	if r.Key() != k {
		t.Fatalf("key mismatch")
	}
	if err := r.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
}

func TestReader_StickyShortBuffer(t *testing.T) {
	r := NewReader([]byte{1, 0})
	_ = r.U32()
	_ = r.U8()
	if !errors.Is(r.Err(), ErrShortBuffer) {
		t.Fatalf("err=%v", r.Err())
	}
	if r.U8() != 0 {
		t.Fatalf("reads after failure must return zero")
	}
}

func TestReader_RejectsBadBoolAndTrailing(t *testing.T) {
	r := NewReader([]byte{2})
	_ = r.Bool()
	if r.Err() == nil {
		t.Fatalf("expected bad bool rejected")
	}
	r = NewReader([]byte{1, 5})
	_ = r.U8()
	if !errors.Is(r.Finish(), ErrTrailingBytes) {
		t.Fatalf("expected trailing bytes error")
	}
}

func TestReader_Discriminator(t *testing.T) {
	w := NewWriter(0)
	d := Discriminator("account:Post")
	w.Fixed(d[:])
	r := NewReader(w.Data())
	r.Expect(d)
	if err := r.Finish(); err != nil {
		t.Fatalf("expect: %v", err)
	}
	r = NewReader(w.Data())
	r.Expect(Discriminator("account:Postbox"))
	if r.Err() == nil {
		t.Fatalf("expected mismatch")
	}
}
