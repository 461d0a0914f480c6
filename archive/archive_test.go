package archive

import (
	"bytes"
	"testing"
)

func TestPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.WriteU8(0xAB)
	w.WriteU16(0x1234)
	w.WriteU32(0xDEADBEEF)
	w.WriteU64(0x0123456789ABCDEF)
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteFixed([]byte{1, 2, 3, 4})
	w.WriteBytes([]byte("hello"))
	w.WriteString("synnergy")

	r := NewReader(w.Bytes())

	if v, err := r.ReadU8(); err != nil || v != 0xAB {
		t.Fatalf("ReadU8 = %x, %v", v, err)
	}
	if v, err := r.ReadU16(); err != nil || v != 0x1234 {
		t.Fatalf("ReadU16 = %x, %v", v, err)
	}
	if v, err := r.ReadU32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("ReadU32 = %x, %v", v, err)
	}
	if v, err := r.ReadU64(); err != nil || v != 0x0123456789ABCDEF {
		t.Fatalf("ReadU64 = %x, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != true {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != false {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if fixed, err := r.ReadFixed(4); err != nil || !bytes.Equal(fixed, []byte{1, 2, 3, 4}) {
		t.Fatalf("ReadFixed = %v, %v", fixed, err)
	}
	if b, err := r.ReadBytes(); err != nil || string(b) != "hello" {
		t.Fatalf("ReadBytes = %q, %v", b, err)
	}
	if s, err := r.ReadString(); err != nil || s != "synnergy" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	if err := r.Done(); err != nil {
		t.Fatalf("Done() = %v, want nil", err)
	}
}

func TestTruncated(t *testing.T) {
	w := NewWriter(0)
	w.WriteU32(10)
	w.WriteFixed([]byte("short")) // declares 10 bytes but only 5 follow

	r := NewReader(w.Bytes())
	if _, err := r.ReadBytes(); err == nil {
		t.Fatalf("expected truncation error")
	}
}

func TestTrailingGarbage(t *testing.T) {
	w := NewWriter(0)
	w.WriteU8(1)
	w.WriteU8(2)

	r := NewReader(w.Bytes())
	if _, err := r.ReadU8(); err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	if err := r.Done(); err == nil {
		t.Fatalf("expected trailing garbage error")
	}
}

func TestLengthOverflowRejected(t *testing.T) {
	w := NewWriter(0)
	w.WriteU32(1 << 31) // huge declared length, no actual payload

	r := NewReader(w.Bytes())
	if _, err := r.ReadBytes(); err == nil {
		t.Fatalf("expected length overflow error")
	}
}

type encodableU32 uint32

func (e encodableU32) Encode(w *Writer) { w.WriteU32(uint32(e)) }

func TestWriteSeqAndReadCount(t *testing.T) {
	w := NewWriter(0)
	WriteSeq(w, []encodableU32{1, 2, 3})

	r := NewReader(w.Bytes())
	n, err := r.ReadCount()
	if err != nil || n != 3 {
		t.Fatalf("ReadCount = %d, %v", n, err)
	}
	for i := uint32(0); i < n; i++ {
		v, err := r.ReadU32()
		if err != nil || v != i+1 {
			t.Fatalf("element %d = %d, %v", i, v, err)
		}
	}
}
