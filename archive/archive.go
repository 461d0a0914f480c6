// Package archive implements the self-describing-free, length-prefixed
// binary encoding shared by every wire and on-disk value in synnergy-core.
// It follows the fixed-width, no-varint, length-prefixed convention used by
// classic UTXO-chain wire formats rather than leaning on RLP/JSON for ad
// hoc persistence.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers branch on these with errors.Is.
var (
	ErrTruncated       = errors.New("archive: truncated")
	ErrTrailingGarbage = errors.New("archive: trailing garbage")
	ErrUnknownVariant  = errors.New("archive: unknown variant")
	ErrDuplicateInSet  = errors.New("archive: duplicate element in set")
	ErrLengthOverflow  = errors.New("archive: length prefix exceeds remaining buffer")
)

// maxLen bounds any single length-prefixed read, independent of remaining
// buffer size, so a corrupt 32-bit length field cannot drive an attempted
// allocation of several gigabytes.
const maxLen = 64 << 20

// Writer accumulates a growable output buffer. The zero value is ready to
// use.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity preallocated for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the accumulated buffer. The caller must not mutate it.
func (w *Writer) Bytes() []byte { return w.buf }

// Len reports the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// WriteU8 appends a single byte.
func (w *Writer) WriteU8(v uint8) { w.buf = append(w.buf, v) }

// WriteU16 appends v as fixed-width little-endian.
func (w *Writer) WriteU16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// WriteU32 appends v as fixed-width little-endian.
func (w *Writer) WriteU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// WriteU64 appends v as fixed-width little-endian.
func (w *Writer) WriteU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// WriteBool appends a single boolean byte.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

// WriteFixed appends raw bytes with no length prefix. Used for fixed-size
// arrays such as addresses, hashes and signatures.
func (w *Writer) WriteFixed(b []byte) { w.buf = append(w.buf, b...) }

// WriteBytes appends a u32 length prefix followed by b.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString appends a u32 length prefix followed by the string's bytes.
func (w *Writer) WriteString(s string) { w.WriteBytes([]byte(s)) }

// Encoder is implemented by every domain type that can serialize itself.
type Encoder interface {
	Encode(w *Writer)
}

// WriteSeq writes a u32 count followed by each element's encoding, in
// iteration order.
func WriteSeq[T Encoder](w *Writer, items []T) {
	w.WriteU32(uint32(len(items)))
	for _, it := range items {
		it.Encode(w)
	}
}

// Reader wraps an immutable byte buffer with a read cursor.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for reading. b is not copied; the caller must not mutate
// it while the Reader is in use.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Done returns an error unless the cursor has consumed the entire buffer.
// Callers that expect to fully consume an archive call this after decoding.
func (r *Reader) Done() error {
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %d byte(s) left", ErrTrailingGarbage, r.Remaining())
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > maxLen {
		return nil, ErrLengthOverflow
	}
	if n > r.Remaining() {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadU8 reads a single byte.
func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a fixed-width little-endian u16.
func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads a fixed-width little-endian u32.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads a fixed-width little-endian u64.
func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadBool reads a single boolean byte.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadFixed reads exactly n raw bytes with no length prefix, copying them
// into a freshly allocated slice so the result outlives the reader's buffer.
func (r *Reader) ReadFixed(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadBytes reads a u32 length prefix followed by that many bytes.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	return r.ReadFixed(int(n))
}

// ReadString reads a u32-length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadCount reads the u32 sequence-count prefix shared by WriteSeq and
// set encodings.
func (r *Reader) ReadCount() (uint32, error) { return r.ReadU32() }
