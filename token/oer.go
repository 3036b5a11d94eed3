package token

import (
	"encoding/binary"
	"errors"
	"math/big"
)

var (
	errShortBuffer  = errors.New("unexpected end of data")
	errNonCanonical = errors.New("non-canonical encoding")
	errOverflow     = errors.New("integer overflows field")
)

// oerWriter appends OER-style fields to a byte slice.
type oerWriter struct {
	buf []byte
}

func (w *oerWriter) bytes() []byte {
	return w.buf
}

func (w *oerWriter) writeByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *oerWriter) write(p []byte) {
	w.buf = append(w.buf, p...)
}

// writeLength emits a length determinant: short form below 128, otherwise
// 0x80|n followed by n big-endian length bytes.
func (w *oerWriter) writeLength(n int) {
	if n < 0x80 {
		w.buf = append(w.buf, byte(n))
		return
	}
	be := minimalUint(uint64(n))
	w.buf = append(w.buf, 0x80|byte(len(be)))
	w.buf = append(w.buf, be...)
}

func (w *oerWriter) writeVarBytes(p []byte) {
	w.writeLength(len(p))
	w.write(p)
}

func (w *oerWriter) writeVarUint(v uint64) {
	w.writeVarBytes(minimalUint(v))
}

func (w *oerWriter) writeVarBigUint(v *big.Int) {
	magnitude := v.Bytes()
	if len(magnitude) == 0 {
		magnitude = []byte{0}
	}
	w.writeVarBytes(magnitude)
}

func minimalUint(v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	i := 0
	for i < len(tmp)-1 && tmp[i] == 0 {
		i++
	}
	return tmp[i:]
}

// oerReader consumes OER-style fields. Slices it returns alias the input.
type oerReader struct {
	data []byte
	off  int
}

func newOERReader(data []byte) *oerReader {
	return &oerReader{data: data}
}

func (r *oerReader) remaining() int {
	return len(r.data) - r.off
}

func (r *oerReader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, errShortBuffer
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *oerReader) read(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, errShortBuffer
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *oerReader) readLength() (int, error) {
	first, err := r.readByte()
	if err != nil {
		return 0, err
	}
	if first < 0x80 {
		return int(first), nil
	}

	size := int(first & 0x7f)
	if size == 0 || size > 8 {
		return 0, errNonCanonical
	}
	raw, err := r.read(size)
	if err != nil {
		return 0, err
	}
	if raw[0] == 0 {
		return 0, errNonCanonical
	}

	var n uint64
	for _, b := range raw {
		n = n<<8 | uint64(b)
	}
	if n < 0x80 {
		return 0, errNonCanonical
	}
	if n > uint64(r.remaining()) {
		return 0, errShortBuffer
	}
	return int(n), nil
}

func (r *oerReader) readVarBytes() ([]byte, error) {
	n, err := r.readLength()
	if err != nil {
		return nil, err
	}
	return r.read(n)
}

func (r *oerReader) readMagnitude() ([]byte, error) {
	raw, err := r.readVarBytes()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errNonCanonical
	}
	if len(raw) > 1 && raw[0] == 0 {
		return nil, errNonCanonical
	}
	return raw, nil
}

func (r *oerReader) readVarUint() (uint64, error) {
	raw, err := r.readMagnitude()
	if err != nil {
		return 0, err
	}
	if len(raw) > 8 {
		return 0, errOverflow
	}
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func (r *oerReader) readVarBigUint() (*big.Int, error) {
	raw, err := r.readMagnitude()
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}
