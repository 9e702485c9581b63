package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Decoder reads big-endian fields from a byte slice. Slices it returns
// alias the input.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder returns a Decoder positioned at the start of buf.
func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

// take consumes n bytes or reports how far the read overran.
func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || n > d.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			io.ErrUnexpectedEOF, n, d.off, d.Remaining())
	}
	b := d.buf[d.off : d.off+n : d.off+n]
	d.off += n
	return b, nil
}

// ReadByte consumes one byte.
func (d *Decoder) ReadByte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBytes consumes exactly n bytes.
func (d *Decoder) ReadBytes(n int) ([]byte, error) { return d.take(n) }

// Rest consumes everything left.
func (d *Decoder) Rest() []byte {
	b, _ := d.take(d.Remaining())
	return b
}

func (d *Decoder) ReadUint16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *Decoder) ReadUint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) ReadUint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadFloat32 reads IEEE 754 bits.
func (d *Decoder) ReadFloat32() (float32, error) {
	v, err := d.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadString16 reads a u16 length and that many bytes.
func (d *Decoder) ReadString16() (string, error) {
	n, err := d.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	return string(b), err
}
