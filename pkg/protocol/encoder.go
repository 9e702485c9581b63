package protocol

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Encoder appends big-endian fields to a reusable buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with room for one full datagram.
func NewEncoder() *Encoder { return NewEncoderWithCap(MaxPacketSize) }

// NewEncoderWithCap returns an Encoder with the given initial capacity.
func NewEncoderWithCap(n int) *Encoder { return &Encoder{buf: make([]byte, 0, n)} }

// Reset empties the buffer and keeps its capacity.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Bytes returns the encoded bytes. They alias the buffer until the next
// Reset.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the encoded length.
func (e *Encoder) Len() int { return len(e.buf) }

// WriteByte appends b. It never fails, so it does not follow io.ByteWriter.
func (e *Encoder) WriteByte(b byte) { e.buf = append(e.buf, b) }

// WriteBytes appends b verbatim.
func (e *Encoder) WriteBytes(b []byte) { e.buf = append(e.buf, b...) }

func (e *Encoder) WriteUint16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *Encoder) WriteUint32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *Encoder) WriteUint64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

// WriteFloat32 appends the IEEE 754 bits of v.
func (e *Encoder) WriteFloat32(v float32) { e.WriteUint32(math.Float32bits(v)) }

// WriteString16 appends len(s) as a u16 followed by s. Strings longer than
// 65535 bytes are cut at the last rune boundary that fits.
func (e *Encoder) WriteString16(s string) {
	if len(s) > math.MaxUint16 {
		n := math.MaxUint16
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	e.WriteUint16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}
