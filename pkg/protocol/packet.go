package protocol

import (
	"fmt"
	"math"
)

// Packet constants.
const (
	// HeaderSize is the size of the packet header in bytes.
	HeaderSize = 12

	// MaxPacketSize is the largest datagram that crosses a 1500-byte MTU path
	// without IP fragmentation (1500 - 20 IPv4 - 8 UDP).
	MaxPacketSize = 1472

	// MaxPayloadSize is the largest payload that fits in one packet.
	MaxPayloadSize = MaxPacketSize - HeaderSize

	// MaxWirePayload is the largest payload the 16-bit length field can describe.
	MaxWirePayload = math.MaxUint16
)

// Type identifies the kind of packet.
type Type uint8

const (
	TypeConnect             Type = 0x01 // Client registers with the server
	TypeDisconnect          Type = 0x02 // Client leaves
	TypePing                Type = 0x03 // Keep-alive probe
	TypePong                Type = 0x04 // Keep-alive reply
	TypeAck                 Type = 0x05 // Acknowledges a sequence number
	TypeCommand             Type = 0x10 // Client → producer control
	TypeFrameData           Type = 0x20 // Full pixel matrix
	TypeFrameDataCompressed Type = 0x21 // Full pixel matrix, compressed
	TypeSpectrumData        Type = 0x30 // Spectrum magnitudes
	TypeDifferential        Type = 0x40 // Changed pixels only
)

// String returns the string representation of the packet type.
func (t Type) String() string {
	switch t {
	case TypeConnect:
		return "Connect"
	case TypeDisconnect:
		return "Disconnect"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	case TypeAck:
		return "Ack"
	case TypeCommand:
		return "Command"
	case TypeFrameData:
		return "FrameData"
	case TypeFrameDataCompressed:
		return "FrameDataCompressed"
	case TypeSpectrumData:
		return "SpectrumData"
	case TypeDifferential:
		return "Differential"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is a recognized packet type.
func (t Type) Valid() bool {
	return t.String() != "Unknown"
}

// IsState reports whether t carries producer state (server → client only).
func (t Type) IsState() bool {
	switch t {
	case TypeFrameData, TypeFrameDataCompressed, TypeSpectrumData, TypeDifferential:
		return true
	}
	return false
}

// Flags are per-packet bits.
type Flags uint8

const (
	FlagCompressed   Flags = 0x01 // Payload is compressed
	FlagFragmented   Flags = 0x02 // Packet is one fragment of a larger message
	FlagLastFragment Flags = 0x04 // Final fragment of a message
	FlagRequiresAck  Flags = 0x08 // Receiver should answer with an Ack
)

// FragmentBits are the flags owned by fragmentation.
const FragmentBits = FlagFragmented | FlagLastFragment

// Has returns true if the flags contain the specified flag.
func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

// String lists the set flags, e.g. "COMPRESSED|FRAGMENTED".
func (f Flags) String() string {
	if f == 0 {
		return "-"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f.Has(FlagCompressed) {
		add("COMPRESSED")
	}
	if f.Has(FlagFragmented) {
		add("FRAGMENTED")
	}
	if f.Has(FlagLastFragment) {
		add("LAST_FRAGMENT")
	}
	if f.Has(FlagRequiresAck) {
		add("REQUIRES_ACK")
	}
	if rest := f &^ (FlagCompressed | FlagFragmented | FlagLastFragment | FlagRequiresAck); rest != 0 {
		add(fmt.Sprintf("0x%02x", uint8(rest)))
	}
	return s
}

// Packet is the wire unit.
//
// Wire format (12 bytes header + variable payload, big-endian):
//
//	┌──────┬───────┬──────────────┬─────────────┬────────────────┬─────────────┐
//	│ Type │ Flags │ Sequence     │ Fragment ID │ Fragment Count │ Payload Len │
//	│ u8   │ u8    │ u32          │ u16         │ u16            │ u16         │
//	└──────┴───────┴──────────────┴─────────────┴────────────────┴─────────────┘
//	│  Payload (Payload Len bytes)                                             │
//	└──────────────────────────────────────────────────────────────────────────┘
type Packet struct {
	Type          Type
	Flags         Flags
	Sequence      uint32
	FragmentID    uint16
	FragmentCount uint16
	Payload       []byte
}

// NewPacket creates an unfragmented packet.
func NewPacket(t Type, seq uint32, payload []byte) *Packet {
	return &Packet{
		Type:          t,
		Sequence:      seq,
		FragmentCount: 1,
		Payload:       payload,
	}
}

// Size returns the encoded size of the packet.
func (p *Packet) Size() int {
	return HeaderSize + len(p.Payload)
}

// Encode encodes the packet including the header.
func (p *Packet) Encode() ([]byte, error) {
	e := NewEncoderWithCap(p.Size())
	if err := p.EncodeTo(e); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeTo appends the packet to e.
func (p *Packet) EncodeTo(e *Encoder) error {
	if len(p.Payload) > MaxWirePayload {
		return ErrPayloadTooLarge
	}
	count := p.FragmentCount
	if count == 0 {
		count = 1
	}
	e.WriteByte(byte(p.Type))
	e.WriteByte(byte(p.Flags))
	e.WriteUint32(p.Sequence)
	e.WriteUint16(p.FragmentID)
	e.WriteUint16(count)
	e.WriteUint16(uint16(len(p.Payload)))
	e.WriteBytes(p.Payload)
	return nil
}

// Decode decodes one datagram. The payload is copied so data may be reused.
// Any framing problem is reported as ErrMalformedPacket.
func Decode(data []byte) (*Packet, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if remaining := len(data) - HeaderSize; remaining != h.PayloadLen {
		return nil, malformed("payload length %d, %d bytes remain", h.PayloadLen, remaining)
	}
	payload := make([]byte, h.PayloadLen)
	copy(payload, data[HeaderSize:])

	return &Packet{
		Type:          h.Type,
		Flags:         h.Flags,
		Sequence:      h.Sequence,
		FragmentID:    h.FragmentID,
		FragmentCount: h.FragmentCount,
		Payload:       payload,
	}, nil
}

// Header is the decoded fixed header of a packet.
type Header struct {
	Type          Type
	Flags         Flags
	Sequence      uint32
	FragmentID    uint16
	FragmentCount uint16
	PayloadLen    int
}

// DecodeHeader decodes and validates just the header.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, malformed("short header: %d bytes", len(data))
	}
	d := NewDecoder(data[:HeaderSize])
	tb, _ := d.ReadByte()
	fb, _ := d.ReadByte()
	seq, _ := d.ReadUint32()
	id, _ := d.ReadUint16()
	count, _ := d.ReadUint16()
	length, _ := d.ReadUint16()

	h := Header{
		Type:          Type(tb),
		Flags:         Flags(fb),
		Sequence:      seq,
		FragmentID:    id,
		FragmentCount: count,
		PayloadLen:    int(length),
	}
	if !h.Type.Valid() {
		return Header{}, malformed("unknown type 0x%02x", tb)
	}
	if h.FragmentCount == 0 {
		return Header{}, malformed("fragment count is zero")
	}
	if h.FragmentID >= h.FragmentCount {
		return Header{}, malformed("fragment id %d >= count %d", h.FragmentID, h.FragmentCount)
	}
	return h, nil
}

// Fragmented reports whether the packet is part of a multi-fragment message.
func (p *Packet) Fragmented() bool {
	return p.Flags.Has(FlagFragmented) || p.FragmentCount > 1
}

// String returns a one-line summary of the packet header.
func (p *Packet) String() string {
	return fmt.Sprintf("%s seq=%d frag=%d/%d flags=%s len=%d",
		p.Type, p.Sequence, p.FragmentID, p.FragmentCount, p.Flags, len(p.Payload))
}
