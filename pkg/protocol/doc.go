// Package protocol implements the datagram wire format used to stream pixel
// matrices and spectrum data to display clients.
//
// Every datagram is one Packet: a fixed 12-byte header followed by at most
// 65535 payload bytes. Packets are sized to stay under a 1472-byte path MTU;
// larger logical messages are split by package fragment.
//
// # Wire Format
//
//	┌──────┬───────┬──────────┬─────────────┬────────────────┬─────────────┐
//	│ Type │ Flags │ Sequence │ Fragment ID │ Fragment Count │ Payload Len │
//	│ u8   │ u8    │ u32      │ u16         │ u16            │ u16         │
//	└──────┴───────┴──────────┴─────────────┴────────────────┴─────────────┘
//
// All integers are big-endian.
//
// # Packet Types
//
//   - TypeConnect (0x01), TypeDisconnect (0x02): session lifecycle
//   - TypePing (0x03), TypePong (0x04): keep-alive
//   - TypeAck (0x05): acknowledges a sequence number
//   - TypeCommand (0x10): client → producer control
//   - TypeFrameData (0x20), TypeFrameDataCompressed (0x21): full matrix
//   - TypeSpectrumData (0x30): spectrum magnitudes
//   - TypeDifferential (0x40): changed pixels since the previous update
//
// # Flags
//
//   - FlagCompressed (0x01)
//   - FlagFragmented (0x02)
//   - FlagLastFragment (0x04)
//   - FlagRequiresAck (0x08)
//
// # Errors
//
// Decode rejects short headers, length mismatches, unknown types and invalid
// fragment numbering with ErrMalformedPacket. Typed payload decoders return
// ErrMalformedPayload. Neither is fatal: the datagram is simply dropped.
//
// # Usage Example
//
//	fd := &FrameData{
//	    Geometry: Geometry{Width: 16, Height: 16, Format: FormatRGB},
//	    Pixels:   pixels,
//	}
//	pkt := NewPacket(TypeFrameData, seq, EncodeFrameData(fd))
//	data, err := pkt.Encode()
//
//	decoded, err := Decode(data)
//	if errors.Is(err, ErrMalformedPacket) {
//	    // drop
//	}
package protocol
