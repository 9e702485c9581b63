package protocol

import "unicode/utf8"

// Ack acknowledges a packet that carried FlagRequiresAck, or a Connect.
//
// Wire format: [Sequence: u32]
type Ack struct {
	Sequence uint32 // Sequence number being acknowledged
}

// EncodeAck encodes an Ack payload.
func EncodeAck(ack *Ack) []byte {
	e := NewEncoderWithCap(4)
	e.WriteUint32(ack.Sequence)
	return e.Bytes()
}

// DecodeAck decodes an Ack payload.
func DecodeAck(data []byte) (*Ack, error) {
	d := NewDecoder(data)
	seq, err := d.ReadUint32()
	if err != nil {
		return nil, badPayload("ack sequence", err)
	}
	return &Ack{Sequence: seq}, nil
}

// PingPong is the payload for Ping and Pong packets. A Pong echoes the
// timestamp of the Ping it answers so the sender can measure round trip time.
//
// Wire format: [Timestamp: u64, unix milliseconds]
type PingPong struct {
	Timestamp uint64
}

// EncodePingPong encodes a Ping or Pong payload.
func EncodePingPong(pp *PingPong) []byte {
	e := NewEncoderWithCap(8)
	e.WriteUint64(pp.Timestamp)
	return e.Bytes()
}

// DecodePingPong decodes a Ping or Pong payload. An empty payload decodes
// to a zero timestamp so bare keep-alives stay valid.
func DecodePingPong(data []byte) (*PingPong, error) {
	if len(data) == 0 {
		return &PingPong{}, nil
	}
	d := NewDecoder(data)
	ts, err := d.ReadUint64()
	if err != nil {
		return nil, badPayload("ping timestamp", err)
	}
	return &PingPong{Timestamp: ts}, nil
}

// Connect is the optional payload of a Connect packet.
//
// Wire format: [ClientName: UTF-8, rest of payload]
type Connect struct {
	ClientName string
}

// EncodeConnect encodes a Connect payload.
func EncodeConnect(c *Connect) []byte {
	return []byte(c.ClientName)
}

// DecodeConnect decodes a Connect payload.
func DecodeConnect(data []byte) (*Connect, error) {
	if !utf8.Valid(data) {
		return nil, badPayload("client name is not UTF-8", nil)
	}
	return &Connect{ClientName: string(data)}, nil
}
