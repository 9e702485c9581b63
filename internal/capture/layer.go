// Package capture decodes stream datagrams out of packet captures.
//
// Layer is a gopacket layer for the 12-byte datagram header, so captured
// traffic can be examined with the usual gopacket tooling. Scanner walks a
// pcap file and yields one Record per UDP datagram on the stream port:
//
//	sc, err := capture.Open("session.pcap", capture.Options{Port: 8081})
//	if err != nil {
//	    return err
//	}
//	defer sc.Close()
//	for sc.Next() {
//	    rec := sc.Record()
//	    fmt.Println(rec.Time, rec.Src, rec.Packet.Type)
//	}
//	summary := sc.Summary()
package capture

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/vango-dev/lumenstream/pkg/protocol"
)

// LayerTypeLumen identifies a stream datagram. The number is taken from the
// range gopacket reserves for third-party layers.
var LayerTypeLumen = gopacket.RegisterLayerType(2207, gopacket.LayerTypeMetadata{
	Name:    "Lumen",
	Decoder: gopacket.DecodeFunc(decodeLumen),
})

// Layer is one decoded datagram.
type Layer struct {
	layers.BaseLayer
	Packet protocol.Packet
}

var (
	_ gopacket.DecodingLayer     = (*Layer)(nil)
	_ gopacket.SerializableLayer = (*Layer)(nil)
)

// LayerType implements gopacket.Layer.
func (l *Layer) LayerType() gopacket.LayerType { return LayerTypeLumen }

// CanDecode implements gopacket.DecodingLayer.
func (l *Layer) CanDecode() gopacket.LayerClass { return LayerTypeLumen }

// NextLayerType implements gopacket.DecodingLayer. The payload is opaque to
// gopacket.
func (l *Layer) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

// DecodeFromBytes implements gopacket.DecodingLayer.
func (l *Layer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	p, err := protocol.Decode(data)
	if err != nil {
		df.SetTruncated()
		return err
	}
	l.Packet = *p
	l.Contents = data[:protocol.HeaderSize]
	l.Payload = p.Payload
	return nil
}

// SerializeTo implements gopacket.SerializableLayer.
func (l *Layer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	data, err := l.Packet.Encode()
	if err != nil {
		return err
	}
	buf, err := b.PrependBytes(len(data))
	if err != nil {
		return err
	}
	copy(buf, data)
	return nil
}

func decodeLumen(data []byte, p gopacket.PacketBuilder) error {
	l := &Layer{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	return p.NextDecoder(gopacket.LayerTypePayload)
}
