package protocol

import (
	"testing"
)

// FuzzDecode tests that decoding arbitrary datagrams doesn't panic and that
// anything accepted re-encodes to the same bytes.
func FuzzDecode(f *testing.F) {
	ping, _ := NewPacket(TypePing, 1, EncodePingPong(&PingPong{Timestamp: 5})).Encode()
	f.Add(ping)
	frag, _ := (&Packet{
		Type:          TypeFrameData,
		Flags:         FlagFragmented | FlagLastFragment,
		Sequence:      9,
		FragmentID:    2,
		FragmentCount: 3,
		Payload:       []byte{1, 2, 3},
	}).Encode()
	f.Add(frag)
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		p, err := Decode(data)
		if err != nil {
			return
		}
		again, err := p.Encode()
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		if string(again) != string(data) {
			t.Fatalf("re-encode mismatch: % x != % x", again, data)
		}
	})
}

// FuzzDecodeCommand tests that decoding arbitrary bytes doesn't panic.
func FuzzDecodeCommand(f *testing.F) {
	f.Add(EncodeCommand(SetEffect{EffectID: 3}))
	f.Add(EncodeCommand(SetColorMode{Mode: "fire"}))
	f.Add(EncodeCommand(SetCustomColor{R: 1}))
	f.Add(EncodeCommand(SetParameter{Name: "k", Value: "v"}))

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeCommand(data)
	})
}

// FuzzDecodeFrameData tests that decoding arbitrary bytes doesn't panic.
func FuzzDecodeFrameData(f *testing.F) {
	f.Add(EncodeFrameData(&FrameData{
		Geometry: Geometry{Width: 2, Height: 1, Format: FormatRGB},
		Pixels:   []byte{1, 2, 3, 4, 5, 6},
	}))

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeFrameData(data)
	})
}

// FuzzDecodeDifferential tests that decoding arbitrary bytes doesn't panic.
func FuzzDecodeDifferential(f *testing.F) {
	f.Add(EncodeDifferential(&Differential{
		Geometry: Geometry{Width: 2, Height: 2, Format: FormatRGB},
		Changes:  []Change{{Index: 3, Value: []byte{9, 9, 9}}},
	}))
	// Huge count with no body.
	f.Add([]byte{0, 1, 0, 1, 1, 0xFF, 0xFF, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeDifferential(data)
	})
}

// FuzzDecodeSpectrum tests that decoding arbitrary bytes doesn't panic.
func FuzzDecodeSpectrum(f *testing.F) {
	f.Add(EncodeSpectrum(&SpectrumData{Bands: []float32{0.1, 0.9}}))

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeSpectrum(data)
	})
}
