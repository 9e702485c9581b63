package protocol

// PixelFormat identifies the per-pixel layout of a frame.
type PixelFormat uint8

const (
	FormatRGB PixelFormat = 0x01 // 3 bytes per pixel
)

// BytesPerPixel returns the size of one pixel, or 0 for unknown formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB:
		return 3
	default:
		return 0
	}
}

// String returns the string representation of the pixel format.
func (f PixelFormat) String() string {
	switch f {
	case FormatRGB:
		return "RGB"
	default:
		return "Unknown"
	}
}

// frameGeometrySize is width:u16 + height:u16 + format:u8.
const frameGeometrySize = 5

// Geometry describes the shape of a pixel matrix.
type Geometry struct {
	Width  uint16
	Height uint16
	Format PixelFormat
}

// Pixels returns the number of pixels in the matrix.
func (g Geometry) Pixels() int {
	return int(g.Width) * int(g.Height)
}

// FrameSize returns the number of pixel bytes for the geometry.
func (g Geometry) FrameSize() int {
	return g.Pixels() * g.Format.BytesPerPixel()
}

func (g Geometry) encodeTo(e *Encoder) {
	e.WriteUint16(g.Width)
	e.WriteUint16(g.Height)
	e.WriteByte(byte(g.Format))
}

func decodeGeometry(d *Decoder) (Geometry, error) {
	w, err := d.ReadUint16()
	if err != nil {
		return Geometry{}, badPayload("width", err)
	}
	h, err := d.ReadUint16()
	if err != nil {
		return Geometry{}, badPayload("height", err)
	}
	f, err := d.ReadByte()
	if err != nil {
		return Geometry{}, badPayload("format", err)
	}
	g := Geometry{Width: w, Height: h, Format: PixelFormat(f)}
	if g.Format.BytesPerPixel() == 0 {
		return Geometry{}, ErrUnsupportedFormat
	}
	return g, nil
}

// FrameData is a full pixel matrix, row-major, top to bottom.
//
// Wire format:
//
//	[Width: u16][Height: u16][Format: u8][Pixels: Width*Height*bpp bytes]
type FrameData struct {
	Geometry
	Pixels []byte
}

// EncodeFrameData encodes a FrameData payload.
func EncodeFrameData(fd *FrameData) []byte {
	e := NewEncoderWithCap(frameGeometrySize + len(fd.Pixels))
	EncodeFrameDataTo(e, fd)
	return e.Bytes()
}

// EncodeFrameDataTo encodes a FrameData payload using the provided encoder.
func EncodeFrameDataTo(e *Encoder, fd *FrameData) {
	fd.Geometry.encodeTo(e)
	e.WriteBytes(fd.Pixels)
}

// DecodeFrameData decodes a FrameData payload. Pixels are copied.
func DecodeFrameData(data []byte) (*FrameData, error) {
	d := NewDecoder(data)
	g, err := decodeGeometry(d)
	if err != nil {
		return nil, err
	}
	if d.Remaining() != g.FrameSize() {
		return nil, badPayload("pixel data does not match geometry", nil)
	}
	pixels := make([]byte, g.FrameSize())
	copy(pixels, d.Rest())
	return &FrameData{Geometry: g, Pixels: pixels}, nil
}

// SpectrumData carries normalized band magnitudes in [0, 1].
//
// Wire format:
//
//	[BandCount: u16][Magnitude: f32] × BandCount
type SpectrumData struct {
	Bands []float32
}

// EncodeSpectrum encodes a SpectrumData payload. At most 65535 bands are written.
func EncodeSpectrum(sd *SpectrumData) []byte {
	bands := sd.Bands
	if len(bands) > MaxWirePayload {
		bands = bands[:MaxWirePayload]
	}
	e := NewEncoderWithCap(2 + 4*len(bands))
	e.WriteUint16(uint16(len(bands)))
	for _, b := range bands {
		e.WriteFloat32(b)
	}
	return e.Bytes()
}

// DecodeSpectrum decodes a SpectrumData payload.
func DecodeSpectrum(data []byte) (*SpectrumData, error) {
	d := NewDecoder(data)
	n, err := d.ReadUint16()
	if err != nil {
		return nil, badPayload("band count", err)
	}
	if d.Remaining() != 4*int(n) {
		return nil, badPayload("band data does not match count", nil)
	}
	bands := make([]float32, n)
	for i := range bands {
		bands[i], _ = d.ReadFloat32()
	}
	return &SpectrumData{Bands: bands}, nil
}

// Change is one changed pixel in a Differential payload.
type Change struct {
	Index uint32
	Value []byte
}

// Differential carries only the pixels that changed since the previous update.
//
// Wire format:
//
//	[Width: u16][Height: u16][Format: u8][Count: u32]
//	[Index: u32][Value: bpp bytes] × Count
type Differential struct {
	Geometry
	Changes []Change
}

// EncodeDifferential encodes a Differential payload.
func EncodeDifferential(df *Differential) []byte {
	bpp := df.Format.BytesPerPixel()
	e := NewEncoderWithCap(frameGeometrySize + 4 + len(df.Changes)*(4+bpp))
	df.Geometry.encodeTo(e)
	e.WriteUint32(uint32(len(df.Changes)))
	for _, c := range df.Changes {
		e.WriteUint32(c.Index)
		e.WriteBytes(c.Value)
	}
	return e.Bytes()
}

// DecodeDifferential decodes a Differential payload. Values are copied.
func DecodeDifferential(data []byte) (*Differential, error) {
	d := NewDecoder(data)
	g, err := decodeGeometry(d)
	if err != nil {
		return nil, err
	}
	count, err := d.ReadUint32()
	if err != nil {
		return nil, badPayload("change count", err)
	}
	bpp := g.Format.BytesPerPixel()
	if uint64(d.Remaining()) != uint64(count)*uint64(4+bpp) {
		return nil, badPayload("change data does not match count", nil)
	}

	changes := make([]Change, count)
	values := make([]byte, int(count)*bpp)
	pixels := uint32(g.Pixels())
	for i := range changes {
		idx, _ := d.ReadUint32()
		if idx >= pixels {
			return nil, badPayload("change index out of range", nil)
		}
		raw, _ := d.ReadBytes(bpp)
		v := values[i*bpp : (i+1)*bpp : (i+1)*bpp]
		copy(v, raw)
		changes[i] = Change{Index: idx, Value: v}
	}
	return &Differential{Geometry: g, Changes: changes}, nil
}
