// Package compress decides per payload whether compression pays off and
// reverses it on the receive path.
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ErrDecode is returned when a compressed payload cannot be restored.
var ErrDecode = errors.New("compress: decode failed")

// Codec compresses and decompresses whole payloads.
type Codec interface {
	// Compress appends the compressed form of src to dst.
	Compress(dst, src []byte) []byte

	// Decompress restores src, failing if the output would exceed max bytes.
	Decompress(src []byte, max int) ([]byte, error)
}

// Zstd is a Codec backed by zstd at its fastest level. EncodeAll and
// DecodeAll are safe for concurrent use, so one Zstd may be shared.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a single-threaded zstd codec whose decoder refuses to
// allocate more than maxMemory bytes. maxMemory <= 0 selects 4 MiB.
func NewZstd(maxMemory int) (*Zstd, error) {
	if maxMemory <= 0 {
		maxMemory = 4 << 20
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(uint64(maxMemory)),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("compress: zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

// Compress implements Codec.
func (z *Zstd) Compress(dst, src []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

// Decompress implements Codec.
func (z *Zstd) Decompress(src []byte, max int) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if max > 0 && len(out) > max {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrDecode, len(out), max)
	}
	return out, nil
}

// Close releases encoder and decoder resources.
func (z *Zstd) Close() {
	z.enc.Close()
	z.dec.Close()
}
