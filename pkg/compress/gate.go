package compress

import (
	"errors"
	"fmt"

	"github.com/vango-dev/lumenstream/pkg/protocol"
)

// Gate defaults.
const (
	DefaultMinRatio = 0.25
	DefaultMinSize  = 64
)

// Gate compresses a payload only when the result is at least MinRatio smaller.
type Gate struct {
	// Codec is used for compression. A nil Codec disables the gate.
	Codec Codec

	// MinRatio is the required fractional saving, e.g. 0.25 means the output
	// must be at most 75% of the input.
	MinRatio float64

	// MinSize is the smallest payload worth trying.
	MinSize int
}

// NewGate creates a gate with default thresholds.
func NewGate(codec Codec) *Gate {
	return &Gate{Codec: codec, MinRatio: DefaultMinRatio, MinSize: DefaultMinSize}
}

// Result is the outcome of Apply.
type Result struct {
	Type       protocol.Type
	Flags      protocol.Flags
	Payload    []byte
	Compressed bool

	// Ratio is compressed/original size of the attempt, or 1 if none was made.
	Ratio float64
}

// Apply returns the payload to send for a state message of type t.
// FrameData becomes FrameDataCompressed; other state types keep their type
// and gain FlagCompressed. Control types are never compressed.
func (g *Gate) Apply(t protocol.Type, payload []byte) Result {
	res := Result{Type: t, Payload: payload, Ratio: 1}
	if g == nil || g.Codec == nil || !t.IsState() || t == protocol.TypeFrameDataCompressed {
		return res
	}
	if len(payload) < g.MinSize || len(payload) == 0 {
		return res
	}

	out := g.Codec.Compress(nil, payload)
	res.Ratio = float64(len(out)) / float64(len(payload))
	if float64(len(out)) > float64(len(payload))*(1-g.MinRatio) {
		return res
	}

	res.Payload = out
	res.Flags = protocol.FlagCompressed
	res.Compressed = true
	if t == protocol.TypeFrameData {
		res.Type = protocol.TypeFrameDataCompressed
	}
	return res
}

// Open reverses Apply. Payloads that are not compressed are returned as is.
// FrameDataCompressed maps back to FrameData.
func Open(codec Codec, t protocol.Type, flags protocol.Flags, payload []byte, max int) (protocol.Type, []byte, error) {
	compressed := flags.Has(protocol.FlagCompressed) || t == protocol.TypeFrameDataCompressed
	if t == protocol.TypeFrameDataCompressed {
		t = protocol.TypeFrameData
	}
	if !compressed {
		return t, payload, nil
	}
	if codec == nil {
		return t, nil, fmt.Errorf("%w: no codec for compressed %s", ErrDecode, t)
	}
	out, err := codec.Decompress(payload, max)
	if err != nil {
		if !errors.Is(err, ErrDecode) {
			err = fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return t, nil, err
	}
	return t, out, nil
}
