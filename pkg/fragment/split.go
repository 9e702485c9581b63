package fragment

import (
	"errors"
	"fmt"
	"math"

	"github.com/vango-dev/lumenstream/pkg/protocol"
)

const (
	// MaxFragmentPayload is the largest chunk that keeps one packet under the MTU.
	MaxFragmentPayload = protocol.MaxPayloadSize

	// MaxFragments is the largest fragment count the header can carry.
	MaxFragments = math.MaxUint16
)

// ErrTooManyFragments is returned when a payload needs more than MaxFragments chunks.
var ErrTooManyFragments = errors.New("fragment: too many fragments")

// Split cuts payload into ordered chunks of at most max bytes. The chunks
// alias payload. An empty payload yields a single empty chunk.
func Split(payload []byte, max int) ([][]byte, error) {
	if max <= 0 || max > MaxFragmentPayload {
		max = MaxFragmentPayload
	}
	if len(payload) == 0 {
		return [][]byte{payload}, nil
	}

	n := (len(payload) + max - 1) / max
	if n > MaxFragments {
		return nil, fmt.Errorf("%w: %d bytes need %d", ErrTooManyFragments, len(payload), n)
	}

	chunks := make([][]byte, 0, n)
	for start := 0; start < len(payload); start += max {
		end := start + max
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[start:end:end])
	}
	return chunks, nil
}

// Packets builds one packet per chunk, all sharing seq. flags must not
// contain fragment bits; they are set here.
func Packets(t protocol.Type, flags protocol.Flags, seq uint32, chunks [][]byte) []*protocol.Packet {
	flags &^= protocol.FragmentBits
	count := uint16(len(chunks))

	packets := make([]*protocol.Packet, len(chunks))
	for i, chunk := range chunks {
		f := flags
		if count > 1 {
			f |= protocol.FlagFragmented
			if i == len(chunks)-1 {
				f |= protocol.FlagLastFragment
			}
		}
		packets[i] = &protocol.Packet{
			Type:          t,
			Flags:         f,
			Sequence:      seq,
			FragmentID:    uint16(i),
			FragmentCount: count,
			Payload:       chunk,
		}
	}
	return packets
}
