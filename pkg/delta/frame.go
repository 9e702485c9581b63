package delta

import (
	"fmt"

	"github.com/vango-dev/lumenstream/pkg/protocol"
)

// FrameSnapshot views a pixel matrix as a snapshot with one entity per pixel.
// The snapshot aliases fd.Pixels.
func FrameSnapshot(fd *protocol.FrameData) Snapshot {
	return Snapshot{EntitySize: fd.Format.BytesPerPixel(), Data: fd.Pixels}
}

// FramePayload encodes an update of a pixel matrix with geometry g:
// FrameData for a full update and Differential for a diff.
func FramePayload(g protocol.Geometry, u Update) (protocol.Type, []byte, error) {
	if bpp := g.Format.BytesPerPixel(); bpp != u.EntitySize {
		return 0, nil, fmt.Errorf("%w: %s has %d bytes per pixel, update has %d",
			ErrEntitySize, g.Format, bpp, u.EntitySize)
	}
	if u.Entities != g.Pixels() {
		return 0, nil, fmt.Errorf("%w: %d entities for %dx%d", ErrInvalidSnapshot, u.Entities, g.Width, g.Height)
	}

	switch u.Kind {
	case KindFull:
		return protocol.TypeFrameData, protocol.EncodeFrameData(&protocol.FrameData{
			Geometry: g,
			Pixels:   u.Snapshot.Data,
		}), nil
	case KindDiff:
		changes := make([]protocol.Change, len(u.Changes))
		for i, c := range u.Changes {
			changes[i] = protocol.Change{Index: uint32(c.Index), Value: c.Value}
		}
		return protocol.TypeDifferential, protocol.EncodeDifferential(&protocol.Differential{
			Geometry: g,
			Changes:  changes,
		}), nil
	default:
		return 0, nil, fmt.Errorf("%w: unknown update kind %d", ErrInvalidSnapshot, u.Kind)
	}
}

// FrameUpdate decodes a FrameData or Differential payload back into an
// update, returning the geometry it describes.
func FrameUpdate(t protocol.Type, payload []byte) (protocol.Geometry, Update, error) {
	switch t {
	case protocol.TypeFrameData:
		fd, err := protocol.DecodeFrameData(payload)
		if err != nil {
			return protocol.Geometry{}, Update{}, err
		}
		s := FrameSnapshot(fd)
		return fd.Geometry, Update{
			Kind:       KindFull,
			Snapshot:   s,
			Entities:   s.Len(),
			EntitySize: s.EntitySize,
		}, nil

	case protocol.TypeDifferential:
		df, err := protocol.DecodeDifferential(payload)
		if err != nil {
			return protocol.Geometry{}, Update{}, err
		}
		changes := make([]Change, len(df.Changes))
		for i, c := range df.Changes {
			changes[i] = Change{Index: int(c.Index), Value: c.Value}
		}
		return df.Geometry, Update{
			Kind:       KindDiff,
			Changes:    changes,
			Entities:   df.Pixels(),
			EntitySize: df.Format.BytesPerPixel(),
		}, nil

	default:
		return protocol.Geometry{}, Update{}, fmt.Errorf("%w: %s is not a frame update", ErrInvalidSnapshot, t)
	}
}
