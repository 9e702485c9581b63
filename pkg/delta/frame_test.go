package delta

import (
	"bytes"
	"testing"

	"github.com/vango-dev/lumenstream/pkg/protocol"
)

func TestFramePayloadRoundTrip(t *testing.T) {
	g := protocol.Geometry{Width: 16, Height: 8, Format: protocol.FormatRGB}
	fd := &protocol.FrameData{Geometry: g, Pixels: make([]byte, g.FrameSize())}

	e := NewEncoder(DefaultThreshold)
	var m Mirror

	for step := 0; step < 3; step++ {
		fd.Pixels[step*3] = byte(step + 1)

		u, err := e.Encode(FrameSnapshot(fd))
		if err != nil {
			t.Fatal(err)
		}
		typ, payload, err := FramePayload(g, u)
		if err != nil {
			t.Fatalf("FramePayload() error = %v", err)
		}
		wantType := protocol.TypeDifferential
		if step == 0 {
			wantType = protocol.TypeFrameData
		}
		if typ != wantType {
			t.Errorf("step %d: type = %v, want %v", step, typ, wantType)
		}

		gotGeom, decoded, err := FrameUpdate(typ, payload)
		if err != nil {
			t.Fatalf("FrameUpdate() error = %v", err)
		}
		if gotGeom != g {
			t.Errorf("geometry = %+v, want %+v", gotGeom, g)
		}
		if err := m.Apply(decoded); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		s, _ := m.Snapshot()
		if !bytes.Equal(s.Data, fd.Pixels) {
			t.Fatalf("step %d: mirror diverged", step)
		}
	}
}

func TestFramePayloadGeometryMismatch(t *testing.T) {
	g := protocol.Geometry{Width: 2, Height: 2, Format: protocol.FormatRGB}
	u := Update{Kind: KindFull, Snapshot: entities(5, 3), Entities: 5, EntitySize: 3}
	if _, _, err := FramePayload(g, u); err == nil {
		t.Error("FramePayload() accepted 5 entities for a 2x2 matrix")
	}
	u = Update{Kind: KindFull, Snapshot: entities(4, 4), Entities: 4, EntitySize: 4}
	if _, _, err := FramePayload(g, u); err == nil {
		t.Error("FramePayload() accepted 4-byte entities for RGB")
	}
}
