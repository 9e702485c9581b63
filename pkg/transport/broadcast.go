package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/lumenstream/pkg/delta"
	"github.com/vango-dev/lumenstream/pkg/fragment"
	"github.com/vango-dev/lumenstream/pkg/protocol"
	"github.com/vango-dev/lumenstream/pkg/session"
)

// outbound is a state message prepared once per cycle and sent to many
// sessions. Only the sequence number differs per session.
type outbound struct {
	typ    protocol.Type
	flags  protocol.Flags
	chunks [][]byte
	full   bool
}

// broadcast runs one update cycle.
func (s *Server) broadcast(ctx context.Context) {
	now := s.config.Now()
	active := s.table.Active(now)
	if len(active) == 0 || s.source == nil {
		return
	}

	start := time.Now()
	_, span := s.tracer.Start(ctx, "lumen.broadcast",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.Int("lumen.sessions", len(active))))
	defer span.End()
	defer func() { s.metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	frame := s.source.Frame()
	if frame.Geometry != s.geometry {
		s.encoder.Reset()
		s.geometry = frame.Geometry
	}
	if s.config.KeyframeInterval > 0 && now.Sub(s.lastKeyframe) >= s.config.KeyframeInterval {
		s.encoder.ForceFull()
	}

	upd, err := s.encoder.Encode(delta.FrameSnapshot(&protocol.FrameData{
		Geometry: frame.Geometry,
		Pixels:   frame.Pixels,
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("frame rejected", "width", frame.Geometry.Width, "height", frame.Geometry.Height, "error", err)
		return
	}
	s.recordUpdate(upd, now)
	span.SetAttributes(
		attribute.String("lumen.update_kind", upd.Kind.String()),
		attribute.Float64("lumen.dirty_ratio", upd.DirtyRatio()))

	var state, full *outbound
	switch {
	case upd.Kind == delta.KindFull:
		full, err = s.prepare(upd, true)
		state = full
	case !upd.Empty():
		state, err = s.prepare(upd, false)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("encode update failed", "error", err)
		return
	}

	var spectrum *outbound
	if s.spectrum != nil {
		if bands := s.spectrum.Spectrum(); bands != nil {
			spectrum, err = s.prepareRaw(protocol.TypeSpectrumData,
				protocol.EncodeSpectrum(&protocol.SpectrumData{Bands: bands}), 0)
			if err != nil {
				s.logger.Warn("encode spectrum failed", "error", err)
			}
		}
	}

	sent := 0
	var baselineErr error
	for _, info := range active {
		msg := state
		if info.NeedsFull && (msg == nil || !msg.full) {
			if full == nil && baselineErr == nil {
				full, baselineErr = s.prepareBaseline()
				if baselineErr != nil {
					s.logger.Warn("encode full snapshot failed", "error", baselineErr)
				}
			}
			msg = full
		}
		if msg != nil {
			if err := s.sendState(info.Addr, msg); err != nil {
				s.logger.Debug("update skipped", "session_id", info.ID, "error", err)
				continue
			}
			sent++
		}
		if spectrum != nil {
			if err := s.sendState(info.Addr, spectrum); err != nil {
				s.logger.Debug("spectrum skipped", "session_id", info.ID, "error", err)
			}
		}
	}
	span.SetAttributes(attribute.Int("lumen.sent", sent))
}

func (s *Server) recordUpdate(upd delta.Update, now time.Time) {
	kind := upd.Kind.String()
	if upd.Empty() {
		kind = "empty"
	}
	s.metrics.Updates.WithLabelValues(kind).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.encStats = s.encoder.Stats()
	if upd.Kind == delta.KindFull {
		s.lastKeyframe = now
		s.lastFull = &FrameState{Geometry: s.geometry, Pixels: upd.Snapshot.Data}
	}
}

// prepare encodes an update into an outbound message. Full snapshots ask
// for an Ack.
func (s *Server) prepare(upd delta.Update, full bool) (*outbound, error) {
	typ, payload, err := delta.FramePayload(s.geometry, upd)
	if err != nil {
		return nil, err
	}
	var flags protocol.Flags
	if full {
		flags = protocol.FlagRequiresAck
	}
	out, err := s.prepareRaw(typ, payload, flags)
	if err != nil {
		return nil, err
	}
	out.full = full
	return out, nil
}

// prepareBaseline builds a full snapshot of the encoder's current baseline
// for sessions that joined during a diff cycle.
func (s *Server) prepareBaseline() (*outbound, error) {
	base, ok := s.encoder.Baseline()
	if !ok {
		return nil, errors.New("transport: no baseline")
	}
	return s.prepare(delta.Update{
		Kind:       delta.KindFull,
		Snapshot:   base,
		Entities:   base.Len(),
		EntitySize: base.EntitySize,
	}, true)
}

func (s *Server) prepareRaw(t protocol.Type, payload []byte, flags protocol.Flags) (*outbound, error) {
	res := s.gate.Apply(t, payload)
	if s.gate != nil && t.IsState() {
		s.metrics.CompressionRatio.Observe(res.Ratio)
	}
	chunks, err := fragment.Split(res.Payload, fragment.MaxFragmentPayload)
	if err != nil {
		return nil, err
	}
	s.metrics.FragmentsPerUpdate.Observe(float64(len(chunks)))
	return &outbound{typ: res.Type, flags: res.Flags | flags, chunks: chunks}, nil
}

// sendState writes msg to the session for key. Back-pressure skips the
// session for this cycle. A full snapshot that was not delivered stays owed,
// and an undelivered diff makes one owed.
func (s *Server) sendState(key string, msg *outbound) error {
	var (
		seq  uint32
		addr net.Addr
	)
	if err := s.table.With(key, func(sess *session.Session) {
		seq = sess.NextSequence()
		addr = sess.Addr
	}); err != nil {
		return err
	}

	packets := fragment.Packets(msg.typ, msg.flags, seq, msg.chunks)
	n, err := s.writePackets(addr, packets)
	if err != nil {
		backpressure := errors.Is(err, ErrSendBackpressure)
		if backpressure {
			s.metrics.DroppedTotal.WithLabelValues(DropBackpressure).Inc()
		}
		s.table.With(key, func(sess *session.Session) {
			if backpressure {
				sess.MarkDropped()
			}
			// A lost diff leaves the peer behind the baseline.
			if msg.typ == protocol.TypeDifferential {
				sess.NeedsFull = true
			}
		})
		return err
	}

	now := s.config.Now()
	s.table.With(key, func(sess *session.Session) {
		sess.MarkSent(now, n, len(packets))
		if msg.flags.Has(protocol.FlagRequiresAck) {
			sess.TrackAck(seq, now)
		}
		if msg.full {
			sess.NeedsFull = false
		}
	})
	return nil
}

// writePackets encodes and writes packets in order, stopping at the first
// failure. It returns the number of bytes written.
func (s *Server) writePackets(addr net.Addr, packets []*protocol.Packet) (int, error) {
	total := 0
	for _, p := range packets {
		s.enc.Reset()
		if err := p.EncodeTo(s.enc); err != nil {
			return total, err
		}
		s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		n, err := s.conn.WriteTo(s.enc.Bytes(), addr)
		if err != nil {
			if isBackpressure(err) {
				return total, fmt.Errorf("%w: %s: %v", ErrSendBackpressure, addr, err)
			}
			return total, fmt.Errorf("transport: write %s: %w", addr, err)
		}
		total += n
		s.metrics.PacketsSent.WithLabelValues(p.Type.String()).Inc()
		s.metrics.BytesSent.Add(float64(n))
	}
	return total, nil
}

func isBackpressure(err error) bool {
	return isTimeout(err) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOBUFS)
}
