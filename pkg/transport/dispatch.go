package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/lumenstream/pkg/compress"
	"github.com/vango-dev/lumenstream/pkg/fragment"
	"github.com/vango-dev/lumenstream/pkg/protocol"
	"github.com/vango-dev/lumenstream/pkg/session"
)

// handleDatagram decodes one inbound datagram and dispatches the message it
// completes, if any. Failures drop the datagram and are never fatal.
func (s *Server) handleDatagram(ctx context.Context, d datagram) {
	now := s.config.Now()
	key := d.addr.String()
	s.metrics.BytesReceived.Add(float64(len(d.data)))

	p, err := protocol.Decode(d.data)
	if err != nil {
		s.metrics.DroppedTotal.WithLabelValues(DropMalformed).Inc()
		s.logger.Debug("dropping malformed packet", "addr", key, "error", err)
		return
	}
	s.metrics.PacketsReceived.WithLabelValues(p.Type.String()).Inc()

	if p.Type != protocol.TypeConnect {
		if err := s.table.Touch(key, now); err != nil {
			s.metrics.DroppedTotal.WithLabelValues(DropUnknownSession).Inc()
			s.logger.Debug("dropping packet from unknown peer", "addr", key, "type", p.Type.String(), "error", err)
			return
		}
	}

	msg, err := s.assembler.Add(key, p, now)
	if err != nil {
		s.metrics.DroppedTotal.WithLabelValues(DropFragment).Inc()
		s.logger.Debug("dropping fragment", "addr", key, "seq", p.Sequence, "error", err)
		return
	}
	if msg == nil {
		return
	}

	typ, payload, err := compress.Open(s.codec, msg.Type, msg.Flags, msg.Payload, s.config.MaxMessageSize)
	if err != nil {
		s.metrics.DroppedTotal.WithLabelValues(DropDecompress).Inc()
		s.logger.Debug("dropping undecodable payload", "addr", key, "seq", msg.Sequence, "error", err)
		return
	}
	msg.Type = typ
	msg.Payload = payload

	s.dispatch(ctx, d.addr, msg, now)
}

// dispatch handles one complete inbound message.
func (s *Server) dispatch(ctx context.Context, addr net.Addr, msg *fragment.Message, now time.Time) {
	key := msg.Sender
	_, span := s.tracer.Start(ctx, "lumen.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("lumen.packet_type", msg.Type.String()),
			attribute.String("lumen.addr", key),
			attribute.Int64("lumen.seq", int64(msg.Sequence)),
		))
	defer span.End()

	fail := func(what string, err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.DroppedTotal.WithLabelValues(DropMalformed).Inc()
		s.logger.Debug(what, "addr", key, "seq", msg.Sequence, "error", err)
	}

	switch msg.Type {
	case protocol.TypeConnect:
		c, err := protocol.DecodeConnect(msg.Payload)
		if err != nil {
			fail("bad connect payload", err)
			return
		}
		info, created, err := s.table.Register(addr, c.ClientName, now)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.DroppedTotal.WithLabelValues(DropTableFull).Inc()
			s.logger.Warn("connect refused", "addr", key, "error", err)
			return
		}
		s.assembler.Drop(key)
		s.metrics.Sessions.Set(float64(s.table.Len()))
		if created {
			s.logger.Info("session connected", "session_id", info.ID, "addr", key, "name", info.Name)
		} else {
			s.logger.Info("session reconnected", "session_id", info.ID, "addr", key)
		}
		s.sendAck(key, msg.Sequence)

	case protocol.TypeDisconnect:
		if info, ok := s.table.Remove(key); ok {
			s.assembler.Drop(key)
			s.metrics.Sessions.Set(float64(s.table.Len()))
			s.logger.Info("session disconnected", "session_id", info.ID, "addr", key)
		}
		return

	case protocol.TypePing:
		pp, err := protocol.DecodePingPong(msg.Payload)
		if err != nil {
			fail("bad ping payload", err)
			return
		}
		if err := s.sendControl(key, protocol.TypePong, 0, protocol.EncodePingPong(pp)); err != nil {
			s.logger.Debug("pong failed", "addr", key, "error", err)
		}

	case protocol.TypePong:
		pp, err := protocol.DecodePingPong(msg.Payload)
		if err != nil {
			fail("bad pong payload", err)
			return
		}
		if pp.Timestamp > 0 {
			rtt := now.Sub(time.UnixMilli(int64(pp.Timestamp)))
			if rtt >= 0 {
				s.table.With(key, func(sess *session.Session) { sess.RTT = rtt })
				s.metrics.RTT.Observe(rtt.Seconds())
			}
		}

	case protocol.TypeAck:
		ack, err := protocol.DecodeAck(msg.Payload)
		if err != nil {
			fail("bad ack payload", err)
			return
		}
		var cleared bool
		s.table.With(key, func(sess *session.Session) { cleared = sess.ClearAck(ack.Sequence) })
		if !cleared {
			s.logger.Debug("ignoring unexpected ack", "addr", key, "seq", ack.Sequence)
		}
		return

	case protocol.TypeCommand:
		cmd, err := protocol.DecodeCommand(msg.Payload)
		if err != nil {
			fail("bad command payload", err)
			return
		}
		s.metrics.Commands.WithLabelValues(cmd.ID().String()).Inc()
		span.SetAttributes(attribute.String("lumen.command", cmd.ID().String()))
		if _, unknown := cmd.(protocol.UnknownCommand); unknown {
			s.logger.Debug("unknown command", "addr", key, "command", cmd.ID().String())
		}
		if s.commands != nil {
			s.commands.HandleCommand(addr, cmd)
		}

	default:
		// State types only flow server → client.
		s.logger.Debug("ignoring inbound state packet", "addr", key, "type", msg.Type.String())
	}

	if msg.Flags.Has(protocol.FlagRequiresAck) && msg.Type != protocol.TypeConnect {
		s.sendAck(key, msg.Sequence)
	}
}

func (s *Server) sendAck(key string, seq uint32) {
	if err := s.sendControl(key, protocol.TypeAck, 0, protocol.EncodeAck(&protocol.Ack{Sequence: seq})); err != nil {
		s.logger.Debug("ack failed", "addr", key, "seq", seq, "error", err)
	}
}

// sendControl sends a single-packet message to the session for key using
// the session's next sequence number.
func (s *Server) sendControl(key string, t protocol.Type, flags protocol.Flags, payload []byte) error {
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

	p := protocol.NewPacket(t, seq, payload)
	p.Flags = flags
	n, err := s.writePackets(addr, []*protocol.Packet{p})
	if err != nil {
		if errors.Is(err, ErrSendBackpressure) {
			s.metrics.DroppedTotal.WithLabelValues(DropBackpressure).Inc()
		}
		return err
	}

	now := s.config.Now()
	s.table.With(key, func(sess *session.Session) { sess.MarkSent(now, n, 1) })
	return nil
}
