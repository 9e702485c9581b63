package client

import (
	"time"

	"github.com/vango-dev/lumenstream/pkg/compress"
	"github.com/vango-dev/lumenstream/pkg/delta"
	"github.com/vango-dev/lumenstream/pkg/protocol"
)

const serverKey = "server"

// handle processes one datagram from the server.
func (c *Client) handle(data []byte, now time.Time) {
	p, err := protocol.Decode(data)
	c.mu.Lock()
	c.stats.Packets++
	c.stats.Bytes += uint64(len(data))
	if err != nil {
		c.stats.Malformed++
	}
	c.mu.Unlock()
	if err != nil {
		c.logger.Debug("dropping malformed packet", "error", err)
		return
	}

	msg, err := c.assembler.Add(serverKey, p, now)
	if err != nil {
		c.logger.Debug("dropping fragment", "seq", p.Sequence, "error", err)
		return
	}
	if msg == nil {
		return
	}
	typ, payload, err := compress.Open(c.codec, msg.Type, msg.Flags, msg.Payload, c.config.MaxMessageSize)
	if err != nil {
		c.discard("undecodable payload", msg.Sequence, err)
		return
	}

	switch typ {
	case protocol.TypeAck:
		ack, err := protocol.DecodeAck(payload)
		if err != nil {
			c.discard("bad ack", msg.Sequence, err)
			return
		}
		select {
		case c.ackCh <- ack.Sequence:
		default:
		}

	case protocol.TypePing:
		if _, err := c.send(protocol.TypePong, 0, payload); err != nil {
			c.logger.Debug("pong failed", "error", err)
		}

	case protocol.TypePong:
		pp, err := protocol.DecodePingPong(payload)
		if err != nil || pp.Timestamp == 0 {
			return
		}
		if rtt := now.Sub(time.UnixMilli(int64(pp.Timestamp))); rtt >= 0 {
			c.mu.Lock()
			c.stats.RTT = rtt
			c.mu.Unlock()
		}

	case protocol.TypeFrameData, protocol.TypeDifferential:
		c.applyFrame(typ, msg.Sequence, payload)

	case protocol.TypeSpectrumData:
		sd, err := protocol.DecodeSpectrum(payload)
		if err != nil {
			c.discard("bad spectrum", msg.Sequence, err)
			return
		}
		c.mu.Lock()
		c.stats.Spectrum++
		c.mu.Unlock()
		if c.config.OnSpectrum != nil {
			c.config.OnSpectrum(sd.Bands)
		}

	default:
		c.logger.Debug("ignoring packet", "type", typ.String(), "seq", msg.Sequence)
	}

	if msg.Flags.Has(protocol.FlagRequiresAck) {
		if _, err := c.send(protocol.TypeAck, 0, protocol.EncodeAck(&protocol.Ack{Sequence: msg.Sequence})); err != nil {
			c.logger.Debug("ack failed", "seq", msg.Sequence, "error", err)
		}
	}
}

// applyFrame applies a frame update to the mirror. Updates older than the
// last applied one are dropped; a diff is only valid against the state the
// server encoded it from.
func (c *Client) applyFrame(typ protocol.Type, seq uint32, payload []byte) {
	g, upd, err := delta.FrameUpdate(typ, payload)
	if err != nil {
		c.discard("bad frame update", seq, err)
		return
	}

	c.mu.Lock()
	if c.haveSeq && int32(seq-c.stats.LastSeq) <= 0 {
		c.stats.Stale++
		c.mu.Unlock()
		c.logger.Debug("dropping stale update", "seq", seq, "last_seq", c.stats.LastSeq)
		return
	}
	if upd.Kind == delta.KindDiff && g != c.geometry {
		c.stats.Discarded++
		c.mu.Unlock()
		c.logger.Debug("dropping diff for another geometry", "seq", seq)
		return
	}
	if err := c.mirror.Apply(upd); err != nil {
		c.stats.Discarded++
		c.mu.Unlock()
		c.logger.Debug("dropping update", "seq", seq, "kind", upd.Kind.String(), "error", err)
		return
	}
	c.geometry = g
	c.haveSeq = true
	c.stats.LastSeq = seq
	if upd.Kind == delta.KindFull {
		c.stats.Full++
	} else {
		c.stats.Diff++
	}
	var pixels []byte
	if c.config.OnFrame != nil {
		snap, _ := c.mirror.Snapshot()
		pixels = snap.Data
	}
	c.mu.Unlock()

	if c.config.OnFrame != nil {
		c.config.OnFrame(g, pixels)
	}
}

func (c *Client) discard(what string, seq uint32, err error) {
	c.mu.Lock()
	c.stats.Discarded++
	c.mu.Unlock()
	c.logger.Debug("dropping "+what, "seq", seq, "error", err)
}
