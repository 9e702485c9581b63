package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-dev/lumenstream/pkg/delta"
	"github.com/vango-dev/lumenstream/pkg/protocol"
	"github.com/vango-dev/lumenstream/pkg/session"
)

func TestConnectAckBeforeState(t *testing.T) {
	srv := New(testConfig(), newTestSource(8, 8))
	addr := startServer(t, srv)
	p := newPeer(t, addr)

	seq := p.send(protocol.TypeConnect, 0, protocol.EncodeConnect(&protocol.Connect{ClientName: "wall"}))

	// The Ack is written during dispatch, before the session's first cycle.
	first := p.recvPacket(time.Second)
	if first == nil {
		t.Fatal("no reply to Connect")
	}
	if first.Type != protocol.TypeAck {
		t.Fatalf("first packet = %s, want Ack", first.Type)
	}
	ack, err := protocol.DecodeAck(first.Payload)
	if err != nil || ack.Sequence != seq {
		t.Fatalf("Ack = %+v, %v; want sequence %d", ack, err, seq)
	}

	sessions := srv.Sessions()
	if len(sessions) != 1 || sessions[0].Name != "wall" {
		t.Fatalf("Sessions() = %+v", sessions)
	}
}

func TestFirstUpdateIsFullAndRequiresAck(t *testing.T) {
	cfg := testConfig()
	cfg.Compression = false
	src := newTestSource(64, 64)
	srv := New(cfg, src)
	addr := startServer(t, srv)
	p := newPeer(t, addr)
	p.connect("")

	msg := p.recvMessage(protocol.TypeFrameData, 2*time.Second)
	if !msg.Flags.Has(protocol.FlagRequiresAck) {
		t.Error("full snapshot sent without REQUIRES_ACK")
	}
	fd, err := protocol.DecodeFrameData(msg.Payload)
	if err != nil {
		t.Fatalf("DecodeFrameData() error = %v", err)
	}
	if fd.Width != 64 || fd.Height != 64 {
		t.Errorf("geometry = %dx%d", fd.Width, fd.Height)
	}

	eventually(t, time.Second, func() bool {
		info, _ := srv.table.Get(p.key())
		return info.PendingAcks > 0
	}, "full snapshot to be tracked")

	p.send(protocol.TypeAck, 0, protocol.EncodeAck(&protocol.Ack{Sequence: msg.Sequence}))
	eventually(t, time.Second, func() bool {
		var pending []uint32
		srv.table.With(p.key(), func(s *session.Session) { pending = s.PendingAcks() })
		for _, seq := range pending {
			if seq == msg.Sequence {
				return false
			}
		}
		return true
	}, "ack to clear the pending sequence")
}

func TestDiffAfterSmallChange(t *testing.T) {
	cfg := testConfig()
	cfg.KeyframeInterval = time.Hour
	src := newTestSource(32, 32)
	srv := New(cfg, src)
	addr := startServer(t, srv)
	p := newPeer(t, addr)
	p.connect("")

	p.recvMessage(protocol.TypeFrameData, 2*time.Second)
	src.set(30, 0xEE)

	msg := p.recvMessage(protocol.TypeDifferential, 2*time.Second)
	df, err := protocol.DecodeDifferential(msg.Payload)
	if err != nil {
		t.Fatalf("DecodeDifferential() error = %v", err)
	}
	if len(df.Changes) != 1 || df.Changes[0].Index != 10 {
		t.Fatalf("Changes = %+v, want pixel 10", df.Changes)
	}
	if df.Changes[0].Value[0] != 0xEE {
		t.Errorf("Value = % x", df.Changes[0].Value)
	}
}

func TestPingPong(t *testing.T) {
	srv := New(testConfig(), newTestSource(4, 4))
	addr := startServer(t, srv)
	p := newPeer(t, addr)
	p.connect("")

	p.send(protocol.TypePing, 0, protocol.EncodePingPong(&protocol.PingPong{Timestamp: 123456}))
	msg := p.recvMessage(protocol.TypePong, time.Second)
	pp, err := protocol.DecodePingPong(msg.Payload)
	if err != nil || pp.Timestamp != 123456 {
		t.Errorf("Pong = %+v, %v; want echoed timestamp", pp, err)
	}
}

func TestUnknownPeerDropped(t *testing.T) {
	srv := New(testConfig(), newTestSource(4, 4))
	addr := startServer(t, srv)
	p := newPeer(t, addr)

	p.send(protocol.TypePing, 0, protocol.EncodePingPong(&protocol.PingPong{Timestamp: 1}))
	if pkt := p.recvPacket(200 * time.Millisecond); pkt != nil {
		t.Fatalf("unknown peer got %s", pkt.Type)
	}
	eventually(t, time.Second, func() bool {
		return testutil.ToFloat64(srv.Metrics().DroppedTotal.WithLabelValues(DropUnknownSession)) == 1
	}, "unknown_session drop to be counted")
	if srv.table.Len() != 0 {
		t.Error("unknown peer created a session")
	}
}

func TestMalformedDatagramDropped(t *testing.T) {
	srv := New(testConfig(), newTestSource(4, 4))
	addr := startServer(t, srv)
	p := newPeer(t, addr)
	p.connect("")

	p.conn.WriteTo([]byte{0x01, 0x02, 0x03}, addr)
	eventually(t, time.Second, func() bool {
		return testutil.ToFloat64(srv.Metrics().DroppedTotal.WithLabelValues(DropMalformed)) == 1
	}, "malformed drop to be counted")

	// The session survives.
	if _, ok := srv.table.Get(p.key()); !ok {
		t.Error("malformed datagram removed the session")
	}
}

func TestCommandDispatch(t *testing.T) {
	got := make(chan protocol.Command, 4)
	srv := New(testConfig(), newTestSource(4, 4))
	srv.SetCommandHandler(CommandHandlerFunc(func(from net.Addr, cmd protocol.Command) {
		got <- cmd
	}))
	addr := startServer(t, srv)
	p := newPeer(t, addr)
	p.connect("")

	seq := p.send(protocol.TypeCommand, protocol.FlagRequiresAck, protocol.EncodeCommand(protocol.SetEffect{EffectID: 7}))
	select {
	case cmd := <-got:
		if cmd != (protocol.SetEffect{EffectID: 7}) {
			t.Errorf("handler got %#v", cmd)
		}
	case <-time.After(time.Second):
		t.Fatal("command did not reach the handler")
	}

	ack := p.recvMessage(protocol.TypeAck, time.Second)
	if a, _ := protocol.DecodeAck(ack.Payload); a == nil || a.Sequence != seq {
		t.Errorf("REQUIRES_ACK command acked %+v, want %d", a, seq)
	}

	// Unknown commands are reported, not rejected.
	p.send(protocol.TypeCommand, 0, []byte{0x7F, 1, 2})
	select {
	case cmd := <-got:
		if _, ok := cmd.(protocol.UnknownCommand); !ok {
			t.Errorf("handler got %#v, want UnknownCommand", cmd)
		}
	case <-time.After(time.Second):
		t.Fatal("unknown command did not reach the handler")
	}
}

func TestDisconnectRemovesSession(t *testing.T) {
	srv := New(testConfig(), newTestSource(4, 4))
	addr := startServer(t, srv)
	p := newPeer(t, addr)
	p.connect("")

	p.send(protocol.TypeDisconnect, 0, nil)
	eventually(t, time.Second, func() bool { return srv.table.Len() == 0 }, "session removal")
}

func TestRunStopsOnStop(t *testing.T) {
	srv := New(testConfig(), newTestSource(4, 4))
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, conn) }()

	eventually(t, time.Second, func() bool { return srv.LocalAddr() != nil }, "server start")
	if err := srv.Run(ctx, conn); !errors.Is(err, ErrServerRunning) {
		t.Errorf("second Run() error = %v, want ErrServerRunning", err)
	}

	srv.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Stop")
	}

	// The socket is closed once Run returns.
	if _, err := conn.WriteTo([]byte{1}, conn.LocalAddr()); err == nil {
		t.Error("socket still open after Run returned")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{SessionTimeout: 3 * time.Second}.withDefaults()
	if cfg.RateHz != 40 || cfg.Addr != ":8081" || cfg.InboundQueue != 1024 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.ReassemblyTTL != 3*time.Second {
		t.Errorf("ReassemblyTTL = %v, want capped at the session timeout", cfg.ReassemblyTTL)
	}
	if cfg.DiffThreshold != delta.DefaultThreshold {
		t.Errorf("DiffThreshold = %v", cfg.DiffThreshold)
	}
}
