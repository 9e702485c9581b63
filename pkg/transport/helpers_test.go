package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/lumenstream/pkg/compress"
	"github.com/vango-dev/lumenstream/pkg/fragment"
	"github.com/vango-dev/lumenstream/pkg/protocol"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// testSource is a Source whose pixels tests may change between cycles.
type testSource struct {
	mu     sync.Mutex
	geom   protocol.Geometry
	pixels []byte
}

func newTestSource(w, h uint16) *testSource {
	g := protocol.Geometry{Width: w, Height: h, Format: protocol.FormatRGB}
	pixels := make([]byte, g.FrameSize())
	for i := range pixels {
		pixels[i] = byte(i % 251)
	}
	return &testSource{geom: g, pixels: pixels}
}

func (s *testSource) Frame() FrameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FrameState{Geometry: s.geom, Pixels: append([]byte(nil), s.pixels...)}
}

func (s *testSource) set(i int, v byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pixels[i] = v
}

type spectrumSource struct{ bands []float32 }

func (s spectrumSource) Spectrum() []float32 { return s.bands }

// fakeClock is an adjustable Config.Now.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.RateHz = 50
	cfg.ReadTimeout = 20 * time.Millisecond
	cfg.WriteTimeout = 100 * time.Millisecond
	cfg.Logger = quietLogger
	return cfg
}

// startServer runs srv on a loopback socket until the test ends.
func startServer(t *testing.T, srv *Server) net.Addr {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, conn) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})
	return conn.LocalAddr()
}

// peer is a raw UDP client speaking the wire format directly.
type peer struct {
	t      *testing.T
	conn   net.PacketConn
	server net.Addr
	seq    uint32
	asm    *fragment.Assembler
	codec  compress.Codec
}

func newPeer(t *testing.T, server net.Addr) *peer {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	codec, err := compress.NewZstd(0)
	if err != nil {
		t.Fatalf("NewZstd() error = %v", err)
	}
	return &peer{
		t:      t,
		conn:   conn,
		server: server,
		asm:    fragment.NewAssembler(fragment.Config{Logger: quietLogger}),
		codec:  codec,
	}
}

func (p *peer) send(typ protocol.Type, flags protocol.Flags, payload []byte) uint32 {
	p.t.Helper()
	seq := p.seq
	p.seq++
	pkt := protocol.NewPacket(typ, seq, payload)
	pkt.Flags = flags
	data, err := pkt.Encode()
	if err != nil {
		p.t.Fatalf("Encode() error = %v", err)
	}
	if _, err := p.conn.WriteTo(data, p.server); err != nil {
		p.t.Fatalf("WriteTo() error = %v", err)
	}
	return seq
}

// recvPacket returns the next packet, or nil if none arrives in time.
func (p *peer) recvPacket(timeout time.Duration) *protocol.Packet {
	p.t.Helper()
	buf := make([]byte, 65536)
	p.conn.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := p.conn.ReadFrom(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		p.t.Fatalf("ReadFrom() error = %v", err)
	}
	pkt, err := protocol.Decode(buf[:n])
	if err != nil {
		p.t.Fatalf("Decode() error = %v", err)
	}
	return pkt
}

// recvMessage reassembles messages until one of type want completes.
// Compressed payloads are opened.
func (p *peer) recvMessage(want protocol.Type, timeout time.Duration) *fragment.Message {
	p.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pkt := p.recvPacket(time.Until(deadline))
		if pkt == nil {
			break
		}
		msg, err := p.asm.Add("server", pkt, time.Now())
		if err != nil {
			p.t.Fatalf("Add() error = %v", err)
		}
		if msg == nil {
			continue
		}
		typ, payload, err := compress.Open(p.codec, msg.Type, msg.Flags, msg.Payload, 1<<20)
		if err != nil {
			p.t.Fatalf("Open() error = %v", err)
		}
		msg.Type, msg.Payload = typ, payload
		if msg.Type == want {
			return msg
		}
	}
	p.t.Fatalf("no %s message within %s", want, timeout)
	return nil
}

func (p *peer) connect(name string) {
	p.t.Helper()
	seq := p.send(protocol.TypeConnect, 0, protocol.EncodeConnect(&protocol.Connect{ClientName: name}))
	ack := p.recvMessage(protocol.TypeAck, time.Second)
	a, err := protocol.DecodeAck(ack.Payload)
	if err != nil || a.Sequence != seq {
		p.t.Fatalf("connect ack = %+v, %v; want seq %d", a, err, seq)
	}
}

func (p *peer) key() string {
	return p.conn.LocalAddr().String()
}

// eventually polls cond until it holds or the timeout elapses.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// fakeConn is an in-memory net.PacketConn that records writes and can fail
// them for chosen addresses.
type fakeConn struct {
	mu      sync.Mutex
	writes  []fakeWrite
	blocked map[string]bool
}

type fakeWrite struct {
	addr string
	pkt  *protocol.Packet
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }

func newFakeConn() *fakeConn {
	return &fakeConn{blocked: make(map[string]bool)}
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	return 0, nil, timeoutError{}
}

func (c *fakeConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocked[addr.String()] {
		return 0, timeoutError{}
	}
	pkt, err := protocol.Decode(b)
	if err != nil {
		return 0, err
	}
	c.writes = append(c.writes, fakeWrite{addr: addr.String(), pkt: pkt})
	return len(b), nil
}

func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) LocalAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8081} }
func (c *fakeConn) SetDeadline(t time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

// take returns and clears the recorded writes.
func (c *fakeConn) take() []fakeWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.writes
	c.writes = nil
	return w
}

func (c *fakeConn) block(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked[addr] = true
}

func (c *fakeConn) unblock(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blocked, addr)
}
