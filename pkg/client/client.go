package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/lumenstream/pkg/compress"
	"github.com/vango-dev/lumenstream/pkg/delta"
	"github.com/vango-dev/lumenstream/pkg/fragment"
	"github.com/vango-dev/lumenstream/pkg/protocol"
)

// Errors.
var (
	// ErrNotConnected is returned when an operation needs an acknowledged
	// Connect.
	ErrNotConnected = errors.New("client: not connected")

	// ErrClosed is returned after Run has exited.
	ErrClosed = errors.New("client: closed")
)

// Config configures a Client.
type Config struct {
	// Server is the server's UDP address. Required.
	Server string

	// Local is the local address to bind. Default: an ephemeral port.
	Local string

	// Name is sent in the Connect payload.
	Name string

	// PingInterval is how often the client pings the server so its session
	// is not swept. Default: 10 seconds.
	PingInterval time.Duration

	// ConnectRetry is the Connect resend interval while waiting for the
	// Ack. Default: 500 milliseconds.
	ConnectRetry time.Duration

	// ReadTimeout bounds each socket read so Run notices cancellation.
	// Default: 100 milliseconds.
	ReadTimeout time.Duration

	// ReassemblyTTL bounds how long partial messages are kept.
	// Default: 5 seconds.
	ReassemblyTTL time.Duration

	// MaxMessageSize caps a reassembled or decompressed message.
	// Default: 1 MiB.
	MaxMessageSize int

	// Codec decompresses COMPRESSED payloads. Default: zstd.
	Codec compress.Codec

	// OnFrame is called from Run after every applied frame update with the
	// mirrored pixels. The slice is a copy owned by the callee.
	OnFrame func(g protocol.Geometry, pixels []byte)

	// OnSpectrum is called from Run for every SpectrumData message.
	OnSpectrum func(bands []float32)

	// Logger receives client diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.ConnectRetry <= 0 {
		c.ConnectRetry = 500 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	if c.ReassemblyTTL <= 0 {
		c.ReassemblyTTL = fragment.DefaultTTL
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = fragment.DefaultMaxMessageSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Stats counts what the client has received.
type Stats struct {
	Packets   uint64        `json:"packets"`
	Bytes     uint64        `json:"bytes"`
	Full      uint64        `json:"full"`
	Diff      uint64        `json:"diff"`
	Spectrum  uint64        `json:"spectrum"`
	Discarded uint64        `json:"discarded"`
	Malformed uint64        `json:"malformed"`
	Stale     uint64        `json:"stale"`
	LastSeq   uint32        `json:"last_seq"`
	RTT       time.Duration `json:"rtt_ns"`
}

// Client receives a stream from one server.
type Client struct {
	config    Config
	logger    *slog.Logger
	conn      net.PacketConn
	server    net.Addr
	codec     compress.Codec
	assembler *fragment.Assembler

	seq       atomic.Uint32
	connected atomic.Bool
	connSeq   atomic.Uint32
	ackCh     chan uint32
	done      chan struct{}

	mu       sync.Mutex
	mirror   delta.Mirror
	geometry protocol.Geometry
	haveSeq  bool
	stats    Stats
}

// Dial binds a local socket for talking to config.Server. It does not send
// anything; call Run and then Connect.
func Dial(config Config) (*Client, error) {
	config = config.withDefaults()
	server, err := net.ResolveUDPAddr("udp", config.Server)
	if err != nil {
		return nil, fmt.Errorf("client: resolve %q: %w", config.Server, err)
	}
	local := config.Local
	if local == "" {
		local = ":0"
	}
	conn, err := net.ListenPacket("udp", local)
	if err != nil {
		return nil, fmt.Errorf("client: listen %s: %w", local, err)
	}

	codec := config.Codec
	if codec == nil {
		z, err := compress.NewZstd(config.MaxMessageSize)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("client: %w", err)
		}
		codec = z
	}

	return &Client{
		config: config,
		logger: config.Logger.With("component", "client"),
		conn:   conn,
		server: server,
		codec:  codec,
		assembler: fragment.NewAssembler(fragment.Config{
			TTL:            config.ReassemblyTTL,
			MaxMessageSize: config.MaxMessageSize,
			Logger:         config.Logger,
		}),
		ackCh: make(chan uint32, 16),
		done:  make(chan struct{}),
	}, nil
}

// LocalAddr returns the client's socket address.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Connected reports whether the server acknowledged the last Connect.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Connect sends Connect until the server acknowledges it or ctx is done.
// Run must be running to receive the Ack.
func (c *Client) Connect(ctx context.Context) error {
	payload := protocol.EncodeConnect(&protocol.Connect{ClientName: c.config.Name})
	retry := time.NewTicker(c.config.ConnectRetry)
	defer retry.Stop()

	for {
		seq, err := c.send(protocol.TypeConnect, 0, payload)
		if err != nil {
			return err
		}
		c.connSeq.Store(seq)

	wait:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.done:
				return ErrClosed
			case got := <-c.ackCh:
				if got == seq {
					c.connected.Store(true)
					c.logger.Info("connected", "server", c.server.String(), "seq", seq)
					return nil
				}
			case <-retry.C:
				break wait
			}
		}
	}
}

// Disconnect tells the server to drop the session.
func (c *Client) Disconnect() error {
	if !c.connected.Swap(false) {
		return ErrNotConnected
	}
	_, err := c.send(protocol.TypeDisconnect, 0, nil)
	return err
}

// SendCommand sends a command to the producer. With requireAck the server
// acknowledges it; the Ack is not retried or awaited.
func (c *Client) SendCommand(cmd protocol.Command, requireAck bool) (uint32, error) {
	if !c.connected.Load() {
		return 0, ErrNotConnected
	}
	var flags protocol.Flags
	if requireAck {
		flags = protocol.FlagRequiresAck
	}
	return c.send(protocol.TypeCommand, flags, protocol.EncodeCommand(cmd))
}

// Ping sends a Ping stamped with now.
func (c *Client) Ping(now time.Time) error {
	_, err := c.send(protocol.TypePing, 0, protocol.EncodePingPong(&protocol.PingPong{Timestamp: uint64(now.UnixMilli())}))
	return err
}

// Frame returns a copy of the mirrored pixel matrix.
func (c *Client) Frame() (protocol.Geometry, []byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.mirror.Snapshot()
	if !ok {
		return protocol.Geometry{}, nil, false
	}
	return c.geometry, snap.Data, true
}

// Stats returns a copy of the receive counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run reads from the socket until ctx is done, then closes it.
func (c *Client) Run(ctx context.Context) error {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	buf := make([]byte, protocol.HeaderSize+protocol.MaxWirePayload)
	lastPing := time.Now()
	lastPurge := time.Now()

	for {
		if ctx.Err() != nil {
			if c.connected.Load() {
				c.Disconnect()
			}
			return nil
		}

		now := time.Now()
		if c.connected.Load() && now.Sub(lastPing) >= c.config.PingInterval {
			if err := c.Ping(now); err != nil {
				c.logger.Debug("ping failed", "error", err)
			}
			lastPing = now
		}
		if now.Sub(lastPurge) >= time.Second {
			for _, e := range c.assembler.Purge(now) {
				c.logger.Debug("reassembly abandoned", "seq", e.Sequence, "error", e.Err())
			}
			lastPurge = now
		}

		c.conn.SetReadDeadline(now.Add(c.config.ReadTimeout))
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("client: read: %w", err)
		}
		if addr.String() != c.server.String() {
			c.logger.Debug("ignoring datagram from stranger", "addr", addr.String())
			continue
		}
		c.handle(buf[:n], time.Now())
	}
}

func (c *Client) send(t protocol.Type, flags protocol.Flags, payload []byte) (uint32, error) {
	seq := c.seq.Add(1) - 1
	p := protocol.NewPacket(t, seq, payload)
	p.Flags = flags
	data, err := p.Encode()
	if err != nil {
		return seq, err
	}
	if _, err := c.conn.WriteTo(data, c.server); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return seq, ErrClosed
		}
		return seq, fmt.Errorf("client: write: %w", err)
	}
	return seq, nil
}
