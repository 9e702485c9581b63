package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/lumenstream/pkg/compress"
	"github.com/vango-dev/lumenstream/pkg/delta"
	"github.com/vango-dev/lumenstream/pkg/fragment"
	"github.com/vango-dev/lumenstream/pkg/protocol"
	"github.com/vango-dev/lumenstream/pkg/session"
)

// Errors.
var (
	// ErrSendBackpressure is returned when a write could not complete before
	// its deadline. The session is skipped for the cycle.
	ErrSendBackpressure = errors.New("transport: send backpressure")

	// ErrServerRunning is returned when Run is called twice.
	ErrServerRunning = errors.New("transport: server already running")
)

// FrameState is the producer's current pixel matrix.
type FrameState struct {
	Geometry protocol.Geometry
	Pixels   []byte
}

// Source supplies the frame to broadcast each cycle. Frame is called from
// the loop goroutine only; the returned pixels are not retained.
type Source interface {
	Frame() FrameState
}

// SpectrumSource optionally supplies spectrum bands each cycle.
type SpectrumSource interface {
	Spectrum() []float32
}

// CommandHandler receives commands sent by clients. It runs on the loop
// goroutine and must not block.
type CommandHandler interface {
	HandleCommand(from net.Addr, cmd protocol.Command)
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(from net.Addr, cmd protocol.Command)

// HandleCommand calls f.
func (f CommandHandlerFunc) HandleCommand(from net.Addr, cmd protocol.Command) {
	f(from, cmd)
}

type datagram struct {
	addr net.Addr
	data []byte
}

// Server streams state to UDP clients.
type Server struct {
	config Config
	logger *slog.Logger

	source   Source
	spectrum SpectrumSource
	commands CommandHandler

	table     *session.Table
	assembler *fragment.Assembler
	encoder   *delta.Encoder
	gate      *compress.Gate
	codec     compress.Codec
	metrics   *Metrics
	tracer    trace.Tracer

	// Loop-owned state.
	conn         net.PacketConn
	enc          *protocol.Encoder
	geometry     protocol.Geometry
	lastKeyframe time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	lastFull *FrameState
	encStats delta.Stats
	local    net.Addr
}

// New creates a server that broadcasts frames from source.
func New(config Config, source Source) *Server {
	config = config.withDefaults()
	logger := config.Logger.With("component", "transport")

	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(WithRegistry(prometheus.NewRegistry()))
	}

	codec := config.Codec
	if codec == nil && config.Compression {
		z, err := compress.NewZstd(config.MaxMessageSize)
		if err != nil {
			logger.Warn("compression disabled", "error", err)
		} else {
			codec = z
		}
	}
	var gate *compress.Gate
	if config.Compression && codec != nil {
		gate = &compress.Gate{
			Codec:    codec,
			MinRatio: config.CompressionMinRatio,
			MinSize:  config.CompressionMinSize,
		}
	}

	s := &Server{
		config: config,
		logger: logger,
		source: source,
		table: session.NewTable(session.Config{
			Timeout:          config.SessionTimeout,
			MaxSessions:      config.MaxSessions,
			MaxSessionsPerIP: config.MaxSessionsPerIP,
		}, config.Logger),
		assembler: fragment.NewAssembler(fragment.Config{
			TTL:            config.ReassemblyTTL,
			MaxMessageSize: config.MaxMessageSize,
			Logger:         config.Logger,
		}),
		encoder: delta.NewEncoder(config.DiffThreshold),
		gate:    gate,
		codec:   codec,
		metrics: metrics,
		tracer:  otel.Tracer(config.TracerName),
		enc:     protocol.NewEncoder(),
	}
	if sp, ok := source.(SpectrumSource); ok {
		s.spectrum = sp
	}
	if ch, ok := source.(CommandHandler); ok {
		s.commands = ch
	}
	return s
}

// SetSpectrumSource sets the optional spectrum source. Call before Run.
func (s *Server) SetSpectrumSource(src SpectrumSource) {
	s.spectrum = src
}

// SetCommandHandler sets the handler for client commands. Call before Run.
func (s *Server) SetCommandHandler(h CommandHandler) {
	s.commands = h
}

// Sessions returns a diagnostic copy of every session.
func (s *Server) Sessions() []session.Info {
	return s.table.Snapshot()
}

// SessionStats returns session table statistics.
func (s *Server) SessionStats() session.Stats {
	return s.table.Stats()
}

// EncoderStats returns differential encoder statistics.
func (s *Server) EncoderStats() delta.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encStats
}

// ReassemblyStats returns inbound reassembly statistics.
func (s *Server) ReassemblyStats() fragment.Stats {
	return s.assembler.Stats()
}

// LastFull returns a copy of the most recent full snapshot that was sent.
func (s *Server) LastFull() (FrameState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFull == nil {
		return FrameState{}, false
	}
	pixels := make([]byte, len(s.lastFull.Pixels))
	copy(pixels, s.lastFull.Pixels)
	return FrameState{Geometry: s.lastFull.Geometry, Pixels: pixels}, true
}

// LocalAddr returns the socket address while the server is running.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ListenAndRun listens on Config.Addr and runs until ctx is done.
func (s *Server) ListenAndRun(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", s.config.Addr, err)
	}
	return s.Run(ctx, conn)
}

// Stop cancels a running Run.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run serves on conn until ctx is done or Stop is called. It takes ownership
// of conn and closes it after the reader has exited. A clean shutdown
// returns nil.
func (s *Server) Run(ctx context.Context, conn net.PacketConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerRunning
	}
	s.running = true
	s.cancel = cancel
	s.local = conn.LocalAddr()
	s.mu.Unlock()

	s.conn = conn
	inbound := make(chan datagram, s.config.InboundQueue)
	readerDone := make(chan struct{})
	go s.readLoop(ctx, conn, inbound, readerDone)

	defer func() {
		cancel()
		<-readerDone
		conn.Close()

		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.local = nil
		s.mu.Unlock()
	}()

	s.logger.Info("transport started",
		"addr", conn.LocalAddr().String(),
		"rate_hz", s.config.RateHz,
		"compression", s.gate != nil)

	updates := time.NewTicker(time.Second / time.Duration(s.config.RateHz))
	defer updates.Stop()
	keepAlive := time.NewTicker(s.config.KeepAliveCheck)
	defer keepAlive.Stop()
	sweep := time.NewTicker(s.config.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("transport stopped", "sessions", s.table.Len())
			return nil

		case d := <-inbound:
			s.handleDatagram(ctx, d)

		case <-updates.C:
			s.broadcast(ctx)

		case <-keepAlive.C:
			s.keepAlive()

		case <-sweep.C:
			s.sweep()
		}
	}
}

// readLoop copies datagrams into inbound until ctx is done.
func (s *Server) readLoop(ctx context.Context, conn net.PacketConn, inbound chan<- datagram, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, protocol.HeaderSize+protocol.MaxWirePayload)

	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("read error", "error", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case inbound <- datagram{addr: addr, data: data}:
		default:
			s.metrics.DroppedTotal.WithLabelValues(DropQueueFull).Inc()
			s.logger.Debug("inbound queue full, dropping datagram", "addr", addr.String())
		}
	}
}

// keepAlive pings every session that has not been sent anything for
// KeepAliveInterval.
func (s *Server) keepAlive() {
	now := s.config.Now()
	for _, info := range s.table.Active(now) {
		if now.Sub(info.LastSent) < s.config.KeepAliveInterval {
			continue
		}
		payload := protocol.EncodePingPong(&protocol.PingPong{Timestamp: uint64(now.UnixMilli())})
		if err := s.sendControl(info.Addr, protocol.TypePing, 0, payload); err != nil {
			s.logger.Debug("ping failed", "session_id", info.ID, "error", err)
		}
	}
}

// sweep evicts stale sessions and purges abandoned reassembly buffers.
func (s *Server) sweep() {
	now := s.config.Now()
	for _, info := range s.table.Sweep(now) {
		s.assembler.Drop(info.Addr)
		s.logger.Info("session expired",
			"session_id", info.ID,
			"addr", info.Addr,
			"idle", now.Sub(info.LastSeen).String())
	}
	for _, e := range s.assembler.Purge(now) {
		s.metrics.ReassemblyTimeouts.Inc()
		s.logger.Debug("reassembly abandoned", "addr", e.Sender, "seq", e.Sequence, "error", e.Err())
	}
	s.metrics.Sessions.Set(float64(s.table.Len()))
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
