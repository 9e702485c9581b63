package transport

import (
	"log/slog"
	"time"

	"github.com/vango-dev/lumenstream/pkg/compress"
	"github.com/vango-dev/lumenstream/pkg/delta"
	"github.com/vango-dev/lumenstream/pkg/fragment"
)

// Config holds configuration for a Server.
type Config struct {
	// Addr is the UDP listen address used by ListenAndRun.
	// Default: ":8081".
	Addr string

	// RateHz is the update cadence in cycles per second.
	// Default: 40.
	RateHz int

	// KeepAliveInterval is how long a session may go without a send before it
	// is pinged. Default: 30 seconds.
	KeepAliveInterval time.Duration

	// KeepAliveCheck is how often sessions are checked for keep-alive.
	// Default: 1 second.
	KeepAliveCheck time.Duration

	// SessionTimeout evicts sessions silent for longer than this.
	// Default: 60 seconds.
	SessionTimeout time.Duration

	// SweepInterval is how often stale sessions and reassembly buffers are purged.
	// Default: 1 second.
	SweepInterval time.Duration

	// KeyframeInterval forces a full snapshot this often. 0 disables keyframes.
	// Default: 2 seconds.
	KeyframeInterval time.Duration

	// ReassemblyTTL bounds how long a partial inbound message is kept. It is
	// capped at SessionTimeout. Default: 5 seconds.
	ReassemblyTTL time.Duration

	// MaxMessageSize bounds a reassembled or decompressed inbound message.
	// Default: 1 MiB.
	MaxMessageSize int

	// MaxSessions bounds the session table. 0 means unlimited.
	MaxSessions int

	// MaxSessionsPerIP bounds sessions from one host. 0 means unlimited.
	MaxSessionsPerIP int

	// InboundQueue is the capacity of the reader → loop channel. Datagrams
	// arriving while it is full are dropped. Default: 1024.
	InboundQueue int

	// ReadTimeout is the reader's deadline per ReadFrom. It bounds how long
	// shutdown waits for the reader. Default: 100 milliseconds.
	ReadTimeout time.Duration

	// WriteTimeout is the deadline per WriteTo. A write that cannot complete
	// in time is treated as back-pressure. Default: 5 milliseconds.
	WriteTimeout time.Duration

	// DiffThreshold is the dirty fraction at which a full snapshot is sent.
	// Default: 0.25.
	DiffThreshold float64

	// Compression enables the compression gate. DefaultConfig enables it.
	Compression bool

	// CompressionMinRatio is the saving required to send a compressed payload.
	// Zero selects the default. Default: 0.25.
	CompressionMinRatio float64

	// CompressionMinSize is the smallest payload the gate tries.
	// Zero selects the default. Default: 64.
	CompressionMinSize int

	// Codec overrides the compression codec. Default: zstd.
	Codec compress.Codec

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger

	// Metrics receives Prometheus metrics. Default: metrics on a private registry.
	Metrics *Metrics

	// TracerName names the OpenTelemetry tracer. Default: "lumenstream".
	TracerName string

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:                ":8081",
		RateHz:              40,
		KeepAliveInterval:   30 * time.Second,
		KeepAliveCheck:      time.Second,
		SessionTimeout:      60 * time.Second,
		SweepInterval:       time.Second,
		KeyframeInterval:    2 * time.Second,
		ReassemblyTTL:       fragment.DefaultTTL,
		MaxMessageSize:      fragment.DefaultMaxMessageSize,
		InboundQueue:        1024,
		ReadTimeout:         100 * time.Millisecond,
		WriteTimeout:        5 * time.Millisecond,
		DiffThreshold:       delta.DefaultThreshold,
		Compression:         true,
		CompressionMinRatio: compress.DefaultMinRatio,
		CompressionMinSize:  compress.DefaultMinSize,
		TracerName:          "lumenstream",
	}
}

// withDefaults fills zero fields from DefaultConfig. Compression is taken as
// given since false is meaningful.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.RateHz <= 0 {
		c.RateHz = def.RateHz
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = def.KeepAliveInterval
	}
	if c.KeepAliveCheck <= 0 {
		c.KeepAliveCheck = def.KeepAliveCheck
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.KeyframeInterval < 0 {
		c.KeyframeInterval = 0
	}
	if c.ReassemblyTTL <= 0 {
		c.ReassemblyTTL = def.ReassemblyTTL
	}
	if c.ReassemblyTTL > c.SessionTimeout {
		c.ReassemblyTTL = c.SessionTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.InboundQueue <= 0 {
		c.InboundQueue = def.InboundQueue
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.DiffThreshold <= 0 {
		c.DiffThreshold = def.DiffThreshold
	}
	if c.CompressionMinRatio <= 0 {
		c.CompressionMinRatio = def.CompressionMinRatio
	}
	if c.CompressionMinSize <= 0 {
		c.CompressionMinSize = def.CompressionMinSize
	}
	if c.TracerName == "" {
		c.TracerName = def.TracerName
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
