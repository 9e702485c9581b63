package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vango-dev/lumenstream/internal/errors"
	"github.com/vango-dev/lumenstream/pkg/compress"
	"github.com/vango-dev/lumenstream/pkg/fragment"
	"github.com/vango-dev/lumenstream/pkg/protocol"
	"github.com/vango-dev/lumenstream/pkg/transport"
)

const (
	// DefaultFileName is the configuration file looked up by the CLI.
	DefaultFileName = "lumen.toml"

	// DefaultListen is the default UDP listen address.
	DefaultListen = ":8081"

	// DefaultRateHz is the default update rate.
	DefaultRateHz = 40

	// MinRateHz and MaxRateHz bound the update rate.
	MinRateHz = 1
	MaxRateHz = 120

	// DefaultMatrixSize is the default width and height of the demo matrix.
	DefaultMatrixSize = 32

	// DefaultSpectrumBands is the default number of demo spectrum bands.
	DefaultSpectrumBands = 16
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return errors.New("E205").WithDetail(fmt.Sprintf("%q is not a duration", text)).Wrap(err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete daemon configuration.
type Config struct {
	// Listen is the UDP address the stream is served on.
	Listen string `json:"listen" toml:"listen"`

	// RateHz is the update rate, 1 to 120.
	RateHz int `json:"rate_hz" toml:"rate_hz"`

	// KeepAlive is how long a session may go without traffic from the
	// server before it is pinged.
	KeepAlive Duration `json:"keepalive" toml:"keepalive"`

	// SessionTimeout evicts sessions that have been silent this long.
	SessionTimeout Duration `json:"session_timeout" toml:"session_timeout"`

	// KeyframeInterval forces a full frame this often.
	KeyframeInterval Duration `json:"keyframe_interval" toml:"keyframe_interval"`

	// ReassemblyTTL bounds partial inbound messages.
	ReassemblyTTL Duration `json:"reassembly_ttl" toml:"reassembly_ttl"`

	// MaxSessions caps the session table. 0 means unlimited.
	MaxSessions int `json:"max_sessions" toml:"max_sessions"`

	// MaxSessionsPerIP caps sessions from one host. 0 means unlimited.
	MaxSessionsPerIP int `json:"max_sessions_per_ip" toml:"max_sessions_per_ip"`

	// DiffThreshold is the dirty ratio at which a full frame is sent
	// instead of a diff.
	DiffThreshold float64 `json:"diff_threshold" toml:"diff_threshold"`

	// SpectrumBands is the number of bands the demo producer emits.
	SpectrumBands int `json:"spectrum_bands" toml:"spectrum_bands"`

	Compression CompressionConfig `json:"compression" toml:"compression"`
	Matrix      MatrixConfig      `json:"matrix" toml:"matrix"`
	Admin       AdminConfig       `json:"admin" toml:"admin"`
	Archive     ArchiveConfig     `json:"archive" toml:"archive"`
	Log         LogConfig         `json:"log" toml:"log"`

	path    string
	unknown []string
}

// CompressionConfig configures the compression gate.
type CompressionConfig struct {
	Enabled  bool    `json:"enabled" toml:"enabled"`
	MinRatio float64 `json:"min_ratio" toml:"min_ratio"`
	MinSize  int     `json:"min_size" toml:"min_size"`
}

// MatrixConfig is the geometry of the built-in producer.
type MatrixConfig struct {
	Width  int `json:"width" toml:"width"`
	Height int `json:"height" toml:"height"`
}

// AdminConfig configures the HTTP admin surface.
type AdminConfig struct {
	// Listen is the HTTP address. Empty disables the admin server.
	Listen string `json:"listen,omitempty" toml:"listen,omitempty"`
}

// ArchiveConfig configures snapshot archival to S3.
type ArchiveConfig struct {
	// Bucket enables archival when set.
	Bucket   string   `json:"bucket,omitempty" toml:"bucket,omitempty"`
	Prefix   string   `json:"prefix,omitempty" toml:"prefix,omitempty"`
	Region   string   `json:"region,omitempty" toml:"region,omitempty"`
	Endpoint string   `json:"endpoint,omitempty" toml:"endpoint,omitempty"`
	Interval Duration `json:"interval" toml:"interval"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" toml:"level"`
	Format string `json:"format" toml:"format"`
}

// New returns a Config with default values.
func New() *Config {
	def := transport.DefaultConfig()
	return &Config{
		Listen:           DefaultListen,
		RateHz:           DefaultRateHz,
		KeepAlive:        Duration(def.KeepAliveInterval),
		SessionTimeout:   Duration(def.SessionTimeout),
		KeyframeInterval: Duration(def.KeyframeInterval),
		ReassemblyTTL:    Duration(def.ReassemblyTTL),
		DiffThreshold:    def.DiffThreshold,
		SpectrumBands:    DefaultSpectrumBands,
		Compression: CompressionConfig{
			Enabled:  true,
			MinRatio: compress.DefaultMinRatio,
			MinSize:  compress.DefaultMinSize,
		},
		Matrix: MatrixConfig{Width: DefaultMatrixSize, Height: DefaultMatrixSize},
		Archive: ArchiveConfig{
			Interval: Duration(time.Minute),
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a TOML or JSON configuration file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E200").
				WithDetail("No config file at " + path)
		}
		return nil, errors.New("E201").Wrap(err)
	}

	cfg := New()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, decodeError(path, data, err)
		}
		for _, k := range meta.Undecoded() {
			cfg.unknown = append(cfg.unknown, k.String())
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(cfg); err != nil {
			return nil, decodeError(path, data, err)
		}
	default:
		return nil, errors.New("E202").WithDetail("Cannot read " + filepath.Base(path))
	}

	cfg.path = path
	cfg.applyDefaults()
	return cfg, nil
}

// decodeError converts a decoder error into a coded error pointing at the
// offending line.
func decodeError(path string, data []byte, err error) error {
	var coded *errors.Error
	if stderrors.As(err, &coded) {
		return coded
	}

	e := errors.New("E201").WithDetail(err.Error())
	var (
		tomlErr   toml.ParseError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case stderrors.As(err, &tomlErr):
		e.Detail = tomlErr.Message
		e.WithLocation(path, tomlErr.Position.Line, 0)
	case stderrors.As(err, &syntaxErr):
		line, col := lineCol(data, syntaxErr.Offset)
		e.WithLocation(path, line, col)
	case stderrors.As(err, &typeErr):
		line, col := lineCol(data, typeErr.Offset)
		e.WithLocation(path, line, col)
	}
	return e.Wrap(err)
}

// lineCol converts a byte offset to a 1-based line and column.
func lineCol(data []byte, offset int64) (int, int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	before := data[:offset]
	line := bytes.Count(before, []byte{'\n'}) + 1
	col := int(offset) - bytes.LastIndexByte(before, '\n')
	return line, col
}

// SaveTo writes the configuration to path in the format its extension
// names.
func (c *Config) SaveTo(path string) error {
	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return errors.New("E211").Wrap(err)
		}
	case ".json":
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return errors.New("E211").Wrap(err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	default:
		return errors.New("E202").WithDetail("Cannot write " + filepath.Base(path))
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.New("E211").Wrap(err)
	}
	c.path = path
	return nil
}

// Path returns the file the configuration was loaded from or saved to.
func (c *Config) Path() string {
	return c.path
}

// UnknownKeys returns TOML keys in the file that no field consumed.
func (c *Config) UnknownKeys() []string {
	return c.unknown
}

// applyDefaults fills in values a file set to zero.
func (c *Config) applyDefaults() {
	def := New()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.RateHz == 0 {
		c.RateHz = def.RateHz
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = def.KeepAlive
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.KeyframeInterval == 0 {
		c.KeyframeInterval = def.KeyframeInterval
	}
	if c.ReassemblyTTL == 0 {
		c.ReassemblyTTL = def.ReassemblyTTL
	}
	if c.DiffThreshold == 0 {
		c.DiffThreshold = def.DiffThreshold
	}
	if c.Matrix.Width == 0 {
		c.Matrix.Width = def.Matrix.Width
	}
	if c.Matrix.Height == 0 {
		c.Matrix.Height = def.Matrix.Height
	}
	if c.Archive.Interval == 0 {
		c.Archive.Interval = def.Archive.Interval
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if err := validAddr(c.Listen); err != nil {
		return errors.New("E203").WithDetail("listen: " + err.Error())
	}
	if c.RateHz < MinRateHz || c.RateHz > MaxRateHz {
		return errors.New("E204").WithDetail(fmt.Sprintf("rate_hz is %d", c.RateHz))
	}
	for name, d := range map[string]Duration{
		"keepalive":         c.KeepAlive,
		"session_timeout":   c.SessionTimeout,
		"keyframe_interval": c.KeyframeInterval,
		"reassembly_ttl":    c.ReassemblyTTL,
	} {
		if d < 0 {
			return errors.New("E205").WithDetail(fmt.Sprintf("%s is negative (%s)", name, d.Std()))
		}
	}
	if c.MaxSessions < 0 || c.MaxSessionsPerIP < 0 {
		return errors.New("E212")
	}
	if c.DiffThreshold <= 0 || c.DiffThreshold > 1 {
		return errors.New("E208").WithDetail(fmt.Sprintf("diff_threshold is %g", c.DiffThreshold))
	}
	if c.Compression.MinRatio <= 0 || c.Compression.MinRatio >= 1 || c.Compression.MinSize <= 0 {
		return errors.New("E207").WithDetail(fmt.Sprintf("min_ratio is %g, min_size is %d",
			c.Compression.MinRatio, c.Compression.MinSize))
	}
	if err := c.validMatrix(); err != nil {
		return err
	}
	if c.SpectrumBands < 0 || c.SpectrumBands > 4096 {
		return errors.New("E206").WithDetail(fmt.Sprintf("spectrum_bands is %d", c.SpectrumBands))
	}
	if c.Admin.Listen != "" {
		if err := validAddr(c.Admin.Listen); err != nil {
			return errors.New("E203").WithDetail("admin.listen: " + err.Error())
		}
	}
	if c.Archive.Bucket != "" && c.Archive.Interval <= 0 {
		return errors.New("E209")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return errors.New("E210").WithDetail(fmt.Sprintf("log.format is %q", c.Log.Format))
	}
	return nil
}

func (c *Config) validMatrix() error {
	w, h := c.Matrix.Width, c.Matrix.Height
	if w < 1 || h < 1 || w > 0xFFFF || h > 0xFFFF {
		return errors.New("E206").WithDetail(fmt.Sprintf("matrix is %dx%d", w, h))
	}
	if size := c.Geometry().FrameSize() + 5; size > fragment.DefaultMaxMessageSize {
		return errors.New("E206").WithDetail(fmt.Sprintf("a %dx%d frame is %d bytes", w, h, size))
	}
	return nil
}

func validAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port == "" {
		return stderrors.New("missing port")
	}
	return nil
}

// Geometry returns the configured matrix as an RGB geometry.
func (c *Config) Geometry() protocol.Geometry {
	return protocol.Geometry{
		Width:  uint16(c.Matrix.Width),
		Height: uint16(c.Matrix.Height),
		Format: protocol.FormatRGB,
	}
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, errors.New("E210").WithDetail(fmt.Sprintf("log.level is %q", c.Log.Level))
	}
	return level, nil
}

// Logger builds the slog logger described by Log, writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Transport returns the transport configuration this file describes.
func (c *Config) Transport(logger *slog.Logger) transport.Config {
	tc := transport.DefaultConfig()
	tc.Addr = c.Listen
	tc.RateHz = c.RateHz
	tc.KeepAliveInterval = c.KeepAlive.Std()
	tc.SessionTimeout = c.SessionTimeout.Std()
	tc.KeyframeInterval = c.KeyframeInterval.Std()
	tc.ReassemblyTTL = c.ReassemblyTTL.Std()
	tc.MaxSessions = c.MaxSessions
	tc.MaxSessionsPerIP = c.MaxSessionsPerIP
	tc.DiffThreshold = c.DiffThreshold
	tc.Compression = c.Compression.Enabled
	tc.CompressionMinRatio = c.Compression.MinRatio
	tc.CompressionMinSize = c.Compression.MinSize
	tc.Logger = logger
	return tc
}
