package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/lumenstream/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew(t *testing.T) {
	cfg := New()
	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %q, want %q", cfg.Listen, DefaultListen)
	}
	if cfg.RateHz != 40 {
		t.Errorf("RateHz = %d, want 40", cfg.RateHz)
	}
	if cfg.SessionTimeout.Std() != 60*time.Second {
		t.Errorf("SessionTimeout = %v, want 60s", cfg.SessionTimeout.Std())
	}
	if cfg.KeyframeInterval.Std() != 2*time.Second {
		t.Errorf("KeyframeInterval = %v, want 2s", cfg.KeyframeInterval.Std())
	}
	if !cfg.Compression.Enabled {
		t.Error("compression disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "lumen.toml", `
listen = "0.0.0.0:9000"
rate_hz = 60
session_timeout = "90s"
max_sessions = 8

[compression]
enabled = false

[matrix]
width = 64
height = 16

[archive]
bucket = "frames"
interval = "30s"

[log]
level = "debug"
format = "json"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" || cfg.RateHz != 60 || cfg.MaxSessions != 8 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SessionTimeout.Std() != 90*time.Second {
		t.Errorf("SessionTimeout = %v", cfg.SessionTimeout.Std())
	}
	if cfg.Compression.Enabled {
		t.Error("compression.enabled = false not applied")
	}
	if cfg.Compression.MinSize != 64 {
		t.Errorf("MinSize = %d, want the default 64", cfg.Compression.MinSize)
	}
	if cfg.KeyframeInterval.Std() != 2*time.Second {
		t.Errorf("unset keyframe_interval = %v, want default", cfg.KeyframeInterval.Std())
	}
	if g := cfg.Geometry(); g.Width != 64 || g.Height != 16 {
		t.Errorf("Geometry() = %+v", g)
	}
	if cfg.Archive.Bucket != "frames" || cfg.Archive.Interval.Std() != 30*time.Second {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q", cfg.Path())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadTOMLUnknownKeys(t *testing.T) {
	path := writeFile(t, "lumen.toml", "rate_hz = 30\nrate = 10\n\n[matrix]\ndepth = 3\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := strings.Join(cfg.UnknownKeys(), ",")
	if got != "rate,matrix.depth" {
		t.Errorf("UnknownKeys() = %q", got)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "lumen.json", `{"rate_hz": 25, "keepalive": "10s", "admin": {"listen": "127.0.0.1:9090"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RateHz != 25 || cfg.KeepAlive.Std() != 10*time.Second || cfg.Admin.Listen != "127.0.0.1:9090" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantCode string
		wantLine int
	}{
		{"missing", "", "", "E200", 0},
		{"bad_extension", "lumen.yaml", "rate_hz: 40", "E202", 0},
		{"toml_syntax", "lumen.toml", "listen = \":8081\"\nrate_hz = = 4\n", "E201", 2},
		{"json_syntax", "lumen.json", "{\n  \"rate_hz\": 40,\n  oops\n}", "E201", 3},
		{"json_type", "lumen.json", "{\"rate_hz\": \"fast\"}", "E201", 1},
		{"json_duration", "lumen.json", "{\"keepalive\": \"soon\"}", "E205", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "lumen.toml")
			if tc.file != "" {
				path = writeFile(t, tc.file, tc.content)
			}
			_, err := Load(path)
			if got := errors.Code(err); got != tc.wantCode {
				t.Fatalf("Load() error = %v, want code %s", err, tc.wantCode)
			}
			if tc.wantLine > 0 {
				e := errors.FromError(err, "")
				if e.Location == nil || e.Location.Line != tc.wantLine {
					t.Errorf("Location = %v, want line %d", e.Location, tc.wantLine)
				}
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		wantCode string
	}{
		{"listen_no_port", func(c *Config) { c.Listen = "localhost" }, "E203"},
		{"rate_zero", func(c *Config) { c.RateHz = 0 }, "E204"},
		{"rate_high", func(c *Config) { c.RateHz = 121 }, "E204"},
		{"rate_max", func(c *Config) { c.RateHz = 120 }, ""},
		{"negative_duration", func(c *Config) { c.KeepAlive = -1 }, "E205"},
		{"matrix_zero", func(c *Config) { c.Matrix.Width = 0 }, "E206"},
		{"matrix_huge", func(c *Config) { c.Matrix.Width, c.Matrix.Height = 1024, 1024 }, "E206"},
		{"min_ratio", func(c *Config) { c.Compression.MinRatio = 1 }, "E207"},
		{"min_ratio_zero", func(c *Config) { c.Compression.MinRatio = 0 }, "E207"},
		{"min_size_zero", func(c *Config) { c.Compression.MinSize = 0 }, "E207"},
		{"threshold", func(c *Config) { c.DiffThreshold = 1.5 }, "E208"},
		{"archive_interval", func(c *Config) { c.Archive.Bucket = "b"; c.Archive.Interval = 0 }, "E209"},
		{"log_level", func(c *Config) { c.Log.Level = "loud" }, "E210"},
		{"log_format", func(c *Config) { c.Log.Format = "xml" }, "E210"},
		{"max_sessions", func(c *Config) { c.MaxSessions = -1 }, "E212"},
		{"admin_listen", func(c *Config) { c.Admin.Listen = "nope" }, "E203"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			tc.mutate(cfg)
			err := cfg.Validate()
			if got := errors.Code(err); got != tc.wantCode {
				t.Errorf("Validate() = %v, want code %q", err, tc.wantCode)
			}
		})
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	for _, name := range []string{"out.toml", "out.json"} {
		t.Run(name, func(t *testing.T) {
			cfg := New()
			cfg.RateHz = 55
			cfg.ReassemblyTTL = Duration(3 * time.Second)
			cfg.Archive.Bucket = "frames"

			path := filepath.Join(t.TempDir(), name)
			if err := cfg.SaveTo(path); err != nil {
				t.Fatalf("SaveTo() error = %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got.RateHz != 55 || got.ReassemblyTTL.Std() != 3*time.Second || got.Archive.Bucket != "frames" {
				t.Errorf("round trip = %+v", got)
			}
			if len(got.UnknownKeys()) != 0 {
				t.Errorf("UnknownKeys() = %v", got.UnknownKeys())
			}
		})
	}
}

func TestTransportConfig(t *testing.T) {
	cfg := New()
	cfg.RateHz = 50
	cfg.MaxSessionsPerIP = 2
	cfg.Compression.Enabled = false

	tc := cfg.Transport(slog.Default())
	if tc.Addr != cfg.Listen || tc.RateHz != 50 || tc.MaxSessionsPerIP != 2 || tc.Compression {
		t.Errorf("Transport() = %+v", tc)
	}
	if tc.KeyframeInterval != 2*time.Second {
		t.Errorf("KeyframeInterval = %v", tc.KeyframeInterval)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := New()
	cfg.Log = LogConfig{Level: "warn", Format: "json"}
	logger := cfg.Logger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info logged at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("JSON output = %q", out)
	}
}
