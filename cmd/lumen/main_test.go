package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vango-dev/lumenstream/internal/errors"
	"github.com/vango-dev/lumenstream/pkg/protocol"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionShort(t *testing.T) {
	out, err := execute(t, "version", "--short")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("output = %q, want %q", out, version)
	}
}

func TestConfigInitAndCheck(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"lumen.toml", "lumen.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if _, err := execute(t, "config", "init", path); err != nil {
				t.Fatalf("config init error = %v", err)
			}
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("file not written: %v", err)
			}
			if _, err := execute(t, "config", "check", path); err != nil {
				t.Errorf("config check error = %v", err)
			}

			_, err := execute(t, "config", "init", path)
			if errors.Code(err) != "E303" {
				t.Errorf("init over existing file error = %v, want E303", err)
			}
			if _, err := execute(t, "config", "init", "--force", path); err != nil {
				t.Errorf("init --force error = %v", err)
			}
		})
	}
}

func TestConfigCheckReportsCodes(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("rate_hz = 500\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		code string
	}{
		{"missing", filepath.Join(dir, "nope.toml"), "E200"},
		{"invalid_rate", bad, "E204"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, "config", "check", tc.path)
			if got := errors.Code(err); got != tc.code {
				t.Errorf("code = %q (%v), want %s", got, err, tc.code)
			}
		})
	}
}

func TestProbeCommands(t *testing.T) {
	tests := []struct {
		name    string
		opts    probeOptions
		want    []protocol.Command
		wantErr bool
	}{
		{"none", probeOptions{effect: -1}, nil, false},
		{
			name: "all",
			opts: probeOptions{effect: 3, mode: "mono", params: []string{"speed=2", "label="}},
			want: []protocol.Command{
				protocol.SetEffect{EffectID: 3},
				protocol.SetColorMode{Mode: "mono"},
				protocol.SetParameter{Name: "speed", Value: "2"},
				protocol.SetParameter{Name: "label", Value: ""},
			},
		},
		{"missing_equals", probeOptions{effect: -1, params: []string{"speed"}}, nil, true},
		{"empty_name", probeOptions{effect: -1, params: []string{"=1"}}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.opts.commands()
			if tc.wantErr {
				if errors.Code(err) != "E303" {
					t.Errorf("error = %v, want E303", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("commands() error = %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("commands() = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("commands()[%d] = %#v, want %#v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestInspectMissingFile(t *testing.T) {
	_, err := execute(t, "inspect", filepath.Join(t.TempDir(), "none.pcap"))
	if errors.Code(err) != "E302" {
		t.Errorf("error = %v, want E302", err)
	}
}

func TestServeRejectsInvalidFlags(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	_, err := execute(t, "serve", "--rate", "0")
	if errors.Code(err) != "E204" {
		t.Errorf("error = %v, want E204", err)
	}
}
