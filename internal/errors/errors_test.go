package errors

import (
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{"config error", "E201", "Config file could not be parsed", CategoryConfig},
		{"rate error", "E204", "Update rate out of range", CategoryConfig},
		{"cli error", "E301", "Server did not answer", CategoryCLI},
		{"unknown code", "E999", "Unknown error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestRegistryCodeRanges(t *testing.T) {
	for _, code := range Codes() {
		tmpl, _ := Lookup(code)
		switch {
		case strings.HasPrefix(code, "E2"):
			if tmpl.Category != CategoryConfig {
				t.Errorf("%s category = %q, want config", code, tmpl.Category)
			}
		case strings.HasPrefix(code, "E3"):
			if tmpl.Category != CategoryCLI {
				t.Errorf("%s category = %q, want cli", code, tmpl.Category)
			}
		default:
			t.Errorf("code %s outside the E2xx/E3xx ranges", code)
		}
		if tmpl.Message == "" {
			t.Errorf("%s has no message", code)
		}
	}
}

func TestErrorString(t *testing.T) {
	if got := New("E204").Error(); got != "E204: Update rate out of range" {
		t.Errorf("Error() = %q", got)
	}
	if got := New("E204").WithDetail("rate_hz is 500").Error(); got != "E204: Update rate out of range (rate_hz is 500)" {
		t.Errorf("Error() with detail = %q", got)
	}
	if got := (&Error{Message: "plain"}).Error(); got != "plain" {
		t.Errorf("Error() without code = %q", got)
	}
}

func TestWrapAndCode(t *testing.T) {
	cause := fs.ErrNotExist
	err := New("E200").Wrap(cause)

	if !stderrors.Is(err, fs.ErrNotExist) {
		t.Error("errors.Is does not see the wrapped cause")
	}
	var target *Error
	if !stderrors.As(error(err), &target) || target.Code != "E200" {
		t.Errorf("errors.As = %v", target)
	}

	wrapped := &wrapper{err}
	if got := Code(wrapped); got != "E200" {
		t.Errorf("Code(wrapped) = %q, want E200", got)
	}
	if got := Code(stderrors.New("plain")); got != "" {
		t.Errorf("Code(plain) = %q", got)
	}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

func TestFromError(t *testing.T) {
	if FromError(nil, "E201") != nil {
		t.Error("FromError(nil) != nil")
	}
	orig := New("E203")
	if FromError(orig, "E201") != orig {
		t.Error("FromError re-wrapped an *Error")
	}
	e := FromError(stderrors.New("boom"), "E201")
	if e.Code != "E201" || e.Wrapped == nil {
		t.Errorf("FromError() = %+v", e)
	}
}

func TestWithLocationReadsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.toml")
	content := "listen = \":8081\"\n\nrate_hz = 500\n\n[log]\nlevel = \"info\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	err := New("E204").WithLocation(path, 3, 11)
	if len(err.Context) != 5 {
		t.Fatalf("Context = %q, want 5 lines", err.Context)
	}
	if err.Context[2] != "rate_hz = 500" {
		t.Errorf("Context[2] = %q", err.Context[2])
	}
	if got := err.Location.String(); got != path+":3:11" {
		t.Errorf("Location = %q", got)
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	path := filepath.Join(t.TempDir(), "lumen.toml")
	os.WriteFile(path, []byte("a = 1\nrate_hz = 500\nb = 2\n"), 0o644)

	err := New("E204").
		WithLocation(path, 2, 11).
		WithDetail("rate_hz is 500").
		WithExample("rate_hz = 40").
		Wrap(stderrors.New("out of range"))
	out := err.Format()

	for _, want := range []string{
		"ERROR E204: Update rate out of range",
		path + ":2:11",
		"→    2 │ rate_hz = 500",
		"│           ^",
		"rate_hz is 500",
		"Cause: out of range",
		"Hint: Use a rate between 1 and 120",
		"Example:\n    rate_hz = 40",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("Format() emitted colors while disabled")
	}
}

func TestFormatCompactAndJSON(t *testing.T) {
	err := New("E203")
	err.Location = &Location{File: "lumen.json", Line: 4}
	if got := err.FormatCompact(); got != "lumen.json:4: E203: Invalid listen address" {
		t.Errorf("FormatCompact() = %q", got)
	}

	var decoded map[string]any
	if e := json.Unmarshal([]byte(err.FormatJSON()), &decoded); e != nil {
		t.Fatalf("FormatJSON() is not JSON: %v", e)
	}
	if decoded["code"] != "E203" || decoded["category"] != "config" {
		t.Errorf("FormatJSON() = %v", decoded)
	}
	if loc, ok := decoded["location"].(map[string]any); !ok || loc["line"] != float64(4) {
		t.Errorf("location = %v", decoded["location"])
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText(strings.Repeat("word ", 30), 20)
	for _, l := range lines {
		if len(l) > 20 {
			t.Errorf("line %q longer than 20", l)
		}
	}
	if wrapText("", 10) != nil {
		t.Error("wrapText(\"\") != nil")
	}
}

func TestRegister(t *testing.T) {
	Register("E399", Template{Category: CategoryCLI, Message: "Test error"})
	defer delete(registry, "E399")
	if got := New("E399").Message; got != "Test error" {
		t.Errorf("Message = %q", got)
	}
}
