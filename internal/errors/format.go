package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiWhite = "\033[37m"
	ansiCyan  = "\033[36m"
	ansiGray  = "\033[90m"
	ansiBold  = "\033[1m"
)

// colorEnabled gates every ANSI sequence Format emits.
var colorEnabled = true

// DisableColors makes Format emit plain text.
func DisableColors() { colorEnabled = false }

// EnableColors restores ANSI output.
func EnableColors() { colorEnabled = true }

func paint(text string, codes ...string) string {
	if !colorEnabled || len(codes) == 0 {
		return text
	}
	return strings.Join(codes, "") + text + ansiReset
}

// detailWidth is the column at which Detail is wrapped.
const detailWidth = 70

// sheet accumulates the blocks of a formatted error. Each block ends with
// a blank line.
type sheet struct {
	strings.Builder
}

func (s *sheet) line(indent int, parts ...string) {
	s.WriteString(strings.Repeat(" ", indent))
	for _, p := range parts {
		s.WriteString(p)
	}
	s.WriteByte('\n')
}

func (s *sheet) end() { s.WriteByte('\n') }

// Format renders the error for a terminal: a header, then the source
// excerpt, detail, cause, hint and example blocks that are present.
func (e *Error) Format() string {
	var s sheet
	s.end()

	head := paint("ERROR: ", ansiRed, ansiBold)
	if e.Code != "" {
		head = paint("ERROR ", ansiRed, ansiBold) + paint(e.Code+": ", ansiWhite, ansiBold)
	}
	s.line(0, head, paint(e.Message, ansiWhite))
	s.end()

	if e.Location != nil {
		s.line(2, paint(e.Location.String(), ansiCyan))
		s.end()
		if len(e.Context) > 0 {
			e.excerpt(&s)
			s.end()
		}
	}

	if lines := wrapText(e.Detail, detailWidth); len(lines) > 0 {
		for _, l := range lines {
			s.line(2, l)
		}
		s.end()
	}

	if e.Wrapped != nil {
		s.line(2, paint("Cause: ", ansiGray), e.Wrapped.Error())
		s.end()
	}

	if e.Suggestion != "" {
		s.line(2, paint("Hint: ", ansiCyan), e.Suggestion)
		s.end()
	}

	if e.Example != "" {
		s.line(2, paint("Example:", ansiCyan))
		for _, l := range strings.Split(e.Example, "\n") {
			s.line(4, l)
		}
		s.end()
	}

	return s.String()
}

// excerpt writes the numbered context lines with the failing line marked
// and, when a column is known, a caret under it.
func (e *Error) excerpt(s *sheet) {
	loc := e.Location
	first := max(loc.Line-2, 1)
	gutter := paint(" │ ", ansiGray)

	for i, text := range e.Context {
		n := first + i
		if n != loc.Line {
			s.line(4, fmt.Sprintf("%4d", n), gutter, text)
			continue
		}
		s.line(2, paint("→ ", ansiRed), fmt.Sprintf("%4d", n), gutter, text)
		if loc.Column > 0 {
			s.line(7, paint("│ ", ansiGray), strings.Repeat(" ", loc.Column-1), paint("^", ansiRed))
		}
	}
}

// FormatCompact returns "file:line:col: CODE: Message" with the absent
// parts left out.
func (e *Error) FormatCompact() string {
	var parts []string
	if e.Location != nil {
		parts = append(parts, e.Location.String())
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	return strings.Join(append(parts, e.Message), ": ")
}

type jsonLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

type jsonError struct {
	Code       string        `json:"code,omitempty"`
	Category   Category      `json:"category"`
	Message    string        `json:"message"`
	Detail     string        `json:"detail,omitempty"`
	Location   *jsonLocation `json:"location,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	Cause      string        `json:"cause,omitempty"`
}

// FormatJSON returns the error as one JSON object, for machine consumers
// such as 'lumen config check' in CI.
func (e *Error) FormatJSON() string {
	out := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Suggestion: e.Suggestion,
	}
	if loc := e.Location; loc != nil {
		out.Location = &jsonLocation{File: loc.File, Line: loc.Line, Column: loc.Column}
	}
	if e.Wrapped != nil {
		out.Cause = e.Wrapped.Error()
	}
	data, _ := json.Marshal(out)
	return string(data)
}

// wrapText breaks text on spaces into lines of at most width columns.
// Words longer than width get a line of their own.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	lines := []string{words[0]}
	for _, w := range words[1:] {
		last := &lines[len(lines)-1]
		if len(*last)+1+len(w) > width {
			lines = append(lines, w)
			continue
		}
		*last += " " + w
	}
	return lines
}

// Print writes err to w, using Format when err is an *Error.
func Print(w io.Writer, err error) {
	if e, ok := err.(*Error); ok {
		io.WriteString(w, e.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", paint("ERROR:", ansiRed, ansiBold), err.Error())
}
