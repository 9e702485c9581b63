package errors

import (
	"fmt"
	"os"
	"strings"
)

// Category groups error codes.
type Category string

const (
	CategoryConfig Category = "config"
	CategoryCLI    Category = "cli"
)

// Location is a position in a file.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as file:line[:column].
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Error is a coded config or CLI error. Code, Category, Message and
// Suggestion come from the registry; the rest is filled in where the
// error is raised.
type Error struct {
	Code     string // registered id, e.g. "E201"
	Category Category
	Message  string
	Detail   string

	// Location and Context point into the offending file.
	Location *Location
	Context  []string

	Suggestion string
	Example    string // a corrected snippet
	Wrapped    error
}

// Error returns "CODE: Message (Detail)".
func (e *Error) Error() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Wrapped }

// WithLocation records a file position and reads the lines around it.
func (e *Error) WithLocation(file string, line, column int) *Error {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// The With methods and Wrap set one field and return e for chaining.

func (e *Error) WithSuggestion(s string) *Error { e.Suggestion = s; return e }
func (e *Error) WithExample(ex string) *Error { e.Example = ex; return e }
func (e *Error) WithDetail(d string) *Error { e.Detail = d; return e }
func (e *Error) Wrap(err error) *Error { e.Wrapped = err; return e }

// readContextLines returns the lines of filename within size/2 of target,
// or nil when the file cannot be read.
func readContextLines(filename string, target, size int) []string {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	from := max(target-size/2, 1)
	to := min(target+size/2, len(lines))
	if from > to {
		return nil
	}
	return lines[from-1 : to]
}

// New creates an Error from a registered code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &Error{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates an uncoded Error with a formatted message.
func Newf(category Category, format string, args ...any) *Error {
	return &Error{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err in an Error with code, unless it already is one.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return New(code).Wrap(err)
}

// Code returns the code of the first *Error in err's chain, or "".
func Code(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
