package parser

import (
	"fmt"
	"strings"
)

// Position identifies a single point in a source file: the file it came
// from, and the line/column within that file. Tokens spliced in by
// .include carry the position of their own file, not the position of the
// directive that pulled them in.
type Position struct {
	Filename string
	Line     int
	Column   int

	// Synthetic marks positions invented by the assembler itself (the
	// _EXTSTART/_ENDMEM labels, the trailing end-of-stream token) rather
	// than read from a file.
	Synthetic bool
}

func (p Position) String() string {
	if p.Synthetic {
		return "<internal>"
	}
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// Error represents a diagnostic tied to a source position.
type Error struct {
	Pos     Position
	Message string
	Context string // the source line the error occurred on, if known
	Kind    ErrorKind
}

// ErrorKind classifies a diagnostic by the pipeline stage that raised it.
type ErrorKind int

const (
	ErrorLexical ErrorKind = iota
	ErrorPreprocessing
	ErrorSemantic
	ErrorStructural
	ErrorInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorLexical:
		return "lexical"
	case ErrorPreprocessing:
		return "preprocessing"
	case ErrorSemantic:
		return "semantic"
	case ErrorStructural:
		return "structural"
	case ErrorInternal:
		return "internal"
	default:
		return "unknown"
	}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %s error: %s\n", e.Pos, e.Kind, e.Message))
	if e.Context != "" {
		sb.WriteString(fmt.Sprintf("    %s\n", e.Context))
	}
	return sb.String()
}

// NewError creates a new diagnostic.
func NewError(pos Position, kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Pos: pos, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewErrorWithContext creates a new diagnostic carrying the source line it
// occurred on, for inclusion in printed output.
func NewErrorWithContext(pos Position, kind ErrorKind, context, format string, args ...interface{}) *Error {
	return &Error{Pos: pos, Kind: kind, Message: fmt.Sprintf(format, args...), Context: context}
}

// Warning is a non-fatal diagnostic; it never prevents the assembler from
// producing an output file, though the file's contents may be incomplete
// (e.g. an operand that didn't fit its slot).
type Warning struct {
	Pos     Position
	Message string
}

func (w *Warning) String() string {
	return fmt.Sprintf("%s: warning: %s", w.Pos, w.Message)
}

// ErrorList accumulates diagnostics across a whole assembly run. Stages
// append to a shared list rather than stopping at the first problem, so a
// single invocation reports everything wrong with a source file at once.
type ErrorList struct {
	Errors   []*Error
	Warnings []*Warning
}

func (el *ErrorList) AddError(pos Position, kind ErrorKind, format string, args ...interface{}) {
	el.Errors = append(el.Errors, NewError(pos, kind, format, args...))
}

func (el *ErrorList) AddWarning(pos Position, format string, args ...interface{}) {
	el.Warnings = append(el.Warnings, &Warning{Pos: pos, Message: fmt.Sprintf(format, args...)})
}

func (el *ErrorList) HasErrors() bool {
	return len(el.Errors) > 0
}

func (el *ErrorList) Error() string {
	if !el.HasErrors() {
		return ""
	}
	var sb strings.Builder
	for _, err := range el.Errors {
		sb.WriteString(err.Error())
	}
	return sb.String()
}

func (el *ErrorList) PrintWarnings() string {
	if len(el.Warnings) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, warn := range el.Warnings {
		sb.WriteString(warn.String())
		sb.WriteString("\n")
	}
	return sb.String()
}
