package parse

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrorCode classifies import failures for callers and UI layers.
type ErrorCode string

const (
	CodeUnrecognizedFormat ErrorCode = "UNRECOGNIZED_FORMAT"
	CodeParse              ErrorCode = "PARSE_ERROR"
	CodeIO                 ErrorCode = "IO_ERROR"
	CodePersistence        ErrorCode = "PERSISTENCE_ERROR"
)

// Error is the typed error carried by terminal error events and returned by
// the importer.
type Error struct {
	Code      ErrorCode
	Message   string
	Path      string
	Diagnosis *FormatDiagnosis // set for CodeUnrecognizedFormat
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// LogValue keeps log lines flat when an *Error is passed to slog.
func (e *Error) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", string(e.Code)),
		slog.String("message", e.Message),
	}
	if e.Path != "" {
		attrs = append(attrs, slog.String("path", e.Path))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("cause", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

func Errorf(code ErrorCode, path string, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to err. An err that already is an *Error is returned
// unchanged so the innermost classification wins.
func Wrap(err error, code ErrorCode, path, message string) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Code: code, Path: path, Message: message, Err: err}
}

// Unrecognized builds the error returned when no format matches path.
func Unrecognized(path string, diag FormatDiagnosis) *Error {
	return &Error{
		Code:      CodeUnrecognizedFormat,
		Message:   diag.Suggestion,
		Path:      path,
		Diagnosis: &diag,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func IsUnrecognized(err error) bool {
	return CodeOf(err) == CodeUnrecognizedFormat
}

// DiagnosisOf returns the diagnosis attached to an unrecognized-format error.
func DiagnosisOf(err error) (*FormatDiagnosis, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Diagnosis != nil {
		return pe.Diagnosis, true
	}
	return nil, false
}

var (
	errMetaMissing   = errors.New("meta must be emitted before members or messages")
	errMetaDuplicate = errors.New("meta emitted more than once")
)
