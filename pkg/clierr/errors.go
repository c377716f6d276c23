// Package clierr defines the error kinds surfaced by trainctl and the exit codes they map to.
package clierr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid registrations, ambiguous automatic wiring, or malformed links.
	ErrConfiguration = errors.New("configuration error")
	// ErrParse marks bad command-line, file, or environment input.
	ErrParse = errors.New("parse error")
	// ErrImportResolution marks a class path that does not resolve to a registered component.
	ErrImportResolution = errors.New("class path resolution error")
	// ErrPersistenceConflict marks an existing persisted config that may not be overwritten.
	ErrPersistenceConflict = errors.New("persisted config already exists")
)

// Exit codes aligned with the CLI contract.
const (
	ExitCodeGeneric       = 1
	ExitCodeParse         = 2
	ExitCodeCantCreate    = 73
	ExitCodeConfiguration = 78
)

// Error carries the kind of failure, the offending key/class/path, and the exit code.
type Error struct {
	Code int
	Kind error
	Key  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Key != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Key)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, code int, key string, format string, args ...any) *Error {
	var cause error
	if format != "" {
		cause = fmt.Errorf(format, args...)
	}
	return &Error{Code: code, Kind: kind, Key: key, Err: cause}
}

// Configuration builds a configuration error for key.
func Configuration(key, format string, args ...any) *Error {
	return newError(ErrConfiguration, ExitCodeConfiguration, key, format, args...)
}

// Parse builds a parse error for the argument path key.
func Parse(key, format string, args ...any) *Error {
	return newError(ErrParse, ExitCodeParse, key, format, args...)
}

// ImportResolution builds a resolution error for classPath.
func ImportResolution(classPath, format string, args ...any) *Error {
	return newError(ErrImportResolution, ExitCodeConfiguration, classPath, format, args...)
}

// PersistenceConflict builds a conflict error for path.
func PersistenceConflict(path, format string, args ...any) *Error {
	return newError(ErrPersistenceConflict, ExitCodeCantCreate, path, format, args...)
}

// ExitCode returns the exit code for err, defaulting to ExitCodeGeneric.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cliErr *Error
	if errors.As(err, &cliErr) && cliErr.Code != 0 {
		return cliErr.Code
	}
	return ExitCodeGeneric
}
