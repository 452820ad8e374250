// Package errors holds the error taxonomy shared by the pipeline packages.
// Every error here is recoverable at the session level and carries the exit
// code a command line front end should use when it gives up.
package errors

import (
	"fmt"
	"strings"
)

// ExitCodeError attaches an exit code to an error that has none of its own.
type ExitCodeError struct {
	code ExitCode
	error
}

func NewError(err error, exitCode ExitCode) *ExitCodeError {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

func (e *ExitCodeError) Unwrap() error {
	return e.error
}

// FormatError reports an unparseable or structurally invalid tabular stream.
// Line is 1-based; 0 means the problem is not tied to a line.
type FormatError struct {
	Source string
	Line   int
	Msg    string
}

func NewFormatError(source string, line int, format string, args ...interface{}) *FormatError {
	return &FormatError{Source: source, Line: line, Msg: fmt.Sprintf(format, args...)}
}

func (e *FormatError) Error() string {
	where := e.Source
	if where == "" {
		where = "stream"
	}
	if e.Line > 0 {
		return fmt.Sprintf("format error in %s line %d: %s", where, e.Line, e.Msg)
	}
	return fmt.Sprintf("format error in %s: %s", where, e.Msg)
}

func (e *FormatError) GetExitCode() ExitCode { return FormatFailureExitCode }

// LaunchError means the external program never started.
type LaunchError struct {
	Argv []string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("could not launch %q: %v", strings.Join(e.Argv, " "), e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) GetExitCode() ExitCode { return CouldNotExecExitCode }

// ExecutionError means the external program ran but failed. Stderr holds what
// the program wrote to its error channel, verbatim.
type ExecutionError struct {
	Argv     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	cmd := strings.Join(e.Argv, " ")
	var msg string
	switch {
	case e.Err != nil:
		msg = fmt.Sprintf("%q failed: %v", cmd, e.Err)
	default:
		msg = fmt.Sprintf("%q exited with code %d", cmd, e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) GetExitCode() ExitCode { return ExecutionFailureExitCode }

// UndoError is returned when undo would discard the original input.
type UndoError struct {
	Msg string
}

func (e *UndoError) Error() string { return e.Msg }

func (e *UndoError) GetExitCode() ExitCode { return UndoFailureExitCode }

// IOError reports a storage failure. Op names the failed step ("commit",
// "save", ...).
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) GetExitCode() ExitCode { return IOFailureExitCode }
