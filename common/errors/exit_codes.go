package errors

import "errors"

type ExitCode int

const (
	// sysexits.h values for malformed input and I/O trouble
	FormatFailureExitCode ExitCode = 65
	IOFailureExitCode     ExitCode = 74
	ConfigFailureExitCode ExitCode = 78

	GenericFailureExitCode ExitCode = 1

	CouldNotExecExitCode     ExitCode = 110
	ExecutionFailureExitCode ExitCode = 111
	UndoFailureExitCode      ExitCode = 112
)

type exitCoder interface {
	GetExitCode() ExitCode
}

// ExitCodeOf returns the exit code a binary should use for err: 0 for nil,
// the code carried by the first error in the chain that has one, otherwise
// GenericFailureExitCode.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return 0
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		if code := ec.GetExitCode(); code != 0 {
			return code
		}
	}
	return GenericFailureExitCode
}
