package errors

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, ExitCode(0), ExitCodeOf(nil))
	assert.Equal(t, GenericFailureExitCode, ExitCodeOf(errors.New("plain")))
	assert.Equal(t, FormatFailureExitCode, ExitCodeOf(NewFormatError("x", 1, "bad")))
	assert.Equal(t, CouldNotExecExitCode, ExitCodeOf(&LaunchError{Argv: []string{"nope"}, Err: os.ErrNotExist}))

	wrapped := fmt.Errorf("apply: %w", &ExecutionError{Argv: []string{"false"}, ExitCode: 1})
	assert.Equal(t, ExecutionFailureExitCode, ExitCodeOf(wrapped))
	assert.Equal(t, ExitCode(42), ExitCodeOf(NewError(errors.New("x"), 42)))
}

func TestExecutionErrorMessageCarriesStderr(t *testing.T) {
	err := &ExecutionError{Argv: []string{"pdbrow", "a > 3"}, ExitCode: 2, Stderr: "syntax error\n"}
	assert.Equal(t, `"pdbrow a > 3" exited with code 2: syntax error`, err.Error())
}

func TestIOErrorUnwraps(t *testing.T) {
	err := &IOError{Op: "save", Path: "/tmp/out.fsdb", Err: os.ErrExist}
	assert.True(t, errors.Is(err, os.ErrExist))
	assert.Equal(t, "save /tmp/out.fsdb: file already exists", err.Error())
}
