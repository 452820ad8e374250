package execer

//go:generate mockgen -destination=execers/mock_execer.go -package=execers github.com/fsdbtools/fsdbview/runner/execer Execer,Process

// Execer lets you run one Unix command. It differs from a session in that it
// does not know about Snapshots or versions. It's just a way to run a Unix
// process (or fake it), at the level of os/exec.

import (
	"bytes"
	"context"
	"errors"
	"io"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
)

// Command is one program invocation. Stdin is fed to the program while
// Stdout and Stderr are drained concurrently; nil Stdin means empty input
// and nil writers discard.
type Command struct {
	Argv    []string
	Dir     string
	EnvVars map[string]string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

type ProcessState int

const (
	UNKNOWN ProcessState = iota
	RUNNING
	COMPLETE
	FAILED
)

func (s ProcessState) IsDone() bool {
	return s == COMPLETE || s == FAILED
}

func (s ProcessState) String() string {
	switch s {
	case RUNNING:
		return "RUNNING"
	case COMPLETE:
		return "COMPLETE"
	case FAILED:
		return "FAILED"
	}
	return "UNKNOWN"
}

type Execer interface {
	// Exec starts command. A program that cannot be started yields a
	// *errors.LaunchError and no Process.
	Exec(ctx context.Context, command Command) (Process, error)
}

type Process interface {
	// Wait blocks until the program has exited and its output is drained.
	Wait() ProcessStatus
	// Abort terminates the program and everything it started.
	Abort() ProcessStatus
}

// ProcessStatus is COMPLETE when the program exited on its own, whatever
// the code, and FAILED when it could not be waited for, was killed, or its
// streams could not be copied. Error explains a FAILED state.
type ProcessStatus struct {
	State    ProcessState
	ExitCode int
	Error    string
}

// Classify turns a finished status into nil or an *errors.ExecutionError
// carrying the program's stderr text.
func Classify(argv []string, st ProcessStatus, stderr string) error {
	if st.State == COMPLETE && st.ExitCode == 0 {
		return nil
	}
	e := &fserrors.ExecutionError{Argv: argv, ExitCode: st.ExitCode, Stderr: stderr}
	if st.State != COMPLETE {
		msg := st.Error
		if msg == "" {
			msg = "process did not complete"
		}
		e.Err = errors.New(msg)
	}
	return e
}

// DefaultMaxStderr bounds how much diagnostic text is kept per run.
const DefaultMaxStderr = 64 * 1024

// Run feeds input to argv and returns everything it wrote to stdout.
func Run(ctx context.Context, e Execer, argv []string, input []byte) ([]byte, error) {
	var stdout bytes.Buffer
	stderr := NewTailBuffer(DefaultMaxStderr)
	p, err := e.Exec(ctx, Command{
		Argv:   argv,
		Stdin:  bytes.NewReader(input),
		Stdout: &stdout,
		Stderr: stderr,
	})
	if err != nil {
		return nil, err
	}
	st := p.Wait()
	if err := Classify(argv, st, stderr.String()); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}
