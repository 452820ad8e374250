package os

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	fsexec "github.com/fsdbtools/fsdbview/runner/execer"
)

// DefaultAbortTimeout is how long Abort waits after SIGTERM before SIGKILL.
const DefaultAbortTimeout = 10 * time.Second

// DefaultOrphanGrace is how long the output pipes may stay open after the
// program itself has exited before its process group is killed.
const DefaultOrphanGrace = 2 * time.Second

// Implements runner/execer.Execer
type execer struct {
	abortTimeout time.Duration
	orphanGrace  time.Duration
}

func NewExecer() *execer {
	return NewBoundedExecer(DefaultAbortTimeout)
}

// NewBoundedExecer returns an execer whose Abort escalates to SIGKILL after
// abortTimeout.
func NewBoundedExecer(abortTimeout time.Duration) *execer {
	if abortTimeout <= 0 {
		abortTimeout = DefaultAbortTimeout
	}
	return &execer{abortTimeout: abortTimeout, orphanGrace: DefaultOrphanGrace}
}

// Exec starts the command in its own process group and begins streaming:
// one goroutine feeds Stdin and closes the pipe, two more drain stdout and
// stderr. None of them waits for another, so a program may write output
// before it has read its input without either side blocking on a full pipe.
// Cancelling ctx kills the process group.
func (e *execer) Exec(ctx context.Context, command fsexec.Command) (fsexec.Process, error) {
	if len(command.Argv) == 0 {
		return nil, &fserrors.LaunchError{Err: errors.New("no command specified")}
	}

	cmd := exec.Command(command.Argv[0], command.Argv[1:]...)
	cmd.Dir = command.Dir

	// Use the parent environment plus whatever additional env vars are provided.
	cmd.Env = os.Environ()
	for k, v := range command.EnvVars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// Sets pgid of all child processes to cmd's pid
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Plain os pipes rather than cmd.StdoutPipe and friends: cmd.Wait then
	// returns when the program exits, whoever else still holds the pipes.
	var files []*os.File
	pipe := func() (r, w *os.File, err error) {
		r, w, err = os.Pipe()
		files = append(files, r, w)
		return r, w, err
	}
	stdinR, stdinW, err := pipe()
	if err != nil {
		return nil, &fserrors.LaunchError{Argv: command.Argv, Err: err}
	}
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		closeAll(files)
		return nil, &fserrors.LaunchError{Argv: command.Argv, Err: err}
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		closeAll(files)
		return nil, &fserrors.LaunchError{Argv: command.Argv, Err: err}
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdinR, stdoutW, stderrW

	if err := cmd.Start(); err != nil {
		closeAll(files)
		log.WithFields(
			log.Fields{
				"argv":  command.Argv,
				"error": err,
			}).Info("Could not start command")
		return nil, &fserrors.LaunchError{Argv: command.Argv, Err: err}
	}
	// The child has its own copies.
	closeAll([]*os.File{stdinR, stdoutW, stderrW})

	proc := &process{
		cmd:         cmd,
		argv:        command.Argv,
		ats:         e.abortTimeout,
		grace:       e.orphanGrace,
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
		streamsDone: make(chan struct{}),
	}
	log.WithFields(
		log.Fields{
			"pid":  cmd.Process.Pid,
			"argv": command.Argv,
		}).Debug("Started command")

	stdout, stderr := command.Stdout, command.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	proc.streams.Go(func() error { return proc.feed(stdinW, command.Stdin) })
	proc.streams.Go(func() error {
		defer stdoutR.Close()
		return proc.drain("stdout", stdout, stdoutR)
	})
	proc.streams.Go(func() error {
		defer stderrR.Close()
		return proc.drain("stderr", stderr, stderrR)
	})
	go func() {
		proc.streamErr = proc.streams.Wait()
		close(proc.streamsDone)
	}()
	go proc.reap()

	go proc.watch(ctx)
	return proc, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// feed copies input to the program and closes its stdin. A program that
// exits or closes stdin without reading everything (head, grep -m) makes
// the write fail with EPIPE; that is its choice, not an error.
func (p *process) feed(stdin io.WriteCloser, input io.Reader) error {
	if input == nil {
		return stdin.Close()
	}
	_, err := io.Copy(stdin, input)
	closeErr := stdin.Close()
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			log.WithFields(
				log.Fields{
					"pid":  p.cmd.Process.Pid,
					"argv": p.argv,
				}).Debug("Command closed stdin before reading all input")
			return nil
		}
		p.killGroup()
		return fmt.Errorf("feeding stdin: %w", err)
	}
	if closeErr != nil && !errors.Is(closeErr, syscall.EPIPE) {
		return fmt.Errorf("closing stdin: %w", closeErr)
	}
	return nil
}

// drain copies one of the program's output pipes to w. If w fails the
// program is killed, otherwise it could block forever on a full pipe.
func (p *process) drain(name string, w io.Writer, r io.Reader) error {
	if _, err := io.Copy(w, r); err != nil {
		p.killGroup()
		return fmt.Errorf("copying %s: %w", name, err)
	}
	return nil
}

// watch kills the process group if ctx ends before the process does.
func (p *process) watch(ctx context.Context) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.mutex.Lock()
		if !p.reaped {
			p.canceled = ctx.Err()
		}
		p.mutex.Unlock()
		log.WithFields(
			log.Fields{
				"pid":  p.cmd.Process.Pid,
				"argv": p.argv,
			}).Info("Context done, killing command")
		p.killGroup()
	}
}
