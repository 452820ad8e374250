package os

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	fsexec "github.com/fsdbtools/fsdbview/runner/execer"
)

// Implements runner/execer.Process
type process struct {
	cmd     *exec.Cmd
	argv    []string
	ats     time.Duration // Abort timeout before SIGKILL
	grace   time.Duration // Pipes held open after exit before SIGKILL
	streams errgroup.Group
	done    chan struct{}
	once    sync.Once
	result  fsexec.ProcessStatus

	// Written before the channel is closed.
	exited      chan struct{}
	waitErr     error
	streamsDone chan struct{}
	streamErr   error

	mutex     sync.Mutex
	aborted   bool
	sigkilled bool
	canceled  error
	reaped    bool
}

// Wait for the streams to drain and the process to finish.
// If the command exits on its own, return COMPLETE with its exit code.
// If it was killed by a signal, aborted, cancelled, or its streams failed,
// return FAILED with ExitCode -1 and the reason in Error.
func (p *process) Wait() fsexec.ProcessStatus {
	p.once.Do(func() {
		<-p.exited
		<-p.streamsDone

		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.reaped = true
		close(p.done)
		p.result = p.classify(p.waitErr, p.streamErr)

		log.WithFields(
			log.Fields{
				"pid":      p.cmd.Process.Pid,
				"argv":     p.argv,
				"state":    p.result.State,
				"exitCode": p.result.ExitCode,
				"error":    p.result.Error,
			}).Debug("Finished waiting for process")
	})
	return p.result
}

// reap waits for the program to exit. Anything it left running in its
// process group that still holds the pipes gets the grace period to
// finish, then SIGKILL.
func (p *process) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)

	select {
	case <-p.streamsDone:
	case <-time.After(p.grace):
		log.WithFields(
			log.Fields{
				"pid":   p.cmd.Process.Pid,
				"argv":  p.argv,
				"grace": p.grace,
			}).Info("Command exited but its pipes are still open, killing its process group")
		p.signalGroup(unix.SIGKILL)
	}
}

// classify must be called with the mutex held.
func (p *process) classify(err, streamErr error) (result fsexec.ProcessStatus) {
	switch {
	case p.aborted:
		result.State = fsexec.FAILED
		result.ExitCode = -1
		result.Error = "Aborted"
		if p.sigkilled {
			result.Error += " (SIGKILL)"
		} else {
			result.Error += " (SIGTERM)"
		}
		return result
	case p.canceled != nil:
		result.State = fsexec.FAILED
		result.ExitCode = -1
		result.Error = fmt.Sprintf("Killed: %v", p.canceled)
		return result
	case streamErr != nil:
		result.State = fsexec.FAILED
		result.ExitCode = -1
		result.Error = streamErr.Error()
		return result
	case err == nil:
		result.State = fsexec.COMPLETE
		result.ExitCode = 0
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// If we can get a WaitStatus from the error we can get the exit code.
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				result.State = fsexec.FAILED
				result.ExitCode = -1
				result.Error = fmt.Sprintf("Terminated by signal %v", status.Signal())
				return result
			}
			result.State = fsexec.COMPLETE
			result.ExitCode = status.ExitStatus()
			return result
		}
		result.State = fsexec.FAILED
		result.ExitCode = -1
		result.Error = "Could not find WaitStatus from exiterr.Sys()"
		return result
	}

	result.State = fsexec.FAILED
	result.ExitCode = -1
	result.Error = err.Error()
	return result
}

// Abort sends SIGTERM to the process group, allowing for graceful exit,
// then SIGKILL once the abort timeout passes. It returns after the
// process is reaped.
func (p *process) Abort() fsexec.ProcessStatus {
	p.mutex.Lock()
	if p.reaped {
		p.mutex.Unlock()
		return p.Wait()
	}
	p.aborted = true
	p.mutex.Unlock()

	if err := p.signalGroup(unix.SIGTERM); err != nil {
		log.WithFields(
			log.Fields{
				"pid":   p.cmd.Process.Pid,
				"argv":  p.argv,
				"error": err,
			}).Error("Error aborting command via SIGTERM")
		p.killGroup()
	} else {
		log.WithFields(
			log.Fields{
				"pid":  p.cmd.Process.Pid,
				"argv": p.argv,
			}).Info("Aborting process via SIGTERM")
	}

	go func() {
		select {
		case <-p.done:
		case <-time.After(p.ats):
			log.WithFields(
				log.Fields{
					"pid":     p.cmd.Process.Pid,
					"argv":    p.argv,
					"timeout": p.ats,
				}).Error("Abort timeout exceeded. Killing command.")
			p.killGroup()
		}
	}()

	return p.Wait()
}

// killGroup sends SIGKILL to the process and all processes of its pgid.
func (p *process) killGroup() {
	p.mutex.Lock()
	if p.reaped {
		p.mutex.Unlock()
		return
	}
	p.sigkilled = true
	p.mutex.Unlock()

	if err := p.signalGroup(unix.SIGKILL); err != nil {
		log.WithFields(
			log.Fields{
				"pid":   p.cmd.Process.Pid,
				"argv":  p.argv,
				"error": err,
			}).Error("Error killing process group")
	}
}

func (p *process) signalGroup(sig unix.Signal) error {
	pid := p.cmd.Process.Pid
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		// Already reaped or not ours; fall back to the leader itself.
		pgid = pid
	}
	err = unix.Kill(-pgid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
