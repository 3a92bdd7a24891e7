// Package proc owns the lifecycle of tool-server backing processes:
// spawning, readiness waiting, and teardown with a guaranteed kill. The
// os/exec surface is hidden behind small interfaces so lifecycle behavior is
// testable without real binaries.
package proc

import (
	"context"
	"io"
	"os"
	"os/exec"
)

// Process is a running child process handle.
type Process interface {
	// Wait blocks until the process exits.
	Wait() error

	// Signal delivers a signal to the process.
	Signal(sig os.Signal) error

	// Kill forcibly terminates the process.
	Kill() error
}

// Options configure a spawn.
type Options struct {
	Dir string
	Env []string
}

// Factory spawns processes with piped stdio.
type Factory interface {
	Start(ctx context.Context, command []string, opts Options) (Process, io.WriteCloser, io.Reader, io.Reader, error)
}

// OSProcess implements Process for real OS processes.
type OSProcess struct {
	Cmd *exec.Cmd
}

func (p *OSProcess) Wait() error {
	return p.Cmd.Wait()
}

func (p *OSProcess) Kill() error {
	if p.Cmd.Process != nil {
		return p.Cmd.Process.Kill()
	}
	return nil
}

func (p *OSProcess) Signal(sig os.Signal) error {
	if p.Cmd.Process != nil {
		return p.Cmd.Process.Signal(sig)
	}
	return nil
}

// OSFactory implements Factory using os/exec.
type OSFactory struct{}

// Start launches the command with stdin, stdout, and stderr piped.
func (OSFactory) Start(ctx context.Context, command []string, opts Options) (Process, io.WriteCloser, io.Reader, io.Reader, error) {
	if len(command) == 0 {
		return nil, nil, nil, nil, os.ErrInvalid
	}

	// Deliberately not CommandContext: teardown is managed explicitly so the
	// grace period applies before any kill.
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, nil, err
	}

	return &OSProcess{Cmd: cmd}, stdin, stdout, stderr, nil
}
