// Package pausableprocess runs subprocesses that can be frozen and thawed
// without being killed.
package pausableprocess

import (
	"context"
	"io"
)

// Command describes the subprocess to start.
type Command struct {
	Path string
	Args []string

	// Stdout receives the standard output; nil discards it.
	Stdout io.Writer

	// Stderr receives the standard error output; nil discards it.
	Stderr io.Writer
}

// Process is a running subprocess with a writable stdin.
type Process interface {
	PID() int
	Stdin() io.WriteCloser

	// Pause freezes the process (SIGSTOP). Its pipes and already produced
	// output stay intact.
	Pause(ctx context.Context) error

	// Resume thaws a paused process (SIGCONT).
	Resume(ctx context.Context) error

	IsPaused() bool
	IsRunning() bool

	// Wait waits for the process to exit and returns its exit code.
	Wait(ctx context.Context) (int, error)

	Kill() error
}

// Starter starts subprocesses; it is the seam the encoder is tested
// through.
type Starter interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}
