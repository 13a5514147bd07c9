package pausableprocess

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Fake is a Starter that runs nothing. Every started FakeProcess records
// what was written into its stdin and how it was paused and resumed.
type Fake struct {
	locker    sync.Mutex
	processes []*FakeProcess
	nextPID   int

	// Handler is called once when a process is waited for and returns
	// its exit code. The default one writes the received stdin (or a stub
	// if nothing was received) into the path given as the last argument.
	Handler func(p *FakeProcess) int

	// FailWritesAfter makes stdin writes fail (as if the process had
	// died) once that many bytes were received; zero disables it.
	FailWritesAfter int

	// StartError is returned by Start when set.
	StartError error
}

var _ Starter = (*Fake)(nil)

func (f *Fake) Start(
	ctx context.Context,
	cmd Command,
) (Process, error) {
	f.locker.Lock()
	defer f.locker.Unlock()
	if f.StartError != nil {
		return nil, f.StartError
	}
	f.nextPID++
	p := &FakeProcess{
		Command:         cmd,
		pid:             10000 + f.nextPID,
		handler:         f.Handler,
		failWritesAfter: f.FailWritesAfter,
		running:         true,
	}
	f.processes = append(f.processes, p)
	return p, nil
}

// Processes returns all the processes started so far.
func (f *Fake) Processes() []*FakeProcess {
	f.locker.Lock()
	defer f.locker.Unlock()
	return append([]*FakeProcess(nil), f.processes...)
}

// FakeProcess is the Process started by Fake.
type FakeProcess struct {
	Command Command

	locker            sync.Mutex
	pid               int
	handler           func(p *FakeProcess) int
	failWritesAfter   int
	stdin             bytes.Buffer
	stdinClosed       bool
	running           bool
	paused            bool
	waited            bool
	exitCode          int
	killed            bool
	pauses            int
	resumes           int
	writesWhilePaused int
}

var _ Process = (*FakeProcess)(nil)

func (p *FakeProcess) PID() int {
	return p.pid
}

func (p *FakeProcess) Stdin() io.WriteCloser {
	return fakeStdin{p}
}

type fakeStdin struct {
	p *FakeProcess
}

func (s fakeStdin) Write(b []byte) (int, error) {
	p := s.p
	p.locker.Lock()
	defer p.locker.Unlock()
	if p.stdinClosed {
		return 0, os.ErrClosed
	}
	if !p.running {
		return 0, io.ErrClosedPipe
	}
	if p.paused {
		p.writesWhilePaused++
	}
	if p.failWritesAfter > 0 && p.stdin.Len()+len(b) > p.failWritesAfter {
		p.running = false
		return 0, io.ErrClosedPipe
	}
	return p.stdin.Write(b)
}

func (s fakeStdin) Close() error {
	p := s.p
	p.locker.Lock()
	defer p.locker.Unlock()
	p.stdinClosed = true
	return nil
}

func (p *FakeProcess) Pause(context.Context) error {
	p.locker.Lock()
	defer p.locker.Unlock()
	if !p.running {
		return fmt.Errorf("process %d is not running", p.pid)
	}
	p.paused = true
	p.pauses++
	return nil
}

func (p *FakeProcess) Resume(context.Context) error {
	p.locker.Lock()
	defer p.locker.Unlock()
	if !p.paused {
		return nil
	}
	p.paused = false
	p.resumes++
	return nil
}

func (p *FakeProcess) IsPaused() bool {
	p.locker.Lock()
	defer p.locker.Unlock()
	return p.paused
}

func (p *FakeProcess) IsRunning() bool {
	p.locker.Lock()
	defer p.locker.Unlock()
	return p.running && !p.waited
}

func (p *FakeProcess) Wait(ctx context.Context) (int, error) {
	p.locker.Lock()
	if p.waited {
		defer p.locker.Unlock()
		return p.exitCode, nil
	}
	if err := ctx.Err(); err != nil {
		p.locker.Unlock()
		return -1, err
	}
	handler := p.handler
	p.locker.Unlock()

	if handler == nil {
		handler = WriteOutputHandler
	}
	exitCode := handler(p)

	p.locker.Lock()
	defer p.locker.Unlock()
	p.waited = true
	p.running = false
	p.exitCode = exitCode
	return exitCode, nil
}

func (p *FakeProcess) Kill() error {
	p.locker.Lock()
	defer p.locker.Unlock()
	p.killed = true
	p.running = false
	return nil
}

// StdinBytes returns everything written into the stdin.
func (p *FakeProcess) StdinBytes() []byte {
	p.locker.Lock()
	defer p.locker.Unlock()
	return append([]byte(nil), p.stdin.Bytes()...)
}

// Stats returns how many times the process was paused and resumed, and
// how many stdin writes happened while it was paused.
func (p *FakeProcess) Stats() (pauses, resumes, writesWhilePaused int) {
	p.locker.Lock()
	defer p.locker.Unlock()
	return p.pauses, p.resumes, p.writesWhilePaused
}

func (p *FakeProcess) Killed() bool {
	p.locker.Lock()
	defer p.locker.Unlock()
	return p.killed
}

// OutputPath is the last argument of the command.
func (p *FakeProcess) OutputPath() string {
	if len(p.Command.Args) == 0 {
		return ""
	}
	return p.Command.Args[len(p.Command.Args)-1]
}

// HasArg returns true if the command contains the argument.
func (p *FakeProcess) HasArg(arg string) bool {
	for _, a := range p.Command.Args {
		if a == arg {
			return true
		}
	}
	return false
}

// ArgAfter returns the argument following the given flag.
func (p *FakeProcess) ArgAfter(flag string) string {
	for idx, a := range p.Command.Args[:max(len(p.Command.Args)-1, 0)] {
		if a == flag {
			return p.Command.Args[idx+1]
		}
	}
	return ""
}

// WriteOutputHandler writes the received stdin into the output path
// and exits with code 0.
func WriteOutputHandler(p *FakeProcess) int {
	out := p.OutputPath()
	if out == "" || strings.HasPrefix(out, "-") {
		return 0
	}
	content := p.StdinBytes()
	if len(content) == 0 {
		content = []byte("fake output of: " + strings.Join(p.Command.Args, " "))
	}
	if err := os.WriteFile(out, content, 0640); err != nil {
		return 1
	}
	return 0
}
