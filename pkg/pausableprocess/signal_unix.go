//go:build unix

package pausableprocess

import (
	"os"

	"golang.org/x/sys/unix"
)

var errAlreadyFinished = os.ErrProcessDone

func signalStop(p *os.Process) error {
	return p.Signal(unix.SIGSTOP)
}

func signalContinue(p *os.Process) error {
	return p.Signal(unix.SIGCONT)
}
