//go:build !unix

package pausableprocess

import (
	"fmt"
	"os"
	"runtime"
)

var errAlreadyFinished = os.ErrProcessDone

func signalStop(*os.Process) error {
	return fmt.Errorf("pausing a process is not supported on %s", runtime.GOOS)
}

func signalContinue(*os.Process) error {
	return fmt.Errorf("resuming a process is not supported on %s", runtime.GOOS)
}
