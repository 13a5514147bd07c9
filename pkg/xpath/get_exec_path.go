package xpath

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// GetExecPath resolves an executable (e.g. "ffmpeg") the way a shell
// would, also accepting paths relative to the working directory.
func GetExecPath(execPathUnprocessed string) (string, error) {
	execPathUnprocessed, err := Expand(execPathUnprocessed)
	if err != nil {
		return "", err
	}
	execPath, err := exec.LookPath(execPathUnprocessed)
	switch {
	case err == nil:
		return execPath, nil
	case errors.Is(err, exec.ErrDot):
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("unable to get current working directory: %w", err)
		}
		return exec.LookPath(filepath.Join(wd, execPathUnprocessed))
	default:
		return "", err
	}
}
