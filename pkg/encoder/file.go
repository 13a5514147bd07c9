package encoder

import (
	"errors"
	"fmt"
	"os"
)

func isNonEmptyFile(path string) (bool, error) {
	st, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("unable to stat '%s': %w", path, err)
	}
	return st.Mode().IsRegular() && st.Size() > 0, nil
}

// IsNonEmptyFile returns true if path is a regular file with content.
func IsNonEmptyFile(path string) bool {
	ok, _ := isNonEmptyFile(path)
	return ok
}
