package xpath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Expand resolves "~/" and environment variables in a configured path.
func Expand(rawPath string) (string, error) {
	rawPath = os.ExpandEnv(rawPath)
	switch {
	case rawPath == "~" || strings.HasPrefix(rawPath, "~/"):
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("unable to get user home dir: %w", err)
		}
		return filepath.Join(homeDir, strings.TrimPrefix(rawPath[1:], "/")), nil
	}
	return rawPath, nil
}
