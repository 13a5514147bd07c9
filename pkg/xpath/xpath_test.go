package xpath

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("CALLRECORDER_TEST_DIR", "/srv/rec")

	for _, tc := range []struct {
		in  string
		out string
	}{
		{"/var/lib/callrecorder", "/var/lib/callrecorder"},
		{"~/recordings", filepath.Join(home, "recordings")},
		{"~", home},
		{"$CALLRECORDER_TEST_DIR/raw", "/srv/rec/raw"},
		{"relative/dir", "relative/dir"},
	} {
		t.Run(tc.in, func(t *testing.T) {
			out, err := Expand(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.out, out)
		})
	}
}

func TestGetExecPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on the executable bit")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-ffmpeg")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0755))
	t.Setenv("PATH", dir)

	p, err := GetExecPath("fake-ffmpeg")
	require.NoError(t, err)
	require.Equal(t, script, p)

	_, err = GetExecPath("definitely-not-installed")
	require.Error(t, err)
}
