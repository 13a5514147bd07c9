package rawstore

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-yaml"
)

const formatVersion = 1

// Meta describes a raw recording directory.
type Meta struct {
	Version    int       `yaml:"version"`
	SessionID  string    `yaml:"session_id"`
	MeetingID  string    `yaml:"meeting_id"`
	StartedAt  time.Time `yaml:"started_at"`
	Duration   float64   `yaml:"duration"`
	FrameCount int       `yaml:"frame_count"`
	ChunkCount int       `yaml:"chunk_count"`

	// OutputPath is where the finished recording is expected to appear.
	OutputPath string `yaml:"output_path"`
}

func (m *Meta) ReadFrom(r io.Reader) (int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return int64(len(b)), fmt.Errorf("unable to read: %w", err)
	}
	if err := yaml.Unmarshal(b, m); err != nil {
		return int64(len(b)), fmt.Errorf("unable to unserialize data '%s': %w", b, err)
	}
	if m.Version != formatVersion {
		return int64(len(b)), fmt.Errorf("unsupported raw recording format version %d", m.Version)
	}
	return int64(len(b)), nil
}

func (m *Meta) WriteTo(w io.Writer) (int64, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("unable to serialize data %#+v: %w", m, err)
	}
	n, err := io.Copy(w, bytes.NewReader(b))
	if err != nil {
		return n, fmt.Errorf("unable to write data %#+v: %w", b, err)
	}
	return n, nil
}
