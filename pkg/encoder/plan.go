package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/goccy/go-yaml"
)

// Segment is an encoded piece of the output covering frames
// [StartFrame, EndFrame).
type Segment struct {
	Path       string `yaml:"path"`
	StartFrame int    `yaml:"start_frame"`
	EndFrame   int    `yaml:"end_frame"`
}

// SegmentPlan is the checkpoint of an encoding job: the segments already
// encoded and the first frame not encoded yet.
type SegmentPlan struct {
	MeetingID     string    `yaml:"meeting_id"`
	TotalFrames   int       `yaml:"total_frames"`
	SegmentFrames int       `yaml:"segment_frames"`
	Width         int       `yaml:"width"`
	Height        int       `yaml:"height"`
	Backend       Backend   `yaml:"backend"`
	Completed     []Segment `yaml:"completed"`
	Cursor        int       `yaml:"cursor"`

	// Truncated is set when encoding stopped early after a failure; no
	// further segments are attempted.
	Truncated bool `yaml:"truncated,omitempty"`
}

func (p *SegmentPlan) IsDone() bool {
	return p.Truncated || p.Cursor >= p.TotalFrames
}

func (p *SegmentPlan) EncodedFrames() int {
	var n int
	for _, seg := range p.Completed {
		n += seg.EndFrame - seg.StartFrame
	}
	return n
}

// compatible returns true if the segments of the plan may be reused for
// a job with the given parameters.
func (p *SegmentPlan) compatible(other *SegmentPlan) bool {
	return p.MeetingID == other.MeetingID &&
		p.TotalFrames == other.TotalFrames &&
		p.SegmentFrames == other.SegmentFrames &&
		p.Width == other.Width &&
		p.Height == other.Height &&
		p.Backend == other.Backend
}

func (p *SegmentPlan) Read(b []byte) (int, error) {
	n, err := p.ReadFrom(bytes.NewReader(b))
	return int(n), err
}

func (p *SegmentPlan) ReadFrom(r io.Reader) (int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return int64(len(b)), fmt.Errorf("unable to read: %w", err)
	}
	if err := yaml.Unmarshal(b, p); err != nil {
		return int64(len(b)), fmt.Errorf("unable to unserialize data '%s': %w", b, err)
	}
	return int64(len(b)), nil
}

func (p *SegmentPlan) WriteTo(w io.Writer) (int64, error) {
	b, err := yaml.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("unable to serialize data %#+v: %w", p, err)
	}
	n, err := io.Copy(w, bytes.NewReader(b))
	if err != nil {
		return n, fmt.Errorf("unable to write data %#+v: %w", b, err)
	}
	return n, nil
}

// LoadPlan reads the plan; a missing file yields (nil, nil).
func LoadPlan(ctx context.Context, path string) (*SegmentPlan, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open '%s': %w", path, err)
	}
	defer f.Close()

	var plan SegmentPlan
	if _, err := plan.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("unable to parse '%s': %w", path, err)
	}
	logger.Debugf(ctx, "loaded the segment plan '%s': cursor %d/%d, %d segments", path, plan.Cursor, plan.TotalFrames, len(plan.Completed))
	return &plan, nil
}

// Save atomically replaces the plan file.
func (p *SegmentPlan) Save(path string) error {
	pathNew := path + ".new"
	f, err := os.OpenFile(pathNew, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("unable to open '%s' for writing: %w", pathNew, err)
	}
	_, err = p.WriteTo(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("unable to write the plan to '%s': %w", pathNew, err)
	}
	if err := os.Rename(pathNew, path); err != nil {
		return fmt.Errorf("unable to move '%s' to '%s': %w", pathNew, path, err)
	}
	return nil
}
