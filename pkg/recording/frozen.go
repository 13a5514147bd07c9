package recording

import (
	"time"

	"github.com/google/uuid"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

// Frozen is the immutable content of a stopped session.
type Frozen struct {
	SessionID uuid.UUID
	MeetingID string
	StartedAt time.Time
	Duration  float64
	Frames    []types.TimestampedFrame
	Chunks    []types.AudioChunk
}

func (f *Frozen) IsEmpty() bool {
	return len(f.Frames) == 0 && len(f.Chunks) == 0
}

// TotalFrames is the amount of output video frames. A recording that
// captured any frame yields at least one.
func (f *Frozen) TotalFrames() int {
	n := types.TotalFrames(f.Duration)
	if n == 0 && len(f.Frames) > 0 {
		n = 1
	}
	return n
}
