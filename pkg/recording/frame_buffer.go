package recording

import (
	"context"

	"github.com/xaionaro-go/callrecorder/pkg/metrics"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
	"github.com/xaionaro-go/xsync"
)

// FrameBuffer is an append-only collection of captured frames shared by
// all video capture goroutines of a session.
type FrameBuffer struct {
	locker xsync.Mutex
	frames []types.TimestampedFrame
	frozen bool
}

// Add appends the frame; the buffer takes the ownership of frame.Pixels.
// Returns false if the buffer is already frozen.
func (b *FrameBuffer) Add(
	ctx context.Context,
	frame types.TimestampedFrame,
) bool {
	ok := xsync.DoR1(xsync.WithNoLogging(ctx, true), &b.locker, func() bool {
		if b.frozen {
			return false
		}
		b.frames = append(b.frames, frame)
		return true
	})
	if ok {
		metrics.FramesCaptured.WithLabelValues(frame.Source.String()).Inc()
	}
	return ok
}

func (b *FrameBuffer) Len(ctx context.Context) int {
	return xsync.DoR1(ctx, &b.locker, func() int {
		return len(b.frames)
	})
}

// Freeze forbids further appends and hands over the frames.
func (b *FrameBuffer) Freeze(ctx context.Context) []types.TimestampedFrame {
	return xsync.DoR1(ctx, &b.locker, func() []types.TimestampedFrame {
		b.frozen = true
		frames := b.frames
		b.frames = nil
		return frames
	})
}
