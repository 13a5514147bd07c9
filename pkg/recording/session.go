package recording

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/xaionaro-go/callrecorder/pkg/clock"
	"github.com/xaionaro-go/callrecorder/pkg/metrics"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
	"github.com/xaionaro-go/xsync"
)

// Session is the in-memory state of one recording between start and stop.
type Session struct {
	ID        uuid.UUID
	MeetingID string
	Frames    FrameBuffer
	Audio     AudioBuffer

	stopwatch *clock.Stopwatch
	startedAt time.Time

	tracksLocker xsync.Mutex
	activeTracks map[types.TrackKey]types.TrackID

	stopped  atomic.Bool
	stopCh   chan struct{}
	duration atomic.Value
}

func NewSession(
	meetingID string,
	clk clock.Clock,
) *Session {
	sw := clock.NewStopwatch(clk)
	return &Session{
		ID:           uuid.New(),
		MeetingID:    meetingID,
		stopwatch:    sw,
		startedAt:    sw.StartedAt(),
		activeTracks: map[types.TrackKey]types.TrackID{},
		stopCh:       make(chan struct{}),
	}
}

// Now returns the amount of seconds since the session started; it is the
// timestamp assigned to every captured unit.
func (s *Session) Now() float64 {
	return s.stopwatch.Seconds()
}

func (s *Session) Clock() clock.Clock {
	return s.stopwatch.Clock()
}

func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// ClaimTrack registers the track as the only active one for its key.
// Returns false if another track already holds the key.
func (s *Session) ClaimTrack(
	ctx context.Context,
	key types.TrackKey,
	trackID types.TrackID,
) bool {
	ok := xsync.DoR1(ctx, &s.tracksLocker, func() bool {
		if _, exists := s.activeTracks[key]; exists {
			return false
		}
		s.activeTracks[key] = trackID
		return true
	})
	if !ok {
		metrics.DuplicateTracks.Inc()
		logger.Warnf(ctx, "track %s: %s is already being recorded, ignoring the duplicate", trackID, key)
	}
	return ok
}

func (s *Session) ReleaseTrack(
	ctx context.Context,
	key types.TrackKey,
	trackID types.TrackID,
) {
	s.tracksLocker.Do(ctx, func() {
		if s.activeTracks[key] == trackID {
			delete(s.activeTracks, key)
		}
	})
}

func (s *Session) ActiveTracks(ctx context.Context) map[types.TrackKey]types.TrackID {
	return xsync.DoR1(ctx, &s.tracksLocker, func() map[types.TrackKey]types.TrackID {
		result := make(map[types.TrackKey]types.TrackID, len(s.activeTracks))
		for k, v := range s.activeTracks {
			result[k] = v
		}
		return result
	})
}

// Stop raises the stop flag and fixes the duration of the recording.
// Capture loops finish their current unit and exit. Returns the duration
// of the recording in seconds; repeated calls return the same value.
func (s *Session) Stop(ctx context.Context) float64 {
	if s.stopped.CompareAndSwap(false, true) {
		d := s.Now()
		s.duration.Store(d)
		close(s.stopCh)
		logger.Debugf(ctx, "recording %s of meeting %s stopped after %.3fs", s.ID, s.MeetingID, d)
	}
	return s.Duration()
}

func (s *Session) IsStopped() bool {
	return s.stopped.Load()
}

// StopCh is closed once Stop is called.
func (s *Session) StopCh() <-chan struct{} {
	return s.stopCh
}

// Duration returns the fixed duration once stopped, the running one
// otherwise.
func (s *Session) Duration() float64 {
	if d, ok := s.duration.Load().(float64); ok {
		return d
	}
	return s.Now()
}

// Freeze stops the session (if not stopped yet) and takes the captured
// data out of the buffers. It must be called after all capture loops
// have exited.
func (s *Session) Freeze(ctx context.Context) *Frozen {
	duration := s.Stop(ctx)
	return &Frozen{
		SessionID: s.ID,
		MeetingID: s.MeetingID,
		StartedAt: s.startedAt,
		Duration:  duration,
		Frames:    s.Frames.Freeze(ctx),
		Chunks:    s.Audio.Freeze(ctx),
	}
}
