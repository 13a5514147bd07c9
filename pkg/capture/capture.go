package capture

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/callrecorder/pkg/audio/resampler"
	"github.com/xaionaro-go/callrecorder/pkg/metrics"
	"github.com/xaionaro-go/callrecorder/pkg/recording"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
	"github.com/xaionaro-go/observability"
)

// MinFrameInterval is the minimal distance between two captured frames
// of the same track; faster frames are dropped.
const MinFrameInterval = 0.95 / types.TargetFPS

// untilStopped returns a context cancelled once the session is stopped.
func untilStopped(
	ctx context.Context,
	session *recording.Session,
) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	observability.Go(ctx, func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-session.StopCh():
			cancel()
		}
	})
	return ctx, cancel
}

// isEndOfTrack returns true if err is the normal way a capture loop ends.
func isEndOfTrack(ctx context.Context, err error) bool {
	return errors.Is(err, io.EOF) || ctx.Err() != nil
}

// RunVideo captures the frames of the track into the session until the
// track ends, ctx is cancelled or the session is stopped.
func RunVideo(
	ctx context.Context,
	session *recording.Session,
	track VideoTrack,
) (_err error) {
	source := VideoSourceOf(track)
	key := types.VideoTrackKey(track.ParticipantID(), source)
	ctx = belt.WithField(ctx, "track_id", string(track.ID()))
	logger.Debugf(ctx, "RunVideo(ctx, %s)", key)
	defer func() { logger.Debugf(ctx, "/RunVideo(ctx, %s): %v", key, _err) }()

	convert, err := newPixelConverter(track.Format())
	if err != nil {
		return fmt.Errorf("track %s: %w", track.ID(), err)
	}
	if !session.ClaimTrack(ctx, key, track.ID()) {
		return nil
	}
	defer session.ReleaseTrack(ctx, key, track.ID())

	ctx, cancel := untilStopped(ctx, session)
	defer cancel()

	bytesPerPixel := track.Format().BytesPerUnit()
	var (
		lastCapture float64
		captured    bool
		count       int
	)
	defer func() { logger.Debugf(ctx, "captured %d frames of %s", count, key) }()
	for !session.IsStopped() {
		frame, err := track.ReadFrame(ctx)
		if err != nil {
			if isEndOfTrack(ctx, err) {
				return nil
			}
			return fmt.Errorf("unable to read a frame from track %s: %w", track.ID(), err)
		}
		now := session.Now()

		if captured && now-lastCapture < MinFrameInterval {
			metrics.FramesRateLimited.Inc()
			continue
		}
		if frame.Width <= 0 || frame.Height <= 0 || len(frame.Data) != frame.Width*frame.Height*bytesPerPixel {
			metrics.CaptureDropped.WithLabelValues("video").Inc()
			logger.Warnf(ctx, "dropping a malformed %s frame of %s: %dx%d, %d bytes", track.Format(), key, frame.Width, frame.Height, len(frame.Data))
			continue
		}

		pixels := make([]byte, frame.Width*frame.Height*types.BytesPerPixel)
		convert(pixels, frame.Data)
		if !session.Frames.Add(ctx, types.TimestampedFrame{
			Pixels:    pixels,
			Width:     frame.Width,
			Height:    frame.Height,
			Timestamp: now,
			Source:    source,
		}) {
			return nil
		}
		lastCapture, captured = now, true
		count++
	}
	return nil
}

// RunAudio captures the samples of the track into the session until the
// track ends, ctx is cancelled or the session is stopped.
func RunAudio(
	ctx context.Context,
	session *recording.Session,
	track AudioTrack,
) (_err error) {
	source := AudioSourceOf(track)
	key := types.AudioTrackKey(track.ParticipantID(), source)
	ctx = belt.WithField(ctx, "track_id", string(track.ID()))
	logger.Debugf(ctx, "RunAudio(ctx, %s)", key)
	defer func() { logger.Debugf(ctx, "/RunAudio(ctx, %s): %v", key, _err) }()

	decode, err := newSampleDecoder(track.Format())
	if err != nil {
		return fmt.Errorf("track %s: %w", track.ID(), err)
	}
	channels := track.Channels()
	if channels <= 0 {
		return fmt.Errorf("track %s: invalid amount of channels: %d", track.ID(), channels)
	}
	var rs *resampler.Resampler
	if rate := track.SampleRate(); rate != types.SampleRate {
		rs, err = resampler.New(types.Channels, rate, types.SampleRate)
		if err != nil {
			return fmt.Errorf("track %s: %w", track.ID(), err)
		}
		logger.Debugf(ctx, "%s: using %s", key, rs)
	}
	if !session.ClaimTrack(ctx, key, track.ID()) {
		return nil
	}
	defer session.ReleaseTrack(ctx, key, track.ID())

	ctx, cancel := untilStopped(ctx, session)
	defer cancel()

	unitSize := track.Format().BytesPerUnit() * channels
	for !session.IsStopped() {
		data, err := track.ReadSamples(ctx)
		if err != nil {
			if isEndOfTrack(ctx, err) {
				return nil
			}
			return fmt.Errorf("unable to read samples from track %s: %w", track.ID(), err)
		}
		now := session.Now()

		if len(data) == 0 {
			continue
		}
		if len(data)%unitSize != 0 {
			metrics.CaptureDropped.WithLabelValues("audio").Inc()
			logger.Warnf(ctx, "dropping a malformed %s buffer of %s: %d bytes, %d channels", track.Format(), key, len(data), channels)
			continue
		}

		samples := decode(data, channels)
		if rs != nil {
			samples = rs.Resample(samples)
		}
		if _, ok := session.Audio.Append(ctx, track.ParticipantID(), source, now, samples); !ok {
			return nil
		}
	}
	return nil
}
