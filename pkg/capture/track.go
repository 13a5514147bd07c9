// Package capture pulls frames and samples out of live tracks into a
// recording session.
package capture

import (
	"context"
	"strings"

	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

// Track is a subscription to one media track of a participant.
type Track interface {
	ID() types.TrackID
	ParticipantID() string
	Name() string
	IsScreenShare() bool

	// Format is fixed for the lifetime of the track.
	Format() types.SourceFormat
}

// VideoFrame is a raw frame as delivered by the transport.
type VideoFrame struct {
	Data   []byte
	Width  int
	Height int
}

type VideoTrack interface {
	Track

	// ReadFrame blocks until the next frame arrives. It returns io.EOF
	// once the track has ended.
	ReadFrame(ctx context.Context) (*VideoFrame, error)
}

type AudioTrack interface {
	Track
	SampleRate() int
	Channels() int

	// ReadSamples blocks until the next buffer of interleaved samples
	// arrives. It returns io.EOF once the track has ended.
	ReadSamples(ctx context.Context) ([]byte, error)
}

func isScreenTrack(track Track) bool {
	return track.IsScreenShare() || strings.Contains(strings.ToLower(track.Name()), "screen")
}

func VideoSourceOf(track Track) types.FrameSource {
	if isScreenTrack(track) {
		return types.FrameSourceScreenShare
	}
	return types.FrameSourceCamera
}

func AudioSourceOf(track Track) types.AudioSource {
	if isScreenTrack(track) {
		return types.AudioSourceScreenShareAudio
	}
	return types.AudioSourceMicrophone
}
