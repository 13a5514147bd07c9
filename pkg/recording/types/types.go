package types

import (
	"fmt"
	"math"
)

const (
	TargetFPS = 24

	SampleRate = 48000
	Channels   = 2

	// AudioBufferSamples is the amount of interleaved int16 samples
	// accumulated per track before a chunk is flushed.
	AudioBufferSamples = 4800

	CanonicalWidth  = 1280
	CanonicalHeight = 720

	BytesPerPixel = 3
)

// FrameInterval is the duration of one output frame slot in seconds.
const FrameInterval = 1.0 / TargetFPS

// ChunkDuration is the duration of one flushed AudioChunk in seconds.
const ChunkDuration = float64(AudioBufferSamples) / float64(SampleRate*Channels)

type FrameSource uint

const (
	FrameSourceUndefined = FrameSource(iota)
	FrameSourceCamera
	FrameSourceScreenShare
	FrameSourcePlaceholder
	EndOfFrameSource
)

func (s FrameSource) String() string {
	switch s {
	case FrameSourceUndefined:
		return "<undefined>"
	case FrameSourceCamera:
		return "camera"
	case FrameSourceScreenShare:
		return "screen_share"
	case FrameSourcePlaceholder:
		return "placeholder"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint(s))
	}
}

// IsReal returns true if the frame was captured from a participant
// (as opposed to being synthesized).
func (s FrameSource) IsReal() bool {
	return s == FrameSourceCamera || s == FrameSourceScreenShare
}

type AudioSource uint

const (
	AudioSourceUndefined = AudioSource(iota)
	AudioSourceMicrophone
	AudioSourceScreenShareAudio
	EndOfAudioSource
)

func (s AudioSource) String() string {
	switch s {
	case AudioSourceUndefined:
		return "<undefined>"
	case AudioSourceMicrophone:
		return "microphone"
	case AudioSourceScreenShareAudio:
		return "screen_share_audio"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint(s))
	}
}

type SourceFormat uint

const (
	SourceFormatUndefined = SourceFormat(iota)
	SourceFormatRGBA
	SourceFormatRGB24
	SourceFormatBGR24
	SourceFormatInt16PCM
	SourceFormatFloat32PCM
	EndOfSourceFormat
)

func (f SourceFormat) String() string {
	switch f {
	case SourceFormatUndefined:
		return "<undefined>"
	case SourceFormatRGBA:
		return "rgba"
	case SourceFormatRGB24:
		return "rgb24"
	case SourceFormatBGR24:
		return "bgr24"
	case SourceFormatInt16PCM:
		return "s16le"
	case SourceFormatFloat32PCM:
		return "f32le"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint(f))
	}
}

// BytesPerUnit returns the size of a pixel (for video formats) or of
// a single-channel sample (for audio formats).
func (f SourceFormat) BytesPerUnit() int {
	switch f {
	case SourceFormatRGBA:
		return 4
	case SourceFormatRGB24, SourceFormatBGR24:
		return 3
	case SourceFormatInt16PCM:
		return 2
	case SourceFormatFloat32PCM:
		return 4
	default:
		return 0
	}
}

func (f SourceFormat) IsVideo() bool {
	switch f {
	case SourceFormatRGBA, SourceFormatRGB24, SourceFormatBGR24:
		return true
	}
	return false
}

func (f SourceFormat) IsAudio() bool {
	switch f {
	case SourceFormatInt16PCM, SourceFormatFloat32PCM:
		return true
	}
	return false
}

type TrackID string

type TrackKind uint

const (
	TrackKindUndefined = TrackKind(iota)
	TrackKindVideo
	TrackKindAudio
)

func (k TrackKind) String() string {
	switch k {
	case TrackKindUndefined:
		return "<undefined>"
	case TrackKindVideo:
		return "video"
	case TrackKindAudio:
		return "audio"
	default:
		return fmt.Sprintf("<unexpected_value_%d>", uint(k))
	}
}

// TrackKey identifies the (participant, source) slot a track occupies.
// Only one track may be active per key.
type TrackKey struct {
	ParticipantID string
	Kind          TrackKind
	FrameSource   FrameSource
	AudioSource   AudioSource
}

func VideoTrackKey(participantID string, source FrameSource) TrackKey {
	return TrackKey{
		ParticipantID: participantID,
		Kind:          TrackKindVideo,
		FrameSource:   source,
	}
}

func AudioTrackKey(participantID string, source AudioSource) TrackKey {
	return TrackKey{
		ParticipantID: participantID,
		Kind:          TrackKindAudio,
		AudioSource:   source,
	}
}

func (k TrackKey) String() string {
	switch k.Kind {
	case TrackKindVideo:
		return fmt.Sprintf("%s/%s", k.ParticipantID, k.FrameSource)
	case TrackKindAudio:
		return fmt.Sprintf("%s/%s", k.ParticipantID, k.AudioSource)
	default:
		return fmt.Sprintf("%s/%s", k.ParticipantID, k.Kind)
	}
}

// TimestampedFrame is a captured video frame in packed BGR24.
type TimestampedFrame struct {
	Pixels    []byte
	Width     int
	Height    int
	Timestamp float64
	Source    FrameSource
}

// Slot returns the fixed-rate output slot the frame belongs to.
func (f *TimestampedFrame) Slot() int64 {
	return SlotOf(f.Timestamp)
}

// AudioChunk is a fixed-size block of interleaved stereo samples.
type AudioChunk struct {
	Timestamp     float64
	Samples       []int16
	ParticipantID string
	Source        AudioSource
}

func SlotOf(ts float64) int64 {
	return int64(math.Floor(ts * TargetFPS))
}

// TotalFrames returns the amount of output frames for a recording
// of the given duration.
func TotalFrames(durationSeconds float64) int {
	if durationSeconds <= 0 {
		return 0
	}
	return int(math.Floor(durationSeconds * TargetFPS))
}

// ExpectedAudioSamples returns the amount of interleaved samples the
// final audio track must have for a video of totalFrames frames.
func ExpectedAudioSamples(totalFrames int) int {
	if totalFrames <= 0 {
		return 0
	}
	// floor(totalFrames/TargetFPS*SampleRate) computed in integers
	return totalFrames * SampleRate / TargetFPS * Channels
}
