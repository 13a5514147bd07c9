// Package synthetic provides generated tracks which behave like the ones
// of a live call, for exercising the recording pipeline without a
// transport.
package synthetic

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/xaionaro-go/callrecorder/pkg/capture"
	"github.com/xaionaro-go/callrecorder/pkg/clock"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

type trackBase struct {
	id          types.TrackID
	participant string
	name        string
	screen      bool
	format      types.SourceFormat

	clock    clock.Clock
	ticker   *clock.Ticker
	deadline time.Time
}

func newTrackBase(
	clk clock.Clock,
	participantID string,
	name string,
	screen bool,
	format types.SourceFormat,
	interval time.Duration,
	duration time.Duration,
) trackBase {
	if clk == nil {
		clk = clock.New()
	}
	return trackBase{
		id:          types.TrackID(fmt.Sprintf("%s/%s", participantID, name)),
		participant: participantID,
		name:        name,
		screen:      screen,
		format:      format,
		clock:       clk,
		ticker:      clk.Ticker(interval),
		deadline:    clk.Now().Add(duration),
	}
}

func (t *trackBase) ID() types.TrackID          { return t.id }
func (t *trackBase) ParticipantID() string      { return t.participant }
func (t *trackBase) Name() string               { return t.name }
func (t *trackBase) IsScreenShare() bool        { return t.screen }
func (t *trackBase) Format() types.SourceFormat { return t.format }

// tick waits for the next unit; it returns io.EOF after the deadline.
func (t *trackBase) tick(ctx context.Context) error {
	select {
	case <-ctx.Done():
		t.ticker.Stop()
		return ctx.Err()
	case <-t.ticker.C:
		if t.clock.Now().After(t.deadline) {
			t.ticker.Stop()
			return io.EOF
		}
		return nil
	}
}

// VideoTrack produces RGBA frames with a bar moving across a colored
// background.
type VideoTrack struct {
	trackBase
	width   int
	height  int
	color   [3]byte
	frameNo int
}

var _ capture.VideoTrack = (*VideoTrack)(nil)

func NewVideoTrack(
	clk clock.Clock,
	participantID string,
	screen bool,
	width, height int,
	fps float64,
	duration time.Duration,
) *VideoTrack {
	name := "camera"
	if screen {
		name = "screen"
	}
	return &VideoTrack{
		trackBase: newTrackBase(clk, participantID, name, screen, types.SourceFormatRGBA, time.Duration(float64(time.Second)/fps), duration),
		width:     width,
		height:    height,
		color:     colorOf(participantID),
	}
}

func (t *VideoTrack) ReadFrame(ctx context.Context) (*capture.VideoFrame, error) {
	if err := t.tick(ctx); err != nil {
		return nil, err
	}
	data := make([]byte, t.width*t.height*4)
	barX := t.frameNo % t.width
	for y := 0; y < t.height; y++ {
		for x := 0; x < t.width; x++ {
			p := data[(y*t.width+x)*4:]
			if x >= barX && x < barX+t.width/16+1 {
				p[0], p[1], p[2] = 255, 255, 255
			} else {
				p[0], p[1], p[2] = t.color[0], t.color[1], t.color[2]
			}
			p[3] = 255
		}
	}
	t.frameNo++
	return &capture.VideoFrame{
		Data:   data,
		Width:  t.width,
		Height: t.height,
	}, nil
}

// AudioTrack produces a mono s16le sine tone in units of UnitDuration.
type AudioTrack struct {
	trackBase
	sampleRate int
	frequency  float64
	amplitude  float64
	phase      float64
}

var _ capture.AudioTrack = (*AudioTrack)(nil)

const UnitDuration = 20 * time.Millisecond

func NewAudioTrack(
	clk clock.Clock,
	participantID string,
	sampleRate int,
	frequency float64,
	duration time.Duration,
) *AudioTrack {
	return &AudioTrack{
		trackBase:  newTrackBase(clk, participantID, "microphone", false, types.SourceFormatInt16PCM, UnitDuration, duration),
		sampleRate: sampleRate,
		frequency:  frequency,
		amplitude:  0.3,
	}
}

func (t *AudioTrack) SampleRate() int { return t.sampleRate }
func (t *AudioTrack) Channels() int   { return 1 }

func (t *AudioTrack) ReadSamples(ctx context.Context) ([]byte, error) {
	if err := t.tick(ctx); err != nil {
		return nil, err
	}
	n := int(int64(t.sampleRate) * int64(UnitDuration) / int64(time.Second))
	data := make([]byte, 0, n*2)
	step := 2 * math.Pi * t.frequency / float64(t.sampleRate)
	for i := 0; i < n; i++ {
		v := int16(math.Round(t.amplitude * math.MaxInt16 * math.Sin(t.phase)))
		data = binary.LittleEndian.AppendUint16(data, uint16(v))
		t.phase = math.Mod(t.phase+step, 2*math.Pi)
	}
	return data, nil
}

func colorOf(participantID string) [3]byte {
	var h uint32 = 2166136261
	for _, c := range []byte(participantID) {
		h = (h ^ uint32(c)) * 16777619
	}
	return [3]byte{byte(h), byte(h >> 8), byte(h >> 16)}
}
