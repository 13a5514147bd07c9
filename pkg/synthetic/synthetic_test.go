package synthetic

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/callrecorder/pkg/capture"
	"github.com/xaionaro-go/callrecorder/pkg/clock"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

func TestVideoTrack(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	track := NewVideoTrack(mock, "alice", true, 16, 8, types.TargetFPS, time.Second)
	require.Equal(t, types.FrameSourceScreenShare, capture.VideoSourceOf(track))
	require.Equal(t, types.SourceFormatRGBA, track.Format())

	mock.Add(time.Second / types.TargetFPS)
	frame, err := track.ReadFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, 16, frame.Width)
	require.Equal(t, 8, frame.Height)
	require.Len(t, frame.Data, 16*8*4)

	mock.Add(2 * time.Second)
	_, err = track.ReadFrame(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestAudioTrack(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	track := NewAudioTrack(mock, "bob", types.SampleRate, 440, time.Second)
	require.Equal(t, types.AudioSourceMicrophone, capture.AudioSourceOf(track))

	mock.Add(UnitDuration)
	data, err := track.ReadSamples(ctx)
	require.NoError(t, err)
	require.Len(t, data, types.SampleRate/50*2)

	var peak int16
	for i := 0; i+1 < len(data); i += 2 {
		v := int16(binary.LittleEndian.Uint16(data[i:]))
		if v < 0 {
			v = -v
		}
		peak = max(peak, v)
	}
	require.InDelta(t, 0.3*math.MaxInt16, float64(peak), 200)
}

func TestReadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	track := NewAudioTrack(clock.NewMock(), "bob", types.SampleRate, 440, time.Second)
	_, err := track.ReadSamples(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
