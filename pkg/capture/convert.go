package capture

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

// pixelConverter writes src pixels into dst as BGR24.
type pixelConverter func(dst, src []byte)

func newPixelConverter(format types.SourceFormat) (pixelConverter, error) {
	switch format {
	case types.SourceFormatRGBA:
		return func(dst, src []byte) {
			for i, j := 0, 0; j+3 < len(src); i, j = i+3, j+4 {
				dst[i], dst[i+1], dst[i+2] = src[j+2], src[j+1], src[j]
			}
		}, nil
	case types.SourceFormatRGB24:
		return func(dst, src []byte) {
			for i := 0; i+2 < len(src); i += 3 {
				dst[i], dst[i+1], dst[i+2] = src[i+2], src[i+1], src[i]
			}
		}, nil
	case types.SourceFormatBGR24:
		return func(dst, src []byte) {
			copy(dst, src)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported video format: %s", format)
	}
}

// sampleDecoder converts interleaved little-endian samples of the given
// channel count into interleaved stereo int16.
type sampleDecoder func(src []byte, channels int) []int16

func newSampleDecoder(format types.SourceFormat) (sampleDecoder, error) {
	var decodeOne func(b []byte) int16
	switch format {
	case types.SourceFormatInt16PCM:
		decodeOne = func(b []byte) int16 {
			return int16(binary.LittleEndian.Uint16(b))
		}
	case types.SourceFormatFloat32PCM:
		decodeOne = func(b []byte) int16 {
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
			if math.IsNaN(v) {
				return 0
			}
			return int16(math.Round(max(-1, min(1, v)) * math.MaxInt16))
		}
	default:
		return nil, fmt.Errorf("unsupported audio format: %s", format)
	}
	unitSize := format.BytesPerUnit()

	return func(src []byte, channels int) []int16 {
		frameSize := unitSize * channels
		frames := len(src) / frameSize
		dst := make([]int16, frames*types.Channels)
		for idx := 0; idx < frames; idx++ {
			frame := src[idx*frameSize:]
			left := decodeOne(frame)
			right := left
			if channels >= 2 {
				right = decodeOne(frame[unitSize:])
			}
			dst[idx*2], dst[idx*2+1] = left, right
		}
		return dst
	}, nil
}
