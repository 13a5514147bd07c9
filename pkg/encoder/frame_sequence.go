package encoder

import (
	"fmt"
	"image"

	"github.com/bamiaux/rez"
	"github.com/xaionaro-go/callrecorder/pkg/frameindex"
	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

// FrameSequence renders the fixed-rate output: for every slot the
// indexed frame (rescaled if needed) or a dark placeholder.
//
// The returned buffers are reused between calls.
type FrameSequence struct {
	index  *frameindex.Index
	width  int
	height int

	placeholder []byte

	lastFrame  *types.TimestampedFrame
	lastOutput []byte

	srcImage *image.RGBA
	dstImage *image.RGBA
	resized  []byte
}

func NewFrameSequence(
	index *frameindex.Index,
	width, height int,
) *FrameSequence {
	return &FrameSequence{
		index:       index,
		width:       width,
		height:      height,
		placeholder: make([]byte, width*height*types.BytesPerPixel),
	}
}

// Frame returns the BGR24 content of the slot and whether it is a real
// frame.
func (s *FrameSequence) Frame(slot int64) ([]byte, types.FrameSource, error) {
	frame := s.index.LookupSlot(slot)
	if frame == nil {
		return s.placeholder, types.FrameSourcePlaceholder, nil
	}
	if frame == s.lastFrame {
		return s.lastOutput, frame.Source, nil
	}
	out, err := s.fit(frame)
	if err != nil {
		return nil, types.FrameSourceUndefined, err
	}
	s.lastFrame, s.lastOutput = frame, out
	return out, frame.Source, nil
}

func (s *FrameSequence) fit(frame *types.TimestampedFrame) ([]byte, error) {
	if len(frame.Pixels) != frame.Width*frame.Height*types.BytesPerPixel {
		return nil, fmt.Errorf("frame at %.3fs has %d bytes, but %dx%d is declared", frame.Timestamp, len(frame.Pixels), frame.Width, frame.Height)
	}
	if frame.Width == s.width && frame.Height == s.height {
		return frame.Pixels, nil
	}

	if s.srcImage == nil || s.srcImage.Rect.Dx() != frame.Width || s.srcImage.Rect.Dy() != frame.Height {
		s.srcImage = image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	}
	bgrToRGBA(s.srcImage.Pix, frame.Pixels)

	if s.dstImage == nil {
		s.dstImage = image.NewRGBA(image.Rect(0, 0, s.width, s.height))
		s.resized = make([]byte, s.width*s.height*types.BytesPerPixel)
	}
	if err := rez.Convert(s.dstImage, s.srcImage, rez.NewLanczosFilter(3)); err != nil {
		return nil, fmt.Errorf("unable to rescale %dx%d to %dx%d: %w", frame.Width, frame.Height, s.width, s.height, err)
	}
	rgbaToBGR(s.resized, s.dstImage.Pix)
	return s.resized, nil
}

func bgrToRGBA(dst, src []byte) {
	for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
		dst[j+0] = src[i+2]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+0]
		dst[j+3] = 0xff
	}
}

func rgbaToBGR(dst, src []byte) {
	for i, j := 0, 0; j+3 < len(src); i, j = i+3, j+4 {
		dst[i+0] = src[j+2]
		dst[i+1] = src[j+1]
		dst[i+2] = src[j+0]
	}
}
