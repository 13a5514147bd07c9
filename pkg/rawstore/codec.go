package rawstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

// frame record: timestamp f64 | source u8 | width u32 | height u32 |
// size u32 | pixels
const frameHeaderSize = 8 + 1 + 4 + 4 + 4

// chunk record: timestamp f64 | source u8 | participant length u16 |
// participant | sample count u32 | samples (s16le)
const chunkHeaderSize = 8 + 1 + 2

const maxFrameSize = 64 << 20

func writeFrame(w io.Writer, f *types.TimestampedFrame) error {
	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], math.Float64bits(f.Timestamp))
	hdr[8] = byte(f.Source)
	binary.LittleEndian.PutUint32(hdr[9:13], uint32(f.Width))
	binary.LittleEndian.PutUint32(hdr[13:17], uint32(f.Height))
	binary.LittleEndian.PutUint32(hdr[17:21], uint32(len(f.Pixels)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(f.Pixels)
	return err
}

// readFrame returns io.EOF only at a record boundary.
func readFrame(r io.Reader) (types.TimestampedFrame, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return types.TimestampedFrame{}, err
	}
	f := types.TimestampedFrame{
		Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(hdr[0:8])),
		Source:    types.FrameSource(hdr[8]),
		Width:     int(binary.LittleEndian.Uint32(hdr[9:13])),
		Height:    int(binary.LittleEndian.Uint32(hdr[13:17])),
	}
	size := binary.LittleEndian.Uint32(hdr[17:21])
	if size > maxFrameSize {
		return f, fmt.Errorf("frame record of %d bytes is too large", size)
	}
	f.Pixels = make([]byte, size)
	if _, err := io.ReadFull(r, f.Pixels); err != nil {
		return f, unexpectedEOF(err)
	}
	return f, nil
}

func writeChunk(w io.Writer, c *types.AudioChunk) error {
	var hdr [chunkHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], math.Float64bits(c.Timestamp))
	hdr[8] = byte(c.Source)
	binary.LittleEndian.PutUint16(hdr[9:11], uint16(len(c.ParticipantID)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, c.ParticipantID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(c.Samples))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, c.Samples)
}

func readChunk(r io.Reader) (types.AudioChunk, error) {
	var hdr [chunkHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return types.AudioChunk{}, err
	}
	c := types.AudioChunk{
		Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(hdr[0:8])),
		Source:    types.AudioSource(hdr[8]),
	}
	participant := make([]byte, binary.LittleEndian.Uint16(hdr[9:11]))
	if _, err := io.ReadFull(r, participant); err != nil {
		return c, unexpectedEOF(err)
	}
	c.ParticipantID = string(participant)

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return c, unexpectedEOF(err)
	}
	if count > maxFrameSize/2 {
		return c, fmt.Errorf("chunk record of %d samples is too large", count)
	}
	c.Samples = make([]int16, count)
	if err := binary.Read(r, binary.LittleEndian, c.Samples); err != nil {
		return c, unexpectedEOF(err)
	}
	return c, nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
