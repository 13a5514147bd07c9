package audiomixer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/xaionaro-go/callrecorder/pkg/recording/types"
)

const (
	wavHeaderSize    = 44
	wavFormatPCM     = 1
	wavBitsPerSample = 16
)

// WriteWAVTo writes a 48 kHz stereo s16le WAV.
func WriteWAVTo(w io.Writer, samples []int16) (int64, error) {
	dataSize := uint32(len(samples) * 2)
	blockAlign := uint16(types.Channels * wavBitsPerSample / 8)

	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], wavHeaderSize-8+dataSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], types.Channels)
	binary.LittleEndian.PutUint32(hdr[24:28], types.SampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], types.SampleRate*uint32(blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], wavBitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	n, err := w.Write(hdr[:])
	if err != nil {
		return int64(n), fmt.Errorf("unable to write the WAV header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return int64(n), fmt.Errorf("unable to write the samples: %w", err)
	}
	return int64(n) + int64(dataSize), nil
}

func WriteWAV(path string, samples []int16) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("unable to open '%s' for writing: %w", path, err)
	}
	w := bufio.NewWriter(f)
	if _, err := WriteWAVTo(w, samples); err != nil {
		f.Close()
		return fmt.Errorf("unable to write '%s': %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("unable to flush '%s': %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("unable to close '%s': %w", path, err)
	}
	return nil
}
