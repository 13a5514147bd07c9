// Package rawstore persists frozen recordings on disk so that their
// finalization can be retried after a crash.
package rawstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"
	"github.com/xaionaro-go/callrecorder/pkg/recording"
)

const (
	MetaFileName   = "meta.yaml"
	FramesFileName = "frames.zst"
	AudioFileName  = "audio.zst"

	partialSuffix = ".partial"
)

// Write stores the recording into dir (which must not exist yet). The
// directory appears under its final name only once complete.
func Write(
	ctx context.Context,
	dir string,
	frozen *recording.Frozen,
	outputPath string,
) (_err error) {
	logger.Debugf(ctx, "Write(ctx, '%s', %s)", dir, frozen.MeetingID)
	defer func() { logger.Debugf(ctx, "/Write(ctx, '%s', %s): %v", dir, frozen.MeetingID, _err) }()

	tmpDir := dir + partialSuffix
	if err := os.RemoveAll(tmpDir); err != nil {
		return fmt.Errorf("unable to clean up '%s': %w", tmpDir, err)
	}
	if err := os.MkdirAll(tmpDir, 0750); err != nil {
		return fmt.Errorf("unable to create '%s': %w", tmpDir, err)
	}
	defer func() {
		if _err != nil {
			os.RemoveAll(tmpDir)
		}
	}()

	err := writeCompressed(filepath.Join(tmpDir, FramesFileName), func(w io.Writer) error {
		for idx := range frozen.Frames {
			if err := writeFrame(w, &frozen.Frames[idx]); err != nil {
				return fmt.Errorf("unable to write frame #%d: %w", idx, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = writeCompressed(filepath.Join(tmpDir, AudioFileName), func(w io.Writer) error {
		for idx := range frozen.Chunks {
			if err := writeChunk(w, &frozen.Chunks[idx]); err != nil {
				return fmt.Errorf("unable to write audio chunk #%d: %w", idx, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	meta := Meta{
		Version:    formatVersion,
		SessionID:  frozen.SessionID.String(),
		MeetingID:  frozen.MeetingID,
		StartedAt:  frozen.StartedAt,
		Duration:   frozen.Duration,
		FrameCount: len(frozen.Frames),
		ChunkCount: len(frozen.Chunks),
		OutputPath: outputPath,
	}
	if err := writeMeta(filepath.Join(tmpDir, MetaFileName), &meta); err != nil {
		return err
	}

	if err := os.Rename(tmpDir, dir); err != nil {
		return fmt.Errorf("unable to move '%s' to '%s': %w", tmpDir, dir, err)
	}
	if size, err := dirSize(dir); err == nil {
		logger.Infof(ctx, "saved the raw recording of %s to '%s': %d frames, %d audio chunks, %s", frozen.MeetingID, dir, len(frozen.Frames), len(frozen.Chunks), humanize.Bytes(uint64(size)))
	}
	return nil
}

func writeCompressed(path string, fn func(w io.Writer) error) (_err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("unable to open '%s' for writing: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			_err = multierror.Append(_err, fmt.Errorf("unable to close '%s': %w", path, err))
		}
	}()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return fmt.Errorf("unable to initialize a zstd encoder: %w", err)
	}
	bw := bufio.NewWriterSize(zw, 1<<20)
	if err := fn(bw); err != nil {
		zw.Close()
		return fmt.Errorf("unable to write '%s': %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		return fmt.Errorf("unable to flush '%s': %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("unable to finalize '%s': %w", path, err)
	}
	return f.Sync()
}

func writeMeta(path string, meta *Meta) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("unable to open '%s' for writing: %w", path, err)
	}
	_, err = meta.WriteTo(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("unable to write '%s': %w", path, err)
	}
	return nil
}

func ReadMeta(dir string) (*Meta, error) {
	path := filepath.Join(dir, MetaFileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open '%s': %w", path, err)
	}
	defer f.Close()
	var meta Meta
	if _, err := meta.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("unable to parse '%s': %w", path, err)
	}
	return &meta, nil
}

// Read loads a raw recording written by Write.
func Read(
	ctx context.Context,
	dir string,
) (_ret *recording.Frozen, _err error) {
	logger.Debugf(ctx, "Read(ctx, '%s')", dir)
	defer func() { logger.Debugf(ctx, "/Read(ctx, '%s'): %v", dir, _err) }()

	meta, err := ReadMeta(dir)
	if err != nil {
		return nil, err
	}
	sessionID, err := uuid.Parse(meta.SessionID)
	if err != nil {
		return nil, fmt.Errorf("unable to parse the session ID '%s': %w", meta.SessionID, err)
	}
	frozen := &recording.Frozen{
		SessionID: sessionID,
		MeetingID: meta.MeetingID,
		StartedAt: meta.StartedAt,
		Duration:  meta.Duration,
	}

	err = readCompressed(filepath.Join(dir, FramesFileName), func(r io.Reader) error {
		for {
			frame, err := readFrame(r)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("unable to read frame #%d: %w", len(frozen.Frames), err)
			}
			frozen.Frames = append(frozen.Frames, frame)
		}
	})
	if err != nil {
		return nil, err
	}
	err = readCompressed(filepath.Join(dir, AudioFileName), func(r io.Reader) error {
		for {
			chunk, err := readChunk(r)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("unable to read audio chunk #%d: %w", len(frozen.Chunks), err)
			}
			frozen.Chunks = append(frozen.Chunks, chunk)
		}
	})
	if err != nil {
		return nil, err
	}

	if len(frozen.Frames) != meta.FrameCount || len(frozen.Chunks) != meta.ChunkCount {
		return nil, fmt.Errorf("the raw recording in '%s' is inconsistent: %d/%d frames, %d/%d chunks", dir, len(frozen.Frames), meta.FrameCount, len(frozen.Chunks), meta.ChunkCount)
	}
	return frozen, nil
}

func readCompressed(path string, fn func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open '%s': %w", path, err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("unable to initialize a zstd decoder for '%s': %w", path, err)
	}
	defer zr.Close()
	if err := fn(bufio.NewReaderSize(zr, 1<<20)); err != nil {
		return fmt.Errorf("unable to read '%s': %w", path, err)
	}
	return nil
}

// List returns the complete raw recording directories inside workDir.
func List(workDir string) ([]string, error) {
	entries, err := os.ReadDir(workDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to list '%s': %w", workDir, err)
	}
	var result []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasSuffix(entry.Name(), partialSuffix) {
			continue
		}
		dir := filepath.Join(workDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, MetaFileName)); err != nil {
			continue
		}
		result = append(result, dir)
	}
	return result, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
