package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/sitewatch/sitewatch/internal/logger"
)

// FileSource reads frames from a recorded video file. A single ffmpeg
// process decodes the file with a framestep filter, so only every Nth
// source frame crosses the pipe.
type FileSource struct {
	logger   *logger.Logger
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	reader   *bufio.Reader
	cancel   context.CancelFunc
	cameraID string
	info     *StreamInfo
	stride   int
	index    int
	done     bool
}

// OpenFile probes the file and starts decoding. A stride of 0 derives the
// analysis stride from the file's frame rate.
func OpenFile(ctx context.Context, ffmpeg *FFmpeg, path, cameraID string, stride int, log *logger.Logger) (*FileSource, error) {
	info, err := ffmpeg.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe video file: %w", err)
	}
	if stride <= 0 {
		stride = FileStride(info.FPS)
	}

	procCtx, cancel := context.WithCancel(ctx)
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-vf", fmt.Sprintf("framestep=%d", stride),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(jpegQScale(ffmpeg.quality)),
		"-",
	}
	cmd := ffmpeg.BuildCommand(procCtx, args)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open ffmpeg pipe: %w", err)
	}
	cmd.Stderr = &bytes.Buffer{}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	log.Info(
		"File source opened",
		"camera_id", cameraID,
		"path", path,
		"fps", info.FPS,
		"frame_count", info.FrameCount,
		"stride", stride,
	)

	return &FileSource{
		logger:   log,
		cmd:      cmd,
		stdout:   stdout,
		reader:   bufio.NewReaderSize(stdout, 1<<20),
		cancel:   cancel,
		cameraID: cameraID,
		info:     info,
		stride:   stride,
	}, nil
}

// Info returns the probed stream metadata.
func (s *FileSource) Info() *StreamInfo {
	return s.info
}

// Stride returns the effective analysis stride.
func (s *FileSource) Stride() int {
	return s.stride
}

// Progress estimates completion in [0, 1] from frames read so far.
func (s *FileSource) Progress() float64 {
	if s.done {
		return 1
	}
	if s.info.FrameCount == 0 {
		return 0
	}
	p := float64(s.index*s.stride) / float64(s.info.FrameCount)
	if p > 1 {
		p = 1
	}
	return p
}

// ReadFrame returns the next analyzed frame, or ErrEndOfStream once the
// file is exhausted.
func (s *FileSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if s.done {
		return nil, ErrEndOfStream
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := readJPEG(s.reader)
	if err != nil {
		s.done = true
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			s.cmd.Wait()
			return nil, ErrEndOfStream
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}

	img, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode JPEG: %w", err)
	}

	frame := &Frame{
		Data:      data,
		Timestamp: time.Now().UTC(),
		Width:     img.Width,
		Height:    img.Height,
		CameraID:  s.cameraID,
		Index:     s.index,
	}
	s.index++
	return frame, nil
}

// Close stops the decoder process.
func (s *FileSource) Close() error {
	s.cancel()
	s.stdout.Close()
	s.cmd.Wait()
	return nil
}

// readJPEG reads one complete JPEG image from an MJPEG byte stream. It
// scans for the SOI marker, then accumulates until EOI. Entropy-coded data
// escapes 0xFF bytes, so EOI cannot occur inside image data.
func readJPEG(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == 0xD8 {
			break
		}
	}

	buf := []byte{0xFF, 0xD8}
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		buf = append(buf, b)
		if prev == 0xFF && b == 0xD9 {
			return buf, nil
		}
		prev = b
	}
}
