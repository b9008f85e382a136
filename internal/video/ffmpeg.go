package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sitewatch/sitewatch/internal/logger"
)

// FFmpeg wraps the ffmpeg and ffprobe executables.
type FFmpeg struct {
	logger      *logger.Logger
	ffmpegPath  string
	ffprobePath string
	quality     int
}

// NewFFmpeg locates the executables and returns a wrapper.
func NewFFmpeg(quality int, log *logger.Logger) (*FFmpeg, error) {
	if quality == 0 {
		quality = 85
	}

	ffmpegPath, err := detectBinary("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	ffprobePath, err := detectBinary("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	log.Info("FFmpeg initialized", "ffmpeg", ffmpegPath, "ffprobe", ffprobePath)
	return &FFmpeg{
		logger:      log,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		quality:     quality,
	}, nil
}

// detectBinary finds an executable in PATH or common locations.
func detectBinary(name string) (string, error) {
	paths := []string{name, "/usr/bin/" + name, "/usr/local/bin/" + name}
	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s not found in PATH or common locations", name)
}

// BuildCommand builds an ffmpeg command.
func (f *FFmpeg) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// ValidateInput probes an input source (URL or file path) to verify it can
// be opened.
func (f *FFmpeg) ValidateInput(ctx context.Context, input string) error {
	args := []string{
		"-hide_banner",
		"-probesize", "32",
		"-analyzeduration", "1000000",
		"-i", input,
		"-frames:v", "1",
		"-f", "null",
		"-",
	}

	cmd := f.BuildCommand(ctx, args)
	output, err := cmd.CombinedOutput()
	if err != nil {
		out := string(output)
		if strings.Contains(out, "Connection refused") ||
			strings.Contains(out, "No such file") ||
			strings.Contains(out, "Invalid data found") {
			return fmt.Errorf("invalid input %s: %w", input, err)
		}
		return fmt.Errorf("input validation failed: %w", err)
	}
	return nil
}

// CaptureFrame grabs a single JPEG frame from the input.
func (f *FFmpeg) CaptureFrame(ctx context.Context, input, cameraID string) (*Frame, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(jpegQScale(f.quality)),
		"-",
	}

	cmd := f.BuildCommand(ctx, args)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &bytes.Buffer{}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w", err)
	}

	frameData := stdout.Bytes()
	if len(frameData) == 0 {
		return nil, fmt.Errorf("no frame data extracted")
	}

	img, err := jpeg.DecodeConfig(bytes.NewReader(frameData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode JPEG: %w", err)
	}

	return &Frame{
		Data:      frameData,
		Timestamp: time.Now().UTC(),
		Width:     img.Width,
		Height:    img.Height,
		CameraID:  cameraID,
	}, nil
}

// StreamInfo describes a probed video input.
type StreamInfo struct {
	FPS        float64
	FrameCount int // 0 when unknown (live streams)
	Width      int
	Height     int
	Duration   time.Duration
}

// Probe inspects the input with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, input string) (*StreamInfo, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate,nb_frames,width,height,duration",
		"-of", "json",
		input,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Streams []struct {
			RFrameRate string `json:"r_frame_rate"`
			NBFrames   string `json:"nb_frames"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			Duration   string `json:"duration"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found in %s", input)
	}

	stream := probe.Streams[0]
	info := &StreamInfo{
		FPS:    parseFrameRate(stream.RFrameRate),
		Width:  stream.Width,
		Height: stream.Height,
	}
	if n, err := strconv.Atoi(stream.NBFrames); err == nil {
		info.FrameCount = n
	}
	if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
		info.Duration = time.Duration(d * float64(time.Second))
	}

	// Some containers omit nb_frames; estimate from duration.
	if info.FrameCount == 0 && info.Duration > 0 && info.FPS > 0 {
		info.FrameCount = int(info.Duration.Seconds() * info.FPS)
	}

	return info, nil
}

// parseFrameRate parses ffprobe's rational frame rate, e.g. "30000/1001".
func parseFrameRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// jpegQScale maps a 1-100 quality to ffmpeg's 31-1 qscale range.
func jpegQScale(quality int) int {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	q := 31 - (quality*30)/100
	if q < 1 {
		q = 1
	}
	return q
}
