package video

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"

	"github.com/sitewatch/sitewatch/internal/logger"
)

// LiveSource reads frames from a live camera stream. Each ReadFrame grabs
// the current frame with ffmpeg, so a slow consumer sees fresh frames
// rather than a growing backlog.
type LiveSource struct {
	ffmpeg   *FFmpeg
	logger   *logger.Logger
	url      string
	cameraID string
	index    int
}

// LiveConfig configures opening a live source.
type LiveConfig struct {
	URL          string
	CameraID     string
	OpenAttempts int
	RetryDelay   time.Duration
}

// OpenLive verifies the stream is reachable and returns a source for it.
// RTSP streams are checked with an RTSP DESCRIBE before falling through to
// a full ffmpeg probe.
func OpenLive(ctx context.Context, ffmpeg *FFmpeg, config LiveConfig, log *logger.Logger) (*LiveSource, error) {
	attempts := config.OpenAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryDelay := config.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		lastErr = probeLive(ctx, ffmpeg, config.URL)
		if lastErr == nil {
			log.Info("Live source opened", "camera_id", config.CameraID, "url", config.URL)
			return &LiveSource{
				ffmpeg:   ffmpeg,
				logger:   log,
				url:      config.URL,
				cameraID: config.CameraID,
			}, nil
		}
		log.Warn(
			"Live source probe failed",
			"camera_id", config.CameraID,
			"attempt", attempt,
			"error", lastErr,
		)
	}
	return nil, fmt.Errorf("stream unreachable after %d attempts: %w", attempts, lastErr)
}

func probeLive(ctx context.Context, ffmpeg *FFmpeg, url string) error {
	if strings.HasPrefix(url, "rtsp://") {
		return describeRTSP(url)
	}
	return ffmpeg.ValidateInput(ctx, url)
}

// describeRTSP issues an RTSP DESCRIBE to confirm the camera answers.
func describeRTSP(rtspURL string) error {
	u, err := base.ParseURL(rtspURL)
	if err != nil {
		return fmt.Errorf("failed to parse RTSP URL: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	defer client.Close()

	if _, _, err := client.Describe(u); err != nil {
		return fmt.Errorf("failed to describe stream: %w", err)
	}
	return nil
}

// ReadFrame captures the current frame from the stream.
func (s *LiveSource) ReadFrame(ctx context.Context) (*Frame, error) {
	frame, err := s.ffmpeg.CaptureFrame(ctx, s.url, s.cameraID)
	if err != nil {
		return nil, err
	}
	frame.Index = s.index
	s.index++
	return frame, nil
}

// Close releases the source. Live capture holds no persistent process.
func (s *LiveSource) Close() error {
	return nil
}
