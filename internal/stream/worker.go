package stream

import (
	"context"
	"sync"
	"time"

	"github.com/sitewatch/sitewatch/internal/logger"
	"github.com/sitewatch/sitewatch/internal/pipeline"
	"github.com/sitewatch/sitewatch/internal/video"
)

// worker owns one camera's monitoring loop.
type worker struct {
	cameraID  string
	source    video.Source
	pacer     *video.Pacer
	processor *pipeline.Processor
	active    *pipeline.ActiveSet
	logger    *logger.Logger

	retryDelay      time.Duration
	maxReadFailures int
	touch           TouchFunc
	lastTouch       time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status Status
}

func (w *worker) snapshot() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *worker) setState(state State) {
	w.mu.Lock()
	w.status.State = state
	w.mu.Unlock()
}

// run is the monitoring loop. It reads frames until the context is
// cancelled or too many consecutive reads fail. The stream stays in the
// starting state until the first frame arrives.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.active.Release(w.cameraID)
	defer w.source.Close()

	w.logger.Info("Stream monitoring started", "camera_id", w.cameraID)

	for {
		select {
		case <-ctx.Done():
			w.setState(StateStopped)
			w.logger.Info("Stream monitoring stopped", "camera_id", w.cameraID)
			return
		default:
		}

		frame, err := w.source.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.setState(StateStopped)
				w.logger.Info("Stream monitoring stopped", "camera_id", w.cameraID)
				return
			}
			if w.recordFailure(err) {
				w.logger.Error(
					"Stream abandoned after repeated read failures",
					"camera_id", w.cameraID,
					"failures", w.maxReadFailures,
					"error", err,
				)
				return
			}
			select {
			case <-ctx.Done():
			case <-time.After(w.retryDelay):
			}
			continue
		}

		w.mu.Lock()
		if w.status.State == StateStarting {
			w.status.State = StateActive
		}
		w.status.FramesRead++
		w.status.ConsecutiveFailures = 0
		w.status.LastError = ""
		w.mu.Unlock()

		if w.touch != nil && frame.Timestamp.Sub(w.lastTouch) >= time.Minute {
			w.lastTouch = frame.Timestamp
			if err := w.touch(ctx, w.cameraID, frame.Timestamp); err != nil {
				w.logger.Warn("Failed to record camera last seen", "camera_id", w.cameraID, "error", err)
			}
		}

		if !w.pacer.Admit(frame.Timestamp) {
			continue
		}

		outcome, err := w.processor.ProcessFrame(ctx, frame, frame.Timestamp)
		if err != nil {
			// Detector hiccups should not kill the stream.
			w.logger.Warn(
				"Frame analysis failed",
				"camera_id", w.cameraID,
				"error", err,
			)
			w.mu.Lock()
			w.status.AnalysisFailures++
			w.mu.Unlock()
			continue
		}

		w.mu.Lock()
		w.status.FramesAnalyzed++
		w.status.AlertsRaised += int64(len(outcome.Raised))
		w.status.PublishFailures += int64(outcome.PublishFailures)
		w.mu.Unlock()
	}
}

// recordFailure counts a read failure and reports whether the stream
// should give up.
func (w *worker) recordFailure(err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.status.ConsecutiveFailures++
	w.status.LastError = err.Error()
	if w.status.ConsecutiveFailures >= w.maxReadFailures {
		w.status.State = StateError
		return true
	}
	return false
}
