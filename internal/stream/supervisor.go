// Package stream supervises continuous monitoring of live camera streams.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sitewatch/sitewatch/internal/logger"
	"github.com/sitewatch/sitewatch/internal/pipeline"
	"github.com/sitewatch/sitewatch/internal/registry"
	"github.com/sitewatch/sitewatch/internal/video"
)

var (
	// ErrAlreadyActive is returned when the camera is already being monitored
	// or is held by a batch job.
	ErrAlreadyActive = errors.New("camera already active")

	// ErrNotActive is returned when the camera has no running stream.
	ErrNotActive = errors.New("camera not active")

	// ErrUnreachable is returned when the camera's stream cannot be opened.
	ErrUnreachable = errors.New("stream unreachable")
)

// SourceOpener opens a frame source for a camera. Swappable in tests.
type SourceOpener func(ctx context.Context, camera *registry.Camera) (video.Source, error)

// TouchFunc records frame activity for a camera, at most once a minute.
type TouchFunc func(ctx context.Context, cameraID string, at time.Time) error

// Config tunes the monitoring loop.
type Config struct {
	FrameStride     int
	TargetRate      float64
	ReadRetryDelay  time.Duration
	MaxReadFailures int
	StopGrace       time.Duration

	// Touch is optional. When set it is called as frames arrive.
	Touch TouchFunc
}

// Supervisor starts and stops per-camera monitoring workers.
type Supervisor struct {
	config     Config
	processor  *pipeline.Processor
	active     *pipeline.ActiveSet
	openSource SourceOpener
	logger     *logger.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(
	config Config,
	processor *pipeline.Processor,
	active *pipeline.ActiveSet,
	openSource SourceOpener,
	log *logger.Logger,
) *Supervisor {
	if config.FrameStride < 1 {
		config.FrameStride = 3
	}
	if config.TargetRate <= 0 {
		config.TargetRate = 10
	}
	if config.ReadRetryDelay == 0 {
		config.ReadRetryDelay = 100 * time.Millisecond
	}
	if config.MaxReadFailures < 1 {
		config.MaxReadFailures = 10
	}
	if config.StopGrace == 0 {
		config.StopGrace = 5 * time.Second
	}

	return &Supervisor{
		config:     config,
		processor:  processor,
		active:     active,
		openSource: openSource,
		logger:     log,
		workers:    make(map[string]*worker),
	}
}

// Start begins monitoring a camera. The stream is opened synchronously so
// an unreachable camera fails the call.
func (s *Supervisor) Start(ctx context.Context, camera *registry.Camera) (Status, error) {
	s.mu.Lock()
	if existing, ok := s.workers[camera.ID]; ok && !existing.snapshot().State.Terminal() {
		s.mu.Unlock()
		return Status{}, ErrAlreadyActive
	}
	s.mu.Unlock()

	if err := s.active.Acquire(camera.ID, "stream"); err != nil {
		return Status{}, ErrAlreadyActive
	}

	source, err := s.openSource(ctx, camera)
	if err != nil {
		s.active.Release(camera.ID)
		return Status{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	w := &worker{
		cameraID:        camera.ID,
		source:          source,
		pacer:           video.NewPacer(s.config.FrameStride, s.config.TargetRate),
		processor:       s.processor,
		active:          s.active,
		logger:          s.logger,
		retryDelay:      s.config.ReadRetryDelay,
		maxReadFailures: s.config.MaxReadFailures,
		touch:           s.config.Touch,
		cancel:          cancel,
		done:            make(chan struct{}),
		status: Status{
			CameraID:  camera.ID,
			State:     StateStarting,
			StartedAt: time.Now().UTC(),
		},
	}

	s.mu.Lock()
	s.workers[camera.ID] = w
	s.mu.Unlock()

	go w.run(workerCtx)
	return w.snapshot(), nil
}

// Stop ends monitoring for a camera, waiting up to the stop grace period
// for the worker to wind down, then removes its handle. A worker that
// overruns the grace period has its source closed out from under it.
// Handles in the error state stay visible until a fresh Start.
func (s *Supervisor) Stop(ctx context.Context, cameraID string) error {
	s.mu.Lock()
	w, ok := s.workers[cameraID]
	s.mu.Unlock()
	if !ok || w.snapshot().State.Terminal() {
		return ErrNotActive
	}

	w.setState(StateStopping)
	w.cancel()

	select {
	case <-w.done:
	case <-time.After(s.config.StopGrace):
		s.logger.Warn("Stream worker did not stop within grace period", "camera_id", cameraID)
		w.source.Close()
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	delete(s.workers, cameraID)
	s.mu.Unlock()
	return nil
}

// Status returns the snapshot for one camera's stream.
func (s *Supervisor) Status(cameraID string) (Status, error) {
	s.mu.Lock()
	w, ok := s.workers[cameraID]
	s.mu.Unlock()
	if !ok {
		return Status{}, ErrNotActive
	}
	return w.snapshot(), nil
}

// StatusAll returns snapshots for every known stream, sorted by camera ID.
func (s *Supervisor) StatusAll() []Status {
	s.mu.Lock()
	statuses := make([]Status, 0, len(s.workers))
	for _, w := range s.workers {
		statuses = append(statuses, w.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].CameraID < statuses[j].CameraID
	})
	return statuses
}

// StopAll stops every running stream. Used during shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotActive) {
			s.logger.Warn("Failed to stop stream", "camera_id", id, "error", err)
		}
	}
}
