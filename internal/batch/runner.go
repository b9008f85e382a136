// Package batch runs bounded analysis jobs over recorded video files.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sitewatch/sitewatch/internal/alertgate"
	"github.com/sitewatch/sitewatch/internal/logger"
	"github.com/sitewatch/sitewatch/internal/pipeline"
	"github.com/sitewatch/sitewatch/internal/video"
)

var (
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")

	// ErrCameraBusy is returned when the camera has a live stream or
	// another job running.
	ErrCameraBusy = pipeline.ErrCameraBusy
)

// FileSource is the subset of a file-backed video source the runner needs.
type FileSource interface {
	video.Source
	Progress() float64
	Info() *video.StreamInfo
	Stride() int
}

// SourceOpener opens a file source for a job. Swappable in tests.
type SourceOpener func(ctx context.Context, cameraID, filePath string) (FileSource, error)

// ProcessorFactory builds a processor around a job-scoped cooldown gate,
// so dedup inside one file follows video time instead of wall clock.
type ProcessorFactory func(gate *alertgate.Gate) *pipeline.Processor

// Config tunes the runner.
type Config struct {
	Deadline       time.Duration
	CooldownWindow time.Duration
	JobRetention   time.Duration
}

// Runner executes batch jobs, one active job per camera.
type Runner struct {
	config     Config
	factory    ProcessorFactory
	active     *pipeline.ActiveSet
	openSource SourceOpener
	logger     *logger.Logger

	mu      sync.Mutex
	jobs    map[string]*trackedJob
	cancels map[string]context.CancelFunc
}

type trackedJob struct {
	mu  sync.Mutex
	job Job
}

func (t *trackedJob) snapshot() Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job
}

func (t *trackedJob) update(fn func(*Job)) {
	t.mu.Lock()
	fn(&t.job)
	t.mu.Unlock()
}

// NewRunner creates a Runner.
func NewRunner(
	config Config,
	factory ProcessorFactory,
	active *pipeline.ActiveSet,
	openSource SourceOpener,
	log *logger.Logger,
) *Runner {
	if config.Deadline == 0 {
		config.Deadline = 10 * time.Minute
	}
	if config.CooldownWindow == 0 {
		config.CooldownWindow = 30 * time.Second
	}
	if config.JobRetention == 0 {
		config.JobRetention = time.Hour
	}

	return &Runner{
		config:     config,
		factory:    factory,
		active:     active,
		openSource: openSource,
		logger:     log,
		jobs:       make(map[string]*trackedJob),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Submit queues a job for the camera and file and starts it immediately.
func (r *Runner) Submit(cameraID, filePath string) (Job, error) {
	if err := r.active.Acquire(cameraID, "batch"); err != nil {
		return Job{}, fmt.Errorf("%w", ErrCameraBusy)
	}

	tracked := &trackedJob{job: Job{
		ID:          NewJobID(),
		CameraID:    cameraID,
		FilePath:    filePath,
		State:       JobQueued,
		SubmittedAt: time.Now().UTC(),
	}}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.Deadline)

	r.mu.Lock()
	r.jobs[tracked.job.ID] = tracked
	r.cancels[tracked.job.ID] = cancel
	r.mu.Unlock()

	go r.run(ctx, tracked)
	return tracked.snapshot(), nil
}

// run executes one job to a terminal state.
func (r *Runner) run(ctx context.Context, tracked *trackedJob) {
	job := tracked.snapshot()
	defer r.active.Release(job.CameraID)
	defer r.dropCancel(job.ID)

	source, err := r.openSource(ctx, job.CameraID, job.FilePath)
	if err != nil {
		r.finish(tracked, JobFailed, fmt.Sprintf("failed to open file: %v", err))
		return
	}
	defer source.Close()

	gate := alertgate.New(r.config.CooldownWindow, r.logger)
	processor := r.factory(gate)

	info := source.Info()
	tracked.update(func(j *Job) {
		j.State = JobRunning
		j.StartedAt = time.Now().UTC()
	})
	r.logger.Info(
		"Batch job started",
		"job_id", job.ID,
		"camera_id", job.CameraID,
		"file", job.FilePath,
		"fps", info.FPS,
		"frame_count", info.FrameCount,
		"stride", source.Stride(),
	)

	// Cooldown follows the video's own timeline.
	base := time.Now().UTC()
	frameInterval := time.Second
	if info.FPS > 0 {
		frameInterval = time.Duration(float64(source.Stride()) / info.FPS * float64(time.Second))
	}

	for {
		frame, err := source.ReadFrame(ctx)
		if errors.Is(err, video.ErrEndOfStream) {
			tracked.update(func(j *Job) { j.Progress = 100 })
			r.finish(tracked, JobCompleted, "")
			return
		}
		if err != nil {
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				r.finish(tracked, JobTimedOut, "deadline exceeded")
			case errors.Is(ctx.Err(), context.Canceled):
				r.finish(tracked, JobCancelled, "")
			default:
				r.finish(tracked, JobFailed, err.Error())
			}
			return
		}

		at := base.Add(time.Duration(frame.Index) * frameInterval)
		outcome, err := processor.ProcessFrame(ctx, frame, at)
		if err != nil {
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				r.finish(tracked, JobTimedOut, "deadline exceeded")
				return
			case errors.Is(ctx.Err(), context.Canceled):
				r.finish(tracked, JobCancelled, "")
				return
			}
			// A detector hiccup costs one frame, not the job.
			r.logger.Warn(
				"Frame analysis failed",
				"job_id", job.ID,
				"frame", frame.Index,
				"error", err,
			)
			tracked.update(func(j *Job) { j.AnalysisFailures++ })
			continue
		}

		progress := source.Progress() * 100
		tracked.update(func(j *Job) {
			j.FramesAnalyzed++
			j.AlertsRaised += int64(len(outcome.Raised))
			j.PublishFailures += int64(outcome.PublishFailures)
			j.Progress = progress
		})
	}
}

func (r *Runner) finish(tracked *trackedJob, state JobState, errMsg string) {
	tracked.update(func(j *Job) {
		j.State = state
		j.Error = errMsg
		j.FinishedAt = time.Now().UTC()
	})
	job := tracked.snapshot()
	r.logger.Info(
		"Batch job finished",
		"job_id", job.ID,
		"state", job.State,
		"frames_analyzed", job.FramesAnalyzed,
		"alerts_raised", job.AlertsRaised,
		"error", job.Error,
	)
}

func (r *Runner) dropCancel(jobID string) {
	r.mu.Lock()
	if cancel, ok := r.cancels[jobID]; ok {
		cancel()
		delete(r.cancels, jobID)
	}
	r.mu.Unlock()
}

// Status returns a snapshot of one job.
func (r *Runner) Status(jobID string) (Job, error) {
	r.mu.Lock()
	tracked, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return tracked.snapshot(), nil
}

// List returns snapshots of all known jobs, newest first.
func (r *Runner) List() []Job {
	r.mu.Lock()
	jobs := make([]Job, 0, len(r.jobs))
	for _, tracked := range r.jobs {
		jobs = append(jobs, tracked.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].SubmittedAt.After(jobs[j].SubmittedAt)
	})
	return jobs
}

// Cancel asks a running job to stop. The job transitions to cancelled on
// its own goroutine.
func (r *Runner) Cancel(jobID string) error {
	r.mu.Lock()
	tracked, ok := r.jobs[jobID]
	cancel := r.cancels[jobID]
	r.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	if tracked.snapshot().State.Terminal() || cancel == nil {
		return ErrJobFinished
	}
	cancel()
	return nil
}

// sweep drops terminal jobs finished before the retention window.
func (r *Runner) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, tracked := range r.jobs {
		job := tracked.snapshot()
		if job.State.Terminal() && !job.FinishedAt.IsZero() && now.Sub(job.FinishedAt) > r.config.JobRetention {
			delete(r.jobs, id)
		}
	}
}

// Run sweeps expired jobs at the given interval until the context ends.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}
