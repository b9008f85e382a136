package batch

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a batch analysis job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobTimedOut  JobState = "timed_out"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the job will not change state again.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobTimedOut, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is a snapshot of a batch analysis job over a recorded video file.
type Job struct {
	ID               string    `json:"id"`
	CameraID         string    `json:"camera_id"`
	FilePath         string    `json:"file_path"`
	State            JobState  `json:"state"`
	Progress         float64   `json:"progress"` // percent, 0-100
	FramesAnalyzed   int64     `json:"frames_analyzed"`
	AlertsRaised     int64     `json:"alerts_raised"`
	AnalysisFailures int64     `json:"analysis_failures"`
	PublishFailures  int64     `json:"publish_failures"`
	SubmittedAt      time.Time `json:"submitted_at"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	FinishedAt       time.Time `json:"finished_at,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// NewJobID generates a job identifier of the form JOB_1a2b3c4d.
func NewJobID() string {
	return "JOB_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
