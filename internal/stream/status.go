package stream

import "time"

// State is the lifecycle state of a monitored stream.
type State string

const (
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// Terminal reports whether the state will not change without a new Start.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// Status is a point-in-time snapshot of a monitored stream.
type Status struct {
	CameraID            string    `json:"camera_id"`
	State               State     `json:"state"`
	StartedAt           time.Time `json:"started_at"`
	FramesRead          int64     `json:"frames_read"`
	FramesAnalyzed      int64     `json:"frames_analyzed"`
	AlertsRaised        int64     `json:"alerts_raised"`
	AnalysisFailures    int64     `json:"analysis_failures"`
	PublishFailures     int64     `json:"publish_failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}
