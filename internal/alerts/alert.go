// Package alerts persists safety alerts and publishes them to subscribers.
package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sitewatch/sitewatch/internal/analyzer"
	"github.com/sitewatch/sitewatch/internal/detector"
)

// Status is the triage state of an alert.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusDismissed  Status = "dismissed"
)

// ValidStatus reports whether s is a recognized alert status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNew, StatusInProgress, StatusResolved, StatusDismissed:
		return true
	}
	return false
}

// PrimaryObject is the detection that triggered the alert, captured for
// later review alongside the snapshot.
type PrimaryObject struct {
	Class      string               `json:"class"`
	Confidence float64              `json:"confidence"`
	Box        detector.BoundingBox `json:"box"`
}

// Alert is a persisted safety violation.
type Alert struct {
	ID            string                 `json:"id"`
	CameraID      string                 `json:"camera_id"`
	LocationID    string                 `json:"location_id,omitempty"`
	ViolationType analyzer.ViolationType `json:"violation_type"`
	Severity      analyzer.Severity      `json:"severity"`
	Status        Status                 `json:"status"`
	Description   string                 `json:"description"`
	Confidence    float64                `json:"confidence"`
	Object        *PrimaryObject         `json:"primary_object,omitempty"`
	SnapshotPath  string                 `json:"snapshot_path,omitempty"`
	Assignee      string                 `json:"assignee,omitempty"`
	Resolution    string                 `json:"resolution,omitempty"`
	RaisedAt      time.Time              `json:"raised_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// NewID generates an alert identifier of the form AL-20260307-9F2C1A.
func NewID(raisedAt time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("AL-%s-%s", raisedAt.Format("20060102"), suffix)
}

// FromCandidate builds a new Alert from an analyzer candidate. The first
// subject detection becomes the alert's primary object.
func FromCandidate(cameraID string, c analyzer.Candidate, raisedAt time.Time) *Alert {
	alert := &Alert{
		ID:            NewID(raisedAt),
		CameraID:      cameraID,
		ViolationType: c.Type,
		Severity:      c.Severity,
		Status:        StatusNew,
		Description:   c.Description,
		Confidence:    c.Confidence,
		RaisedAt:      raisedAt,
		UpdatedAt:     raisedAt,
	}
	if len(c.Subjects) > 0 {
		subject := c.Subjects[0]
		alert.Object = &PrimaryObject{
			Class:      string(subject.Class),
			Confidence: subject.Confidence,
			Box:        subject.Box,
		}
	}
	return alert
}
