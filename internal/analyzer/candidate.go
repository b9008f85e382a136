package analyzer

import "github.com/sitewatch/sitewatch/internal/detector"

// ViolationType identifies a category of safety violation.
type ViolationType string

const (
	ViolationNoHardHat    ViolationType = "no_hard_hat"
	ViolationNoSafetyVest ViolationType = "no_safety_vest"
	ViolationProximity    ViolationType = "proximity"
	ViolationSpill        ViolationType = "spill"
	ViolationBlockedExit  ViolationType = "blocked_exit"
)

// Severity ranks how urgent a violation is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// SeverityFor returns the severity assigned to a violation type. Missing
// protective equipment is treated as the most urgent category.
func SeverityFor(v ViolationType) Severity {
	switch v {
	case ViolationNoHardHat, ViolationNoSafetyVest:
		return SeverityHigh
	}
	return SeverityMedium
}

// Candidate is a violation found in a single frame, before dedup and
// persistence decide whether it becomes an alert.
type Candidate struct {
	Type        ViolationType
	Severity    Severity
	Description string
	Confidence  float64

	// Subjects are the detections that triggered the rule.
	Subjects []detector.Detection
}
