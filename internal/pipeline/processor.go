// Package pipeline runs the per-frame analysis chain: detection, rule
// evaluation, cooldown, evidence capture, and alert publication.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewatch/sitewatch/internal/alertgate"
	"github.com/sitewatch/sitewatch/internal/alerts"
	"github.com/sitewatch/sitewatch/internal/analyzer"
	"github.com/sitewatch/sitewatch/internal/detector"
	"github.com/sitewatch/sitewatch/internal/evidence"
	"github.com/sitewatch/sitewatch/internal/logger"
	"github.com/sitewatch/sitewatch/internal/video"
)

// Processor turns frames into alerts. Live streams share one Processor and
// gate; each batch job gets its own gate so cooldowns follow video time.
type Processor struct {
	detector  detector.Detector
	analyzer  *analyzer.Analyzer
	gate      *alertgate.Gate
	evidence  evidence.Writer
	publisher *alerts.Publisher
	logger    *logger.Logger
}

// New creates a Processor.
func New(
	det detector.Detector,
	an *analyzer.Analyzer,
	gate *alertgate.Gate,
	ev evidence.Writer,
	pub *alerts.Publisher,
	log *logger.Logger,
) *Processor {
	return &Processor{
		detector:  det,
		analyzer:  an,
		gate:      gate,
		evidence:  ev,
		publisher: pub,
		logger:    log,
	}
}

// Outcome reports what one frame produced.
type Outcome struct {
	Raised          []*alerts.Alert
	PublishFailures int
}

// ProcessFrame analyzes one frame and publishes any admitted alerts. The at
// timestamp drives cooldown: wall clock for live frames, video time for
// file frames. Detection failures are returned; a failed publish drops that
// candidate only and is reported through the outcome.
func (p *Processor) ProcessFrame(ctx context.Context, frame *video.Frame, at time.Time) (Outcome, error) {
	result, err := p.detector.Detect(ctx, frame.Data)
	if err != nil {
		return Outcome{}, fmt.Errorf("detection failed: %w", err)
	}

	candidates := p.analyzer.Analyze(result)
	if len(candidates) == 0 {
		return Outcome{}, nil
	}

	var out Outcome
	for _, candidate := range candidates {
		if !p.gate.Admit(frame.CameraID, candidate.Type, at) {
			continue
		}

		alert := alerts.FromCandidate(frame.CameraID, candidate, at)

		// Evidence failures downgrade the alert rather than losing it.
		path, err := p.evidence.Save(ctx, frame.CameraID, string(candidate.Type), at, frame.Data)
		if err != nil {
			p.logger.Warn(
				"Failed to save evidence snapshot",
				"camera_id", frame.CameraID,
				"violation_type", candidate.Type,
				"error", err,
			)
		} else {
			alert.SnapshotPath = path
		}

		if err := p.publisher.Publish(ctx, alert); err != nil {
			p.logger.Error(
				"Failed to publish alert",
				"camera_id", frame.CameraID,
				"violation_type", candidate.Type,
				"error", err,
			)
			out.PublishFailures++
			continue
		}
		out.Raised = append(out.Raised, alert)
	}
	return out, nil
}
