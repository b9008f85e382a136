package analyzer

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/sitewatch/sitewatch/internal/detector"
	"github.com/sitewatch/sitewatch/internal/logger"
)

// Config holds the pixel thresholds for the violation rules. Distances are
// measured between bounding-box centers in frame coordinates.
type Config struct {
	PPEDistancePx       float64
	ProximityDistancePx float64
	ExitBlockDistancePx float64
}

// DefaultConfig returns the standard rule thresholds.
func DefaultConfig() Config {
	return Config{
		PPEDistancePx:       100,
		ProximityDistancePx: 150,
		ExitBlockDistancePx: 80,
	}
}

// Analyzer applies the safety rules to detection results.
type Analyzer struct {
	config Config
	logger *logger.Logger
}

// New creates an Analyzer with the given thresholds.
func New(config Config, log *logger.Logger) *Analyzer {
	return &Analyzer{config: config, logger: log}
}

// Analyze evaluates all safety rules against one frame's detections and
// returns the violations found. The result is stateless per frame;
// deduplication across frames happens downstream.
func (a *Analyzer) Analyze(result *detector.Result) []Candidate {
	if result == nil || len(result.Detections) == 0 {
		return nil
	}

	byClass := lo.GroupBy(result.Detections, func(d detector.Detection) detector.ObjectClass {
		return d.Class
	})

	var candidates []Candidate
	candidates = append(candidates, a.checkPPE(byClass)...)
	candidates = append(candidates, a.checkProximity(byClass)...)
	candidates = append(candidates, a.checkSpills(byClass)...)
	candidates = append(candidates, a.checkBlockedExits(byClass, result.Detections)...)

	if len(candidates) > 0 {
		a.logger.Debug(
			"Safety analysis found violations",
			"detection_count", len(result.Detections),
			"violation_count", len(candidates),
		)
	}

	return candidates
}

// checkPPE flags persons with no hard hat or safety vest associated within
// the PPE distance. Each missing item is its own candidate so a no-hat and
// a no-vest violation dedup independently downstream.
func (a *Analyzer) checkPPE(byClass map[detector.ObjectClass][]detector.Detection) []Candidate {
	persons := byClass[detector.ClassPerson]
	if len(persons) == 0 {
		return nil
	}

	required := []struct {
		class     detector.ObjectClass
		violation ViolationType
		label     string
	}{
		{detector.ClassHardHat, ViolationNoHardHat, "hard hat"},
		{detector.ClassSafetyVest, ViolationNoSafetyVest, "safety vest"},
	}

	var candidates []Candidate
	for _, person := range persons {
		for _, item := range required {
			if anyWithin(byClass[item.class], person, a.config.PPEDistancePx) {
				continue
			}
			candidates = append(candidates, Candidate{
				Type:        item.violation,
				Severity:    SeverityFor(item.violation),
				Description: fmt.Sprintf("Worker detected without %s", item.label),
				Confidence:  person.Confidence,
				Subjects:    []detector.Detection{person},
			})
		}
	}
	return candidates
}

// checkProximity flags persons dangerously close to operating machinery.
func (a *Analyzer) checkProximity(byClass map[detector.ObjectClass][]detector.Detection) []Candidate {
	persons := byClass[detector.ClassPerson]
	var machines []detector.Detection
	for class, items := range byClass {
		if class.IsMachinery() {
			machines = append(machines, items...)
		}
	}
	if len(persons) == 0 || len(machines) == 0 {
		return nil
	}

	var candidates []Candidate
	for _, person := range persons {
		for _, machine := range machines {
			dist := centerDistance(person.Box, machine.Box)
			if dist >= a.config.ProximityDistancePx {
				continue
			}
			candidates = append(candidates, Candidate{
				Type:     ViolationProximity,
				Severity: SeverityFor(ViolationProximity),
				Description: fmt.Sprintf(
					"Worker within %.0fpx of machinery (%s)", dist, machine.RawLabel),
				Confidence: math.Min(person.Confidence, machine.Confidence),
				Subjects:   []detector.Detection{person, machine},
			})
		}
	}
	return candidates
}

// checkSpills flags every detected spill.
func (a *Analyzer) checkSpills(byClass map[detector.ObjectClass][]detector.Detection) []Candidate {
	var candidates []Candidate
	for _, spill := range byClass[detector.ClassSpill] {
		candidates = append(candidates, Candidate{
			Type:        ViolationSpill,
			Severity:    SeverityFor(ViolationSpill),
			Description: "Spill detected on walkway",
			Confidence:  spill.Confidence,
			Subjects:    []detector.Detection{spill},
		})
	}
	return candidates
}

// checkBlockedExits flags objects obstructing an emergency exit. Persons
// passing through an exit do not count as obstructions.
func (a *Analyzer) checkBlockedExits(
	byClass map[detector.ObjectClass][]detector.Detection,
	all []detector.Detection,
) []Candidate {
	exits := byClass[detector.ClassExit]
	if len(exits) == 0 {
		return nil
	}

	var candidates []Candidate
	for _, exit := range exits {
		for _, obj := range all {
			if obj.Class == detector.ClassExit || obj.Class == detector.ClassPerson {
				continue
			}
			if centerDistance(exit.Box, obj.Box) >= a.config.ExitBlockDistancePx {
				continue
			}
			candidates = append(candidates, Candidate{
				Type:        ViolationBlockedExit,
				Severity:    SeverityFor(ViolationBlockedExit),
				Description: fmt.Sprintf("Emergency exit blocked by %s", obj.RawLabel),
				Confidence:  math.Min(exit.Confidence, obj.Confidence),
				Subjects:    []detector.Detection{exit, obj},
			})
		}
	}
	return candidates
}

func anyWithin(items []detector.Detection, ref detector.Detection, maxDist float64) bool {
	return lo.SomeBy(items, func(d detector.Detection) bool {
		return centerDistance(d.Box, ref.Box) < maxDist
	})
}

func centerDistance(a, b detector.BoundingBox) float64 {
	return math.Hypot(a.CenterX()-b.CenterX(), a.CenterY()-b.CenterY())
}
