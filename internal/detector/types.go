package detector

import (
	"context"
	"strings"
	"time"
)

// ObjectClass identifies the kind of object a detector reported.
type ObjectClass string

const (
	ClassPerson           ObjectClass = "person"
	ClassHardHat          ObjectClass = "hard_hat"
	ClassSafetyVest       ObjectClass = "safety_vest"
	ClassSafetyGoggles    ObjectClass = "safety_goggles"
	ClassSafetyGloves     ObjectClass = "safety_gloves"
	ClassMachinery        ObjectClass = "machinery"
	ClassForklift         ObjectClass = "forklift"
	ClassCrane            ObjectClass = "crane"
	ClassExcavator        ObjectClass = "excavator"
	ClassSpill            ObjectClass = "spill"
	ClassExit             ObjectClass = "exit"
	ClassFireExtinguisher ObjectClass = "fire_extinguisher"
	ClassSafetyBarrier    ObjectClass = "safety_barrier"
	ClassTools            ObjectClass = "tools"
	ClassUnknown          ObjectClass = "unknown"
)

// IsMachinery reports whether the class counts as heavy machinery for the
// proximity rule.
func (c ObjectClass) IsMachinery() bool {
	switch c {
	case ClassMachinery, ClassForklift, ClassCrane, ClassExcavator:
		return true
	}
	return false
}

// IsPPE reports whether the class is personal protective equipment.
func (c ObjectClass) IsPPE() bool {
	switch c {
	case ClassHardHat, ClassSafetyVest, ClassSafetyGoggles, ClassSafetyGloves:
		return true
	}
	return false
}

// classAliases maps detector-reported class names onto canonical classes.
// Detector deployments vary in naming, so lookup falls back to a substring
// match before giving up.
var classAliases = map[string]ObjectClass{
	"person":            ClassPerson,
	"worker":            ClassPerson,
	"pedestrian":        ClassPerson,
	"hardhat":           ClassHardHat,
	"hard_hat":          ClassHardHat,
	"helmet":            ClassHardHat,
	"safety_vest":       ClassSafetyVest,
	"vest":              ClassSafetyVest,
	"hi_vis":            ClassSafetyVest,
	"goggles":           ClassSafetyGoggles,
	"gloves":            ClassSafetyGloves,
	"machinery":         ClassMachinery,
	"forklift":          ClassForklift,
	"crane":             ClassCrane,
	"excavator":         ClassExcavator,
	"truck":             ClassMachinery,
	"vehicle":           ClassMachinery,
	"spill":             ClassSpill,
	"liquid":            ClassSpill,
	"exit":              ClassExit,
	"exit_sign":         ClassExit,
	"door":              ClassExit,
	"fire_extinguisher": ClassFireExtinguisher,
	"barrier":           ClassSafetyBarrier,
	"tool":              ClassTools,
}

// ClassFromName maps a raw detector class name to a canonical ObjectClass.
func ClassFromName(name string) ObjectClass {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")

	if class, ok := classAliases[key]; ok {
		return class
	}
	for alias, class := range classAliases {
		if strings.Contains(key, alias) {
			return class
		}
	}
	return ClassUnknown
}

// BoundingBox is an axis-aligned box in frame pixel coordinates.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// CenterX returns the horizontal center of the box.
func (b BoundingBox) CenterX() float64 { return (b.X1 + b.X2) / 2 }

// CenterY returns the vertical center of the box.
func (b BoundingBox) CenterY() float64 { return (b.Y1 + b.Y2) / 2 }

// Detection is a single detected object.
type Detection struct {
	Class      ObjectClass `json:"class"`
	RawLabel   string      `json:"raw_label"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// Result is the outcome of running detection on one frame.
type Result struct {
	Detections    []Detection   `json:"detections"`
	InferenceTime time.Duration `json:"inference_time"`
	FrameWidth    int           `json:"frame_width"`
	FrameHeight   int           `json:"frame_height"`
}

// Detector produces detections for a JPEG-encoded frame.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) (*Result, error)
}
