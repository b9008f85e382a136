// Package video acquires JPEG frames from live streams and recorded files.
package video

import (
	"context"
	"errors"
	"time"
)

// ErrEndOfStream is returned by a Source when a finite input has no more
// frames. Live sources never return it.
var ErrEndOfStream = errors.New("end of stream")

// Frame represents a single video frame.
type Frame struct {
	Data      []byte    // JPEG-encoded frame data
	Timestamp time.Time // Capture timestamp
	Width     int       // Frame width
	Height    int       // Frame height
	CameraID  string    // Camera this frame came from
	Index     int       // Zero-based frame index within the source
}

// Source yields frames from a video input.
type Source interface {
	// ReadFrame returns the next frame, ErrEndOfStream when a finite input
	// is exhausted, or another error for a transient read failure.
	ReadFrame(ctx context.Context) (*Frame, error)
	Close() error
}

// Pacer decides which live frames are worth analyzing. It forwards every
// Nth frame and additionally caps the forward rate, so fast cameras do not
// flood the detector.
type Pacer struct {
	stride      int
	minInterval time.Duration
	lastForward time.Time
	count       int
}

// NewPacer creates a pacer forwarding every stride-th frame at no more than
// targetRate frames per second.
func NewPacer(stride int, targetRate float64) *Pacer {
	if stride < 1 {
		stride = 1
	}
	var minInterval time.Duration
	if targetRate > 0 {
		minInterval = time.Duration(float64(time.Second) / targetRate)
	}
	return &Pacer{stride: stride, minInterval: minInterval}
}

// Admit reports whether the next frame should be forwarded.
func (p *Pacer) Admit(now time.Time) bool {
	p.count++
	if (p.count-1)%p.stride != 0 {
		return false
	}
	if p.minInterval > 0 && !p.lastForward.IsZero() && now.Sub(p.lastForward) < p.minInterval {
		return false
	}
	p.lastForward = now
	return true
}

// FileStride returns the analysis stride for a recorded file: roughly five
// analyzed frames per second of video, never less than one.
func FileStride(fps float64) int {
	if fps <= 0 {
		return 1
	}
	stride := int(fps / 5)
	if stride < 1 {
		stride = 1
	}
	return stride
}
