package pipeline

import (
	"fmt"
	"sync"
)

// ErrCameraBusy is returned when a camera already has live monitoring or a
// batch job running.
var ErrCameraBusy = fmt.Errorf("camera already has an active task")

// ActiveSet enforces one active task per camera across live streams and
// batch jobs.
type ActiveSet struct {
	mu    sync.Mutex
	tasks map[string]string // cameraID -> task kind
}

// NewActiveSet creates an empty set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{tasks: make(map[string]string)}
}

// Acquire claims the camera for a task kind ("stream" or "batch").
func (s *ActiveSet) Acquire(cameraID, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tasks[cameraID]; ok {
		return fmt.Errorf("%w: %s", ErrCameraBusy, existing)
	}
	s.tasks[cameraID] = kind
	return nil
}

// Release frees the camera.
func (s *ActiveSet) Release(cameraID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, cameraID)
}

// Kind returns the task kind holding the camera, if any.
func (s *ActiveSet) Kind(cameraID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.tasks[cameraID]
	return kind, ok
}
