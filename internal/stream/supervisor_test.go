package stream

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sitewatch/sitewatch/internal/alertgate"
	"github.com/sitewatch/sitewatch/internal/alerts"
	"github.com/sitewatch/sitewatch/internal/analyzer"
	"github.com/sitewatch/sitewatch/internal/detector"
	"github.com/sitewatch/sitewatch/internal/evidence"
	"github.com/sitewatch/sitewatch/internal/logger"
	"github.com/sitewatch/sitewatch/internal/pipeline"
	"github.com/sitewatch/sitewatch/internal/registry"
	"github.com/sitewatch/sitewatch/internal/store"
	"github.com/sitewatch/sitewatch/internal/video"
)

// quietDetector reports no detections.
type quietDetector struct{}

func (quietDetector) Detect(ctx context.Context, jpeg []byte) (*detector.Result, error) {
	return &detector.Result{}, nil
}

// faultyDetector fails every call.
type faultyDetector struct{}

func (faultyDetector) Detect(ctx context.Context, jpeg []byte) (*detector.Result, error) {
	return nil, errors.New("inference backend unavailable")
}

// bareWorkerDetector always sees one worker with no protective gear.
type bareWorkerDetector struct{}

func (bareWorkerDetector) Detect(ctx context.Context, jpeg []byte) (*detector.Result, error) {
	return &detector.Result{
		Detections: []detector.Detection{{
			Class:      detector.ClassPerson,
			RawLabel:   "person",
			Confidence: 0.9,
			Box:        detector.BoundingBox{X1: 90, Y1: 90, X2: 110, Y2: 110},
		}},
	}, nil
}

// fakeSource yields synthetic frames, or a fixed error.
type fakeSource struct {
	cameraID string

	mu      sync.Mutex
	readErr error
	closed  bool
	index   int
}

func (f *fakeSource) ReadFrame(ctx context.Context) (*video.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	f.index++
	return &video.Frame{
		Data:      []byte{0xff, 0xd8, 0xff, 0xd9},
		Timestamp: time.Now(),
		CameraID:  f.cameraID,
		Index:     f.index,
	}, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// gatedSource holds back its first frame until released.
type gatedSource struct {
	fakeSource
	release chan struct{}
}

func (g *gatedSource) ReadFrame(ctx context.Context) (*video.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
	}
	return g.fakeSource.ReadFrame(ctx)
}

func newTestProcessor(t *testing.T) *pipeline.Processor {
	t.Helper()
	return newTestProcessorWith(t, quietDetector{})
}

func newTestProcessorWith(t *testing.T, det detector.Detector) *pipeline.Processor {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "sitewatch.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ev, err := evidence.NewDiskWriter(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("creating evidence writer: %v", err)
	}

	return pipeline.New(
		det,
		analyzer.New(analyzer.DefaultConfig(), logger.NewNop()),
		alertgate.New(30*time.Second, logger.NewNop()),
		ev,
		alerts.NewPublisher(alerts.NewStore(db), nil, nil, logger.NewNop()),
		logger.NewNop(),
	)
}

func newTestSupervisor(t *testing.T, opener SourceOpener) (*Supervisor, *pipeline.ActiveSet) {
	t.Helper()
	active := pipeline.NewActiveSet()
	sup := NewSupervisor(
		Config{
			FrameStride:     1,
			TargetRate:      1000,
			ReadRetryDelay:  time.Millisecond,
			MaxReadFailures: 3,
			StopGrace:       2 * time.Second,
		},
		newTestProcessor(t),
		active,
		opener,
		logger.NewNop(),
	)
	return sup, active
}

func testCamera(id string) *registry.Camera {
	return &registry.Camera{ID: id, Name: "test", StreamURL: "rtsp://example/stream", Enabled: true}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSupervisorStartAndStop(t *testing.T) {
	src := &fakeSource{cameraID: "CAM_1"}
	sup, _ := newTestSupervisor(t, func(ctx context.Context, cam *registry.Camera) (video.Source, error) {
		return src, nil
	})

	status, err := sup.Start(context.Background(), testCamera("CAM_1"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if status.CameraID != "CAM_1" {
		t.Errorf("status camera = %q", status.CameraID)
	}

	waitFor(t, "stream to go active and read frames", func() bool {
		st, err := sup.Status("CAM_1")
		return err == nil && st.State == StateActive && st.FramesRead > 0
	})

	if err := sup.Stop(context.Background(), "CAM_1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Stop removes the handle entirely.
	if _, err := sup.Status("CAM_1"); !errors.Is(err, ErrNotActive) {
		t.Errorf("Status after stop err = %v, want ErrNotActive", err)
	}
	if !src.isClosed() {
		t.Error("source not closed on stop")
	}

	if err := sup.Stop(context.Background(), "CAM_1"); !errors.Is(err, ErrNotActive) {
		t.Errorf("second stop err = %v, want ErrNotActive", err)
	}
}

func TestSupervisorStartTwice(t *testing.T) {
	sup, _ := newTestSupervisor(t, func(ctx context.Context, cam *registry.Camera) (video.Source, error) {
		return &fakeSource{cameraID: cam.ID}, nil
	})

	if _, err := sup.Start(context.Background(), testCamera("CAM_1")); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer sup.StopAll(context.Background())

	if _, err := sup.Start(context.Background(), testCamera("CAM_1")); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second start err = %v, want ErrAlreadyActive", err)
	}
}

func TestSupervisorUnreachableStream(t *testing.T) {
	sup, active := newTestSupervisor(t, func(ctx context.Context, cam *registry.Camera) (video.Source, error) {
		return nil, errors.New("connection refused")
	})

	if _, err := sup.Start(context.Background(), testCamera("CAM_1")); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}

	// The failed start must not leave the camera claimed.
	if _, held := active.Kind("CAM_1"); held {
		t.Error("camera still claimed after failed start")
	}
}

func TestSupervisorCameraHeldByBatch(t *testing.T) {
	sup, active := newTestSupervisor(t, func(ctx context.Context, cam *registry.Camera) (video.Source, error) {
		return &fakeSource{cameraID: cam.ID}, nil
	})

	if err := active.Acquire("CAM_1", "batch"); err != nil {
		t.Fatalf("claiming camera: %v", err)
	}
	if _, err := sup.Start(context.Background(), testCamera("CAM_1")); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("err = %v, want ErrAlreadyActive", err)
	}
}

func TestSupervisorAbandonsStreamAfterRepeatedFailures(t *testing.T) {
	src := &fakeSource{cameraID: "CAM_1", readErr: errors.New("read failed")}
	sup, active := newTestSupervisor(t, func(ctx context.Context, cam *registry.Camera) (video.Source, error) {
		return src, nil
	})

	if _, err := sup.Start(context.Background(), testCamera("CAM_1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "stream to enter error state", func() bool {
		st, err := sup.Status("CAM_1")
		return err == nil && st.State == StateError
	})

	st, _ := sup.Status("CAM_1")
	if st.ConsecutiveFailures < 3 {
		t.Errorf("ConsecutiveFailures = %d, want >= 3", st.ConsecutiveFailures)
	}
	if st.LastError == "" {
		t.Error("LastError not recorded")
	}

	// The camera is free again and a restart is allowed.
	waitFor(t, "camera release", func() bool {
		_, held := active.Kind("CAM_1")
		return !held
	})

	src.mu.Lock()
	src.readErr = nil
	src.mu.Unlock()
	if _, err := sup.Start(context.Background(), testCamera("CAM_1")); err != nil {
		t.Fatalf("restart after error failed: %v", err)
	}
	sup.StopAll(context.Background())
}

func TestSupervisorCountsAnalysisFailures(t *testing.T) {
	active := pipeline.NewActiveSet()
	sup := NewSupervisor(
		Config{
			FrameStride:     1,
			TargetRate:      1000,
			ReadRetryDelay:  time.Millisecond,
			MaxReadFailures: 3,
			StopGrace:       2 * time.Second,
		},
		newTestProcessorWith(t, faultyDetector{}),
		active,
		func(ctx context.Context, cam *registry.Camera) (video.Source, error) {
			return &fakeSource{cameraID: cam.ID}, nil
		},
		logger.NewNop(),
	)

	if _, err := sup.Start(context.Background(), testCamera("CAM_1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.StopAll(context.Background())

	// Analysis errors are counted but do not kill the stream.
	waitFor(t, "analysis failures to accumulate", func() bool {
		st, err := sup.Status("CAM_1")
		return err == nil && st.AnalysisFailures >= 2
	})

	st, _ := sup.Status("CAM_1")
	if st.State != StateActive {
		t.Errorf("state = %q, want active", st.State)
	}
	if st.FramesAnalyzed != 0 {
		t.Errorf("FramesAnalyzed = %d, want 0", st.FramesAnalyzed)
	}
}

func TestSupervisorStartingUntilFirstFrame(t *testing.T) {
	src := &gatedSource{fakeSource: fakeSource{cameraID: "CAM_1"}, release: make(chan struct{})}
	sup, _ := newTestSupervisor(t, func(ctx context.Context, cam *registry.Camera) (video.Source, error) {
		return src, nil
	})

	if _, err := sup.Start(context.Background(), testCamera("CAM_1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.StopAll(context.Background())

	// No frame has been read yet, so the stream is still starting.
	time.Sleep(20 * time.Millisecond)
	st, err := sup.Status("CAM_1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.State != StateStarting {
		t.Fatalf("state before first frame = %q, want starting", st.State)
	}

	close(src.release)
	waitFor(t, "stream to go active", func() bool {
		st, err := sup.Status("CAM_1")
		return err == nil && st.State == StateActive
	})
}

func TestSupervisorCountsPublishFailures(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "sitewatch.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	alertStore := alerts.NewStore(db)
	db.Close() // every save now fails

	ev, err := evidence.NewDiskWriter(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("creating evidence writer: %v", err)
	}
	processor := pipeline.New(
		bareWorkerDetector{},
		analyzer.New(analyzer.DefaultConfig(), logger.NewNop()),
		alertgate.New(30*time.Second, logger.NewNop()),
		ev,
		alerts.NewPublisher(alertStore, nil, nil, logger.NewNop()),
		logger.NewNop(),
	)

	sup := NewSupervisor(
		Config{
			FrameStride:     1,
			TargetRate:      1000,
			ReadRetryDelay:  time.Millisecond,
			MaxReadFailures: 3,
			StopGrace:       2 * time.Second,
		},
		processor,
		pipeline.NewActiveSet(),
		func(ctx context.Context, cam *registry.Camera) (video.Source, error) {
			return &fakeSource{cameraID: cam.ID}, nil
		},
		logger.NewNop(),
	)

	if _, err := sup.Start(context.Background(), testCamera("CAM_1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.StopAll(context.Background())

	// A failed save drops the alert but the stream keeps running.
	waitFor(t, "publish failure to be counted", func() bool {
		st, err := sup.Status("CAM_1")
		return err == nil && st.PublishFailures >= 1
	})

	st, _ := sup.Status("CAM_1")
	if st.State != StateActive {
		t.Errorf("state = %q, want active", st.State)
	}
	if st.AlertsRaised != 0 {
		t.Errorf("AlertsRaised = %d, want 0", st.AlertsRaised)
	}
}

func TestSupervisorStatusAll(t *testing.T) {
	sup, _ := newTestSupervisor(t, func(ctx context.Context, cam *registry.Camera) (video.Source, error) {
		return &fakeSource{cameraID: cam.ID}, nil
	})

	for _, id := range []string{"CAM_2", "CAM_1"} {
		if _, err := sup.Start(context.Background(), testCamera(id)); err != nil {
			t.Fatalf("Start %s failed: %v", id, err)
		}
	}
	defer sup.StopAll(context.Background())

	statuses := sup.StatusAll()
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if statuses[0].CameraID != "CAM_1" || statuses[1].CameraID != "CAM_2" {
		t.Errorf("statuses not sorted by camera ID: %v, %v", statuses[0].CameraID, statuses[1].CameraID)
	}
}

func TestSupervisorStatusUnknownCamera(t *testing.T) {
	sup, _ := newTestSupervisor(t, nil)
	if _, err := sup.Status("CAM_nope"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("err = %v, want ErrNotActive", err)
	}
}

func TestSupervisorRecordsLastSeen(t *testing.T) {
	var mu sync.Mutex
	var touched []string
	touch := func(ctx context.Context, cameraID string, at time.Time) error {
		mu.Lock()
		touched = append(touched, cameraID)
		mu.Unlock()
		return nil
	}

	sup := NewSupervisor(
		Config{
			FrameStride:     1,
			TargetRate:      1000,
			ReadRetryDelay:  time.Millisecond,
			MaxReadFailures: 3,
			StopGrace:       2 * time.Second,
			Touch:           touch,
		},
		newTestProcessor(t),
		pipeline.NewActiveSet(),
		func(ctx context.Context, cam *registry.Camera) (video.Source, error) {
			return &fakeSource{cameraID: cam.ID}, nil
		},
		logger.NewNop(),
	)

	if _, err := sup.Start(context.Background(), testCamera("CAM_1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.StopAll(context.Background())

	// The first frame triggers an immediate touch.
	waitFor(t, "camera to be touched", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(touched) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	if touched[0] != "CAM_1" {
		t.Errorf("touched camera = %q, want CAM_1", touched[0])
	}
}
