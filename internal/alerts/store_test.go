package alerts

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/sitewatch/sitewatch/internal/analyzer"
	"github.com/sitewatch/sitewatch/internal/detector"
	"github.com/sitewatch/sitewatch/internal/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "sitewatch.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func testAlert(cameraID string, vtype analyzer.ViolationType, raisedAt time.Time) *Alert {
	return FromCandidate(cameraID, analyzer.Candidate{
		Type:        vtype,
		Severity:    analyzer.SeverityFor(vtype),
		Description: "test violation",
		Confidence:  0.9,
	}, raisedAt)
}

func TestNewIDFormat(t *testing.T) {
	ts := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	id := NewID(ts)

	pattern := regexp.MustCompile(`^AL-20260307-[0-9A-F]{6}$`)
	if !pattern.MatchString(id) {
		t.Errorf("alert ID %q does not match expected format", id)
	}

	if NewID(ts) == NewID(ts) {
		t.Error("consecutive IDs should differ")
	}
}

func TestStoreSaveAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alert := testAlert("CAM_1", analyzer.ViolationNoHardHat, time.Now().UTC())
	if err := s.Save(ctx, alert); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CameraID != "CAM_1" {
		t.Errorf("CameraID = %q", got.CameraID)
	}
	if got.ViolationType != analyzer.ViolationNoHardHat {
		t.Errorf("ViolationType = %q", got.ViolationType)
	}
	if got.Severity != analyzer.SeverityHigh {
		t.Errorf("Severity = %q, want high", got.Severity)
	}
	if got.Status != StatusNew {
		t.Errorf("Status = %q, want new", got.Status)
	}
}

func TestStoreRoundTripsLocationAndObject(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alert := testAlert("CAM_1", analyzer.ViolationNoHardHat, time.Now().UTC())
	alert.LocationID = "LOC_NORTH"
	alert.Object = &PrimaryObject{
		Class:      "person",
		Confidence: 0.92,
		Box:        detector.BoundingBox{X1: 90, Y1: 90, X2: 110, Y2: 150},
	}
	if err := s.Save(ctx, alert); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LocationID != "LOC_NORTH" {
		t.Errorf("LocationID = %q, want LOC_NORTH", got.LocationID)
	}
	if got.Object == nil {
		t.Fatal("primary object missing after round trip")
	}
	if got.Object.Class != "person" || got.Object.Box.X2 != 110 {
		t.Errorf("primary object = %+v", got.Object)
	}

	bare := testAlert("CAM_2", analyzer.ViolationSpill, time.Now().UTC())
	if err := s.Save(ctx, bare); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err = s.Get(ctx, bare.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Object != nil {
		t.Errorf("expected no primary object, got %+v", got.Object)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.Get(context.Background(), "AL-20260101-ABCDEF"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreListFilters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

	seed := []*Alert{
		testAlert("CAM_1", analyzer.ViolationNoHardHat, base),
		testAlert("CAM_1", analyzer.ViolationSpill, base.Add(time.Minute)),
		testAlert("CAM_2", analyzer.ViolationNoHardHat, base.Add(2*time.Minute)),
	}
	for _, a := range seed {
		if err := s.Save(ctx, a); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d alerts, want 3", len(all))
	}
	// Most recent first.
	if all[0].CameraID != "CAM_2" {
		t.Errorf("first alert camera = %q, want CAM_2", all[0].CameraID)
	}

	byCamera, err := s.List(ctx, Filter{CameraID: "CAM_1"})
	if err != nil {
		t.Fatalf("List by camera failed: %v", err)
	}
	if len(byCamera) != 2 {
		t.Errorf("camera filter returned %d, want 2", len(byCamera))
	}

	byType, err := s.List(ctx, Filter{ViolationType: string(analyzer.ViolationSpill)})
	if err != nil {
		t.Fatalf("List by type failed: %v", err)
	}
	if len(byType) != 1 {
		t.Errorf("type filter returned %d, want 1", len(byType))
	}

	since, err := s.List(ctx, Filter{Since: base.Add(30 * time.Second)})
	if err != nil {
		t.Fatalf("List since failed: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("since filter returned %d, want 2", len(since))
	}

	limited, err := s.List(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatalf("List limited failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit filter returned %d, want 1", len(limited))
	}
}

func TestStoreUpdateStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alert := testAlert("CAM_1", analyzer.ViolationProximity, time.Now().UTC())
	if err := s.Save(ctx, alert); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	updated, err := s.UpdateStatus(ctx, alert.ID, StatusResolved)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != StatusResolved {
		t.Errorf("Status = %q, want resolved", updated.Status)
	}

	if _, err := s.UpdateStatus(ctx, alert.ID, Status("bogus")); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("err = %v, want ErrInvalidStatus", err)
	}
	if _, err := s.UpdateStatus(ctx, "AL-20260101-ABCDEF", StatusResolved); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreAssign(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alert := testAlert("CAM_1", analyzer.ViolationBlockedExit, time.Now().UTC())
	if err := s.Save(ctx, alert); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Assign(ctx, alert.ID, "supervisor.lee")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if got.Assignee != "supervisor.lee" {
		t.Errorf("Assignee = %q", got.Assignee)
	}
	// Assignment pulls a fresh alert into triage.
	if got.Status != StatusInProgress {
		t.Errorf("Status = %q, want in_progress", got.Status)
	}

	// Reassignment must not reset a closed alert.
	if _, err := s.Resolve(ctx, alert.ID, "barrier moved"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	got, err = s.Assign(ctx, alert.ID, "supervisor.kim")
	if err != nil {
		t.Fatalf("reassign failed: %v", err)
	}
	if got.Status != StatusResolved {
		t.Errorf("Status after reassign = %q, want resolved", got.Status)
	}

	if _, err := s.Assign(ctx, "AL-20260101-ABCDEF", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreResolveAndDismiss(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := testAlert("CAM_1", analyzer.ViolationSpill, time.Now().UTC())
	second := testAlert("CAM_1", analyzer.ViolationSpill, time.Now().UTC())
	for _, a := range []*Alert{first, second} {
		if err := s.Save(ctx, a); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	resolved, err := s.Resolve(ctx, first.ID, "spill cleaned at 14:30")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.Resolution != "spill cleaned at 14:30" {
		t.Errorf("resolved = %+v", resolved)
	}

	dismissed, err := s.Dismiss(ctx, second.ID, "shadow, not a spill")
	if err != nil {
		t.Fatalf("Dismiss failed: %v", err)
	}
	if dismissed.Status != StatusDismissed {
		t.Errorf("Status = %q, want dismissed", dismissed.Status)
	}
}

func TestStoreSetSnapshotPath(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alert := testAlert("CAM_1", analyzer.ViolationSpill, time.Now().UTC())
	if err := s.Save(ctx, alert); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := s.SetSnapshotPath(ctx, alert.ID, "CAM_1/2026/03/07/120000_spill.jpg"); err != nil {
		t.Fatalf("SetSnapshotPath failed: %v", err)
	}

	got, err := s.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SnapshotPath != "CAM_1/2026/03/07/120000_spill.jpg" {
		t.Errorf("SnapshotPath = %q", got.SnapshotPath)
	}
}

func TestStoreStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, vtype := range []analyzer.ViolationType{
		analyzer.ViolationNoHardHat,
		analyzer.ViolationNoHardHat,
		analyzer.ViolationSpill,
	} {
		if err := s.Save(ctx, testAlert("CAM_1", vtype, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByType[string(analyzer.ViolationNoHardHat)] != 2 {
		t.Errorf("ByType[no_hard_hat] = %d, want 2", stats.ByType[string(analyzer.ViolationNoHardHat)])
	}
	if stats.BySeverity[string(analyzer.SeverityHigh)] != 2 {
		t.Errorf("BySeverity[high] = %d, want 2", stats.BySeverity[string(analyzer.SeverityHigh)])
	}
	if stats.ByStatus[string(StatusNew)] != 3 {
		t.Errorf("ByStatus[new] = %d, want 3", stats.ByStatus[string(StatusNew)])
	}
}

func TestStoreDeleteOlderThan(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	old := testAlert("CAM_1", analyzer.ViolationSpill, base)
	recent := testAlert("CAM_1", analyzer.ViolationSpill, base.AddDate(0, 0, 10))
	for _, a := range []*Alert{old, recent} {
		if err := s.Save(ctx, a); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	removed, err := s.DeleteOlderThan(ctx, base.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.Get(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old alert still present")
	}
	if _, err := s.Get(ctx, recent.ID); err != nil {
		t.Errorf("recent alert missing: %v", err)
	}
}
