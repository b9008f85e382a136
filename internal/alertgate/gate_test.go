package alertgate

import (
	"testing"
	"time"

	"github.com/sitewatch/sitewatch/internal/analyzer"
	"github.com/sitewatch/sitewatch/internal/logger"
)

func TestGateAdmitFirstOccurrence(t *testing.T) {
	gate := New(30*time.Second, logger.NewNop())

	if !gate.Admit("CAM_1", analyzer.ViolationNoHardHat, time.Now()) {
		t.Fatal("first occurrence should be admitted")
	}
}

func TestGateSuppressWithinWindow(t *testing.T) {
	gate := New(30*time.Second, logger.NewNop())
	base := time.Now()

	gate.Admit("CAM_1", analyzer.ViolationNoHardHat, base)
	if gate.Admit("CAM_1", analyzer.ViolationNoHardHat, base.Add(10*time.Second)) {
		t.Fatal("repeat within window should be suppressed")
	}
	if gate.Admit("CAM_1", analyzer.ViolationNoHardHat, base.Add(29*time.Second)) {
		t.Fatal("repeat at window edge should be suppressed")
	}
}

func TestGateAdmitAfterWindow(t *testing.T) {
	gate := New(30*time.Second, logger.NewNop())
	base := time.Now()

	gate.Admit("CAM_1", analyzer.ViolationNoHardHat, base)
	if !gate.Admit("CAM_1", analyzer.ViolationNoHardHat, base.Add(30*time.Second)) {
		t.Fatal("occurrence after window should be admitted")
	}
}

func TestGateKeysAreIndependent(t *testing.T) {
	gate := New(30*time.Second, logger.NewNop())
	base := time.Now()

	gate.Admit("CAM_1", analyzer.ViolationNoHardHat, base)

	if !gate.Admit("CAM_2", analyzer.ViolationNoHardHat, base) {
		t.Error("different camera should not share cooldown")
	}
	if !gate.Admit("CAM_1", analyzer.ViolationSpill, base) {
		t.Error("different violation type should not share cooldown")
	}
	if !gate.Admit("CAM_1", analyzer.ViolationNoSafetyVest, base.Add(5*time.Second)) {
		t.Error("missing vest should not share cooldown with missing hat")
	}
}

func TestGateAdmitRestartsCooldown(t *testing.T) {
	gate := New(30*time.Second, logger.NewNop())
	base := time.Now()

	gate.Admit("CAM_1", analyzer.ViolationProximity, base)
	gate.Admit("CAM_1", analyzer.ViolationProximity, base.Add(35*time.Second))

	// Second admission restarted the window, so 20s later is still blocked.
	if gate.Admit("CAM_1", analyzer.ViolationProximity, base.Add(55*time.Second)) {
		t.Fatal("cooldown should restart on admission")
	}
}

func TestGateSweepRemovesStaleEntries(t *testing.T) {
	gate := New(30*time.Second, logger.NewNop())
	base := time.Now()

	gate.Admit("CAM_1", analyzer.ViolationNoHardHat, base)
	gate.Admit("CAM_2", analyzer.ViolationSpill, base.Add(50*time.Second))

	gate.sweep(base.Add(70 * time.Second))

	// CAM_1 is 70s old (past 2x window), CAM_2 only 20s.
	if gate.Size() != 1 {
		t.Fatalf("after sweep size = %d, want 1", gate.Size())
	}
}
