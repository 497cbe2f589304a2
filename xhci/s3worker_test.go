package xhci

import (
	"testing"
	"time"
)

// waitFor polls cond (each call taking ctrl.mu itself) until it reports
// true or the timeout elapses, for synchronizing with the background
// s3Worker goroutine without a fixed sleep.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition was not met before the timeout")
}

// TestS3SuspendResumeCycle exercises §4.8's full suspend/resume path: a
// VPORT_EMULATED binding moves to the vbdp cache on save-state, a
// reconnect at the same physical path picks the cache entry back up
// without raising a spurious event, and transitioning the entry to END
// wakes the background worker to raise the deferred port-status-change.
func TestS3SuspendResumeCycle(t *testing.T) {
	ctrl, gw := newTestController(t)
	setupEventRing(t, ctrl, gw, 0x20000, 16)

	const trAddr = 0x30000
	slotID := setUpAddressedSlot(t, ctrl, gw, trAddr)
	path := ctrl.slots[slotID].nativeKey

	ctrl.mu.Lock()
	nb := ctrl.nativePorts[path]
	if nb.state != vportEmulated {
		ctrl.mu.Unlock()
		t.Fatalf("fixture precondition failed: native port state = %v, want vportEmulated", nb.state)
	}
	ctrl.saveState()
	ctrl.mu.Unlock()

	ctrl.mu.Lock()
	if nb.state != vportAssigned {
		ctrl.mu.Unlock()
		t.Fatalf("native port state after saveState = %v, want vportAssigned", nb.state)
	}
	if len(ctrl.vbdp) != 1 || ctrl.vbdp[0].path != path || ctrl.vbdp[0].state != vbdpStart {
		ctrl.mu.Unlock()
		t.Fatalf("vbdp cache after saveState = %+v, want one START entry for %s", ctrl.vbdp, path)
	}
	ctrl.mu.Unlock()

	// a reconnect at the same path should pick the cache entry up
	// silently (no event raised yet).
	beforeInFlight := ctrl.eventRing.inFlight
	if err := ctrl.Connect(DeviceInfo{Bus: 1, Depth: 0, Speed: SpeedHigh, VID: 0x1234, PID: 0x5678}); err != nil {
		t.Fatalf("Connect (resume): %v", err)
	}
	ctrl.mu.Lock()
	if nb.state != vportConnected {
		ctrl.mu.Unlock()
		t.Fatalf("native port state after resume Connect = %v, want vportConnected", nb.state)
	}
	if ctrl.eventRing.inFlight != beforeInFlight {
		ctrl.mu.Unlock()
		t.Fatal("resume Connect raised an event; §4.7 requires it be suppressed until vbdp END")
	}
	ctrl.mu.Unlock()

	ctrl.mu.Lock()
	ctrl.markVBDPEnd(path)
	ctrl.mu.Unlock()

	waitFor(t, time.Second, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return ctrl.eventRing.inFlight > beforeInFlight
	})

	ctrl.mu.Lock()
	// slot 0 holds the fixture's initial Connect event; the deferred one
	// is the first event queued after beforeInFlight.
	off := 0x20000 + int(beforeInFlight)*TRBLen
	got := TRBFromBytes(gw.mem[off : off+TRBLen])
	ctrl.mu.Unlock()
	if got.Type() != TRBPortStatusChgEvt {
		t.Fatalf("deferred event type = %d, want TRBPortStatusChgEvt", got.Type())
	}
}

// TestS3WorkerStopIsIdempotent exercises stop()'s double-close safety,
// since both an explicit Close() in a test and the t.Cleanup registered
// by newTestController can both fire for the same Controller.
func TestS3WorkerStopIsIdempotent(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctrl.Close()
	ctrl.Close()
}
