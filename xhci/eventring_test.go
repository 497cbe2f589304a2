package xhci

import "testing"

// setupEventRing wires a minimal single-segment ERST into the fake guest
// memory and points the Controller's runtime registers at it, emulating
// what the guest driver does before enabling interrupts.
func setupEventRing(t *testing.T, ctrl *Controller, gw *fakeGateway, base uint64, size uint32) {
	t.Helper()
	const erstAddr = 0x10000

	copy(gw.mem[erstAddr:erstAddr+8], leBytes64(base))
	copy(gw.mem[erstAddr+8:erstAddr+12], leBytes32(size))

	ctrl.runtime.erstba = erstAddr
	ctrl.runtime.erstsz = 1
	ctrl.eventRing = eventRing{cycle: true}
}

func leBytes64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func leBytes32(v uint32) []byte {
	b := make([]byte, 4)
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func TestInsertEventSetsCycleAndAdvances(t *testing.T) {
	ctrl, gw := newTestController(t)
	setupEventRing(t, ctrl, gw, 0x20000, 4)

	var evt TRB
	evt.SetType(TRBCommandComplEvt)
	evt.SetCompletionCode(CCSuccess)

	code := ctrl.insertEvent(evt, false)
	if code != CCSuccess {
		t.Fatalf("insertEvent returned %s, want SUCCESS", code)
	}

	got := TRBFromBytes(gw.mem[0x20000 : 0x20000+TRBLen])
	if !got.Cycle() {
		t.Fatal("inserted event TRB did not carry the ring's cycle bit")
	}
	if got.Type() != TRBCommandComplEvt {
		t.Fatalf("inserted event type = %d, want %d", got.Type(), TRBCommandComplEvt)
	}
	if ctrl.eventRing.enqIdx != 1 {
		t.Fatalf("enqIdx = %d, want 1", ctrl.eventRing.enqIdx)
	}
	if ctrl.eventRing.inFlight != 1 {
		t.Fatalf("inFlight = %d, want 1", ctrl.eventRing.inFlight)
	}
}

func TestInsertEventWrapsCycleAtSegmentEnd(t *testing.T) {
	ctrl, gw := newTestController(t)
	setupEventRing(t, ctrl, gw, 0x20000, 2)

	var evt TRB
	evt.SetType(TRBPortStatusChgEvt)

	ctrl.insertEvent(evt, false)
	ctrl.insertEvent(evt, false)

	if ctrl.eventRing.enqIdx != 0 {
		t.Fatalf("enqIdx = %d, want 0 after wrapping a 2-slot segment", ctrl.eventRing.enqIdx)
	}
	// cycle started true; two insertions exactly fill and wrap a 2-slot
	// segment, toggling it once.
	if ctrl.eventRing.cycle {
		t.Fatal("cycle bit should have toggled after filling the segment exactly")
	}
}

// TestEventRingFullBoundary verifies §4.3's event-ring-full behavior: when
// only one free slot remains, insertEvent synthesizes a
// TRBHostControllerEvt with CCEventRingFullError instead of the caller's
// event, and further inserts report the same error without touching the
// ring.
func TestEventRingFullBoundary(t *testing.T) {
	ctrl, gw := newTestController(t)
	setupEventRing(t, ctrl, gw, 0x20000, 2)

	var real TRB
	real.SetType(TRBTransferEvent)

	// fill to inFlight == size-1 (1 of 2).
	if code := ctrl.insertEvent(real, false); code != CCSuccess {
		t.Fatalf("first insertEvent = %s, want SUCCESS", code)
	}

	// this insert should be converted into the synthetic overflow event.
	code := ctrl.insertEvent(real, false)
	if code != CCEventRingFullError {
		t.Fatalf("insertEvent at size-1 in-flight = %s, want EV_RING_FULL", code)
	}

	got := TRBFromBytes(gw.mem[0x20000+TRBLen : 0x20000+2*TRBLen])
	if got.Type() != TRBHostControllerEvt {
		t.Fatalf("slot written at overflow = type %d, want TRBHostControllerEvt", got.Type())
	}

	// ring is now completely full (inFlight == size): a further insert
	// must be rejected outright and not write anything.
	before := append([]byte(nil), gw.mem[0x20000:0x20000+2*TRBLen]...)
	code = ctrl.insertEvent(real, false)
	if code != CCEventRingFullError {
		t.Fatalf("insertEvent once totally full = %s, want EV_RING_FULL", code)
	}
	after := gw.mem[0x20000 : 0x20000+2*TRBLen]
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("insertEvent wrote to a full event ring")
		}
	}
}
