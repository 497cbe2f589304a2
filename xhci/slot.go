package xhci

import "github.com/acrn-hypervisor/xhci/xhci/backend"

// SlotState is a slot's lifecycle state (§3 Slot).
type SlotState int

const (
	SlotDisabled SlotState = iota
	SlotDefault
	SlotAddressed
	SlotConfigured
)

// EndpointState is an endpoint's lifecycle state (§3 Slot).
type EndpointState int

const (
	EPDisabled EndpointState = iota
	EPRunning
	EPHalted
	EPStopped
	EPError
)

const maxEndpoints = 31 // indices 1..31; index 0 unused

// streamCtx is one primary-stream's (dequeue, cycle) pair (§4.5, §9
// "Union-typed endpoint ring state").
type streamCtx struct {
	ring ring
}

// Endpoint is one of a slot's 31 endpoint records (§3 Slot).
type Endpoint struct {
	state EndpointState
	ring  ring

	maxPacketSize uint16
	maxStreams    int
	streams       []streamCtx // non-nil iff maxStreams > 0 (tagged variant)

	// xfer is the single in-flight USB data transfer on this endpoint
	// (§3 invariant: at most one in flight). It is read and written only
	// with Controller.mu held: doorbell-driven submission runs under
	// WriteMMIO and backend completion under OnNotify, both of which take
	// Controller.mu, and that is what serializes the two. dataTransfer.mu
	// is not locked anywhere in this package.
	xfer *dataTransfer
}

func newEndpoint() *Endpoint {
	return &Endpoint{state: EPDisabled}
}

// disable releases the endpoint's backing transfer state and zeroes the
// record. Idempotent, per §4.5.
func (ep *Endpoint) disable() {
	ep.state = EPDisabled
	ep.ring = ring{}
	ep.streams = nil
	ep.maxStreams = 0
	ep.maxPacketSize = 0
	ep.xfer = nil
}

// dequeueCycle returns the (ring-address, cycle) pair to read the next
// TRB from, taking the active stream into account when streams are
// enabled (§4.5, §4.6 step 1).
func (ep *Endpoint) dequeueCycle(sid uint16) *ring {
	if ep.maxStreams > 0 && int(sid) < len(ep.streams) {
		return &ep.streams[sid].ring
	}
	return &ep.ring
}

// Slot is a 1-based logical USB device slot (§3 Slot).
type Slot struct {
	state     SlotState
	address   uint8
	port      int // root-hub port this slot was addressed on
	endpoints [maxEndpoints + 1]*Endpoint

	dev      backend.Device
	devKind  backend.Kind
	nativeKey string // physical path, for S3/vbdp bookkeeping

	// maxExitLatency and interrupter mirror the slot context's Max
	// Exit Latency and Interrupter Target fields (§4.4 EVALUATE_CONTEXT
	// add-context bit 0); stored but not otherwise interpreted, per
	// spec.md's Non-goals around link-power-management accounting.
	maxExitLatency uint16
	interrupter    uint16
}

func newSlot() *Slot {
	s := &Slot{state: SlotDisabled}
	for i := 1; i <= maxEndpoints; i++ {
		s.endpoints[i] = newEndpoint()
	}
	return s
}

func (s *Slot) allocated() bool { return s.state != SlotDisabled }

// teardown disables every endpoint and releases the device backend,
// called from Disable-Slot (§4.4).
func (s *Slot) teardown() {
	for i := 1; i <= maxEndpoints; i++ {
		s.endpoints[i].disable()
	}
	if s.dev != nil {
		s.dev.Stop()
		s.dev.Deinit()
		s.dev = nil
	}
	s.state = SlotDisabled
	s.address = 0
	s.port = 0
	s.nativeKey = ""
	s.maxExitLatency = 0
	s.interrupter = 0
}

// epDirAndNumber maps an xHCI "endpoint context index" dci (Device Context
// Index, 1..31 as carried in transfer/command TRBs) onto direction and
// USB endpoint number, per the GLOSSARY: pairs (2k, 2k+1) are OUT/IN of
// USB endpoint k, dci 1 is the bidirectional control endpoint.
func epDirAndNumber(dci uint8) (dir int, num int) {
	if dci == 1 {
		return 0, 0
	}
	if dci%2 == 0 {
		return 0, int(dci / 2) // even = OUT
	}
	return 1, int(dci / 2) // odd = IN
}
