package xhci

// Gateway maps a guest-physical address to a bounded, host-visible byte
// window (at most min(4096, 4096-(gpa mod 4096)) bytes, per §4.1). It is
// the sole path by which the core touches guest memory; every ring,
// context and descriptor access goes through it. Translation failure is a
// precondition violation of the host and is not modeled as a recoverable
// error — implementations are expected to panic or trap, matching the
// out-of-scope VMM collaborator's own contract.
type Gateway interface {
	Translate(gpa uint64, length int) []byte
}

// ring models the reader side (command ring, transfer ring) of a
// guest-resident TRB ring: a dequeue address plus the local cycle-state bit
// that LINK-TRB wraparound toggles. The event ring's producer side is
// modeled separately by eventRing (eventring.go).
type ring struct {
	addr  uint64
	cycle bool
}

// readTRB reads the TRB at the ring's current address through gw, without
// advancing it.
func (r *ring) readTRB(gw Gateway) TRB {
	buf := gw.Translate(r.addr, TRBLen)
	return TRBFromBytes(buf)
}

// writeTRB writes trb at the ring's current address through gw.
func (r *ring) writeTRB(gw Gateway, trb TRB) {
	buf := gw.Translate(r.addr, TRBLen)
	copy(buf, trb.Bytes())
}

// advancePastLink moves a consumer ring past the TRB it just read. If that
// TRB was a LINK, the dequeue address becomes the LINK's target and, when
// TC is set, the local cycle state toggles; otherwise the address simply
// moves to the next 16-byte slot.
//
// advancePastLink reports whether a wrap (cycle toggle) occurred.
func (r *ring) advancePastLink(trb TRB) (wrapped bool) {
	if trb.Type() == TRBLink {
		r.addr = trb.Parameter &^ 0xf
		if trb.TC() {
			r.cycle = !r.cycle
			wrapped = true
		}
		return wrapped
	}
	r.addr += TRBLen
	return false
}

// owned reports whether the ring's local cycle state matches trb's cycle
// bit, i.e. whether the reader owns this TRB per §3's Ring invariant.
func (r *ring) owned(trb TRB) bool {
	return trb.Cycle() == r.cycle
}

// consumerWalk calls fn for every TRB the caller owns, starting at the
// ring's current dequeue address, transparently following LINK TRBs
// (toggling cycle state on TC) until either fn returns false (stop, TRB
// was handled and the ring should advance past it) or the next TRB is not
// owned by the reader (ring exhausted). It returns the number of non-LINK
// TRBs delivered to fn.
//
// fn receives the TRB and must return whether to keep walking.
func (r *ring) consumerWalk(gw Gateway, fn func(trb TRB) (keepGoing bool)) int {
	delivered := 0

	for {
		trb := r.readTRB(gw)

		if !r.owned(trb) {
			return delivered
		}

		if trb.Type() == TRBLink {
			r.advancePastLink(trb)
			continue
		}

		r.addr += TRBLen
		keepGoing := fn(trb)
		delivered++

		if !keepGoing {
			return delivered
		}
	}
}
