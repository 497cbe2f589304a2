package xhci

// eventRing is the producer side of the guest-resident event ring (§3
// Ring, producer role) plus the single ERST entry this core supports
// (§1 Non-goals: single segment).
type eventRing struct {
	enqIdx   uint32
	erdpIdx  uint32
	inFlight uint32
	cycle    bool
}

// erstEntry mirrors the guest-resident (pointer, size) pair; resolved
// fresh on every access per §3's Ownership & lifetime rule ("the core
// holds only their guest-physical addresses and re-resolves them per
// access").
type erstEntry struct {
	base uint64
	size uint32
}

// resolve reads the current ERST entry through the gateway (§4.3 step 1).
func (er *eventRing) resolve(c *Controller) erstEntry {
	if c.runtime.erstba == 0 || c.runtime.erstsz == 0 {
		return erstEntry{}
	}
	buf := c.gw.Translate(c.runtime.erstba, 16)
	base := leUint64(buf[0:8])
	size := leUint32(buf[8:12]) & 0xffff
	return erstEntry{base: base, size: size}
}

func (er *eventRing) size(c *Controller) uint32 {
	return er.resolve(c).size
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

// insertEvent implements §4.3's insert_event(trb, raise_interrupt)
// contract.
func (c *Controller) insertEvent(trb TRB, raiseInterrupt bool) CompletionCode {
	er := &c.eventRing
	erst := er.resolve(c)

	if erst.size == 0 {
		c.Log.Printf("xhci: event ring has no active segment, dropping event")
		return CCEventRingFullError
	}

	if er.inFlight >= erst.size {
		return CCEventRingFullError
	}

	if er.inFlight == erst.size-1 {
		// Only one free slot remains: consume it with a synthetic
		// TRBHostControllerEvt announcing the overflow instead of the
		// caller's event, per §4.3.
		slotAddr := erst.base + uint64(er.enqIdx)*TRBLen

		var hc TRB
		hc.SetType(TRBHostControllerEvt)
		hc.SetCompletionCode(CCEventRingFullError)
		hc.SetCycle(er.cycle)
		copy(c.gw.Translate(slotAddr, TRBLen), hc.Bytes())

		er.inFlight++
		er.enqIdx++
		if er.enqIdx >= erst.size {
			er.enqIdx = 0
			er.cycle = !er.cycle
		}

		c.raiseInterrupter(true)
		return CCEventRingFullError
	}

	trb.SetCycle(er.cycle)
	slotAddr := erst.base + uint64(er.enqIdx)*TRBLen
	copy(c.gw.Translate(slotAddr, TRBLen), trb.Bytes())

	er.inFlight++
	er.enqIdx++
	if er.enqIdx >= erst.size {
		er.enqIdx = 0
		er.cycle = !er.cycle
	}

	c.raiseInterrupter(raiseInterrupt)
	return CCSuccess
}

// raiseInterrupter implements §4.3 step 5.
func (c *Controller) raiseInterrupter(raise bool) {
	if !raise {
		return
	}

	c.runtime.erdp |= 1 << erdpBUSY
	c.runtime.iman |= 1 << imanIP
	c.oper.usbsts |= 1 << usbstsEINT

	if c.oper.usbcmd&(1<<usbcmdINTE) != 0 && c.runtime.iman&(1<<imanIE) != 0 {
		if c.InterruptHook != nil {
			c.InterruptHook()
		}
	}
}
