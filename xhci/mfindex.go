package xhci

import "time"

// mfindexState backs the read-synthesized MFINDEX register (§4.2):
// "the core records the previous read's monotonic timestamp and returns
// (elapsed_microseconds / 125) mod 2^14, accumulating elapsed microframes
// into an internal counter."
type mfindexState struct {
	last      time.Time
	microframe uint32 // accumulated counter, mod 2^14
	started   bool
}

// readMFINDEX implements the MFINDEX read-synthesis rule.
func (c *Controller) readMFINDEX() uint32 {
	now := time.Now()

	if !c.mfindex.started {
		c.mfindex.last = now
		c.mfindex.started = true
		return c.mfindex.microframe
	}

	elapsed := now.Sub(c.mfindex.last)
	elapsedMicroframes := uint32(elapsed.Microseconds() / 125)

	c.mfindex.microframe = (c.mfindex.microframe + elapsedMicroframes) % (1 << 14)
	c.mfindex.last = now

	return c.mfindex.microframe
}
