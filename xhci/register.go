package xhci


// Controller-wide layout constants (§6.2, bit-exact xHCI v1.10 register
// map). CAPLENGTH is fixed at 32 bytes; the remaining windows are derived
// at construction time from MaxPorts/MaxSlots/MaxIntrs so the offsets
// below are the defaults for the single-interrupter, MaxPorts=20 profile
// §6.2 mandates.
const (
	MaxSlots = 64
	MaxIntrs = 1
	MaxDevs  = 20 // MaxPorts

	CapLen = 32

	portRegBase  = 0x400
	portRegSize  = 16
	dboffAlign   = 4
	rtsoffAlign  = 32
	excapAlign   = 4
)

// USBCMD bits (operational register, offset 0x00 from CAPLEN).
const (
	usbcmdRS    = 0 // Run/Stop
	usbcmdHCRST = 1 // Host Controller Reset
	usbcmdINTE  = 2 // Interrupter Enable
	usbcmdCSS   = 8 // Save State (guest-initiated S3)
	usbcmdCRS   = 9 // Restore State
)

// USBSTS bits (offset 0x04).
const (
	usbstsHCH  = 0 // HC Halted
	usbstsEINT = 3 // Event Interrupt
	usbstsPCD  = 4 // Port Change Detect
	usbstsSRE  = 10
	usbstsCNR  = 11 // Controller Not Ready
	usbstsHCE  = 12
)

// CRCR bits (offset 0x18).
const (
	crcrRCS = 0 // Ring Cycle State
	crcrCS  = 1 // Command Stop
	crcrCA  = 2 // Command Abort
	crcrCRR = 3 // Command Ring Running
)

// IMAN bits (runtime interrupter register set, offset 0x00 within the set).
const (
	imanIP = 0 // Interrupt Pending
	imanIE = 1 // Interrupt Enable
)

// ERDP bits.
const erdpBUSY = 3

// OperRegs holds the operational-register-file state backing USBCMD,
// USBSTS, DNCTRL, CRCR, DCBAAP and CONFIG. It is pure software state: no
// hardware is behind it, only the Controller's in-memory model, mirroring
// how the teacher's bus.go caches register offsets but replacing the
// peek/poke of real silicon with reads/writes of these fields directly.
type OperRegs struct {
	usbcmd uint32
	usbsts uint32
	dnctrl uint32
	crcr   uint64
	dcbaap uint64
	config uint32
}

// RuntimeRegs holds MFINDEX plus the single interrupter register set
// (§6.2: HCSPARAMS2.ERST-MAX=0, one segment; HCSPARAMS1.MaxIntrs=1).
type RuntimeRegs struct {
	iman   uint32
	imod   uint32
	erstsz uint32
	erstba uint64
	erdp   uint64
}

// CapRegs holds the fixed, read-only capability values §6.2 mandates.
type CapRegs struct {
	CapLength   uint8
	HCIVersion  uint16
	HCSParams1  uint32
	HCSParams2  uint32
	HCSParams3  uint32
	HCCParams1  uint32
	HCCParams2  uint32
	DBOff       uint32
	RTSOff      uint32
}

func defaultCapRegs(excapOffsetWords uint32) CapRegs {
	hcsparams1 := uint32(MaxSlots) | uint32(MaxIntrs)<<8 | uint32(MaxDevs)<<24

	// HCSPARAMS2: ERST-Max=0 (single segment), IST=4.
	hcsparams2 := uint32(4) << 0

	// HCCPARAMS1: AC64=0, BNC=0, CSZ=0, PPC=0, PIND=0, LHRC=0, LTC=0,
	// NSS=1, SPC=1, PAE=0, MaxPSASize=1 (primary streams only, low
	// ceiling per Non-goals), XECP = excapOffsetWords.
	hccparams1 := uint32(1)<<7 /*NSS*/ | uint32(1)<<8 /*SPC*/ | uint32(1)<<12 /*MaxPSASize*/ | excapOffsetWords<<16

	// HCCPARAMS2: LEC=1, U3C=1.
	hccparams2 := uint32(1)<<0 | uint32(1)<<1

	return CapRegs{
		CapLength:  CapLen,
		HCIVersion: 0x0100,
		HCSParams1: hcsparams1,
		HCSParams2: hcsparams2,
		HCSParams3: 0,
		HCCParams1: hccparams1,
		HCCParams2: hccparams2,
	}
}

// layout holds the DBOFF/RTSOFF/EXCAPOFF offsets computeLayout derives per
// §6.2: DBOFF placed immediately after the port register block (32-bit
// aligned), RTSOFF after the doorbell block (32-byte aligned).
// computeLayout does not compute REGSEND; regsend stays zero.
type layout struct {
	caplen   uint32
	dboff    uint32
	rtsoff   uint32
	excapoff uint32
	regsend  uint32
}

func computeLayout(maxPorts, maxSlots int) layout {
	portBlockEnd := uint32(CapLen) + portRegBase + uint32(maxPorts)*portRegSize
	dboff := align(portBlockEnd, dboffAlign)
	doorbellBlockEnd := dboff + uint32(maxSlots+1)*4
	rtsoff := align(doorbellBlockEnd, rtsoffAlign)
	// Runtime register set: MFINDEX (4 bytes) + pad (28) + one
	// interrupter register set (32 bytes) per interrupter.
	runtimeEnd := rtsoff + 0x20 + uint32(MaxIntrs)*0x20
	excapoff := align(runtimeEnd, excapAlign)
	return layout{
		caplen:   CapLen,
		dboff:    dboff,
		rtsoff:   rtsoff,
		excapoff: excapoff,
	}
}

func align(v, a uint32) uint32 {
	if v%a == 0 {
		return v
	}
	return v + (a - v%a)
}

// readCap handles a read in [0, CAPLEN).
func (c *Controller) readCap(off uint32, length int) uint64 {
	switch off {
	case 0x00:
		return uint64(c.cap.CapLength) | uint64(c.cap.HCIVersion)<<16
	case 0x04:
		return uint64(c.cap.HCSParams1)
	case 0x08:
		return uint64(c.cap.HCSParams2)
	case 0x0c:
		return uint64(c.cap.HCSParams3)
	case 0x10:
		return uint64(c.cap.HCCParams1)
	case 0x14:
		return uint64(c.layout.dboff)
	case 0x18:
		return uint64(c.layout.rtsoff)
	case 0x1c:
		return uint64(c.cap.HCCParams2)
	}
	return 0
}

// writeCap implements §4.2: "Writes to capability space are discarded
// with a warning."
func (c *Controller) writeCap(off uint32, val uint64, length int) {
	c.Log.Printf("xhci: discarded write to read-only capability register at %#x", off)
}

// readOper handles reads in [CAPLEN, DBOFF), dispatching to port
// registers when off falls within the port-register block.
func (c *Controller) readOper(off uint32, length int) uint64 {
	rel := off - c.layout.caplen

	if rel >= portRegBase && rel < portRegBase+uint32(len(c.ports))*portRegSize {
		idx := int((rel - portRegBase) / portRegSize)
		sub := rel - portRegBase - uint32(idx)*portRegSize
		return uint64(c.ports[idx].readPORTSC(sub))
	}

	switch rel {
	case 0x00:
		return uint64(c.oper.usbcmd)
	case 0x04:
		return uint64(c.computeUSBSTS())
	case 0x14:
		return uint64(c.oper.dnctrl)
	case 0x18:
		return c.oper.crcr &^ 0xf // DCS/reserved bits read back as 0 in the low nibble
	case 0x30:
		return c.oper.dcbaap
	case 0x38:
		return uint64(c.oper.config)
	}
	return 0
}

func (c *Controller) computeUSBSTS() uint32 {
	sts := c.oper.usbsts
	if c.oper.usbcmd&(1<<usbcmdRS) == 0 {
		sts |= 1 << usbstsHCH
	} else {
		sts &^= 1 << usbstsHCH
	}
	return sts
}

func (c *Controller) writeOper(off uint32, val uint64, length int) {
	rel := off - c.layout.caplen

	if rel >= portRegBase && rel < portRegBase+uint32(len(c.ports))*portRegSize {
		idx := int((rel - portRegBase) / portRegSize)
		sub := rel - portRegBase - uint32(idx)*portRegSize
		c.ports[idx].writePORTSC(sub, uint32(val), c)
		return
	}

	switch rel {
	case 0x00:
		c.writeUSBCMD(uint32(val))
	case 0x04:
		// USBSTS: write-1-to-clear on EINT/PCD/SRE/HCE.
		for _, bit := range []int{usbstsEINT, usbstsPCD, usbstsSRE, usbstsHCE} {
			if val&(1<<bit) != 0 {
				c.oper.usbsts &^= 1 << bit
			}
		}
	case 0x14:
		c.oper.dnctrl = uint32(val)
	case 0x18:
		c.writeCRCR(val)
	case 0x30:
		c.oper.dcbaap = val &^ 0x3f
	case 0x38:
		c.oper.config = uint32(val)
	}
}

func (c *Controller) writeUSBCMD(val uint32) {
	wasRunning := c.oper.usbcmd&(1<<usbcmdRS) != 0
	hcrstRequested := val&(1<<usbcmdHCRST) != 0
	rsRequested := val&(1<<usbcmdRS) != 0

	// §4.2: writes before RS is set but after HCRST perform a
	// controller reset.
	if hcrstRequested && !rsRequested {
		c.resetController()
	}

	if rsRequested && val&(1<<usbcmdCSS) != 0 {
		c.saveState()
	}

	c.oper.usbcmd = val &^ (1 << usbcmdHCRST)

	_ = wasRunning
}

func (c *Controller) writeCRCR(val uint64) {
	if c.oper.crcr&(1<<crcrCRR) != 0 {
		// Ring is running: only CS/CA bits are honored, the
		// pointer portion is ignored (xHCI v1.10 §5.4.5).
		if val&(1<<crcrCS|1<<crcrCA) != 0 {
			c.oper.crcr &^= 1 << crcrCRR
		}
		return
	}
	c.cmdRing.addr = val &^ 0x3f
	c.cmdRing.cycle = val&(1<<crcrRCS) != 0
	c.oper.crcr = (c.oper.crcr &^ 0x3f) | (val & 0x3f)
}

// resetController implements §4.2's controller-reset side effects.
func (c *Controller) resetController() {
	for i := range c.slots {
		c.slots[i] = newSlot()
	}
	c.eventRing.enqIdx = 0
	c.eventRing.erdpIdx = 0
	c.eventRing.inFlight = 0
	c.eventRing.cycle = true
	c.cmdRing = ring{}
	c.oper.crcr = 0
	c.Log.Printf("xhci: controller reset (HCRST)")
}

// readRuntime handles reads in [RTSOFF, EXCAPOFF).
func (c *Controller) readRuntime(off uint32, length int) uint64 {
	rel := off - c.layout.rtsoff

	if rel == 0 {
		return uint64(c.readMFINDEX())
	}

	// Interrupter register set 0 starts at offset 0x20.
	if rel >= 0x20 && rel < 0x20+0x20 {
		sub := rel - 0x20
		switch sub {
		case 0x00:
			return uint64(c.runtime.iman)
		case 0x04:
			return uint64(c.runtime.imod)
		case 0x08:
			return uint64(c.runtime.erstsz)
		case 0x10:
			return c.runtime.erstba
		case 0x18:
			return c.runtime.erdp
		}
	}
	return 0
}

func (c *Controller) writeRuntime(off uint32, val uint64, length int) {
	rel := off - c.layout.rtsoff

	if rel >= 0x20 && rel < 0x20+0x20 {
		sub := rel - 0x20
		switch sub {
		case 0x00:
			iman := uint32(val) & 0x3
			if val&(1<<imanIP) != 0 {
				c.runtime.iman &^= 1 << imanIP
			}
			c.runtime.iman = (c.runtime.iman &^ (1 << imanIE)) | (iman & (1 << imanIE))
		case 0x04:
			c.runtime.imod = uint32(val)
		case 0x08:
			c.runtime.erstsz = uint32(val) & 0xffff
		case 0x10:
			c.runtime.erstba = val &^ 0x3f
		case 0x18:
			c.writeERDP(val)
		}
	}
}

// writeERDP implements the guest-write contract at the end of §4.3:
// clears BUSY and IP, recomputes in-flight count.
func (c *Controller) writeERDP(val uint64) {
	c.runtime.erdp = (c.runtime.erdp &^ 0xf) | (val & 0xf)
	newDeq := val &^ 0xf
	c.runtime.erdp = newDeq | (c.runtime.erdp & 0xf)

	if val&(1<<erdpBUSY) != 0 {
		c.runtime.erdp &^= 1 << erdpBUSY
	}
	c.runtime.iman &^= 1 << imanIP

	erst := c.eventRing.resolve(c)
	if erst.size > 0 {
		erdpIdx := uint32((newDeq - erst.base) / TRBLen)
		c.eventRing.erdpIdx = erdpIdx % erst.size
		c.eventRing.inFlight = (c.eventRing.enqIdx + erst.size - c.eventRing.erdpIdx) % erst.size
	}
}

// readExtCap handles reads in [EXCAPOFF, REGSEND). Dispatch lives in
// excap.go.
func (c *Controller) readExtCap(off uint32, length int) uint64 {
	return c.extCapRead(off - c.layout.excapoff)
}

func (c *Controller) writeExtCap(off uint32, val uint64, length int) {
	c.extCapWrite(off-c.layout.excapoff, uint32(val))
}

// readDoorbell/writeDoorbell handle [DBOFF, RTSOFF).
func (c *Controller) readDoorbell(off uint32) uint64 {
	return 0
}

func (c *Controller) writeDoorbell(off uint32, val uint32) {
	slot := off / 4
	target := val & 0xff
	stream := uint16(val >> 16)

	if slot == 0 {
		c.ringCommandDoorbell()
		return
	}

	c.ringTransferDoorbell(uint8(slot), uint8(target), stream)
}

// ReadMMIO dispatches an MMIO read by offset from BAR0 into the
// appropriate subhandler per the table in §4.2.
func (c *Controller) ReadMMIO(offset uint64, length int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	off := uint32(offset)
	switch {
	case off < uint32(c.layout.caplen):
		return c.readCap(off, length)
	case off < c.layout.dboff:
		return c.readOper(off, length)
	case off < c.layout.rtsoff:
		return c.readDoorbell(off - c.layout.dboff)
	case off < c.layout.excapoff:
		return c.readRuntime(off, length)
	default:
		return c.readExtCap(off, length)
	}
}

// WriteMMIO dispatches an MMIO write by offset from BAR0.
func (c *Controller) WriteMMIO(offset uint64, val uint64, length int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	off := uint32(offset)
	switch {
	case off < uint32(c.layout.caplen):
		c.writeCap(off, val, length)
	case off < c.layout.dboff:
		c.writeOper(off, val, length)
	case off < c.layout.rtsoff:
		c.writeDoorbell(off-c.layout.dboff, uint32(val))
	case off < c.layout.excapoff:
		c.writeRuntime(off, val, length)
	default:
		c.writeExtCap(off, val, length)
	}
}
