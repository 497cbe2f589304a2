package xhci

import (
	"fmt"

	"github.com/acrn-hypervisor/xhci/internal/bits"
)

// PORTSC bit positions (§3 Port, §4.2 PORTSC write semantics).
const (
	portsccCCS  = 0  // Current Connect Status
	portsccPED  = 1  // Port Enabled/Disabled
	portsccPR   = 4  // Port Reset
	portsccPLS  = 5  // Port Link State, 4 bits
	portsccPP   = 9  // Port Power
	portsccSPD  = 10 // Port Speed, 4 bits
	portsccPIC  = 14 // Port Indicator Control, 2 bits
	portsccLWS  = 16 // Link State Write Strobe
	portsccCSC  = 17 // Connect Status Change (sticky)
	portsccPEC  = 18 // Port Enabled/Disabled Change (sticky)
	portsccWRC  = 19 // Warm Reset Change (sticky, USB3 only)
	portsccPRC  = 21 // Port Reset Change (sticky)
	portsccPLC  = 22 // Port Link State Change (sticky)
	portsccDR   = 30 // Device Removable
	portsccWPR  = 31 // Warm Port Reset
)

// Link-state values (PLS field).
const (
	linkStateU0      = 0
	linkStateU3      = 3
	linkStateRxDetect = 5
)

// Speed values (SPEED field, USB3 port convention: 4=SuperSpeed).
const (
	SpeedFull  = 1
	SpeedLow   = 2
	SpeedHigh  = 3
	SpeedSuper = 4
)

// stickyChangeBits are the write-one-to-clear bits of PORTSC.
var stickyChangeBits = []int{portsccCSC, portsccPEC, portsccWRC, portsccPRC, portsccPLC}

// Port is a root-hub port's PORTSC state (§3 Port).
type Port struct {
	num  int // 1-based
	usb3 bool

	portsc uint32

	// boundPath is the native_ports[] physical-device tuple currently
	// bound to this virtual port, if any (empty when VPORT_FREE).
	boundPath  string
	vstate     vportState
	boundSpeed int
	boundVID   uint16
	boundPID   uint16
}

type vportState int

const (
	vportFree vportState = iota
	vportAssigned
	vportConnected
	vportEmulated
)

func newPort(num int, usb3 bool) *Port {
	p := &Port{num: num, usb3: usb3, vstate: vportFree}
	p.portsc = 1 << portsccPP
	return p
}

func (p *Port) readPORTSC(sub uint32) uint32 {
	if sub != 0 {
		return 0
	}
	return p.portsc
}

// writePORTSC implements §4.2's PORTSC write semantics.
func (p *Port) writePORTSC(sub uint32, val uint32, c *Controller) {
	if sub != 0 {
		return
	}

	// write-one-to-clear sticky bits
	for _, bit := range stickyChangeBits {
		if val&(1<<bit) != 0 {
			p.portsc &^= 1 << bit
		}
	}

	if val&(1<<portsccPR) != 0 || val&(1<<portsccWPR) != 0 {
		warm := val&(1<<portsccWPR) != 0
		c.portReset(p, warm)
		return
	}

	if val&(1<<portsccLWS) != 0 {
		pls := bits.GetN(&val, portsccPLS, 0xf)
		cur := bits.GetN(&p.portsc, portsccPLS, 0xf)

		switch pls {
		case linkStateU0:
			if cur != linkStateU0 {
				bits.SetN(&p.portsc, portsccPLS, 0xf, linkStateU0)
				p.portsc |= 1 << portsccPLC
				c.raisePortStatusChange(p.num)
			}
		case linkStateU3:
			bits.SetN(&p.portsc, portsccPLS, 0xf, linkStateU3)
		}
	}
}

// portReset implements the PR/WPR write semantics of §4.2: sets PED,
// PRC (and WRC on warm for USB3 speed), raises a port-status-change event.
func (c *Controller) portReset(p *Port, warm bool) {
	p.portsc |= 1 << portsccPED
	p.portsc &^= 1 << portsccPR
	bits.SetN(&p.portsc, portsccPLS, 0xf, linkStateU0)

	if p.vstate != vportFree {
		bits.SetN(&p.portsc, portsccSPD, 0xf, uint32(p.boundSpeed))
	}

	p.portsc |= 1 << portsccPRC
	if warm && p.usb3 {
		p.portsc |= 1 << portsccWRC
	}

	c.raisePortStatusChange(p.num)
}

// --- Port manager operations (§4.7) -----------------------------------

// DeviceInfo describes a physical USB device as reported by the hot-plug
// collaborator (§6.5).
type DeviceInfo struct {
	Bus   int
	Depth int
	Path  [8]int // USB_MAX_TIERS
	Speed int
	VID   uint16
	PID   uint16
	Type  DeviceType
}

// DeviceType distinguishes a plain device from an external hub (§4.7
// connect/disconnect external-hub handling).
type DeviceType int

const (
	DeviceTypePlain DeviceType = iota
	DeviceTypeExternalHub
)

func pathKey(d DeviceInfo) string {
	return fmt.Sprintf("%d:%d:%v", d.Bus, d.Depth, d.Path)
}

func childPathKey(base DeviceInfo, child int) string {
	p := base
	if base.Depth < len(p.Path) {
		p.Path[base.Depth] = child
	}
	p.Depth++
	return pathKey(p)
}

// Whitelist marks a physical path as eligible for pass-through
// (FREE -> ASSIGNED, §3 Virtual-port binding).
func (c *Controller) Whitelist(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nativePorts[path]; !ok {
		c.nativePorts[path] = &nativePortBinding{state: vportAssigned}
	}
}

type nativePortBinding struct {
	state vportState
	vport int // 0 until allocated
}

// Connect implements §4.7 connect(path, speed, vid, pid, type).
func (c *Controller) Connect(d DeviceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pathKey(d)

	if d.Type == DeviceTypeExternalHub {
		for i := 1; i <= 8; i++ {
			childKey := childPathKey(d, i)
			if _, ok := c.nativePorts[childKey]; !ok {
				c.nativePorts[childKey] = &nativePortBinding{state: vportAssigned}
			}
		}
		return nil
	}

	nb, ok := c.nativePorts[key]
	if !ok || nb.state != vportAssigned {
		return fmt.Errorf("xhci: connect on unassigned path %s", key)
	}

	if vbdp := c.findVBDP(key); vbdp != nil && vbdp.state == vbdpStart {
		nb.vport = vbdp.vport
		nb.state = vportConnected
		p := c.portByVnum(nb.vport)
		p.boundSpeed = d.Speed
		p.boundVID, p.boundPID = d.VID, d.PID
		p.boundPath = key
		// §4.7: suppress the port-status-change event; the worker
		// emits it when the vbdp entry reaches END.
		return nil
	}

	vnum := nb.vport
	if vnum == 0 {
		// first connect of this path: grab a fresh vport. A path that
		// was connected before and disconnected keeps its vport so a
		// reconnect reuses the same slot half instead of draining the
		// speed-class pool (§3 Virtual-port binding transitions).
		var err error
		vnum, err = c.allocVport(d.Speed)
		if err != nil {
			return err
		}
	}

	nb.vport = vnum
	nb.state = vportConnected

	p := c.portByVnum(vnum)
	p.boundPath = key
	p.boundSpeed = d.Speed
	p.boundVID, p.boundPID = d.VID, d.PID
	p.portsc |= 1 << portsccCCS
	p.portsc |= 1 << portsccPP
	p.portsc |= 1 << portsccCSC
	bits.SetN(&p.portsc, portsccSPD, 0xf, uint32(d.Speed))

	c.raisePortStatusChange(vnum)
	return nil
}

// Disconnect implements §4.7 disconnect(path).
func (c *Controller) Disconnect(d DeviceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pathKey(d)

	if d.Type == DeviceTypeExternalHub {
		for i := 1; i <= 8; i++ {
			childKey := childPathKey(d, i)
			if nb, ok := c.nativePorts[childKey]; ok && nb.vport != 0 {
				c.portByVnum(nb.vport).vstate = vportFree
			}
			delete(c.nativePorts, childKey)
		}
		return nil
	}

	nb, ok := c.nativePorts[key]
	if !ok {
		return fmt.Errorf("xhci: disconnect on unknown path %s", key)
	}

	if nb.state == vportConnected {
		p := c.portByVnum(nb.vport)
		p.portsc &^= 1 << portsccCCS
		p.portsc &^= 1 << portsccPED
		nb.state = vportAssigned
		return nil
	}

	if vbdp := c.findVBDP(key); vbdp != nil && vbdp.state == vbdpStart {
		// §4.7: in S3, do nothing.
		return nil
	}

	if nb.state == vportEmulated {
		p := c.portByVnum(nb.vport)
		p.portsc &^= 1 << (portsccCCS)
		p.portsc &^= 1 << portsccPED
		p.portsc |= 1 << portsccCSC
		bits.SetN(&p.portsc, portsccPLS, 0xf, linkStateRxDetect)
		c.raisePortStatusChange(nb.vport)
		// slot teardown left to the guest's Disable-Slot command.
	}

	return nil
}

// allocVport picks a free vport number from the half matching speed
// (USB2 vs USB3), per §3 Virtual-port binding transitions.
func (c *Controller) allocVport(speed int) (int, error) {
	usb3 := speed == SpeedSuper
	lo, hi := 1, MaxDevs/2
	if !usb3 {
		lo, hi = MaxDevs/2+1, MaxDevs
	}

	for i := lo; i <= hi; i++ {
		p := c.ports[i-1]
		if p.vstate == vportFree {
			p.vstate = vportAssigned // marks the port taken; Connect tracks connection state on the native-port binding, not here
			return i, nil
		}
	}
	return 0, fmt.Errorf("xhci: no free vport for speed class")
}

func (c *Controller) portByVnum(vnum int) *Port {
	return c.ports[vnum-1]
}

// raisePortStatusChange appends a Port-Status-Change event (§4.7) and
// raises the interrupter.
func (c *Controller) raisePortStatusChange(portNum int) {
	var trb TRB
	trb.SetType(TRBPortStatusChgEvt)
	trb.Parameter = uint64(portNum) << 24
	trb.SetCompletionCode(CCSuccess)
	c.oper.usbsts |= 1 << usbstsPCD
	c.insertEvent(trb, true)
}
