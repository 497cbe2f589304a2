package xhci

import (
	"fmt"
	"log"
	"sync"

	"github.com/acrn-hypervisor/xhci/xhci/backend"
)

// registered guards the single-controller-in-use interlock (§9 "Global
// controller-in-use flag"): the source repository this design is drawn
// from exposes one process-wide controller; here that becomes an
// explicit attempt to register a second instance, which fails cleanly
// instead of silently sharing global state.
var (
	registeredMu sync.Mutex
	registered   bool
)

// Controller is one xHCI host-controller instance: the register file,
// slot/port tables and background workers described in §2. Its lifetime
// equals the owning PCI device's (§3 Ownership & lifetime).
type Controller struct {
	mu sync.Mutex

	Log *log.Logger

	// InterruptHook raises the platform interrupt (MSI preferred, else
	// a legacy pin-assert); the core only ever calls this one hook
	// (§1, §4.3 step 5).
	InterruptHook func()

	// RoleSwitch forwards vendor-DRD mode-change writes to an external
	// role-switch sink (§6.3).
	RoleSwitch func(reg uint32, val uint32)

	gw Gateway

	cap    CapRegs
	layout layout
	oper   OperRegs
	runtime RuntimeRegs
	excap  []excapWord

	cmdRing   ring
	eventRing eventRing
	mfindex   mfindexState

	slots [MaxSlots + 1]*Slot // 1-based; index 0 unused
	ports [MaxDevs]*Port

	nativePorts map[string]*nativePortBinding
	vbdp        []*vbdpEntry

	// inputContexts is the test/integration-facing stand-in for the
	// guest input-context memory ADDRESS_DEVICE/CONFIGURE_EP/
	// EVALUATE_CONTEXT read from (see SetInputContext in command.go).
	inputContexts map[uint64]*inputContext

	s3 *s3Worker

	cfg *Config

	newDevice func(kind backend.Kind, info backend.Info) (backend.Device, error)
}

// NewController constructs a Controller from a validated Config, a
// Gateway (the out-of-scope VMM-provided translation function, §4.1),
// an interrupt hook, and a device factory that resolves a physical path
// or the static class list into a backend.Device (§6.4).
//
// Per §7, cfg is assumed already validated by ParseConfig; a nil cfg is
// itself a construction-time error since the device must never enter the
// bus without one.
func NewController(cfg *Config, gw Gateway, interrupt func(), newDevice func(backend.Kind, backend.Info) (backend.Device, error)) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("xhci: nil configuration")
	}
	if gw == nil {
		return nil, fmt.Errorf("xhci: nil gateway")
	}

	registeredMu.Lock()
	if registered {
		registeredMu.Unlock()
		return nil, fmt.Errorf("xhci: a controller instance is already registered")
	}
	registered = true
	registeredMu.Unlock()

	excap := buildExtCaps(cfg.profile())
	lay := computeLayout(MaxDevs, MaxSlots)

	c := &Controller{
		Log:           log.Default(),
		InterruptHook: interrupt,
		gw:            gw,
		layout:        lay,
		excap:         excap,
		nativePorts:   make(map[string]*nativePortBinding),
		cfg:           cfg,
		newDevice:     newDevice,
	}

	c.cap = defaultCapRegs(lay.excapoff / 4)

	for i := 0; i < MaxDevs; i++ {
		usb3 := i < MaxDevs/2
		c.ports[i] = newPort(i+1, usb3)
	}

	for i := 1; i <= MaxSlots; i++ {
		c.slots[i] = newSlot()
	}

	c.eventRing.cycle = true

	c.s3 = newS3Worker(c)
	go c.s3.run()

	return c, nil
}

// Close tears down the controller's background worker and every
// allocated slot (§5 Cancellation: shutdown sequence).
func (c *Controller) Close() {
	c.s3.stop()

	c.mu.Lock()
	for i := 1; i <= MaxSlots; i++ {
		if c.slots[i].allocated() {
			c.slots[i].teardown()
		}
	}
	c.mu.Unlock()

	registeredMu.Lock()
	registered = false
	registeredMu.Unlock()
}

// OnConnect/OnDisconnect implement the hot-plug callback surface of
// §6.5, delegating to the port manager (§4.7).
func (c *Controller) OnConnect(d DeviceInfo) error    { return c.Connect(d) }
func (c *Controller) OnDisconnect(d DeviceInfo) error { return c.Disconnect(d) }

// OnNotify implements §6.5 on_notify: a backend reports a completed
// transfer, the core runs the transfer engine's completion routine and
// reports whether an interrupt is needed.
func (c *Controller) OnNotify(xfer *backend.Xfer) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(xfer.Slot) >= len(c.slots) || !c.slots[xfer.Slot].allocated() {
		return -1
	}
	slot := c.slots[xfer.Slot]
	ep := slot.endpoints[xfer.Endpoint]
	if ep == nil || ep.xfer == nil {
		return -1
	}

	// an asynchronous backend's Request/Data returned StatusAsyncPending
	// without running submitTransfer's scatter-back step, so it still
	// needs doing here before the completion routine runs.
	scatterBack(ep.xfer, xfer.Data, xfer.BytesDone)

	raise := c.completeTransfer(xfer.Slot, xfer.Endpoint, ep, mapBackendStatus(xfer.Status), xfer.BytesDone)
	if raise {
		return 1
	}
	return 0
}

// OnInterrupt implements §6.5 on_interrupt: unconditionally raises the
// interrupter.
func (c *Controller) OnInterrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raiseInterrupter(true)
}

// Notify/Interrupt satisfy backend.Notifier for backends constructed
// with this Controller as their notification sink.
func (c *Controller) Notify(xfer *backend.Xfer) int { return c.OnNotify(xfer) }
func (c *Controller) Interrupt()                    { c.OnInterrupt() }
