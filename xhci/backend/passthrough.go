package backend

import (
	"fmt"
	"sync"

	"github.com/google/gousb"
)

// PassthroughBackend bridges transfer-engine submissions to a physical
// USB device visible on the host, using gousb (libusb) the way this
// pack's native-USB host tooling does (grounded on the gousb-based
// transports seen alongside other_examples' ipp-usb and gousb reference
// files: open the device, claim the interface, issue control and
// bulk/interrupt transfers). §5 requires MMIO paths to never block on
// I/O, so Request/Data hand the actual libusb call to a dedicated
// goroutine and report completion through Notifier.Notify instead of
// returning it inline.
type PassthroughBackend struct {
	mu sync.Mutex

	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	iface  *gousb.Interface
	info   Info
	notify Notifier

	outstanding *Xfer
}

// NewPassthroughBackend opens the physical device matching vid/pid via
// libusb (grounded on other_examples' guiperry-HASHER USB driver, which
// resolves a device the same way) and returns a backend ready for Init.
func NewPassthroughBackend(notify Notifier, vid, pid uint16) (*PassthroughBackend, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("xhci/backend: open device %04x:%04x: %w", vid, pid, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("xhci/backend: no physical device matching %04x:%04x", vid, pid)
	}

	return &PassthroughBackend{ctx: ctx, dev: dev, notify: notify}, nil
}

func (p *PassthroughBackend) Init(info Info, cfgString string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.info = info

	cfgNum, _ := p.dev.ActiveConfigNum()
	cfg, err := p.dev.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("xhci/backend: claim config: %w", err)
	}
	p.cfg = cfg

	iface, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("xhci/backend: claim interface: %w", err)
	}
	p.iface = iface

	return nil
}

func (p *PassthroughBackend) Info(topic InfoTopic) int {
	switch topic {
	case InfoSpeed:
		return p.info.Speed
	case InfoVersion:
		return int(p.dev.Desc.Spec)
	}
	return 0
}

func (p *PassthroughBackend) Reset() {
	p.dev.Reset()
}

// Request issues a control transfer on the physical device. The actual
// libusb call runs on its own goroutine; Request itself never blocks,
// returning StatusAsyncPending and completing later via Notify.
func (p *PassthroughBackend) Request(xfer *Xfer) Status {
	if xfer.Request == nil {
		return StatusStall
	}

	p.mu.Lock()
	p.outstanding = xfer
	p.mu.Unlock()

	req := xfer.Request
	go func() {
		n, err := p.dev.Control(req.RequestType, req.Request, req.Value, req.Index, xfer.Data)
		p.complete(xfer, n, err)
	}()

	return StatusAsyncPending
}

// Data issues a bulk/interrupt transfer against the matching physical
// endpoint on its own goroutine, completing asynchronously via Notify
// per the transfer engine's retry path (§4.6.3).
func (p *PassthroughBackend) Data(xfer *Xfer, dir Direction, endpointNumber int) Status {
	p.mu.Lock()
	p.outstanding = xfer
	p.mu.Unlock()

	go func() {
		var n int
		var err error

		if dir == DirIn {
			ep, epErr := p.iface.InEndpoint(endpointNumber)
			if epErr != nil {
				err = epErr
			} else {
				n, err = ep.Read(xfer.Data)
			}
		} else {
			ep, epErr := p.iface.OutEndpoint(endpointNumber)
			if epErr != nil {
				err = epErr
			} else {
				n, err = ep.Write(xfer.Data)
			}
		}

		p.complete(xfer, n, err)
	}()

	return StatusAsyncPending
}

// complete runs on the I/O goroutine once libusb returns: it fills in
// xfer's result and reports it via Notify, unless Stop already claimed
// and cancelled this transfer first.
func (p *PassthroughBackend) complete(xfer *Xfer, n int, err error) {
	p.mu.Lock()
	if p.outstanding != xfer {
		p.mu.Unlock()
		return
	}
	p.outstanding = nil
	p.mu.Unlock()

	switch {
	case err != nil:
		xfer.Status = StatusIOError
	case n < len(xfer.Data):
		xfer.BytesDone = n
		xfer.Status = StatusShortXfer
	default:
		xfer.BytesDone = n
		xfer.Status = StatusNormalCompletion
	}

	if p.notify != nil {
		p.notify.Notify(xfer)
	}
}

func (p *PassthroughBackend) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outstanding != nil {
		p.outstanding.Status = StatusCancelled
		if p.notify != nil {
			p.notify.Notify(p.outstanding)
		}
		p.outstanding = nil
	}
}

func (p *PassthroughBackend) Deinit() {
	if p.iface != nil {
		p.iface.Close()
	}
	if p.cfg != nil {
		p.cfg.Close()
	}
	if p.dev != nil {
		p.dev.Close()
	}
	if p.ctx != nil {
		p.ctx.Close()
	}
}

func (p *PassthroughBackend) Kind() Kind { return KindPortMapped }
