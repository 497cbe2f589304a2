package backend

import (
	"sync"

	"github.com/acrn-hypervisor/xhci/xhci/usbdev"
)

const (
	reqGetDescriptor = 0x06
	reqSetConfiguration = 0x09
)

// PointerBackend is a minimal fully-emulated USB HID boot-protocol
// pointer device (the "fully-emulated pointer device" spec.md's PURPOSE
// section names as the canonical static-class emulator).
type PointerBackend struct {
	mu sync.Mutex

	info Info

	// pending holds the next HID report to deliver on the interrupt-IN
	// endpoint; it is the "outstanding data" the transfer engine's
	// retry path (§4.6.3) checks for.
	pending []byte
}

// NewPointerBackend constructs a static pointer-device backend.
func NewPointerBackend() *PointerBackend {
	return &PointerBackend{}
}

func (p *PointerBackend) Init(info Info, cfgString string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.info = info
	return nil
}

func (p *PointerBackend) Info(topic InfoTopic) int {
	switch topic {
	case InfoSpeed:
		return p.info.Speed
	case InfoVersion:
		return 1
	}
	return 0
}

func (p *PointerBackend) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
}

// Request serves the standard/HID control requests a boot-protocol
// mouse needs to enumerate. GET_DESCRIPTOR is answered directly from
// xhci/usbdev; everything else (SET_CONFIGURATION, SET_IDLE, ...) is
// acked without effect, which is sufficient to keep control transfers
// from stalling during enumeration.
func (p *PointerBackend) Request(xfer *Xfer) Status {
	req := xfer.Request
	if req == nil {
		return StatusNormalCompletion
	}

	if req.RequestType&0x80 == 0 || req.Request != reqGetDescriptor {
		xfer.BytesDone = 0
		return StatusNormalCompletion
	}

	speed := "full"
	if p.info.Speed == 4 { // xhci.SpeedSuper
		speed = "super"
	}

	descType := byte(req.Value >> 8)
	index := int(byte(req.Value))

	var data []byte
	switch descType {
	case usbdev.DescriptorDevice:
		d := usbdev.NewPointerDeviceDescriptor(p.info.VID, p.info.PID, speed)
		data = d.Bytes()
	case usbdev.DescriptorConfiguration:
		data = usbdev.PointerConfiguration(speed)
	case usbdev.DescriptorString:
		s := ""
		if index > 0 && index < len(usbdev.PointerStrings) {
			s = usbdev.PointerStrings[index]
		}
		data = usbdev.StringDescriptor(index, s)
	case usbdev.DescriptorHIDReport:
		data = usbdev.HIDReportDescriptor()
	default:
		xfer.BytesDone = 0
		return StatusStall
	}

	if len(data) > int(req.Length) {
		data = data[:req.Length]
	}
	n := copy(xfer.Data, data)
	xfer.BytesDone = n
	return StatusNormalCompletion
}

// Data delivers the single pending HID report, if any, on the interrupt
// IN endpoint; OUT transfers are discarded (a boot mouse has none).
func (p *PointerBackend) Data(xfer *Xfer, dir Direction, endpointNumber int) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if dir == DirOut {
		xfer.BytesDone = len(xfer.Data)
		return StatusNormalCompletion
	}

	if len(p.pending) == 0 {
		xfer.BytesDone = 0
		return StatusCancelled
	}

	n := copy(xfer.Data, p.pending)
	xfer.BytesDone = n
	p.pending = nil
	return StatusNormalCompletion
}

// PostMove queues a relative-motion HID report for delivery on the next
// interrupt-IN poll.
func (p *PointerBackend) PostMove(dx, dy int8, buttons uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = []byte{buttons, byte(dx), byte(dy)}
}

func (p *PointerBackend) Stop()   {}
func (p *PointerBackend) Deinit() {}
func (p *PointerBackend) Kind() Kind { return KindStatic }
