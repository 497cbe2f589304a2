package backend

import (
	"testing"

	"github.com/acrn-hypervisor/xhci/xhci/usbdev"
)

func newInitializedPointer(t *testing.T) *PointerBackend {
	t.Helper()
	p := NewPointerBackend()
	if err := p.Init(Info{VID: 0x1234, PID: 0x5678, Speed: 3}, ""); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return p
}

func getDescriptorRequest(descType byte, index uint8, length uint16) *DeviceRequest {
	return &DeviceRequest{
		RequestType: 0x80,
		Request:     reqGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(index),
		Length:      length,
	}
}

func TestRequestServesDeviceDescriptor(t *testing.T) {
	p := newInitializedPointer(t)
	xfer := &Xfer{Request: getDescriptorRequest(usbdev.DescriptorDevice, 0, 18), Data: make([]byte, 18)}

	status := p.Request(xfer)
	if status != StatusNormalCompletion {
		t.Fatalf("Request(GET_DESCRIPTOR device) = %v, want StatusNormalCompletion", status)
	}
	if xfer.BytesDone != 18 {
		t.Fatalf("BytesDone = %d, want 18", xfer.BytesDone)
	}
	if xfer.Data[0] != usbdev.DeviceLength || xfer.Data[1] != usbdev.DescriptorDevice {
		t.Fatalf("descriptor header = %d,%d, want %d,%d", xfer.Data[0], xfer.Data[1], usbdev.DeviceLength, usbdev.DescriptorDevice)
	}
}

func TestRequestServesConfigurationDescriptor(t *testing.T) {
	p := newInitializedPointer(t)
	buf := make([]byte, 64)
	xfer := &Xfer{Request: getDescriptorRequest(usbdev.DescriptorConfiguration, 0, 64), Data: buf}

	status := p.Request(xfer)
	if status != StatusNormalCompletion {
		t.Fatalf("Request(GET_DESCRIPTOR configuration) = %v, want StatusNormalCompletion", status)
	}
	if xfer.Data[1] != usbdev.DescriptorConfiguration {
		t.Fatalf("descriptor type byte = %d, want %d", xfer.Data[1], usbdev.DescriptorConfiguration)
	}
}

func TestRequestTruncatesToWLength(t *testing.T) {
	p := newInitializedPointer(t)
	xfer := &Xfer{Request: getDescriptorRequest(usbdev.DescriptorDevice, 0, 8), Data: make([]byte, 8)}

	p.Request(xfer)
	if xfer.BytesDone != 8 {
		t.Fatalf("BytesDone = %d, want 8 (truncated to wLength)", xfer.BytesDone)
	}
}

func TestRequestStallsOnUnknownDescriptorType(t *testing.T) {
	p := newInitializedPointer(t)
	xfer := &Xfer{Request: getDescriptorRequest(0x7f, 0, 8), Data: make([]byte, 8)}

	status := p.Request(xfer)
	if status != StatusStall {
		t.Fatalf("Request(unknown descriptor type) = %v, want StatusStall", status)
	}
}

func TestRequestAcksNonGetDescriptorWithoutEffect(t *testing.T) {
	p := newInitializedPointer(t)
	xfer := &Xfer{Request: &DeviceRequest{RequestType: 0x00, Request: 0x09 /* SET_CONFIGURATION */}}

	status := p.Request(xfer)
	if status != StatusNormalCompletion {
		t.Fatalf("Request(SET_CONFIGURATION) = %v, want StatusNormalCompletion", status)
	}
	if xfer.BytesDone != 0 {
		t.Fatalf("BytesDone = %d, want 0 for an acked-without-effect request", xfer.BytesDone)
	}
}

func TestDataDeliversPostedMoveOnInterruptIn(t *testing.T) {
	p := newInitializedPointer(t)
	p.PostMove(5, -3, 0x1)

	xfer := &Xfer{Data: make([]byte, 3)}
	status := p.Data(xfer, DirIn, 1)
	if status != StatusNormalCompletion {
		t.Fatalf("Data(IN) after PostMove = %v, want StatusNormalCompletion", status)
	}
	if xfer.BytesDone != 3 {
		t.Fatalf("BytesDone = %d, want 3", xfer.BytesDone)
	}
	if xfer.Data[0] != 0x1 || xfer.Data[1] != 5 || xfer.Data[2] != byte(int8(-3)) {
		t.Fatalf("report bytes = %v, want [1 5 253]", xfer.Data)
	}
}

func TestDataReturnsCancelledWithNoPendingReport(t *testing.T) {
	p := newInitializedPointer(t)
	xfer := &Xfer{Data: make([]byte, 3)}
	status := p.Data(xfer, DirIn, 1)
	if status != StatusCancelled {
		t.Fatalf("Data(IN) with nothing pending = %v, want StatusCancelled (NAK)", status)
	}
}

func TestKindIsStatic(t *testing.T) {
	p := NewPointerBackend()
	if p.Kind() != KindStatic {
		t.Fatalf("Kind() = %v, want KindStatic", p.Kind())
	}
}
